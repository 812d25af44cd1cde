package sampleformat

import "testing"

func TestBytesPerSample(t *testing.T) {
	cases := map[Format]int{
		Signed8:  1,
		Signed16: 2,
		Signed24: 3,
		Float32:  4,
	}
	for f, want := range cases {
		if got := f.BytesPerSample(); got != want {
			t.Fatalf("format %d: got %d want %d", f, got, want)
		}
	}
}

func TestFromFloatSigned16RoundsAndClamps(t *testing.T) {
	out, err := FromFloat(1.0, Signed16, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d bytes want 2", len(out))
	}
	v := int16(uint16(out[0]) | uint16(out[1])<<8)
	if v != 32767 {
		t.Fatalf("got %d want clamped 32767", v)
	}
}

func TestFromFloatZeroIsZero(t *testing.T) {
	out, err := FromFloat(0, Signed16, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("got %v want zero", out)
	}
}

func TestFromFloatUnsupportedFormat(t *testing.T) {
	if _, err := FromFloat(0, Invalid, nil); err == nil {
		t.Fatal("expected error for invalid format")
	}
}
