package decodecache

import (
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	channels := [][]float32{
		{0, 0.5, -0.5, 1},
		{1, -1, 0.25, -0.25},
	}
	key := Key([]byte("header"), []byte("compressed"))

	if err := c.Put(key, channels); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != len(channels) {
		t.Fatalf("got %d channels, want %d", len(got), len(channels))
	}
	for c := range channels {
		for i := range channels[c] {
			if got[c][i] != channels[c][i] {
				t.Fatalf("channel %d sample %d: got %v want %v", c, i, got[c][i], channels[c][i])
			}
		}
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, ok, err := c.Get(Key([]byte("a"), []byte("b")))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}
}

func TestKeyDiffersByInput(t *testing.T) {
	k1 := Key([]byte("h1"), []byte("c1"))
	k2 := Key([]byte("h2"), []byte("c1"))
	if string(k1) == string(k2) {
		t.Fatal("expected different keys for different headers")
	}
}
