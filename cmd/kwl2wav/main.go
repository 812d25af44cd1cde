// Command kwl2wav decodes one or more KWL files to sibling .wav files.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/elliotnunn/kwlkit/bytestream"
	"github.com/elliotnunn/kwlkit/internal/decodecache"
	"github.com/elliotnunn/kwlkit/internal/dsptab"
	"github.com/elliotnunn/kwlkit/kwl"
	"github.com/elliotnunn/kwlkit/resample"
	"github.com/elliotnunn/kwlkit/sampleformat"
	"github.com/elliotnunn/kwlkit/wavfile"
)

func main() {
	rate := flag.Int("rate", 0, "resample output to this rate (Hz); 0 keeps the file's native rate")
	cacheDir := flag.String("cache", "", "cache decoded PCM in this directory, keyed by file content")
	format := flag.String("format", "s16", "output sample format: s16, s8, s24, or f32")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: kwl2wav [flags] pattern...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	outFmt, err := parseFormat(*format)
	if err != nil {
		slog.Error("bad -format", "error", err)
		os.Exit(1)
	}

	var cache *decodecache.Cache
	if *cacheDir != "" {
		cache, err = decodecache.Open(*cacheDir)
		if err != nil {
			slog.Error("opening cache", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
	}

	var matches []string
	for _, pattern := range flag.Args() {
		m, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			slog.Error("bad glob pattern", "pattern", pattern, "error", err)
			os.Exit(1)
		}
		matches = append(matches, m...)
	}

	failed := false
	for _, path := range matches {
		if err := convertOne(path, *rate, outFmt, cache); err != nil {
			slog.Error("convert failed", "path", path, "error", err)
			failed = true
			continue
		}
		slog.Info("converted", "path", path)
	}
	if failed {
		os.Exit(1)
	}
}

func parseFormat(s string) (sampleformat.Format, error) {
	switch strings.ToLower(s) {
	case "s8":
		return sampleformat.Signed8, nil
	case "s16":
		return sampleformat.Signed16, nil
	case "s24":
		return sampleformat.Signed24, nil
	case "f32":
		return sampleformat.Float32, nil
	default:
		return 0, fmt.Errorf("unknown format %q", s)
	}
}

func convertOne(path string, outRate int, outFmt sampleformat.Format, cache *decodecache.Cache) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cacheKey []byte
	if cache != nil && len(raw) >= 32 {
		cacheKey = decodecache.Key(raw[:32], raw[32:])
		if channels, ok, err := cache.Get(cacheKey); err == nil && ok {
			return writeWav(path, channels, nativeRateFromFile(raw), outRate, outFmt)
		}
	}

	dec, err := kwl.Open(bytestream.FromBytes(raw), kwl.WithTransformFactory(dsptab.MDCT))
	if err != nil {
		return err
	}
	defer dec.Close()

	channels, err := decodeAll(dec)
	if err != nil {
		return err
	}

	if cache != nil {
		if err := cache.Put(cacheKey, channels); err != nil {
			slog.Warn("cache put failed", "path", path, "error", err)
		}
	}

	return writeWav(path, channels, dec.SampleRate(), outRate, outFmt)
}

// decodeAll drains a Decoder into one float32 slice per channel, using the
// wide sample format internally so nothing is lost before an eventual
// resample or format conversion.
func decodeAll(dec *kwl.Decoder) ([][]float32, error) {
	numChannels := dec.Channels()
	channels := make([][]float32, numChannels)

	const chunk = 4096
	buf := make([]byte, chunk*numChannels*4)
	for {
		n, err := dec.ReadSamples(buf, chunk, numChannels, sampleformat.Float32)
		if n > 0 {
			for c := 0; c < numChannels; c++ {
				for i := 0; i < n; i++ {
					off := (i*numChannels + c) * 4
					bits := uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24
					channels[c] = append(channels[c], math.Float32frombits(bits))
				}
			}
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return channels, nil
}

// nativeRateFromFile re-reads just enough of the header to recover the
// sample rate for a cache hit, without constructing a full Decoder.
func nativeRateFromFile(raw []byte) int {
	if len(raw) < 12 {
		return 0
	}
	return int(uint32(raw[8]) | uint32(raw[9])<<8 | uint32(raw[10])<<16 | uint32(raw[11])<<24)
}

func writeWav(srcPath string, channels [][]float32, srcRate, dstRate int, outFmt sampleformat.Format) error {
	if dstRate > 0 && dstRate != srcRate {
		for c := range channels {
			channels[c] = resample.Linear(channels[c], srcRate, dstRate)
		}
		srcRate = dstRate
	}

	outPath := strings.TrimSuffix(srcPath, filepath.Ext(srcPath)) + ".wav"
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	numChannels := len(channels)
	w, err := wavfile.Create(f, numChannels, srcRate, outFmt)
	if err != nil {
		return err
	}

	numSamples := 0
	if numChannels > 0 {
		numSamples = len(channels[0])
	}
	var tmp [4]byte
	frame := make([]byte, 0, numChannels*4)
	for i := 0; i < numSamples; i++ {
		frame = frame[:0]
		for c := 0; c < numChannels; c++ {
			enc, err := sampleformat.FromFloat(channels[c][i], outFmt, tmp[:0])
			if err != nil {
				return err
			}
			frame = append(frame, enc...)
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return w.Close()
}
