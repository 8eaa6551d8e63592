package audio

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTone(t *testing.T, path string, sampleRate, channels, frames int) {
	t.Helper()
	pcm := make([]byte, frames*channels*2)
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(8192)))
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()
	if err := WriteWAV(f, pcm, sampleRate, channels); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 8000, 2, 800)

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Format != FormatWAV || info.SampleRate != 8000 || info.Channels != 2 || info.BitDepth != 16 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestProbeSniffsHeaderWithoutExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording")
	writeTone(t, path, 16000, 1, 160)

	info, err := Probe(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Format != FormatWAV {
		t.Fatalf("expected wav from RIFF header, got %q", info.Format)
	}
}

func TestProbeByExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.flac")
	if err := os.WriteFile(path, []byte("fLaC\x00\x00"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	info, err := Probe(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Format != FormatFLAC {
		t.Fatalf("expected flac, got %q", info.Format)
	}
}

func TestProbeMissingFile(t *testing.T) {
	if _, err := Probe(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDecodeMono16k(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTone(t, path, 8000, 2, 800)

	samples, err := DecodeMono16k(path)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 800 frames at 8 kHz is 100ms, i.e. 1600 samples at 16 kHz.
	if len(samples) != 1600 {
		t.Fatalf("expected 1600 samples, got %d", len(samples))
	}
	if samples[10] < 0.24 || samples[10] > 0.26 {
		t.Fatalf("expected amplitude near 0.25, got %f", samples[10])
	}
}

func TestDecodeRejectsCompressedFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := DecodeMono16k(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}
