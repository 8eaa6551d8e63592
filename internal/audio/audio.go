// Package audio inspects and decodes the audio files handed to recognizers.
package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format is the container/codec family of an audio file.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatFLAC    Format = "flac"
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
	FormatWebM    Format = "webm"
)

// WhisperSampleRate is the sample rate whisper-style models expect.
const WhisperSampleRate = 16000

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Info describes an audio file. Fields other than Format are only populated
// for WAV input.
type Info struct {
	Format     Format
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe identifies the format of the file at path, sniffing the header when
// the extension is not conclusive.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	format := formatFromExt(path)
	if format == FormatUnknown {
		br := bufio.NewReader(f)
		magic, _ := br.Peek(4)
		format = formatFromMagic(magic)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return Info{}, err
		}
	}
	if format != FormatWAV {
		return Info{Format: format}, nil
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("invalid wav file: %s", filepath.Base(path))
	}
	info := Info{
		Format:     FormatWAV,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if d, err := dec.Duration(); err == nil {
		info.Duration = d
	}
	return info, nil
}

func formatFromExt(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".flac":
		return FormatFLAC
	case ".mp3":
		return FormatMP3
	case ".ogg", ".oga", ".opus":
		return FormatOgg
	case ".webm":
		return FormatWebM
	}
	return FormatUnknown
}

func formatFromMagic(magic []byte) Format {
	switch {
	case bytes.HasPrefix(magic, []byte("RIFF")):
		return FormatWAV
	case bytes.HasPrefix(magic, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(magic, []byte("OggS")):
		return FormatOgg
	case bytes.HasPrefix(magic, []byte("ID3")), len(magic) >= 2 && magic[0] == 0xFF && magic[1]&0xE0 == 0xE0:
		return FormatMP3
	case bytes.HasPrefix(magic, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	}
	return FormatUnknown
}

// DecodeMono16k decodes a WAV file into mono float32 samples in [-1, 1] at
// 16 kHz.
func DecodeMono16k(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if formatFromExt(path) != FormatWAV && formatFromExt(path) != FormatUnknown {
		return nil, fmt.Errorf("%w: %s (only wav can be decoded locally)", ErrUnsupportedFormat, filepath.Ext(path))
	}
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not a wav file", ErrUnsupportedFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, errors.New("no audio samples in file")
	}

	samples := intsToFloat32(buf.Data, int(dec.BitDepth))
	samples = downmix(samples, int(dec.NumChans))
	return resampleLinear(samples, int(dec.SampleRate), WhisperSampleRate), nil
}

func intsToFloat32(data []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(math.Pow(2, float64(bitDepth-1)))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / scale
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func resampleLinear(in []float32, inRate, outRate int) []float32 {
	if inRate == outRate || inRate <= 0 || len(in) == 0 {
		return in
	}
	ratio := float64(inRate) / float64(outRate)
	n := int(float64(len(in)) / ratio)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := float32(pos - float64(j))
		if j+1 < len(in) {
			out[i] = in[j]*(1-frac) + in[j+1]*frac
		} else {
			out[i] = in[len(in)-1]
		}
	}
	return out
}

// WriteWAV encodes little-endian signed 16-bit PCM as a WAV file.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate}, SourceBitDepth: 16}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
