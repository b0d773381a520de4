package audioio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zarvent/v2m/internal/logging"
)

const wavHeaderSize = 44

// SaveToWav writes mono 16-bit PCM samples to outputPath. No code path in
// the daemon or the CLI calls it.
func SaveToWav(samples []float32, sampleRate int, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := len(samples) * 2
	chunkSize := 36 + dataSize
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	writers := []func() error{
		func() error { _, err := f.Write([]byte("RIFF")); return err },
		func() error { return binary.Write(f, binary.LittleEndian, uint32(chunkSize)) },
		func() error { _, err := f.Write([]byte("WAVE")); return err },
		func() error { _, err := f.Write([]byte("fmt ")); return err },
		func() error { return binary.Write(f, binary.LittleEndian, uint32(16)) },
		func() error { return binary.Write(f, binary.LittleEndian, uint16(1)) },
		func() error { return binary.Write(f, binary.LittleEndian, uint16(numChannels)) },
		func() error { return binary.Write(f, binary.LittleEndian, uint32(sampleRate)) },
		func() error { return binary.Write(f, binary.LittleEndian, uint32(byteRate)) },
		func() error { return binary.Write(f, binary.LittleEndian, uint16(blockAlign)) },
		func() error { return binary.Write(f, binary.LittleEndian, uint16(bitsPerSample)) },
		func() error { _, err := f.Write([]byte("data")); return err },
		func() error { return binary.Write(f, binary.LittleEndian, uint32(dataSize)) },
	}
	for _, w := range writers {
		if err := w(); err != nil {
			return fmt.Errorf("write wav header: %w", err)
		}
	}

	for _, s := range samples {
		if err := binary.Write(f, binary.LittleEndian, float32ToInt16(s)); err != nil {
			return fmt.Errorf("write wav sample: %w", err)
		}
	}
	return nil
}

// LoadFromWav reads a mono 16-bit PCM WAV file back into float32 samples.
func LoadFromWav(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a valid wav file")
	}

	channels := int(binary.LittleEndian.Uint16(header[22:24]))
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat wav file: %w", err)
	}
	dataSize := info.Size() - wavHeaderSize
	numSamples := int(dataSize) / (channels * 2)

	pcm := make([]int16, numSamples*channels)
	if err := binary.Read(f, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("read wav samples: %w", err)
	}

	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		if channels == 2 {
			samples[i] = (float32(pcm[i*2]) + float32(pcm[i*2+1])) / (2.0 * 32768.0)
		} else {
			samples[i] = float32(pcm[i]) / 32768.0
		}
	}

	logging.Debug(logging.CategoryAudio, "loaded %d samples from %s (%d Hz, %d ch)", numSamples, path, sampleRate, channels)
	return samples, nil
}

// ConvertToPCM16 converts float32 samples in [-1, 1] to little-endian 16-bit
// PCM bytes, the format whisper.cpp's streaming executables expect on stdin.
func ConvertToPCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float32ToInt16(s)
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return buf
}

func float32ToInt16(s float32) int16 {
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	if s >= 0 {
		return int16(s * 32767.0)
	}
	return int16(s * 32768.0)
}
