package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// LoadFile decodes an audio file into an interleaved float buffer.
// MP3 and PCM WAV are supported.
func LoadFile(path string) (*Buffer, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".mp3":
		return loadMP3(path)
	case ".wav":
		return loadWAV(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", ext)
	}
}

// IsSupported returns true if the file extension is a format LoadFile can decode.
func IsSupported(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".wav":
		return true
	default:
		return false
	}
}

// Additional samples go-mp3 produces compared to a browser decoder.
const goMP3DecoderDelay = 924

// Default encoder delay if we can't read it from the LAME header
const defaultEncoderDelay = 576

// readMP3Delay returns the LAME encoder delay plus the go-mp3 decoder delay.
func readMP3Delay(path string) int {
	return readLAMEEncoderDelay(path) + goMP3DecoderDelay
}

// readLAMEEncoderDelay reads the encoder delay from the LAME/Xing header if present.
func readLAMEEncoderDelay(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return defaultEncoderDelay
	}
	defer f.Close()

	buf := make([]byte, 4096)
	n, err := f.Read(buf)
	if err != nil || n < 200 {
		return defaultEncoderDelay
	}
	buf = buf[:n]

	lameIdx := bytes.Index(buf, []byte("LAME"))
	if lameIdx == -1 {
		return defaultEncoderDelay
	}

	// 3-byte field at offset 21: encoder delay (12 bits) then padding (12 bits)
	delayOffset := lameIdx + 21
	if delayOffset+3 > len(buf) {
		return defaultEncoderDelay
	}
	b := buf[delayOffset : delayOffset+3]
	delay := (int(b[0]) << 4) | (int(b[1]) >> 4)

	if delay < 0 || delay > 4096 {
		return defaultEncoderDelay
	}
	return delay
}

// loadMP3 decodes an MP3 file to stereo float samples with encoder delay removed.
func loadMP3(path string) (*Buffer, error) {
	totalDelay := readMP3Delay(path)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("create MP3 decoder: %w", err)
	}

	// go-mp3 always outputs 16-bit signed stereo (4 bytes per frame)
	pcmData, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decode MP3: %w", err)
	}

	numFrames := len(pcmData) / 4
	buf := NewBuffer(numFrames, 2, decoder.SampleRate())
	for i := range numFrames {
		offset := i * 4
		left := int16(binary.LittleEndian.Uint16(pcmData[offset:]))
		right := int16(binary.LittleEndian.Uint16(pcmData[offset+2:]))
		buf.Samples[i*2] = float64(left) / 32768.0
		buf.Samples[i*2+1] = float64(right) / 32768.0
	}

	if buf.Frames() > totalDelay {
		buf.Samples = buf.Samples[totalDelay*2:]
	}
	return buf, nil
}

// loadWAV decodes a PCM WAV file.
func loadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode WAV: %w", err)
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		return nil, fmt.Errorf("unknown bit depth for WAV file: %s", path)
	}
	factor := float64(int(1) << (bitDepth - 1))

	buf := &Buffer{
		Samples:    make([]float64, len(pcm.Data)),
		Channels:   pcm.Format.NumChannels,
		SampleRate: pcm.Format.SampleRate,
	}
	for i, s := range pcm.Data {
		buf.Samples[i] = float64(s) / factor
	}

	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("decode WAV: %w", err)
	}
	return buf, nil
}
