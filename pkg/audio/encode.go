package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVBitDepth is the bit depth of rendered output files.
const WAVBitDepth = 16

// WriteWAV writes the buffer as a 16-bit PCM WAV file.
// The file is only left on disk when encoding succeeds.
func WriteWAV(path string, b *Buffer) (err error) {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("write WAV: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	return EncodeWAV(f, b)
}

// EncodeWAV encodes the buffer as 16-bit PCM WAV into w.
func EncodeWAV(w io.WriteSeeker, b *Buffer) error {
	enc := wav.NewEncoder(w, b.SampleRate, WAVBitDepth, b.Channels, 1)

	scale := float64(int(1)<<(WAVBitDepth-1)) - 1
	intBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: b.Channels,
			SampleRate:  b.SampleRate,
		},
		Data:           make([]int, len(b.Samples)),
		SourceBitDepth: WAVBitDepth,
	}
	for i, s := range b.Samples {
		// Clip to full scale
		s = math.Max(-1, math.Min(1, s))
		intBuf.Data[i] = int(math.Round(s * scale))
	}

	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("encode WAV: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize WAV: %w", err)
	}
	return nil
}
