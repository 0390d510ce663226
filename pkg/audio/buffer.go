// Package audio provides PCM buffers, file decoding and source lookup for the mixer.
package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Buffer holds interleaved float PCM samples in [-1, 1].
type Buffer struct {
	Samples    []float64 // Samples are interleaved by channel.
	Channels   int       // Channels is the number of interleaved channels.
	SampleRate int       // SampleRate is the sample rate in Hz.
}

// NewBuffer allocates a silent buffer with the given number of frames.
func NewBuffer(frames, channels, sampleRate int) *Buffer {
	return &Buffer{
		Samples:    make([]float64, frames*channels),
		Channels:   channels,
		SampleRate: sampleRate,
	}
}

// Frames returns the number of frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Validate reports whether the buffer layout is usable.
func (b *Buffer) Validate() error {
	if b == nil {
		return fmt.Errorf("nil buffer")
	}
	if b.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", b.Channels)
	}
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", b.SampleRate)
	}
	if len(b.Samples)%b.Channels != 0 {
		return fmt.Errorf("sample count %d not divisible by %d channels", len(b.Samples), b.Channels)
	}
	return nil
}

// Slice copies frames [start, end) into a new buffer. Bounds are clamped to the buffer.
func (b *Buffer) Slice(start, end int) *Buffer {
	n := b.Frames()
	start = max(0, min(start, n))
	end = max(start, min(end, n))

	out := make([]float64, (end-start)*b.Channels)
	copy(out, b.Samples[start*b.Channels:end*b.Channels])
	return &Buffer{Samples: out, Channels: b.Channels, SampleRate: b.SampleRate}
}

// Channel returns a copy of one channel's samples.
func (b *Buffer) Channel(c int) []float64 {
	n := b.Frames()
	out := make([]float64, n)
	for i := range n {
		out[i] = b.Samples[i*b.Channels+c]
	}
	return out
}

// Split returns each channel as its own slice.
func (b *Buffer) Split() [][]float64 {
	chans := make([][]float64, b.Channels)
	for c := range chans {
		chans[c] = b.Channel(c)
	}
	return chans
}

// Interleave builds a buffer from per-channel slices. The shortest channel sets the length.
func Interleave(chans [][]float64, sampleRate int) *Buffer {
	if len(chans) == 0 {
		return &Buffer{SampleRate: sampleRate}
	}
	n := len(chans[0])
	for _, ch := range chans[1:] {
		n = min(n, len(ch))
	}

	buf := NewBuffer(n, len(chans), sampleRate)
	for i := range n {
		for c, ch := range chans {
			buf.Samples[i*len(chans)+c] = ch[i]
		}
	}
	return buf
}

// Mono mixes all channels down to a single channel.
func (b *Buffer) Mono() []float64 {
	if b.Channels == 1 {
		out := make([]float64, len(b.Samples))
		copy(out, b.Samples)
		return out
	}

	n := b.Frames()
	out := make([]float64, n)
	for i := range n {
		frame := b.Samples[i*b.Channels : (i+1)*b.Channels]
		out[i] = floats.Sum(frame) / float64(b.Channels)
	}
	return out
}

// Remix returns the buffer converted to dst channels. Mono sources are
// duplicated into every channel and a mono target averages all channels.
// Other layouts keep the leading channels, wrapping when upmixing.
// The receiver is returned unchanged when the layouts already match.
func (b *Buffer) Remix(dst int) *Buffer {
	if b.Channels == dst || dst <= 0 {
		return b
	}
	if dst == 1 {
		return &Buffer{Samples: b.Mono(), Channels: 1, SampleRate: b.SampleRate}
	}

	src := b.Split()
	chans := make([][]float64, dst)
	for c := range chans {
		chans[c] = src[c%len(src)]
	}
	return Interleave(chans, b.SampleRate)
}

// Peak returns the maximum absolute sample value.
func (b *Buffer) Peak() float64 {
	peak := 0.0
	for _, s := range b.Samples {
		peak = math.Max(peak, math.Abs(s))
	}
	return peak
}

// Scale multiplies every sample by gain in place.
func (b *Buffer) Scale(gain float64) {
	floats.Scale(gain, b.Samples)
}

// Resample returns the buffer converted to dstRate using linear interpolation.
// The receiver is returned unchanged when the rates already match.
func (b *Buffer) Resample(dstRate int) *Buffer {
	if b.SampleRate == dstRate || dstRate <= 0 {
		return b
	}

	chans := b.Split()
	for c, ch := range chans {
		chans[c] = resampleLinear(ch, b.SampleRate, dstRate)
	}
	return Interleave(chans, dstRate)
}

// resampleLinear resamples one channel from srcRate to dstRate using linear interpolation.
func resampleLinear(samples []float64, srcRate, dstRate int) []float64 {
	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	result := make([]float64, newLen)

	for i := range newLen {
		srcIdx := float64(i) * ratio
		srcIdxInt := int(srcIdx)
		frac := srcIdx - float64(srcIdxInt)

		if srcIdxInt+1 < len(samples) {
			result[i] = samples[srcIdxInt]*(1-frac) + samples[srcIdxInt+1]*frac
		} else if srcIdxInt < len(samples) {
			result[i] = samples[srcIdxInt]
		}
	}

	return result
}
