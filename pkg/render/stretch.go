package render

import (
	"math"

	"github.com/nzoschke/segmix/pkg/audio"
	"gonum.org/v1/gonum/dsp/window"
)

// WSOLA parameters, in seconds.
const (
	stretchFrameSecs     = 0.025
	stretchToleranceSecs = 0.003
)

// Stretch changes the duration of b by 1/rate without changing its pitch,
// using waveform-similarity overlap-add. rate > 1 speeds up. The result has
// round(frames/rate) frames. Buffers shorter than one analysis frame and
// rate == 1 come back as an unmodified copy.
func Stretch(b *audio.Buffer, rate float64) *audio.Buffer {
	frames := b.Frames()
	out := &audio.Buffer{Channels: b.Channels, SampleRate: b.SampleRate}

	size := evenFrames(stretchFrameSecs, b.SampleRate)
	if rate <= 0 || rate == 1 || math.IsNaN(rate) || math.IsInf(rate, 0) || frames < size || size < 4 {
		out.Samples = append([]float64(nil), b.Samples...)
		return out
	}

	outFrames := int(math.Round(float64(frames) / rate))
	hop := size / 2
	tol := max(1, int(stretchToleranceSecs*float64(b.SampleRate)))
	win := hannWindow(size)

	src := b.Split()
	mono := b.Mono()
	dst := make([][]float64, b.Channels)
	for c := range dst {
		dst[c] = make([]float64, outFrames+size)
	}
	norm := make([]float64, outFrames+size)

	last := frames - size
	prev := 0
	for k := 0; k*hop < outFrames; k++ {
		outPos := k * hop
		nominal := min(last, int(math.Round(float64(outPos)*rate)))

		pos := nominal
		if k > 0 {
			// Continue the previous frame's waveform as closely as possible
			pos = bestAlignment(mono, min(last, prev+hop), nominal, tol, hop, last)
		}

		for c := range dst {
			frame := src[c][pos : pos+size]
			for i, w := range win {
				dst[c][outPos+i] += w * frame[i]
			}
		}
		for i, w := range win {
			norm[outPos+i] += w
		}
		prev = pos
	}

	for c := range dst {
		for i := range outFrames {
			if norm[i] > 1e-9 {
				dst[c][i] /= norm[i]
			} else {
				// Zero window weight, take the source frame
				dst[c][i] = src[c][min(frames-1, int(math.Round(float64(i)*rate)))]
			}
		}
		dst[c] = dst[c][:outFrames]
	}

	return audio.Interleave(dst, b.SampleRate)
}

// bestAlignment searches [nominal-tol, nominal+tol] for the input position
// whose first n samples best correlate with the natural continuation at
// target. Ties go to the position closest to nominal.
func bestAlignment(mono []float64, target, nominal, tol, n, last int) int {
	ref := mono[target : target+n]

	best, bestScore := nominal, math.Inf(-1)
	for d := 0; d <= tol; d++ {
		for _, pos := range []int{nominal - d, nominal + d} {
			if pos < 0 || pos > last {
				continue
			}
			cand := mono[pos : pos+n]
			score := 0.0
			// Every 4th sample is enough to find the alignment
			for i := 0; i < n; i += 4 {
				score += ref[i] * cand[i]
			}
			if score > bestScore {
				best, bestScore = pos, score
			}
			if d == 0 {
				break
			}
		}
	}
	return best
}

func evenFrames(secs float64, sampleRate int) int {
	n := int(math.Round(secs * float64(sampleRate)))
	return n &^ 1
}

// hannWindow returns a periodic Hann window, which sums to a constant at 50% overlap.
func hannWindow(size int) []float64 {
	w := make([]float64, size+1)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)[:size]
}
