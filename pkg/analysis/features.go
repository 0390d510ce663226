package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// energyCurve computes centered RMS energy per frame, smoothed with a moving average.
// Returns the energy values and their timestamps in seconds.
func (a *Default) energyCurve(samples []float64, sampleRate int) ([]float64, []float64) {
	hop := a.cfg.HopSize
	size := a.cfg.FrameSize
	half := size / 2

	numFrames := 1 + len(samples)/hop
	rms := make([]float64, numFrames)
	times := make([]float64, numFrames)

	for i := range numFrames {
		center := i * hop
		start := max(0, center-half)
		end := min(len(samples), center+half)

		frame := samples[start:end]
		rms[i] = math.Sqrt(floats.Dot(frame, frame) / float64(size))
		times[i] = float64(center) / float64(sampleRate)
	}

	return movingAverage(rms, a.cfg.SmoothFrames), times
}

// movingAverage convolves x with a box kernel of width n, keeping the input length
// and centering the kernel. Values outside x count as zero.
func movingAverage(x []float64, n int) []float64 {
	if n <= 1 {
		return append([]float64(nil), x...)
	}

	// A width-n kernel centered on k covers [k-n/2, k+(n-1)/2]
	lo := n / 2
	hi := (n - 1) / 2

	out := make([]float64, len(x))
	for k := range x {
		start := max(0, k-lo)
		end := min(len(x), k+hi+1)
		out[k] = floats.Sum(x[start:end]) / float64(n)
	}
	return out
}

// onsetEnvelope computes log-compressed spectral flux between consecutive STFT frames.
func onsetEnvelope(spec [][]float64) []float64 {
	onsets := make([]float64, len(spec))
	for i := 1; i < len(spec); i++ {
		flux := 0.0
		for j, m := range spec[i] {
			d := math.Log1p(m) - math.Log1p(spec[i-1][j])
			if d > 0 {
				flux += d
			}
		}
		onsets[i] = flux
	}
	return onsets
}

// beatPeriod estimates the beat period in frames from the onset envelope's
// autocorrelation, weighted by a log-Gaussian prior around PriorBPM.
func (a *Default) beatPeriod(onsets []float64, sampleRate int) (float64, error) {
	hopSecs := float64(a.cfg.HopSize) / float64(sampleRate)
	minLag := int(math.Ceil(60.0 / (a.cfg.MaxBPM * hopSecs)))
	maxLag := int(math.Floor(60.0 / (a.cfg.MinBPM * hopSecs)))
	minLag = max(minLag, 1)

	if len(onsets) < 2*maxLag+1 {
		return 0, ErrTooShort
	}

	x := make([]float64, len(onsets))
	copy(x, onsets)
	floats.AddConst(-stat.Mean(x, nil), x)

	score := func(lag int) float64 {
		ac := floats.Dot(x[:len(x)-lag], x[lag:])
		bpm := periodToBPM(float64(lag), hopSecs)
		octaves := math.Log2(bpm / a.cfg.PriorBPM)
		return ac * math.Exp(-0.5*octaves*octaves)
	}

	best, bestScore := -1, 0.0
	scores := make(map[int]float64, maxLag-minLag+1)
	for lag := minLag; lag <= maxLag; lag++ {
		s := score(lag)
		scores[lag] = s
		if s > bestScore {
			best, bestScore = lag, s
		}
	}
	if best < 0 {
		return 0, fmt.Errorf("no periodicity detected")
	}

	// Parabolic interpolation around the peak
	period := float64(best)
	if best > minLag && best < maxLag {
		l, c, r := scores[best-1], scores[best], scores[best+1]
		if denom := l - 2*c + r; denom < 0 {
			period += 0.5 * (l - r) / denom
		}
	}
	return period, nil
}

// trackBeats places a beat grid with the given period on the onset envelope,
// choosing the phase with the highest onset sum, then snaps each beat to the
// strongest onset within an eighth of a period. Returns ascending frame indices.
func trackBeats(onsets []float64, period float64) []int {
	n := len(onsets)
	if n == 0 || period <= 0 {
		return nil
	}

	bestPhase, bestScore := 0, -1.0
	for phase := range max(1, int(math.Round(period))) {
		s := 0.0
		for k := 0; ; k++ {
			idx := int(math.Round(float64(phase) + float64(k)*period))
			if idx >= n {
				break
			}
			s += onsets[idx]
		}
		if s > bestScore {
			bestPhase, bestScore = phase, s
		}
	}

	radius := max(1, int(period/8))
	var beats []int
	for k := 0; ; k++ {
		center := int(math.Round(float64(bestPhase) + float64(k)*period))
		if center >= n {
			break
		}

		lo := max(0, center-radius)
		hi := min(n-1, center+radius)
		peak := lo + floats.MaxIdx(onsets[lo:hi+1])

		if len(beats) == 0 || peak > beats[len(beats)-1] {
			beats = append(beats, peak)
		}
	}
	return beats
}

// estimateKey returns the pitch class with the most spectral energy.
func estimateKey(spec [][]float64, fftSize, sampleRate int) Key {
	var chroma [12]float64
	for _, frame := range spec {
		for bin, m := range frame {
			f := BinFrequency(bin, fftSize, sampleRate)
			if f < 55 || f > 5000 {
				continue
			}
			// Semitones from A4, A = pitch class 9
			semis := int(math.Round(12 * math.Log2(f/440)))
			pc := ((semis+9)%12 + 12) % 12
			chroma[pc] += m * m
		}
	}
	return Key(floats.MaxIdx(chroma[:]))
}
