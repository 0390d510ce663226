package analysis

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// STFTConfig describes parameters for STFT computation.
type STFTConfig struct {
	FFTSize int // FFT window size (e.g., 1024, 2048, 4096)
	HopSize int // Hop between frames in samples
}

// STFT computes a centered short-time Fourier transform.
// Frame i is centered on sample i*HopSize (zero padded at the edges), matching
// the frame timestamps used for the energy curve.
// Returns [frames][bins] magnitude spectrum.
func STFT(samples []float64, cfg STFTConfig) [][]float64 {
	if len(samples) == 0 || cfg.FFTSize <= 0 || cfg.HopSize <= 0 {
		return nil
	}

	win := hannWindow(cfg.FFTSize)
	fft := fourier.NewFFT(cfg.FFTSize)

	numFrames := 1 + len(samples)/cfg.HopSize
	numBins := cfg.FFTSize/2 + 1
	half := cfg.FFTSize / 2

	result := make([][]float64, numFrames)
	frame := make([]float64, cfg.FFTSize)
	coeffs := make([]complex128, numBins)

	for i := range numFrames {
		start := i*cfg.HopSize - half

		// Clear frame and apply window
		for j := range frame {
			k := start + j
			if k < 0 || k >= len(samples) {
				frame[j] = 0
				continue
			}
			frame[j] = samples[k] * win[j]
		}

		coeffs = fft.Coefficients(coeffs, frame)

		result[i] = make([]float64, numBins)
		for j, c := range coeffs {
			result[i][j] = math.Hypot(real(c), imag(c))
		}
	}

	return result
}

// BinFrequency returns the center frequency in Hz of an STFT bin.
func BinFrequency(bin, fftSize, sampleRate int) float64 {
	return float64(bin) * float64(sampleRate) / float64(fftSize)
}

// hannWindow generates a Hann window of given size.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 1
	}
	return window.Hann(w)
}
