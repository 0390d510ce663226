// Package analysis provides tempo, beat, energy and key analysis for mix sources.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/nzoschke/segmix/pkg/audio"
)

// Analyzer is the analysis collaborator: it turns decoded samples into a Result.
type Analyzer interface {
	Analyze(ctx context.Context, trackID string, buf *audio.Buffer) (*Result, error)
}

// ErrTooShort is returned when a track is too short to estimate tempo.
var ErrTooShort = errors.New("track too short for tempo estimation")

// Config holds configuration for the default analyzer.
type Config struct {
	// FrameSize is the STFT and RMS frame length in samples.
	// Default: 2048
	FrameSize int

	// HopSize is the distance between frames in samples.
	// Default: 512
	HopSize int

	// SmoothFrames is the moving-average width applied to the RMS curve.
	// Default: 10
	SmoothFrames int

	// MinBPM and MaxBPM bound the tempo search.
	// Default: 60 and 180
	MinBPM float64
	MaxBPM float64

	// PriorBPM centers the log-Gaussian tempo prior that resolves octave errors.
	// Default: 120
	PriorBPM float64
}

// DefaultConfig returns the analyzer defaults.
func DefaultConfig() Config {
	return Config{
		FrameSize:    2048,
		HopSize:      512,
		SmoothFrames: 10,
		MinBPM:       60,
		MaxBPM:       180,
		PriorBPM:     120,
	}
}

// Default is a pure Go analyzer built on gonum.
type Default struct {
	cfg Config
}

// New creates a default analyzer. Zero fields in cfg take default values.
func New(cfg Config) *Default {
	def := DefaultConfig()
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = def.HopSize
	}
	if cfg.SmoothFrames <= 0 {
		cfg.SmoothFrames = def.SmoothFrames
	}
	if cfg.MinBPM <= 0 {
		cfg.MinBPM = def.MinBPM
	}
	if cfg.MaxBPM <= cfg.MinBPM {
		cfg.MaxBPM = max(def.MaxBPM, cfg.MinBPM*2)
	}
	if cfg.PriorBPM <= 0 {
		cfg.PriorBPM = def.PriorBPM
	}
	return &Default{cfg: cfg}
}

// Analyze estimates tempo, beats, energy curve and key from buf.
func (a *Default) Analyze(ctx context.Context, trackID string, buf *audio.Buffer) (*Result, error) {
	if err := buf.Validate(); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", trackID, err)
	}
	if buf.Frames() == 0 {
		return nil, fmt.Errorf("analyze %s: empty audio", trackID)
	}

	mono := buf.Mono()
	sr := buf.SampleRate

	energy, times := a.energyCurve(mono, sr)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spec := STFT(mono, STFTConfig{FFTSize: a.cfg.FrameSize, HopSize: a.cfg.HopSize})
	onsets := onsetEnvelope(spec)

	period, err := a.beatPeriod(onsets, sr)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", trackID, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hopSecs := float64(a.cfg.HopSize) / float64(sr)
	beatFrames := trackBeats(onsets, period)
	beats := make([]float64, len(beatFrames))
	for i, f := range beatFrames {
		beats[i] = float64(f) * hopSecs
	}

	result := &Result{
		TrackID:     trackID,
		TempoBPM:    periodToBPM(period, hopSecs),
		Beats:       beats,
		FrameEnergy: energy,
		FrameTimes:  times,
		Key:         estimateKey(spec, a.cfg.FrameSize, sr),
		Duration:    buf.Duration(),
		SampleRate:  sr,
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("analyze %s: %w", trackID, err)
	}
	return result, nil
}

// periodToBPM converts a beat period in frames to BPM.
func periodToBPM(period, hopSecs float64) float64 {
	return 60.0 / (period * hopSecs)
}
