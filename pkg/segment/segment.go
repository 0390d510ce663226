// Package segment extracts beat-aligned, energy-ranked candidate excerpts from analyzed tracks.
package segment

import (
	"fmt"
	"math"
	"sort"

	"github.com/nzoschke/segmix/pkg/analysis"
	"gonum.org/v1/gonum/stat"
)

// Segment is a candidate excerpt of a track. Segments are values and are
// never mutated after Extract returns them.
type Segment struct {
	TrackID  string  `json:"track_id"`
	Start    float64 `json:"start"`     // Seconds, snapped to a beat.
	End      float64 `json:"end"`       // Start + window length.
	Energy   float64 `json:"energy"`    // Mean smoothed RMS over the window.
	TempoBPM float64 `json:"tempo_bpm"` // Tempo of the source track.
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Options configures segment extraction.
type Options struct {
	// Window is the segment length in seconds.
	// Default: 8.0
	Window float64

	// Hop is the distance between window starts in seconds.
	// Default: 4.0
	Hop float64

	// TopN truncates the result to the N most energetic segments.
	// Default: 0 (all)
	TopN int
}

// DefaultOptions returns 8 second windows every 4 seconds.
func DefaultOptions() Options {
	return Options{
		Window: 8.0,
		Hop:    4.0,
	}
}

// Validate rejects options that cannot terminate or produce segments.
func (o Options) Validate() error {
	if o.Window <= 0 || math.IsNaN(o.Window) || math.IsInf(o.Window, 0) {
		return fmt.Errorf("window must be positive, got %v", o.Window)
	}
	if o.Hop <= 0 || math.IsNaN(o.Hop) || math.IsInf(o.Hop, 0) {
		return fmt.Errorf("hop must be positive, got %v", o.Hop)
	}
	if o.TopN < 0 {
		return fmt.Errorf("top n must not be negative, got %d", o.TopN)
	}
	return nil
}

// Extract slides a window across the track, scores each window by the mean
// of the energy samples inside it and snaps the window start to the nearest
// beat. Windows without energy samples are skipped. The result is sorted by
// energy descending, ties keeping scan order, and truncated to opts.TopN.
//
// A track without beats yields no segments.
func Extract(track *analysis.Result, opts Options) []Segment {
	if track == nil || len(track.Beats) == 0 || opts.Validate() != nil {
		return nil
	}

	var segs []Segment
	for i := 0; ; i++ {
		// Multiply instead of accumulating so long tracks do not drift
		t := float64(i) * opts.Hop
		if t+opts.Window > track.Duration {
			break
		}

		energy, ok := windowEnergy(track.FrameEnergy, track.FrameTimes, t, t+opts.Window)
		if !ok {
			continue
		}

		start := track.Beats[NearestBeat(track.Beats, t)]
		segs = append(segs, Segment{
			TrackID:  track.TrackID,
			Start:    start,
			End:      start + opts.Window,
			Energy:   energy,
			TempoBPM: track.TempoBPM,
		})
	}

	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Energy > segs[j].Energy
	})

	if opts.TopN > 0 && len(segs) > opts.TopN {
		segs = segs[:opts.TopN]
	}
	return segs
}

// windowEnergy returns the mean energy of frames with timestamps in [from, to].
func windowEnergy(energy, times []float64, from, to float64) (float64, bool) {
	var in []float64
	for i, ts := range times[:min(len(times), len(energy))] {
		if ts >= from && ts <= to {
			in = append(in, energy[i])
		}
	}
	if len(in) == 0 {
		return 0, false
	}
	return stat.Mean(in, nil), true
}

// NearestBeat returns the index of the beat closest to t. Ties go to the
// earlier beat. beats must be non-empty.
func NearestBeat(beats []float64, t float64) int {
	best := 0
	bestDist := math.Abs(beats[0] - t)
	for i := 1; i < len(beats); i++ {
		if d := math.Abs(beats[i] - t); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
