// Package sequence orders per-track segments into a single mix timeline.
package sequence

import (
	"fmt"
	"strings"

	"github.com/nzoschke/segmix/pkg/segment"
)

// Track is one source's contribution to the sequencer: its tempo and its
// segments sorted by energy descending.
type Track struct {
	ID       string
	TempoBPM float64
	Segments []segment.Segment
}

// Entry is a segment placed in the timeline. Its TrackID is always the
// identity of the track it was taken from.
type Entry struct {
	segment.Segment
}

// Timeline is the ordered list of entries. Position is playback order.
type Timeline []Entry

// Segments returns the timeline's segments in playback order.
func (tl Timeline) Segments() []segment.Segment {
	out := make([]segment.Segment, len(tl))
	for i, e := range tl {
		out[i] = e.Segment
	}
	return out
}

// Tracks returns the distinct track ids in order of first appearance.
func (tl Timeline) Tracks() []string {
	seen := map[string]bool{}
	var ids []string
	for _, e := range tl {
		if !seen[e.TrackID] {
			seen[e.TrackID] = true
			ids = append(ids, e.TrackID)
		}
	}
	return ids
}

// Duration returns the summed segment length in seconds, ignoring crossfades.
func (tl Timeline) Duration() float64 {
	d := 0.0
	for _, e := range tl {
		d += e.Duration()
	}
	return d
}

// Options configures sequencing.
type Options struct {
	// TopPerTrack is how many of each track's best segments are used.
	// Default: 3
	TopPerTrack int

	// BPMTolerance is the largest tempo step between neighbouring tracks
	// of a BPM group.
	// Default: 6
	BPMTolerance float64
}

// DefaultOptions returns the default sequencing options.
func DefaultOptions() Options {
	return Options{
		TopPerTrack:  3,
		BPMTolerance: 6,
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	if o.TopPerTrack <= 0 {
		return fmt.Errorf("top per track must be positive, got %d", o.TopPerTrack)
	}
	if o.BPMTolerance < 0 {
		return fmt.Errorf("bpm tolerance must not be negative, got %v", o.BPMTolerance)
	}
	return nil
}

// Policy decides the order of the reduced per-track segment lists.
type Policy interface {
	Name() string
	Order(tracks []Track, opts Options) Timeline
}

// Policy names accepted by ParsePolicy.
const (
	NameRoundRobin  = "round-robin"
	NameBPMGrouped  = "bpm-grouped"
	NameEnergyCurve = "energy-curve"
)

// Policies lists the available policy names.
func Policies() []string {
	return []string{NameRoundRobin, NameBPMGrouped, NameEnergyCurve}
}

// ParsePolicy returns the policy with the given name.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameRoundRobin, "roundrobin", "rr":
		return RoundRobin{}, nil
	case NameBPMGrouped, "bpm":
		return BPMGrouped{}, nil
	case NameEnergyCurve, "energy":
		return EnergyCurve{}, nil
	}
	return nil, fmt.Errorf("unknown policy %q (want one of %s)", name, strings.Join(Policies(), ", "))
}

// Sequence reduces every track to its top opts.TopPerTrack segments, tags
// them with the track id and orders them with policy. Empty input gives an
// empty timeline. The inputs are not modified.
func Sequence(tracks []Track, policy Policy, opts Options) Timeline {
	if opts.TopPerTrack <= 0 {
		opts.TopPerTrack = DefaultOptions().TopPerTrack
	}

	reduced := make([]Track, 0, len(tracks))
	for _, tr := range tracks {
		n := min(len(tr.Segments), opts.TopPerTrack)
		segs := make([]segment.Segment, n)
		for i, s := range tr.Segments[:n] {
			s.TrackID = tr.ID
			segs[i] = s
		}
		reduced = append(reduced, Track{ID: tr.ID, TempoBPM: tr.TempoBPM, Segments: segs})
	}

	return policy.Order(reduced, opts)
}
