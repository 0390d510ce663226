package sequence

import (
	"math"
	"slices"
	"sort"
)

// RoundRobin takes one segment from every track per pass, in track order,
// until all tracks are exhausted.
type RoundRobin struct{}

func (RoundRobin) Name() string { return NameRoundRobin }

func (RoundRobin) Order(tracks []Track, _ Options) Timeline {
	return interleave(tracks)
}

// cursor walks one track's segments.
type cursor struct {
	track Track
	pos   int
}

func (c cursor) done() bool { return c.pos >= len(c.track.Segments) }

// next returns the current entry and the advanced cursor.
func (c cursor) next() (Entry, cursor) {
	e := Entry{Segment: c.track.Segments[c.pos]}
	return e, cursor{track: c.track, pos: c.pos + 1}
}

func interleave(tracks []Track) Timeline {
	cursors := make([]cursor, len(tracks))
	for i, tr := range tracks {
		cursors[i] = cursor{track: tr}
	}

	var tl Timeline
	for {
		added := 0
		for i, c := range cursors {
			if c.done() {
				continue
			}
			var e Entry
			e, cursors[i] = c.next()
			tl = append(tl, e)
			added++
		}
		if added == 0 {
			return tl
		}
	}
}

// BPMGrouped sorts tracks by tempo, chains tracks whose tempo is within
// BPMTolerance of the previously grouped track, and round-robins each group.
type BPMGrouped struct{}

func (BPMGrouped) Name() string { return NameBPMGrouped }

func (BPMGrouped) Order(tracks []Track, opts Options) Timeline {
	var tl Timeline
	for _, group := range GroupByBPM(tracks, opts.BPMTolerance) {
		tl = append(tl, interleave(group)...)
	}
	return tl
}

// GroupByBPM partitions tracks into ascending-tempo groups. A new group starts
// when a track's tempo is more than tolerance above the last track added.
func GroupByBPM(tracks []Track, tolerance float64) [][]Track {
	sorted := slices.Clone(tracks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TempoBPM < sorted[j].TempoBPM
	})

	var groups [][]Track
	for _, tr := range sorted {
		if n := len(groups); n > 0 {
			last := groups[n-1][len(groups[n-1])-1]
			if math.Abs(tr.TempoBPM-last.TempoBPM) <= tolerance {
				groups[n-1] = append(groups[n-1], tr)
				continue
			}
		}
		groups = append(groups, []Track{tr})
	}
	return groups
}

// EnergyCurve pools all segments and arranges them as intro, buildup, peak and
// cooldown quartiles of ascending energy, with the peak quartile reversed.
type EnergyCurve struct{}

func (EnergyCurve) Name() string { return NameEnergyCurve }

func (EnergyCurve) Order(tracks []Track, _ Options) Timeline {
	var pool Timeline
	for _, tr := range tracks {
		for _, s := range tr.Segments {
			pool = append(pool, Entry{Segment: s})
		}
	}
	if len(pool) == 0 {
		return nil
	}

	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Energy < pool[j].Energy
	})

	intro, buildup, peak, cooldown := Quartiles(pool)
	slices.Reverse(peak)

	tl := make(Timeline, 0, len(pool))
	tl = append(tl, intro...)
	tl = append(tl, buildup...)
	tl = append(tl, peak...)
	tl = append(tl, cooldown...)
	return tl
}

// Quartiles splits tl at n/4, n/2 and 3n/4. The last part takes the remainder.
// The parts share tl's backing array.
func Quartiles(tl Timeline) (Timeline, Timeline, Timeline, Timeline) {
	n := len(tl)
	q1, q2, q3 := n/4, n/2, 3*n/4
	return tl[:q1:q1], tl[q1:q2:q2], tl[q2:q3:q3], tl[q3:]
}
