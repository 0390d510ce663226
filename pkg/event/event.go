// Package event defines the progress events emitted by the mix pipeline.
package event

import "sync"

// Kind identifies what happened.
type Kind string

const (
	TrackAnalyzed   Kind = "track_analyzed"
	TrackFailed     Kind = "track_failed"
	TrackSegmented  Kind = "track_segmented"
	TrackEmpty      Kind = "track_empty"
	Sequenced       Kind = "sequenced"
	SegmentRendered Kind = "segment_rendered"
	SegmentSkipped  Kind = "segment_skipped"
	RenderDone      Kind = "render_done"
)

// Event is a single progress notification.
type Event struct {
	Kind    Kind
	TrackID string
	Index   int // Index is the timeline position for segment events.
	Total   int // Total is the number of items in the current stage.
	Count   int // Count is a stage-specific quantity, e.g. segments produced.
	Err     error
}

// Sink receives events. A nil Sink discards them.
type Sink func(Event)

// Emit sends e to the sink if it is set.
func (s Sink) Emit(e Event) {
	if s != nil {
		s(e)
	}
}

// Recorder collects events for inspection.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Sink returns a sink appending to the recorder.
func (r *Recorder) Sink() Sink {
	return func(e Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Of returns the recorded events of the given kind.
func (r *Recorder) Of(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
