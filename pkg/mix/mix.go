// Package mix runs the full pipeline: analyze, segment, sequence and render.
package mix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nzoschke/segmix/pkg/analysis"
	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/nzoschke/segmix/pkg/event"
	"github.com/nzoschke/segmix/pkg/metrics"
	"github.com/nzoschke/segmix/pkg/render"
	"github.com/nzoschke/segmix/pkg/segment"
	"github.com/nzoschke/segmix/pkg/sequence"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAnalysisUnavailable marks a track whose audio or analysis failed.
	// The track is left out of the mix.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrEmptySegmentSet marks a track that produced no segments.
	ErrEmptySegmentSet = errors.New("empty segment set")
)

// Output file names written by Run.Save.
const (
	SegmentsFile = "segments.json"
	TimelineFile = "timeline.json"
	MixFile      = "mix.wav"
)

// Error is a fatal pipeline failure.
type Error struct {
	Stage   string // Stage is analyze, render or save.
	Tracks  int    // Tracks is the number of input tracks.
	Dropped int    // Dropped is the number of tracks left out of the mix.
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mix %s: %v (%d of %d tracks dropped)", e.Stage, e.Err, e.Dropped, e.Tracks)
}

func (e *Error) Unwrap() error { return e.Err }

// TrackError records why a track was left out.
type TrackError struct {
	TrackID string
	Err     error
}

// Run carries everything one pipeline invocation produced. It replaces any
// shared staging directory: stages pass data through it.
type Run struct {
	ID       string
	Tracks   []string               // Tracks is the input order.
	Records  []sequence.TrackRecord // Records holds tracks with segments, in input order.
	Dropped  []TrackError
	Timeline sequence.Timeline
	Mix      *audio.Buffer
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg      Config
	policy   sequence.Policy
	analyzer analysis.Analyzer
	source   audio.Source
	renderer *render.Renderer
	log      *slog.Logger
	events   event.Sink
}

// New creates a pipeline. log and events may be nil.
func New(cfg Config, a analysis.Analyzer, src audio.Source, log *slog.Logger, events event.Sink) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := sequence.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		cfg:      cfg,
		policy:   policy,
		analyzer: a,
		source:   src,
		renderer: render.New(cfg.RenderConfig(), log, events),
		log:      log,
		events:   events,
	}, nil
}

// Run analyzes and segments every track, sequences the segments and renders
// the mix. Per-track failures drop the track; an empty timeline or a render
// with no playable segments fails the run.
func (p *Pipeline) Run(ctx context.Context, trackIDs []string) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Tracks: trackIDs}
	fail := func(stage string, err error) (*Run, error) {
		metrics.RecordMix(false)
		return run, &Error{Stage: stage, Tracks: len(trackIDs), Dropped: len(run.Dropped), Err: err}
	}

	var err error
	run.Records, run.Dropped, err = p.Segment(ctx, trackIDs)
	if err != nil {
		return fail("analyze", err)
	}

	run.Timeline = p.Sequence(run.Records)

	run.Mix, err = p.Render(ctx, run.Timeline)
	if err != nil {
		return fail("render", err)
	}

	metrics.RecordMix(true)
	p.log.Info("mix complete",
		"id", run.ID,
		"tracks", len(trackIDs),
		"dropped", len(run.Dropped),
		"segments", len(run.Timeline),
		"duration", run.Mix.Duration(),
	)
	return run, nil
}

// Segment analyzes and segments tracks concurrently. It returns the records
// of tracks that produced segments, in input order, and the dropped tracks.
// Only cancellation is returned as an error.
func (p *Pipeline) Segment(ctx context.Context, trackIDs []string) ([]sequence.TrackRecord, []TrackError, error) {
	start := time.Now()
	defer func() { metrics.RecordDuration("segment", time.Since(start).Seconds()) }()

	records := make([]*sequence.TrackRecord, len(trackIDs))
	errs := make([]error, len(trackIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.concurrency())
	for i, id := range trackIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := p.segmentTrack(gctx, id)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs[i] = err
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]sequence.TrackRecord, 0, len(trackIDs))
	var dropped []TrackError
	for i, id := range trackIDs {
		if errs[i] != nil {
			dropped = append(dropped, TrackError{TrackID: id, Err: errs[i]})
			continue
		}
		out = append(out, *records[i])
	}
	return out, dropped, nil
}

func (p *Pipeline) segmentTrack(ctx context.Context, trackID string) (*sequence.TrackRecord, error) {
	result, err := p.analyze(ctx, trackID)
	if err != nil {
		metrics.RecordTrack("failed")
		p.log.Warn("analysis failed", "track", trackID, "error", err)
		p.events.Emit(event.Event{Kind: event.TrackFailed, TrackID: trackID, Err: err})
		return nil, err
	}
	metrics.RecordTrack("analyzed")
	p.events.Emit(event.Event{Kind: event.TrackAnalyzed, TrackID: trackID})

	segs := segment.Extract(result, p.cfg.SegmentOptions())
	if len(segs) == 0 {
		err := fmt.Errorf("%w: %s (%.1fs, %d beats)", ErrEmptySegmentSet, trackID, result.Duration, len(result.Beats))
		metrics.RecordTrack("empty")
		p.log.Warn("no segments", "track", trackID, "duration", result.Duration)
		p.events.Emit(event.Event{Kind: event.TrackEmpty, TrackID: trackID, Err: err})
		return nil, err
	}

	p.log.Info("segmented track", "track", trackID, "bpm", result.TempoBPM, "bars", result.Bars(), "segments", len(segs))
	p.events.Emit(event.Event{Kind: event.TrackSegmented, TrackID: trackID, Count: len(segs)})

	rec := sequence.NewTrackRecord(result, segs)
	return &rec, nil
}

func (p *Pipeline) analyze(ctx context.Context, trackID string) (*analysis.Result, error) {
	buf, err := p.source.Load(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}
	result, err := p.analyzer.Analyze(ctx, trackID, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnalysisUnavailable, err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrAnalysisUnavailable, trackID, err)
	}
	return result, nil
}

// Sequence orders the records with the configured policy.
func (p *Pipeline) Sequence(records []sequence.TrackRecord) sequence.Timeline {
	start := time.Now()
	tl := sequence.Sequence(sequence.Tracks(records), p.policy, p.cfg.SequenceOptions())
	metrics.RecordDuration("sequence", time.Since(start).Seconds())

	p.log.Info("sequenced", "policy", p.policy.Name(), "tracks", len(records), "segments", len(tl))
	p.events.Emit(event.Event{Kind: event.Sequenced, Total: len(records), Count: len(tl)})
	return tl
}

// Render renders a timeline against the pipeline's source.
func (p *Pipeline) Render(ctx context.Context, tl sequence.Timeline) (*audio.Buffer, error) {
	return p.renderer.Render(ctx, tl, p.source)
}

// Save writes the run's records, timeline and mix into dir. Nothing is
// written for a run without a mix.
func (r *Run) Save(dir string) error {
	if r.Mix == nil {
		return &Error{Stage: "save", Tracks: len(r.Tracks), Dropped: len(r.Dropped), Err: render.ErrNoPlayableSegments}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := sequence.WriteRecords(filepath.Join(dir, SegmentsFile), r.Records); err != nil {
		return fmt.Errorf("write segments: %w", err)
	}
	if err := r.Timeline.WriteJSON(filepath.Join(dir, TimelineFile)); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	if err := audio.WriteWAV(filepath.Join(dir, MixFile), r.Mix); err != nil {
		return fmt.Errorf("write mix: %w", err)
	}
	return nil
}
