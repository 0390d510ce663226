// Package render folds a mix timeline into a single tempo-matched, crossfaded waveform.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/nzoschke/segmix/pkg/event"
	"github.com/nzoschke/segmix/pkg/metrics"
	"github.com/nzoschke/segmix/pkg/sequence"
)

var (
	// ErrEmptyTimeline is returned when there is nothing to render.
	ErrEmptyTimeline = errors.New("empty timeline")

	// ErrNoPlayableSegments is returned when every timeline segment was skipped.
	ErrNoPlayableSegments = errors.New("no playable segments")

	errEmptySlice = errors.New("empty slice")
)

// Error is a fatal render failure with enough context to diagnose it.
type Error struct {
	Stage   string // timeline or fold
	Total   int    // Segments in the timeline.
	Skipped int    // Segments skipped before failing.
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render %s: %v (%d of %d segments skipped)", e.Stage, e.Err, e.Skipped, e.Total)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds configuration for the renderer.
type Config struct {
	// CrossfadeSeconds is the linear crossfade length between segments.
	// Default: 2.0
	CrossfadeSeconds float64

	// TargetPeak is the absolute peak every segment is normalized to.
	// Default: 0.9
	TargetPeak float64

	// MinStretchFrames is the shortest slice that is time-stretched.
	// Default: 2048
	MinStretchFrames int

	// StretchEnabled turns tempo matching on.
	// Default: true
	StretchEnabled bool

	// Channels is the mix layout every segment is remixed to. 0 keeps the
	// layout of the first rendered segment.
	// Default: 2
	Channels int
}

// DefaultConfig returns the renderer defaults.
func DefaultConfig() Config {
	return Config{
		CrossfadeSeconds: 2.0,
		TargetPeak:       0.9,
		MinStretchFrames: 2048,
		StretchEnabled:   true,
		Channels:         2,
	}
}

// Validate checks the config ranges.
func (c Config) Validate() error {
	if c.CrossfadeSeconds < 0 || math.IsNaN(c.CrossfadeSeconds) {
		return fmt.Errorf("crossfade must not be negative, got %v", c.CrossfadeSeconds)
	}
	if c.TargetPeak <= 0 || c.TargetPeak > 1 {
		return fmt.Errorf("target peak must be in (0, 1], got %v", c.TargetPeak)
	}
	if c.MinStretchFrames < 0 {
		return fmt.Errorf("min stretch frames must not be negative, got %d", c.MinStretchFrames)
	}
	if c.Channels < 0 {
		return fmt.Errorf("channels must not be negative, got %d", c.Channels)
	}
	return nil
}

// Renderer renders timelines. It holds no state between Render calls.
type Renderer struct {
	cfg    Config
	log    *slog.Logger
	events event.Sink
}

// New creates a renderer. log and events may be nil.
func New(cfg Config, log *slog.Logger, events event.Sink) *Renderer {
	if log == nil {
		log = slog.Default()
	}
	return &Renderer{cfg: cfg, log: log, events: events}
}

// Render loads, tempo-matches, normalizes and crossfades every timeline
// segment in order. Segments whose source is missing or unusable are skipped.
// The returned buffer has the sample rate of the first rendered segment.
func (r *Renderer) Render(ctx context.Context, tl sequence.Timeline, src audio.Source) (*audio.Buffer, error) {
	start := time.Now()
	defer func() { metrics.RecordDuration("render", time.Since(start).Seconds()) }()

	total := len(tl)
	if total == 0 {
		return nil, &Error{Stage: "timeline", Err: ErrEmptyTimeline}
	}

	targetBPM := TargetBPM(tl)
	r.log.Info("rendering mix", "segments", total, "target_bpm", targetBPM)

	f := fold{cfg: r.cfg, targetBPM: targetBPM, sources: map[string]sourceResult{}}
	skipped := 0
	for i, e := range tl {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := f.add(ctx, e, src); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			skipped++
			metrics.RecordSegment(false)
			r.log.Warn("skipping segment", "index", i, "track", e.TrackID, "start", e.Start, "error", err)
			r.events.Emit(event.Event{Kind: event.SegmentSkipped, TrackID: e.TrackID, Index: i, Total: total, Err: err})
			continue
		}

		metrics.RecordSegment(true)
		r.events.Emit(event.Event{Kind: event.SegmentRendered, TrackID: e.TrackID, Index: i, Total: total})
	}

	if f.mix == nil {
		return nil, &Error{Stage: "fold", Total: total, Skipped: skipped, Err: ErrNoPlayableSegments}
	}

	r.log.Info("rendered mix",
		"segments", total-skipped,
		"skipped", skipped,
		"duration", f.mix.Duration(),
		"sample_rate", f.mix.SampleRate,
	)
	r.events.Emit(event.Event{Kind: event.RenderDone, Total: total, Count: total - skipped})
	return f.mix, nil
}

// TargetBPM returns the median tempo of segments with positive tempo, or 0
// when there are none.
func TargetBPM(tl sequence.Timeline) float64 {
	var tempos []float64
	for _, e := range tl {
		if e.TempoBPM > 0 {
			tempos = append(tempos, e.TempoBPM)
		}
	}
	return median(tempos)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

type sourceResult struct {
	buf *audio.Buffer
	err error
}

// fold is the state of one Render call. mix is owned exclusively by it.
type fold struct {
	cfg       Config
	targetBPM float64
	sources   map[string]sourceResult
	mix       *audio.Buffer
}

func (f *fold) load(ctx context.Context, src audio.Source, trackID string) (*audio.Buffer, error) {
	if res, ok := f.sources[trackID]; ok {
		return res.buf, res.err
	}
	buf, err := src.Load(ctx, trackID)
	if err == nil {
		err = buf.Validate()
	}
	if err != nil && !errors.Is(err, audio.ErrMissingSource) {
		err = fmt.Errorf("%w: %w", audio.ErrMissingSource, err)
	}
	f.sources[trackID] = sourceResult{buf: buf, err: err}
	return buf, err
}

// add renders one entry onto the mix, or returns why it was skipped.
func (f *fold) add(ctx context.Context, e sequence.Entry, src audio.Source) error {
	buf, err := f.load(ctx, src, e.TrackID)
	if err != nil {
		return err
	}

	sr := float64(buf.SampleRate)
	slice := buf.Slice(int(math.Round(e.Start*sr)), int(math.Round(e.End*sr)))
	if slice.Frames() <= 0 {
		return errEmptySlice
	}

	if f.mix != nil {
		slice = slice.Remix(f.mix.Channels).Resample(f.mix.SampleRate)
	} else {
		slice = slice.Remix(f.cfg.Channels)
	}

	if f.cfg.StretchEnabled && f.targetBPM > 0 && e.TempoBPM > 0 && slice.Frames() >= f.cfg.MinStretchFrames {
		slice = Stretch(slice, f.targetBPM/e.TempoBPM)
	}

	Normalize(slice, f.cfg.TargetPeak)

	if f.mix == nil {
		f.mix = slice
		return nil
	}

	fadeLen := min(int(math.Round(f.cfg.CrossfadeSeconds*float64(f.mix.SampleRate))), f.mix.Frames(), slice.Frames())
	f.mix = Crossfade(f.mix, slice, fadeLen)
	return nil
}

// Normalize scales b in place so its absolute peak equals target. Silent
// buffers are left unchanged.
func Normalize(b *audio.Buffer, target float64) {
	if peak := b.Peak(); peak > 0 {
		b.Scale(target / peak)
	}
}

// Crossfade joins b onto a, overlapping the last fadeLen frames of a with the
// first fadeLen frames of b under linear ramps. a's storage is reused and the
// result has a.Frames() + b.Frames() - fadeLen frames. fadeLen is clipped to
// the shorter buffer.
func Crossfade(a, b *audio.Buffer, fadeLen int) *audio.Buffer {
	fadeLen = max(0, min(fadeLen, a.Frames(), b.Frames()))
	ch := a.Channels

	offset := (a.Frames() - fadeLen) * ch
	for i := range fadeLen {
		out, in := Ramp(i, fadeLen)
		for c := range ch {
			j := i*ch + c
			a.Samples[offset+j] = a.Samples[offset+j]*out + b.Samples[j]*in
		}
	}

	a.Samples = append(a.Samples, b.Samples[fadeLen*ch:]...)
	return a
}

// Ramp returns the fade-out and fade-in gains at frame i of an n frame
// crossfade. Both ramps include their endpoints, so the first frame is all
// outgoing and the last all incoming. A single-frame fade keeps the outgoing
// frame.
func Ramp(i, n int) (out, in float64) {
	if n <= 1 {
		return 1, 0
	}
	in = float64(i) / float64(n-1)
	return 1 - in, in
}
