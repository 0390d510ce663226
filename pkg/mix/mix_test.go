package mix

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/nzoschke/segmix/pkg/analysis"
	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/nzoschke/segmix/pkg/event"
	"github.com/nzoschke/segmix/pkg/logger"
	"github.com/nzoschke/segmix/pkg/render"
	"github.com/nzoschke/segmix/pkg/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 8000

// stubAnalyzer returns canned results keyed by track id.
type stubAnalyzer map[string]*analysis.Result

func (s stubAnalyzer) Analyze(_ context.Context, trackID string, buf *audio.Buffer) (*analysis.Result, error) {
	r, ok := s[trackID]
	if !ok {
		return nil, errors.New("no tempo detected")
	}
	return r, nil
}

func result(id string, bpm, duration float64) *analysis.Result {
	r := &analysis.Result{TrackID: id, TempoBPM: bpm, Duration: duration, SampleRate: testRate}
	period := 60 / bpm
	for b := 0.0; b < duration; b += period {
		r.Beats = append(r.Beats, b)
	}
	for i := 0; float64(i)*0.1 <= duration; i++ {
		ts := float64(i) * 0.1
		r.FrameTimes = append(r.FrameTimes, ts)
		r.FrameEnergy = append(r.FrameEnergy, 0.5+0.4*math.Sin(ts/3+bpm))
	}
	return r
}

func tone(seconds, freq float64) *audio.Buffer {
	n := int(seconds * testRate)
	buf := audio.NewBuffer(n, 2, testRate)
	for i := range n {
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/testRate)
		buf.Samples[i*2] = v
		buf.Samples[i*2+1] = v
	}
	return buf
}

func fixture() (stubAnalyzer, *audio.MemorySource) {
	a := stubAnalyzer{
		"a.wav":     result("a.wav", 120, 30),
		"b.wav":     result("b.wav", 124, 30),
		"short.wav": result("short.wav", 128, 5),
	}
	src := audio.NewMemorySource(map[string]*audio.Buffer{
		"a.wav":     tone(30, 220),
		"b.wav":     tone(30, 330),
		"short.wav": tone(5, 440),
		"bad.wav":   tone(30, 550),
	})
	return a, src
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	return cfg
}

func TestRun(t *testing.T) {
	a, src := fixture()
	rec := &event.Recorder{}

	p, err := New(testConfig(), a, src, logger.Discard(), rec.Sink())
	require.NoError(t, err)

	tracks := []string{"a.wav", "bad.wav", "short.wav", "b.wav", "gone.wav"}
	run, err := p.Run(context.Background(), tracks)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, tracks, run.Tracks)

	require.Len(t, run.Records, 2)
	assert.Equal(t, "a.wav", run.Records[0].TrackID)
	assert.Equal(t, "b.wav", run.Records[1].TrackID)

	require.Len(t, run.Dropped, 3)
	assert.Equal(t, "bad.wav", run.Dropped[0].TrackID)
	assert.ErrorIs(t, run.Dropped[0].Err, ErrAnalysisUnavailable)
	assert.Equal(t, "short.wav", run.Dropped[1].TrackID)
	assert.ErrorIs(t, run.Dropped[1].Err, ErrEmptySegmentSet)
	assert.Equal(t, "gone.wav", run.Dropped[2].TrackID)
	assert.ErrorIs(t, run.Dropped[2].Err, ErrAnalysisUnavailable)
	assert.ErrorIs(t, run.Dropped[2].Err, audio.ErrMissingSource)

	assert.Len(t, run.Timeline, 6)
	assert.ElementsMatch(t, []string{"a.wav", "b.wav"}, run.Timeline.Tracks())
	require.NotNil(t, run.Mix)
	assert.Equal(t, testRate, run.Mix.SampleRate)
	assert.Equal(t, 2, run.Mix.Channels)

	assert.Len(t, rec.Of(event.TrackFailed), 2)
	assert.Len(t, rec.Of(event.TrackEmpty), 1)
	assert.Len(t, rec.Of(event.TrackSegmented), 2)
	assert.Len(t, rec.Of(event.Sequenced), 1)
	assert.Len(t, rec.Of(event.SegmentRendered), 6)
}

func TestRunPolicies(t *testing.T) {
	a, src := fixture()

	for _, name := range sequence.Policies() {
		cfg := testConfig()
		cfg.Policy = name
		cfg.TopPerTrack = 2

		p, err := New(cfg, a, src, logger.Discard(), nil)
		require.NoError(t, err)

		run, err := p.Run(context.Background(), []string{"a.wav", "b.wav"})
		require.NoError(t, err, name)
		assert.Len(t, run.Timeline, 4, name)
	}
}

func TestRunBPMGroupedScenario(t *testing.T) {
	a, src := fixture()
	cfg := testConfig()
	cfg.Policy = sequence.NameBPMGrouped
	cfg.TopPerTrack = 2

	p, err := New(cfg, a, src, logger.Discard(), nil)
	require.NoError(t, err)

	records, _, err := p.Segment(context.Background(), []string{"b.wav", "a.wav"})
	require.NoError(t, err)

	tl := p.Sequence(records)
	require.Len(t, tl, 4)
	assert.Equal(t, []string{"a.wav", "b.wav", "a.wav", "b.wav"}, []string{tl[0].TrackID, tl[1].TrackID, tl[2].TrackID, tl[3].TrackID})
	assert.GreaterOrEqual(t, tl[0].Energy, tl[2].Energy)
}

func TestRunEmptyTimeline(t *testing.T) {
	a, src := fixture()
	p, err := New(testConfig(), a, src, logger.Discard(), nil)
	require.NoError(t, err)

	run, err := p.Run(context.Background(), []string{"bad.wav", "short.wav"})
	require.ErrorIs(t, err, render.ErrEmptyTimeline)

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, "render", merr.Stage)
	assert.Equal(t, 2, merr.Tracks)
	assert.Equal(t, 2, merr.Dropped)

	// Nothing is written for a failed run
	dir := filepath.Join(t.TempDir(), "out")
	assert.Error(t, run.Save(dir))
	assert.NoDirExists(t, dir)

	_, err = p.Run(context.Background(), nil)
	assert.ErrorIs(t, err, render.ErrEmptyTimeline)
}

func TestRunCancelled(t *testing.T) {
	a, src := fixture()
	p, err := New(testConfig(), a, src, logger.Discard(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx, []string{"a.wav", "b.wav"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSave(t *testing.T) {
	a, src := fixture()
	p, err := New(testConfig(), a, src, logger.Discard(), nil)
	require.NoError(t, err)

	run, err := p.Run(context.Background(), []string{"a.wav", "b.wav"})
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, run.Save(dir))

	records, err := sequence.ReadRecords(filepath.Join(dir, SegmentsFile))
	require.NoError(t, err)
	assert.Len(t, records, 2)

	tl, err := sequence.ReadTimeline(filepath.Join(dir, TimelineFile))
	require.NoError(t, err)
	assert.Equal(t, run.Timeline, tl)

	mix, err := audio.LoadFile(filepath.Join(dir, MixFile))
	require.NoError(t, err)
	assert.Equal(t, run.Mix.Frames(), mix.Frames())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segmix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
window_seconds: 16
policy: round-robin
stretch: false
channels: 1
logging:
  level: debug
  format: json
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 16.0, cfg.WindowSeconds)
	assert.Equal(t, 4.0, cfg.HopSeconds)
	assert.Equal(t, 3, cfg.TopPerTrack)
	assert.Equal(t, sequence.NameRoundRobin, cfg.Policy)
	assert.False(t, cfg.Stretch)
	assert.False(t, cfg.RenderConfig().StretchEnabled)
	assert.Equal(t, 1, cfg.RenderConfig().Channels)
	assert.Equal(t, 2, DefaultConfig().Channels)
	assert.Equal(t, "json", cfg.Logging.Format)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"window", func(c *Config) { c.WindowSeconds = 0 }, "segment"},
		{"hop", func(c *Config) { c.HopSeconds = -1 }, "segment"},
		{"top", func(c *Config) { c.TopPerTrack = 0 }, "sequence"},
		{"policy", func(c *Config) { c.Policy = "harmonic" }, "unknown policy"},
		{"peak", func(c *Config) { c.TargetPeak = 0 }, "render"},
		{"channels", func(c *Config) { c.Channels = -1 }, "render"},
		{"concurrency", func(c *Config) { c.Concurrency = -2 }, "concurrency"},
		{"logging", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)

			_, err := New(cfg, stubAnalyzer{}, audio.NewMemorySource(nil), nil, nil)
			assert.Error(t, err)
		})
	}
}
