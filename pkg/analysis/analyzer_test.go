package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clickTrack renders decaying noise bursts every 60/bpm seconds starting at offset.
func clickTrack(sampleRate int, seconds, bpm, offset float64) *audio.Buffer {
	rng := rand.New(rand.NewSource(7))
	n := int(seconds * float64(sampleRate))
	buf := audio.NewBuffer(n, 1, sampleRate)

	period := 60.0 / bpm
	burst := sampleRate / 50 // 20ms
	for t := offset; t < seconds; t += period {
		start := int(t * float64(sampleRate))
		for i := 0; i < burst && start+i < n; i++ {
			decay := math.Exp(-float64(i) / float64(burst/4))
			buf.Samples[start+i] = 0.8 * decay * (rng.Float64()*2 - 1)
		}
	}
	return buf
}

func TestAnalyzeClickTrack(t *testing.T) {
	sampleRate := 44100
	buf := clickTrack(sampleRate, 20, 120, 0.25)

	result, err := New(DefaultConfig()).Analyze(context.Background(), "clicks", buf)
	require.NoError(t, err)

	t.Logf("BPM: %.2f, beats: %d, key: %s", result.TempoBPM, len(result.Beats), result.Key)

	assert.Equal(t, "clicks", result.TrackID)
	assert.InDelta(t, 120, result.TempoBPM, 3)
	assert.InDelta(t, 20, result.Duration, 1e-9)
	assert.Equal(t, sampleRate, result.SampleRate)
	require.NoError(t, result.Validate())

	// Beats land on clicks and are spaced by the period
	require.Greater(t, len(result.Beats), 30)
	for _, b := range result.Beats {
		k := math.Round((b - 0.25) / 0.5)
		assert.InDelta(t, 0.25+k*0.5, b, 0.06, "beat %.3f is off the click grid", b)
	}

	intervals := make([]float64, 0, len(result.Beats)-1)
	for i := 1; i < len(result.Beats); i++ {
		intervals = append(intervals, result.Beats[i]-result.Beats[i-1])
	}
	sort.Float64s(intervals)
	assert.InDelta(t, 0.5, intervals[len(intervals)/2], 0.02)
}

func TestAnalyzeEnergyCurve(t *testing.T) {
	sampleRate := 22050
	n := sampleRate * 4
	buf := audio.NewBuffer(n, 2, sampleRate)

	// Quiet first half, loud second half
	for i := range n {
		amp := 0.1
		if i >= n/2 {
			amp = 0.8
		}
		v := amp * math.Sin(2*math.Pi*220*float64(i)/float64(sampleRate))
		buf.Samples[i*2] = v
		buf.Samples[i*2+1] = v
	}

	a := New(DefaultConfig())
	energy, times := a.energyCurve(buf.Mono(), sampleRate)
	require.Equal(t, len(energy), len(times))
	assert.Equal(t, 0.0, times[0])
	assert.InDelta(t, 512.0/float64(sampleRate), times[1], 1e-12)

	quarter := energy[len(energy)/4]
	threeQuarter := energy[3*len(energy)/4]
	assert.Greater(t, threeQuarter, 4*quarter)

	// Sine RMS is amp/sqrt(2)
	assert.InDelta(t, 0.8/math.Sqrt2, threeQuarter, 0.02)
}

func TestMovingAverage(t *testing.T) {
	x := []float64{10, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	got := movingAverage(x, 10)
	require.Len(t, got, len(x))

	// Width 10 covers [k-5, k+4]: x[0] contributes to outputs 0..5
	for k := range got {
		want := 0.0
		if k <= 5 {
			want = 1
		}
		assert.InDelta(t, want, got[k], 1e-12, "k=%d", k)
	}

	assert.Equal(t, x, movingAverage(x, 1))
}

func TestEstimateKey(t *testing.T) {
	sampleRate := 44100
	samples := make([]float64, sampleRate)
	for i := range samples {
		samples[i] = math.Sin(2 * math.Pi * 440 * float64(i) / float64(sampleRate))
	}

	spec := STFT(samples, STFTConfig{FFTSize: 2048, HopSize: 512})
	assert.Equal(t, KeyA, estimateKey(spec, 2048, sampleRate))
}

func TestAnalyzeSilence(t *testing.T) {
	buf := audio.NewBuffer(44100*10, 1, 44100)
	_, err := New(DefaultConfig()).Analyze(context.Background(), "silence", buf)
	assert.Error(t, err)
}

func TestAnalyzeTooShort(t *testing.T) {
	buf := clickTrack(44100, 1, 120, 0)
	_, err := New(DefaultConfig()).Analyze(context.Background(), "short", buf)
	assert.ErrorIs(t, err, ErrTooShort)
}

func TestAnalyzeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultConfig()).Analyze(ctx, "clicks", clickTrack(22050, 10, 120, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrackBeats(t *testing.T) {
	onsets := make([]float64, 100)
	for i := 3; i < len(onsets); i += 10 {
		onsets[i] = 1
	}

	beats := trackBeats(onsets, 10)
	require.NotEmpty(t, beats)
	for i, b := range beats {
		assert.Equal(t, 3+10*i, b)
	}
}

func TestKeyText(t *testing.T) {
	data, err := json.Marshal(struct {
		Key Key `json:"key"`
	}{KeyFSharp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"F#"}`, string(data))

	var k Key
	require.NoError(t, k.UnmarshalText([]byte("a#")))
	assert.Equal(t, KeyASharp, k)

	_, err = ParseKey("H")
	assert.Error(t, err)
	assert.Equal(t, "Key(12)", Key(12).String())
}

func TestResultValidate(t *testing.T) {
	ok := &Result{TempoBPM: 120, Duration: 10, Beats: []float64{0, 0.5}, FrameEnergy: []float64{0.1}, FrameTimes: []float64{0}}
	require.NoError(t, ok.Validate())

	bad := *ok
	bad.Beats = []float64{0.5, 0.5}
	assert.Error(t, bad.Validate())

	bad = *ok
	bad.TempoBPM = 0
	assert.Error(t, bad.Validate())

	bad = *ok
	bad.FrameTimes = nil
	assert.Error(t, bad.Validate())
}

func TestResultBars(t *testing.T) {
	assert.Equal(t, 0.0, (&Result{}).Bars())
	assert.Equal(t, 2.5, (&Result{Beats: []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5}}).Bars())
}

func TestAnalyzeDirWritesSidecars(t *testing.T) {
	dir := t.TempDir()
	wavPath := filepath.Join(dir, "clicks.wav")
	require.NoError(t, audio.WriteWAV(wavPath, clickTrack(22050, 12, 120, 0.1)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0644))

	var logs bytes.Buffer
	a := New(DefaultConfig())
	require.NoError(t, AnalyzeDir(context.Background(), a, dir, false, slog.New(slog.NewJSONHandler(&logs, nil))))
	assert.Contains(t, logs.String(), `"bars":`)

	sc, err := ReadSidecar(SidecarPath(wavPath))
	require.NoError(t, err)
	assert.Equal(t, "clicks.wav", sc.File)
	assert.Equal(t, "clicks.wav", sc.Analysis.TrackID)
	assert.InDelta(t, 120, sc.Analysis.TempoBPM, 3)
	require.NotNil(t, sc.Waveform)
	assert.Equal(t, 100, sc.Waveform.PixelsPerSec)

	// Existing sidecars are kept without force
	info, err := os.Stat(SidecarPath(wavPath))
	require.NoError(t, err)
	require.NoError(t, AnalyzeDir(context.Background(), a, dir, false, nil))
	info2, err := os.Stat(SidecarPath(wavPath))
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), info2.ModTime())
}

type countingAnalyzer struct {
	calls int
	inner Analyzer
}

func (c *countingAnalyzer) Analyze(ctx context.Context, trackID string, buf *audio.Buffer) (*Result, error) {
	c.calls++
	return c.inner.Analyze(ctx, trackID, buf)
}

func TestCache(t *testing.T) {
	dir := t.TempDir()
	buf := clickTrack(22050, 12, 120, 0)
	require.NoError(t, audio.WriteWAV(filepath.Join(dir, "a.wav"), buf))

	counter := &countingAnalyzer{inner: New(DefaultConfig())}
	cache := &Cache{Dir: dir, Analyzer: counter}

	first, err := cache.Analyze(context.Background(), "a.wav", buf)
	require.NoError(t, err)
	second, err := cache.Analyze(context.Background(), "a.wav", buf)
	require.NoError(t, err)

	assert.Equal(t, 1, counter.calls)
	assert.Equal(t, first.TempoBPM, second.TempoBPM)
	assert.FileExists(t, filepath.Join(dir, "a.json"))

	cache.Force = true
	_, err = cache.Analyze(context.Background(), "a.wav", buf)
	require.NoError(t, err)
	assert.Equal(t, 2, counter.calls)
}

func TestGenerateWaveform(t *testing.T) {
	buf := &audio.Buffer{Samples: []float64{0.5, -0.5, 0.25, -0.75}, Channels: 1, SampleRate: 2}
	wf, err := GenerateWaveform(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, wf.Peaks)
	assert.Equal(t, []float64{-0.5, -0.75}, wf.Troughs)

	_, err = GenerateWaveform(&audio.Buffer{Channels: 1, SampleRate: 100}, 1)
	assert.Error(t, err)
}
