package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzoschke/segmix/pkg/audio"
)

// Sidecar is the JSON document written next to each analyzed audio file.
type Sidecar struct {
	File       string    `json:"file"`
	Duration   float64   `json:"duration"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Analysis   *Result   `json:"analysis"`
	Waveform   *Waveform `json:"waveform,omitempty"`
}

// Waveform contains downsampled waveform data for visualization.
type Waveform struct {
	PixelsPerSec int       `json:"pixels_per_sec"`
	Peaks        []float64 `json:"peaks"`
	Troughs      []float64 `json:"troughs"`
}

// SidecarPath returns the JSON sidecar path for an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".json"
}

// AnalyzeFile decodes and analyzes a single audio file.
func AnalyzeFile(ctx context.Context, a Analyzer, path, trackID string) (*Sidecar, error) {
	buf, err := audio.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}

	result, err := a.Analyze(ctx, trackID, buf)
	if err != nil {
		return nil, err
	}

	sc := &Sidecar{
		File:       filepath.Base(path),
		Duration:   buf.Duration(),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Analysis:   result,
	}

	// 100 pixels per second
	if wf, err := GenerateWaveform(buf, 100); err == nil {
		sc.Waveform = wf
	}
	return sc, nil
}

// GenerateWaveform creates downsampled waveform data for visualization.
// pixelsPerSec controls the resolution (e.g., 100 = 100 data points per second).
func GenerateWaveform(buf *audio.Buffer, pixelsPerSec int) (*Waveform, error) {
	samples := buf.Mono()

	samplesPerPixel := max(1, buf.SampleRate/pixelsPerSec)
	numPixels := len(samples) / samplesPerPixel
	if numPixels == 0 {
		return nil, fmt.Errorf("audio too short")
	}

	peaks := make([]float64, numPixels)
	troughs := make([]float64, numPixels)

	for i := range numPixels {
		start := i * samplesPerPixel
		end := min(start+samplesPerPixel, len(samples))

		maxVal, minVal := -1.0, 1.0
		for _, s := range samples[start:end] {
			maxVal = max(maxVal, s)
			minVal = min(minVal, s)
		}
		peaks[i] = maxVal
		troughs[i] = minVal
	}

	return &Waveform{
		PixelsPerSec: pixelsPerSec,
		Peaks:        peaks,
		Troughs:      troughs,
	}, nil
}

// AnalyzeDir recursively analyzes all audio files in a directory.
// For each audio file, it creates a corresponding .json sidecar file.
// If force is true, existing JSON files are overwritten.
// Files that fail analysis are logged and skipped.
func AnalyzeDir(ctx context.Context, a Analyzer, dir string, force bool, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !audio.IsSupported(filepath.Ext(path)) {
			return nil
		}

		jsonPath := SidecarPath(path)
		if !force {
			if _, err := os.Stat(jsonPath); err == nil {
				log.Info("skipping analyzed track", "file", filepath.Base(path))
				return nil
			}
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		sc, err := AnalyzeFile(ctx, a, path, filepath.ToSlash(rel))
		if err != nil {
			log.Warn("analysis failed", "file", rel, "error", err)
			return nil // Continue with other files
		}

		if err := sc.WriteJSON(jsonPath); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}

		log.Info("analyzed track",
			"file", rel,
			"duration", sc.Duration,
			"bpm", sc.Analysis.TempoBPM,
			"beats", len(sc.Analysis.Beats),
			"bars", sc.Analysis.Bars(),
			"key", sc.Analysis.Key.String(),
		)
		return nil
	})
}

// WriteJSON writes the sidecar to a JSON file.
func (sc *Sidecar) WriteJSON(path string) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadSidecar loads a sidecar JSON file.
func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sc.Analysis == nil {
		return nil, fmt.Errorf("parse %s: missing analysis", path)
	}
	return &sc, nil
}

// Cache wraps an Analyzer with the sidecar files of a music directory.
// A track whose sidecar exists is not re-analyzed unless Force is set;
// fresh results are written back as sidecars.
type Cache struct {
	Dir      string
	Analyzer Analyzer
	Force    bool
}

// Analyze returns the cached result for trackID or runs the wrapped analyzer.
func (c *Cache) Analyze(ctx context.Context, trackID string, buf *audio.Buffer) (*Result, error) {
	audioPath := filepath.Join(c.Dir, filepath.FromSlash(trackID))
	jsonPath := SidecarPath(audioPath)

	if !c.Force {
		if sc, err := ReadSidecar(jsonPath); err == nil {
			return sc.Analysis, nil
		}
	}

	result, err := c.Analyzer.Analyze(ctx, trackID, buf)
	if err != nil {
		return nil, err
	}

	sc := &Sidecar{
		File:       filepath.Base(audioPath),
		Duration:   buf.Duration(),
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		Analysis:   result,
	}
	if wf, err := GenerateWaveform(buf, 100); err == nil {
		sc.Waveform = wf
	}
	if err := sc.WriteJSON(jsonPath); err != nil {
		return nil, fmt.Errorf("write sidecar: %w", err)
	}
	return result, nil
}
