package mix

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nzoschke/segmix/pkg/logger"
	"github.com/nzoschke/segmix/pkg/render"
	"github.com/nzoschke/segmix/pkg/segment"
	"github.com/nzoschke/segmix/pkg/sequence"
	"gopkg.in/yaml.v3"
)

// Config is the caller-facing configuration of a mix run.
type Config struct {
	// Segmentation
	WindowSeconds float64 `yaml:"window_seconds"`
	HopSeconds    float64 `yaml:"hop_seconds"`

	// Sequencing
	TopPerTrack  int     `yaml:"top_per_track"`
	BPMTolerance float64 `yaml:"bpm_tolerance"`
	Policy       string  `yaml:"policy"`

	// Rendering
	CrossfadeSeconds float64 `yaml:"crossfade_seconds"`
	TargetPeak       float64 `yaml:"target_peak"`
	Stretch          bool    `yaml:"stretch"`
	Channels         int     `yaml:"channels"`

	// Concurrency bounds the per-track analysis fan-out. 0 means one per CPU.
	Concurrency int `yaml:"concurrency"`

	Logging logger.Config `yaml:"logging"`
}

// DefaultConfig returns the defaults of every stage.
func DefaultConfig() Config {
	seg := segment.DefaultOptions()
	seq := sequence.DefaultOptions()
	ren := render.DefaultConfig()
	return Config{
		WindowSeconds:    seg.Window,
		HopSeconds:       seg.Hop,
		TopPerTrack:      seq.TopPerTrack,
		BPMTolerance:     seq.BPMTolerance,
		Policy:           sequence.NameEnergyCurve,
		CrossfadeSeconds: ren.CrossfadeSeconds,
		TargetPeak:       ren.TargetPeak,
		Stretch:          ren.StretchEnabled,
		Channels:         ren.Channels,
		Logging:          logger.Config{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML config file. Keys missing from the file keep
// their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every stage's settings.
func (c Config) Validate() error {
	if err := c.SegmentOptions().Validate(); err != nil {
		return fmt.Errorf("segment: %w", err)
	}
	if err := c.SequenceOptions().Validate(); err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	if _, err := sequence.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	if err := c.RenderConfig().Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// SegmentOptions returns the segmenter options. Every candidate is kept so
// the persisted track records are complete; the sequencer takes the prefix.
func (c Config) SegmentOptions() segment.Options {
	return segment.Options{Window: c.WindowSeconds, Hop: c.HopSeconds}
}

// SequenceOptions returns the sequencer options.
func (c Config) SequenceOptions() sequence.Options {
	return sequence.Options{TopPerTrack: c.TopPerTrack, BPMTolerance: c.BPMTolerance}
}

// RenderConfig returns the renderer config.
func (c Config) RenderConfig() render.Config {
	cfg := render.DefaultConfig()
	cfg.CrossfadeSeconds = c.CrossfadeSeconds
	cfg.TargetPeak = c.TargetPeak
	cfg.StretchEnabled = c.Stretch
	cfg.Channels = c.Channels
	return cfg
}

func (c Config) concurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return runtime.NumCPU()
}
