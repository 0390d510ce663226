// CLI for building beat-aligned DJ mixes and serving the mix UI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/nzoschke/segmix/pkg/analysis"
	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/nzoschke/segmix/pkg/logger"
	"github.com/nzoschke/segmix/pkg/mix"
	"github.com/nzoschke/segmix/pkg/sequence"
	"github.com/nzoschke/segmix/pkg/server"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "app",
	Short:         "Beat-aligned DJ mix generator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <directory>",
	Short: "Analyze audio files and create JSON sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runAnalyze(cmd, args[0], force)
	},
}

var segmentsCmd = &cobra.Command{
	Use:   "segments <directory>",
	Short: "Extract beat-aligned candidate segments for every track",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return runSegments(cmd, args[0], out)
	},
}

var sequenceCmd = &cobra.Command{
	Use:   "sequence <segments.json>",
	Short: "Order track segments into a mix timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return runSequence(cmd, args[0], out)
	},
}

var renderCmd = &cobra.Command{
	Use:   "render <timeline.json>",
	Short: "Render a mix timeline to a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		music, _ := cmd.Flags().GetString("music")
		out, _ := cmd.Flags().GetString("out")
		return runRender(cmd, args[0], music, out)
	},
}

var mixCmd = &cobra.Command{
	Use:   "mix <directory>",
	Short: "Analyze, segment, sequence and render every track in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		return runMix(cmd, args[0], out)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		music, _ := cmd.Flags().GetString("music")
		out, _ := cmd.Flags().GetString("out")
		return runServe(cmd, addr, music, out)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "YAML config file")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json)")
	pf.String("log-file", "", "Write logs to a rotating file")

	pf.Float64("window", 0, "Segment length in seconds")
	pf.Float64("hop", 0, "Distance between segment windows in seconds")
	pf.Int("top", 0, "Segments used per track")
	pf.Float64("tolerance", 0, "BPM step allowed within a bpm-grouped group")
	pf.String("policy", "", "Sequencing policy (round-robin, bpm-grouped, energy-curve)")
	pf.Float64("crossfade", 0, "Crossfade length in seconds")
	pf.Float64("peak", 0, "Per-segment normalization peak")
	pf.Bool("no-stretch", false, "Disable tempo matching")
	pf.Int("channels", 0, "Mix channel layout (0 = first segment's layout)")
	pf.Int("concurrency", 0, "Tracks analyzed in parallel (0 = one per CPU)")

	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if JSON exists")
	segmentsCmd.Flags().StringP("out", "o", mix.SegmentsFile, "Output segments file")
	sequenceCmd.Flags().StringP("out", "o", mix.TimelineFile, "Output timeline file")
	renderCmd.Flags().StringP("music", "m", "music", "Directory containing the source tracks")
	renderCmd.Flags().StringP("out", "o", mix.MixFile, "Output WAV file")
	mixCmd.Flags().StringP("out", "o", "out", "Output directory")
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().StringP("music", "m", "music", "Directory containing the source tracks")
	serveCmd.Flags().StringP("out", "o", "", "Directory for rendered mixes")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(segmentsCmd)
	rootCmd.AddCommand(sequenceCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(mixCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(cmd *cobra.Command) (mix.Config, *slog.Logger, error) {
	flags := cmd.Flags()

	cfg := mix.DefaultConfig()
	if path, _ := flags.GetString("config"); path != "" {
		var err error
		if cfg, err = mix.LoadConfig(path); err != nil {
			return cfg, nil, err
		}
	}

	if flags.Changed("window") {
		cfg.WindowSeconds, _ = flags.GetFloat64("window")
	}
	if flags.Changed("hop") {
		cfg.HopSeconds, _ = flags.GetFloat64("hop")
	}
	if flags.Changed("top") {
		cfg.TopPerTrack, _ = flags.GetInt("top")
	}
	if flags.Changed("tolerance") {
		cfg.BPMTolerance, _ = flags.GetFloat64("tolerance")
	}
	if flags.Changed("policy") {
		cfg.Policy, _ = flags.GetString("policy")
	}
	if flags.Changed("crossfade") {
		cfg.CrossfadeSeconds, _ = flags.GetFloat64("crossfade")
	}
	if flags.Changed("peak") {
		cfg.TargetPeak, _ = flags.GetFloat64("peak")
	}
	if noStretch, _ := flags.GetBool("no-stretch"); noStretch {
		cfg.Stretch = false
	}
	if flags.Changed("channels") {
		cfg.Channels, _ = flags.GetInt("channels")
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("log-file") {
		cfg.Logging.File, _ = flags.GetString("log-file")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return cfg, nil, fmt.Errorf("create logger: %w", err)
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

// newPipeline builds a pipeline over dir with sidecar-cached analysis.
func newPipeline(cfg mix.Config, log *slog.Logger, dir string) (*mix.Pipeline, error) {
	a := &analysis.Cache{Dir: dir, Analyzer: analysis.New(analysis.DefaultConfig())}
	return mix.New(cfg, a, audio.DirSource{Dir: dir}, log, nil)
}

func runAnalyze(cmd *cobra.Command, dir string, force bool) error {
	_, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return analysis.AnalyzeDir(cmd.Context(), analysis.New(analysis.DefaultConfig()), dir, force, log)
}

func runSegments(cmd *cobra.Command, dir, out string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, log, dir)
	if err != nil {
		return err
	}

	ids, err := audio.DirSource{Dir: dir}.Tracks()
	if err != nil {
		return fmt.Errorf("list tracks: %w", err)
	}

	records, dropped, err := p.Segment(cmd.Context(), ids)
	if err != nil {
		return err
	}

	for _, rec := range records {
		fmt.Printf("%s  %.1f BPM  key %s  %d segments\n", rec.TrackID, rec.TempoBPM, rec.Key, len(rec.Segments))
		for i, s := range rec.Segments[:min(5, len(rec.Segments))] {
			fmt.Printf("  %d. %6.2fs - %6.2fs  energy %.4f\n", i+1, s.Start, s.End, s.Energy)
		}
	}
	for _, d := range dropped {
		fmt.Printf("%s  skipped: %v\n", d.TrackID, d.Err)
	}

	if err := sequence.WriteRecords(out, records); err != nil {
		return fmt.Errorf("write segments: %w", err)
	}
	fmt.Printf("Wrote %d tracks to %s\n", len(records), out)
	return nil
}

func runSequence(cmd *cobra.Command, in, out string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	records, err := sequence.ReadRecords(in)
	if err != nil {
		return err
	}

	p, err := mix.New(cfg, nil, nil, log, nil)
	if err != nil {
		return err
	}

	tl := p.Sequence(records)
	if err := tl.WriteJSON(out); err != nil {
		return fmt.Errorf("write timeline: %w", err)
	}
	fmt.Printf("Wrote %d segments (%s, %.1fs before crossfades) to %s\n", len(tl), cfg.Policy, tl.Duration(), out)
	return nil
}

func runRender(cmd *cobra.Command, in, music, out string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tl, err := sequence.ReadTimeline(in)
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, log, music)
	if err != nil {
		return err
	}

	buf, err := p.Render(cmd.Context(), tl)
	if err != nil {
		return err
	}

	if err := audio.WriteWAV(out, buf); err != nil {
		return fmt.Errorf("write mix: %w", err)
	}
	fmt.Printf("Wrote %.1fs mix to %s\n", buf.Duration(), out)
	return nil
}

func runMix(cmd *cobra.Command, dir, out string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	p, err := newPipeline(cfg, log, dir)
	if err != nil {
		return err
	}

	ids, err := audio.DirSource{Dir: dir}.Tracks()
	if err != nil {
		return fmt.Errorf("list tracks: %w", err)
	}

	run, err := p.Run(cmd.Context(), ids)
	if err != nil {
		return err
	}
	if err := run.Save(out); err != nil {
		return err
	}

	for _, d := range run.Dropped {
		fmt.Printf("%s  skipped: %v\n", d.TrackID, d.Err)
	}
	fmt.Printf("Mixed %d segments from %d tracks (%.1fs) into %s\n",
		len(run.Timeline), len(run.Records), run.Mix.Duration(), filepath.Join(out, mix.MixFile))
	return nil
}

func runServe(cmd *cobra.Command, addr, music, out string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s := server.New(server.Config{
		Addr:     addr,
		MusicDir: music,
		OutDir:   out,
		Mix:      cfg,
	}, analysis.New(analysis.DefaultConfig()), log)
	return s.Run()
}
