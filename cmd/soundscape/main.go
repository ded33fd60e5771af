package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/spf13/cobra"

	"github.com/cbegin/soundscape-go"
	"github.com/cbegin/soundscape-go/internal/config"
	"github.com/cbegin/soundscape-go/internal/midifile"
	"github.com/cbegin/soundscape-go/internal/samples"
)

var opts struct {
	storeDir   string
	sampleRate int
	lanes      int
	logFile    string
	debug      bool
	samples    []string
	generate   bool
}

var rootCmd = &cobra.Command{
	Use:   "soundscape",
	Short: "Arrange chords and samples on a multi-lane timeline",
	Long: `Soundscape arranges synthesized chords and audio clips on a quantized,
multi-lane timeline with undo/redo and a shared convolution reverb.

Run without a subcommand to open the terminal editor.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the terminal editor",
	RunE:  runTUI,
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play the saved composition through the audio device",
	RunE:  runPlay,
}

var renderCmd = &cobra.Command{
	Use:   "render [out.wav]",
	Short: "Render the saved composition to a 32-bit float WAV file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRender,
}

var exportCmd = &cobra.Command{
	Use:   "export-midi [out.mid]",
	Short: "Write the saved composition's chords as a Standard MIDI File",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExportMIDI,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.storeDir, "store-dir", "", "directory holding saved compositions (overrides SOUNDSCAPE_STORE_DIR)")
	pf.IntVar(&opts.sampleRate, "sample-rate", 0, "output sample rate (overrides SOUNDSCAPE_SAMPLE_RATE)")
	pf.IntVar(&opts.lanes, "lanes", 0, "number of timeline lanes (overrides SOUNDSCAPE_LANES)")
	pf.StringVarP(&opts.logFile, "log", "l", "", "write logs to this file (the editor discards logs otherwise)")
	pf.BoolVar(&opts.debug, "debug", false, "log at debug level")
	pf.StringArrayVar(&opts.samples, "sample", nil, "register an audio file as id=path (repeatable)")
	pf.BoolVar(&opts.generate, "generate", false, "start from a generated chord progression instead of the saved composition")

	rootCmd.AddCommand(tuiCmd, playCmd, renderCmd, exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if opts.storeDir != "" {
		cfg.StoreDir = opts.storeDir
	}
	if opts.sampleRate > 0 {
		cfg.SampleRate = opts.sampleRate
	}
	if opts.lanes > 0 {
		cfg.Lanes = opts.lanes
	}
	return cfg, cfg.Validate()
}

// initLogger returns a text logger writing to w, or to the --log file when
// one is given. The returned close func releases the file.
func initLogger(w io.Writer) (*slog.Logger, func(), error) {
	closeFn := func() {}
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fault.Wrap(err, fmsg.With("open log file"))
		}
		w = f
		closeFn = func() { _ = f.Close() }
	}
	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: opts.debug}))
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

// openSession builds a session, registers --sample files and loads the
// starting composition.
func openSession(ctx context.Context, logger *slog.Logger) (*soundscape.Session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s, err := soundscape.New(cfg, soundscape.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	limits := samples.Limits{MaxBytes: cfg.MaxSampleBytes, MaxDuration: cfg.MaxSampleSeconds}
	for _, spec := range opts.samples {
		id, path, ok := strings.Cut(spec, "=")
		if !ok {
			path = spec
			id = filepath.Base(spec)
		}
		buf, err := samples.DecodeFile(path, limits)
		if err != nil {
			return nil, err
		}
		if _, err := s.RegisterSample(id, filepath.Base(path), buf); err != nil {
			return nil, err
		}
	}
	if opts.generate {
		s.GenerateSong()
		return s, nil
	}
	if err := s.Restore(ctx); err != nil {
		logger.Warn("could not restore saved composition", "error", err)
	}
	return s, nil
}

func runPlay(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := initLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := openSession(ctx, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	tl := s.Current()
	if tl.Empty() {
		return errors.New("nothing to play: the composition is empty")
	}
	length := time.Duration((tl.End() + soundscape.TailSeconds) * float64(time.Second))
	ctx, cancel := context.WithTimeout(ctx, length)
	defer cancel()

	start := time.Now()
	clock := func() float64 { return time.Since(start).Seconds() }
	if _, err := s.Play(clock()); err != nil {
		return err
	}
	logger.Info("playing", "events", tl.Len(), "seconds", length.Seconds())
	err = s.Run(ctx, 10*time.Millisecond, clock)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func runRender(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := initLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(cmd.Context(), logger)
	if err != nil {
		return err
	}
	out := "soundscape.wav"
	if len(args) > 0 {
		out = args[0]
	}
	rate := s.Config().SampleRate
	pcm, err := s.Render(rate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, soundscape.EncodeWAVFloat32LE(pcm, rate, 2), 0o644); err != nil {
		return fault.Wrap(err, fmsg.With("write "+out))
	}
	logger.Info("rendered", "file", out, "seconds", float64(len(pcm)/2)/float64(rate))
	return nil
}

func runExportMIDI(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := initLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(cmd.Context(), logger)
	if err != nil {
		return err
	}
	out := "soundscape.mid"
	if len(args) > 0 {
		out = args[0]
	}
	f, err := os.Create(out)
	if err != nil {
		return fault.Wrap(err, fmsg.With("create "+out))
	}
	defer f.Close()
	if err := midifile.Export(s.Current(), s.Config().Lanes, f); err != nil {
		return err
	}
	logger.Info("exported", "file", out, "events", s.Current().Len())
	return f.Close()
}
