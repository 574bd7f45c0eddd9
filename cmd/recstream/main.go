package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/config"
	"github.com/petems/recstream/internal/convert"
	"github.com/petems/recstream/internal/logging"
	"github.com/petems/recstream/internal/permissions"
	"github.com/petems/recstream/internal/recorder"
	"github.com/petems/recstream/internal/stream"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile     string
	logLevel    string
	backendName string
)

var rootCmd = &cobra.Command{
	Use:           "recstream",
	Short:         "Capture microphone audio and stream it as PCM",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", "capture backend: portaudio, malgo or synth")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(trayCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("recstream %s (%s)\n", Version, Commit)
	},
}

// env is what every command needs: settings, a logger and a bound recorder.
type env struct {
	cfg  *config.Config
	log  zerolog.Logger
	sink *stream.Sink
	rec  *recorder.Controller
}

// setup builds the shared environment. Commands that draw on the terminal
// pass console=false so log lines only go to the log file.
func setup(console bool) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if backendName != "" {
		cfg.Backend = backendName
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config %s: %w", cfg.Path(), errors.Join(errs...))
	}

	var log zerolog.Logger
	if console {
		log = logging.NewWithLevel(cfg.LogLevel)
	} else {
		log = logging.NewFileOnly(cfg.LogLevel)
	}

	quality, err := convert.ParseQuality(cfg.Audio.Quality)
	if err != nil {
		return nil, err
	}

	sink := stream.New(log)
	rec := recorder.New(recorder.Options{
		Backend:         newBackend(cfg.Backend, log),
		Logger:          log,
		Sink:            sink,
		Permission:      permissions.EnsureMicrophone,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Quality:         quality,
	})
	rec.Bind()

	return &env{cfg: cfg, log: log, sink: sink, rec: rec}, nil
}

func (e *env) Close() {
	if err := e.rec.Close(); err != nil {
		e.log.Warn().Err(err).Msg("Failed to release audio backend")
	}
	e.sink.Close()
}

func newBackend(name string, log zerolog.Logger) audio.Backend {
	switch name {
	case config.BackendMalgo:
		return audio.NewMalgo(log)
	case config.BackendSynth:
		return audio.NewSynth(log, audio.SynthOptions{})
	default:
		return audio.NewPortAudio(log)
	}
}
