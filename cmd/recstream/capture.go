package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/recstream/internal/app"
	"github.com/petems/recstream/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	chunkBacklog  = 64
	meterInterval = time.Second
)

var (
	captureRate     uint32
	captureChannels uint32
	captureDevice   string
	captureAGC      bool
	captureAEC      bool
	captureLegacy   bool
	captureDuration time.Duration
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record the microphone and write raw PCM16 to stdout",
	Long: `Record from the selected input device and write little-endian,
channel-interleaved 16-bit PCM to stdout until interrupted.

Example:
  recstream capture --rate 16000 --channels 1 | ffplay -f s16le -ar 16000 -ac 1 -`,
	RunE: runCapture,
}

func init() {
	captureCmd.Flags().Uint32Var(&captureRate, "rate", 0, "destination sample rate (Hz)")
	captureCmd.Flags().Uint32Var(&captureChannels, "channels", 0, "destination channel count")
	captureCmd.Flags().StringVar(&captureDevice, "device", "", "input device ID or name")
	captureCmd.Flags().BoolVar(&captureAGC, "agc", false, "enable automatic gain control")
	captureCmd.Flags().BoolVar(&captureAEC, "aec", false, "enable echo cancellation")
	captureCmd.Flags().BoolVar(&captureLegacy, "legacy", false, "use the legacy capture path")
	captureCmd.Flags().DurationVar(&captureDuration, "duration", 0, "stop after this long (0 = until interrupted)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.Close()

	flags := cmd.Flags()
	ac := e.cfg.Audio
	if flags.Changed("rate") {
		ac.SampleRate = captureRate
	}
	if flags.Changed("channels") {
		ac.Channels = captureChannels
	}
	if flags.Changed("device") {
		ac.DeviceID = captureDevice
	}
	if flags.Changed("agc") {
		ac.AutoGain = captureAGC
	}
	if flags.Changed("aec") {
		ac.EchoCancel = captureAEC
	}
	if flags.Changed("legacy") {
		ac.UseLegacyPath = captureLegacy
	}
	capture, err := app.CaptureConfig(ac)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if captureDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, captureDuration)
		defer cancel()
	}

	chunks := make(chan []byte, chunkBacklog)
	failed := make(chan error, 1)

	defer e.sink.ListenAudio(func(c stream.Chunk) {
		select {
		case chunks <- c.Data:
		default:
			e.log.Warn().Uint64("seq", c.Seq).Msg("Output is behind, dropping chunk")
		}
	})()
	defer e.sink.ListenState(func(ev stream.StateEvent) {
		log := e.log.Info().Str("status", ev.Status.String()).Str("session", ev.SessionID)
		if len(ev.Warnings) > 0 {
			log = log.Strs("warnings", ev.Warnings)
		}
		log.Msg("Recorder state changed")

		if ev.Status == stream.StatusError {
			select {
			case failed <- errors.New(ev.Message):
			default:
			}
		}
	})()
	defer e.sink.ListenDiagnostics(func(err error) {
		e.log.Debug().Err(err).Msg("Buffer dropped")
	})()

	if err := e.rec.Start(ctx, capture); err != nil {
		return err
	}
	e.log.Info().
		Str("recorder", e.rec.ID()).
		Uint32("sample_rate", capture.SampleRate).
		Uint32("channels", capture.Channels).
		Str("device", capture.DeviceID).
		Msg("Capturing to stdout")

	return pump(ctx, e, chunks, failed, os.Stdout)
}

// pump writes chunks to out until ctx ends, the recorder fails or a write
// fails. The recorder is stopped before pump returns.
func pump(ctx context.Context, e *env, chunks <-chan []byte, failed <-chan error, out io.Writer) error {
	g, gctx := errgroup.WithContext(context.Background())
	done := make(chan struct{})

	g.Go(func() error {
		for {
			select {
			case b := <-chunks:
				if _, err := out.Write(b); err != nil {
					return err
				}
			case <-done:
				// Drain what the final flush delivered.
				for {
					select {
					case b := <-chunks:
						if _, err := out.Write(b); err != nil {
							return err
						}
					default:
						return nil
					}
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(meterInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				amp := e.rec.Amplitude()
				e.log.Debug().Float64("current_db", amp.Current).Float64("max_db", amp.Max).Msg("Input level")
			case <-done:
				return nil
			}
		}
	})

	g.Go(func() error {
		defer close(done)

		var err error
		select {
		case <-ctx.Done():
		case err = <-failed:
		case <-gctx.Done():
		}
		if stopErr := e.rec.Stop(context.Background()); stopErr != nil && err == nil {
			err = stopErr
		}

		stats := e.rec.Stats()
		e.log.Info().
			Uint64("delivered", stats.Stream.Delivered).
			Uint64("dropped", stats.Stream.Dropped).
			Uint64("failed_buffers", stats.Failed).
			Msg("Capture finished")
		return err
	})

	return g.Wait()
}
