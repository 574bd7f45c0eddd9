package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/recstream/internal/app"
	"github.com/petems/recstream/internal/permissions"
	"github.com/petems/recstream/internal/tray"
	"github.com/spf13/cobra"
)

var trayCmd = &cobra.Command{
	Use:   "tray",
	Short: "Run as a menu bar application",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(true)
		if err != nil {
			return err
		}
		defer e.Close()

		e.log.Info().Str("version", Version).Str("commit", Commit).Msg("Starting recstream tray")

		// Prompt early so the first Start is not the one blocked on the dialog.
		if err := permissions.EnsureMicrophone(); err != nil {
			e.log.Warn().Err(err).Msg("Microphone access not granted")
		}

		// Create tray UI first (we'll pass it to app)
		trayUI := tray.New(nil, Version, e.log)
		application := app.New(app.Config{
			Recorder:  e.rec,
			Config:    e.cfg,
			Logger:    e.log,
			Presenter: trayUI,
		})
		trayUI.SetApp(application)

		defer e.sink.ListenState(application.HandleState)()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := trayUI.Run(ctx); err != nil {
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			e.log.Error().Err(err).Msg("Error during shutdown")
		}
		e.log.Info().Msg("Shutdown complete")
		return nil
	},
}
