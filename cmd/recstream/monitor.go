package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/petems/recstream/internal/app"
	"github.com/petems/recstream/internal/stream"
	"github.com/petems/recstream/internal/ui"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive level meter with recording controls",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(false)
		if err != nil {
			return err
		}
		defer e.Close()

		application := app.New(app.Config{
			Recorder: e.rec,
			Config:   e.cfg,
			Logger:   e.log,
		})

		p := tea.NewProgram(ui.NewModel(application), tea.WithAltScreen())

		defer e.sink.ListenState(func(ev stream.StateEvent) {
			application.HandleState(ev)
			p.Send(ui.StateMsg(ev))
		})()
		defer e.sink.ListenAudio(func(c stream.Chunk) {
			p.Send(ui.ChunkMsg{Bytes: len(c.Data)})
		})()

		_, runErr := p.Run()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(ctx); err != nil {
			e.log.Warn().Err(err).Msg("Failed to stop recording on exit")
		}
		return runErr
	},
}
