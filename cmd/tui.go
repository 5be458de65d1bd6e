package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/shared"
	"github.com/desertthunder/rotator/internal/ui"
)

// TUI launches the interactive terminal UI for browsing and reshuffling playlists.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/rotator-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	store, err := r.Store()
	if err != nil {
		return err
	}
	manager, err := r.Manager()
	if err != nil {
		return err
	}

	filter := models.PlaylistFilter{AccountID: cmd.String("account")}
	model := ui.NewModel(ctx, store, manager, filter)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
