package tasks

import (
	"fmt"

	"github.com/desertthunder/rotator/internal/models"
	"github.com/desertthunder/rotator/internal/rotation"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Err     error  // Set when the step failed
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Reshuffle Phase = iota
	ExportHistory
)

func (p Phase) String() string {
	switch p {
	case Reshuffle:
		return "reshuffle"
	case ExportHistory:
		return "export_history"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// ReshuffleProgress adapts a progress channel to the manager's callback.
func ReshuffleProgress(progress chan<- ProgressUpdate) rotation.Progress {
	return func(done, total int, p *models.Playlist, err error) {
		sendProgress(progress, reshuffleUpdate(done, total, p, err))
	}
}

func reshuffleUpdate(step, total int, p *models.Playlist, err error) ProgressUpdate {
	if err != nil {
		return ProgressUpdate{
			Phase:   Reshuffle,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, p.Name, err),
			Err:     err,
			Data:    p,
		}
	}
	return ProgressUpdate{
		Phase:   Reshuffle,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s", step, total, p.Name),
		Data:    p,
	}
}

func exportCompletedUpdate(step, total int, name string, filesCount int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s (%d files)", step, total, name, filesCount),
	}
}

func exportFailedUpdate(step, total int, name string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExportHistory,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, name, err),
		Err:     err,
	}
}
