package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/hive/internal/orchestrator"
)

// EventMsg carries one orchestrator event into the model.
type EventMsg struct {
	Event orchestrator.Event
}

// SessionDoneMsg is sent when the run has returned.
type SessionDoneMsg struct {
	Err error
}

// stopResultMsg reports the outcome of a stop requested from the keyboard.
type stopResultMsg struct {
	err error
}

// Sender is the part of *tea.Program that ForwardEvents needs.
type Sender interface {
	Send(msg tea.Msg)
}

// ForwardEvents converts orchestrator events to messages until the run
// reports stopped or ctx ends.
func ForwardEvents(ctx context.Context, s Sender, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			s.Send(EventMsg{Event: e})
			if e.Type == orchestrator.EventStopped {
				return
			}
		}
	}
}
