package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ShayCichocki/hive/internal/orchestrator"
	"github.com/ShayCichocki/hive/internal/tui"
)

// runWithTUI runs the orchestrator behind the live dashboard. It returns
// once the run has ended and the user has left the dashboard.
func runWithTUI(ctx context.Context, orch *orchestrator.Orchestrator, refresh time.Duration) (retErr error) {
	// Suppress log output while TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	program, app := tui.NewProgram(orch)
	app.SetRefreshRate(refresh)

	fwdCtx, stopForwarding := context.WithCancel(ctx)
	defer stopForwarding()
	go tui.ForwardEvents(fwdCtx, program, orch.Events())

	if err := orch.Start(ctx); err != nil {
		return err
	}
	orchDone := make(chan error, 1)
	go func() {
		orchDone <- orch.Wait()
	}()

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("PANIC in TUI: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	select {
	case err := <-orchDone:
		// Keep the final state on screen until the user quits.
		program.Send(tui.SessionDoneMsg{Err: err})
		if tuiErr := <-tuiDone; tuiErr != nil && err == nil {
			return fmt.Errorf("tui: %w", tuiErr)
		}
		return err

	case tuiErr := <-tuiDone:
		// The dashboard went away first; do not leave workers behind.
		orch.Kill()
		err := <-orchDone
		if tuiErr != nil {
			return fmt.Errorf("tui: %w", tuiErr)
		}
		return err
	}
}
