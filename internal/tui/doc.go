// Package tui provides the live terminal dashboard for hive run --tui.
//
// The dashboard is fed by orchestrator events and shows the task table,
// the workers in flight and a short activity log. It controls the run
// through the same operations the file signals use:
//   - q stops gracefully (in-flight work finishes), or exits once the run is done
//   - p pauses and resumes dispatching
//   - ctrl+c kills the run
//
// Usage:
//
//	program, app := tui.NewProgram(orch)
//	go tui.ForwardEvents(ctx, program, orch.Events())
//	go func() {
//	    err := orch.Run(ctx)
//	    program.Send(tui.SessionDoneMsg{Err: err})
//	}()
//	_, err := program.Run()
package tui
