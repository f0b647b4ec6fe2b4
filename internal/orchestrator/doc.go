// Package orchestrator runs the scheduling loop that moves tasks from the
// queue to executors.
//
// The loop dispatches every ready task it has a slot for, subject to the
// category admission rules in the policy package. Each dispatch runs the
// executor in its own goroutine under a hard per-category timeout. Results
// come back over a channel and are handled on the loop goroutine, which is
// the only place task status and the context store are changed: results and
// errors are recorded as context entries, delegation requests in the output
// become new tasks that depend on their parent, and dependents of failed
// tasks are failed.
//
// The loop sleeps until something that affects readiness happens: a
// completion, a submission, a stop request, or the backoff timer that is
// only armed while tasks wait on dependencies that do not exist yet. Once
// nothing is in flight and nothing is pending the loop returns, unless the
// orchestrator was built WithKeepAlive.
//
// Example usage:
//
//	o, err := orchestrator.New(orchestrator.RequiredConfig{Executor: exec},
//		orchestrator.WithMaxConcurrency(4),
//	)
//	if err != nil {
//		return err
//	}
//	if _, err := o.AddTask("Design the storage layer", models.CategoryArchitect, models.PriorityHigh, nil); err != nil {
//		return err
//	}
//	err = o.Run(ctx)
package orchestrator
