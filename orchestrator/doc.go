// Package orchestrator runs actions through executors and delivers the
// resulting observations to the agent.
//
// A Loop dispatches every submitted action in its own goroutine, bounded by a
// concurrency limit and a per-action timeout. Exactly one Outcome is produced
// per action and delivered on Outcomes() in completion order, so a slow
// action never holds back faster ones. When an executor does not return within
// the grace period after its deadline or cancellation, the loop synthesizes the
// failure observation of the action's kind itself.
//
//	loop := orchestrator.New(map[observation.Kind]executor.Executor{
//	  observation.KindRun: executor.NewCommandRunner(),
//	})
//	defer loop.Close()
//	outcomes, err := loop.Run(ctx, executor.Action{Kind: observation.KindRun, Args: map[string]any{"command": "ls"}})
package orchestrator
