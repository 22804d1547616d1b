// Package executor contains reference producers for the built-in observation
// kinds. An Executor performs one Action and reports its outcome as an
// observation.Observation whose Cause is the action id.
//
// Action failures (missing file, refused connection, timeout, cancellation)
// are not Go errors: they are normal observations of the action's kind that
// carry an observation.Failure. A non-nil error is reserved for taxonomy
// failures, such as an action routed to the wrong executor or a result that
// cannot be classified.
//
//	reader := executor.NewFileReader(afero.NewOsFs())
//	obs, err := reader.Execute(ctx, executor.Action{
//	  ID:   "act-1",
//	  Kind: observation.KindRead,
//	  Args: map[string]any{"path": "hello.txt"},
//	})
package executor
