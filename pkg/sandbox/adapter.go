package sandbox

import "context"

// RawEvalFunc is the legacy low-level invocation shape: an isolate
// evaluates the code and resolves a raw value that the caller must
// JSON-parse. Kept only for backward compatibility with existing
// callers of that shape.
type RawEvalFunc func(ctx context.Context, code string, args []string, env map[string]string) (string, error)

// EvalAdapter folds the legacy shape into the Executor contract: the
// resolved raw value becomes a JSON text value with an Ok outcome, an
// eval failure becomes an Error outcome. The legacy path emits no logs.
type EvalAdapter struct {
	Eval RawEvalFunc
}

func (a *EvalAdapter) Execute(ctx context.Context, code string, args []string, env map[string]string, limits Limits) (*Result, error) {
	raw, err := a.Eval(ctx, code, args, env)
	if err != nil {
		return &Result{Ok: false, Err: err.Error()}, nil
	}
	return &Result{Ok: true, Value: Value{Text: raw}}, nil
}
