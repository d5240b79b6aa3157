package execution

import (
	"context"
)

// InlineWorker executes the script text as a single statement through the
// runner. It stands in for the sandboxed worker process in deployments that
// only need plain statement scripts; the real worker is wired in its place
// when script code needs a full runtime.
type InlineWorker struct{}

// Execute implements Worker.
func (InlineWorker) Execute(ctx context.Context, runner Runner, script string) (any, error) {
	result, err := runner.Run(ctx, script)
	if err != nil {
		return nil, err
	}
	return result, nil
}
