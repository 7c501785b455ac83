package engine

import (
	"context"
	"fmt"

	"github.com/Ning0612/rclonesync/internal/domain"
	"github.com/Ning0612/rclonesync/internal/logger"
)

// PathValidator checks that a path is listable by the engine before any
// side effect of a run happens
type PathValidator struct {
	runner Runner
}

// NewPathValidator creates a validator backed by runner
func NewPathValidator(runner Runner) *PathValidator {
	return &PathValidator{runner: runner}
}

// Validate lists the top level of path with all engine output discarded.
// Any failure, including a malformed path, is reported as
// domain.ErrPathUnreachable.
func (v *PathValidator) Validate(ctx context.Context, path string) error {
	args, err := ListArgs(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrPathUnreachable, path, err)
	}

	if err := v.runner.Run(ctx, args); err != nil {
		logger.Get().Debug("path check failed", "path", path, "exit_code", ExitCode(err), "error", err)
		return fmt.Errorf("%w: %s", domain.ErrPathUnreachable, path)
	}
	return nil
}
