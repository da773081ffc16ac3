package cli

import (
	"errors"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/gate"
	"github.com/modelyard/modelyard/internal/pipeline"
)

// ExitCode maps an error from app.Run to the process exit code.
// Validation-gate failures are distinguished from step crashes, and
// user mistakes (bad overrides, unresolvable plans) from both.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if _, ok := gate.AsFailure(err); ok {
		return 3
	}
	var (
		unknownKey  *config.UnknownKeyError
		badOverride *config.BadOverrideError
		planErr     *pipeline.PlanError
		unqualified *artifact.UnqualifiedRefError
	)
	if errors.As(err, &unknownKey) || errors.As(err, &badOverride) ||
		errors.As(err, &planErr) || errors.As(err, &unqualified) {
		return 2
	}
	return 1
}
