package pipeline

import "fmt"

// StepExecutionError marks a failure inside a step's own logic, as opposed
// to a planning or store error. The orchestrator halts the remaining steps
// of the pipeline run when one surfaces.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// PlanError marks a defect in the pipeline definition or its configuration,
// detected before any step executes.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string { return e.Reason }

func planErrorf(format string, args ...any) *PlanError {
	return &PlanError{Reason: fmt.Sprintf(format, args...)}
}
