// Package gate distinguishes a data validation verdict from an
// infrastructure failure. A gate failure is a successful failure: the step
// ran to completion and the data decisively failed a check. Gate failures
// are terminal and are never retried.
package gate

import (
	"errors"
	"fmt"
	"strings"
)

// Failure is the verdict of one failed validation check. Detail should name
// the offending rows or values so the failure is actionable from the log
// alone.
type Failure struct {
	Check  string
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return fmt.Sprintf("validation check %q failed", f.Check)
	}
	return fmt.Sprintf("validation check %q failed: %s", f.Check, f.Detail)
}

// Failf builds a Failure with a formatted detail message.
func Failf(check, format string, args ...any) *Failure {
	return &Failure{Check: check, Detail: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps a gate failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Report accumulates check verdicts so one gate run surfaces every failed
// check at once instead of stopping at the first.
type Report struct {
	failures []*Failure
	passed   []string
}

// Pass records a check that succeeded.
func (r *Report) Pass(check string) {
	r.passed = append(r.passed, check)
}

// Fail records a failed check.
func (r *Report) Fail(f *Failure) {
	r.failures = append(r.failures, f)
}

// Failf records a failed check with a formatted detail message.
func (r *Report) Failf(check, format string, args ...any) {
	r.Fail(Failf(check, format, args...))
}

// Checks returns how many checks the report has seen.
func (r *Report) Checks() int { return len(r.passed) + len(r.failures) }

// Err collapses the report into a single gate failure, or nil if every
// check passed.
func (r *Report) Err() error {
	switch len(r.failures) {
	case 0:
		return nil
	case 1:
		return r.failures[0]
	default:
		details := make([]string, len(r.failures))
		for i, f := range r.failures {
			details[i] = f.Error()
		}
		return &Failure{
			Check:  fmt.Sprintf("%d of %d checks", len(r.failures), r.Checks()),
			Detail: "\n  " + strings.Join(details, "\n  "),
		}
	}
}
