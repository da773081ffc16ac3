package artifact

import "fmt"

// UnqualifiedRefError reports an artifact reference that names an artifact
// without pinning a version or tag. Readers outside a pipeline run must
// always say which version they mean.
type UnqualifiedRefError struct {
	Ref string
}

func (e *UnqualifiedRefError) Error() string {
	return fmt.Sprintf("artifact reference %q has no version or tag: use %q or %q", e.Ref, e.Ref+":latest", e.Ref+":v1")
}

// NotFoundError reports a reference that resolved to nothing: the name is
// unknown, the version was never written, or the tag is not set.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q not found", e.Ref)
}

// RunNotFoundError reports an unknown run or pipeline-run identifier.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %q not found", e.ID)
}

// ValidationError reports malformed input: bad artifact names, reserved or
// ambiguous tags, empty payload requests.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// UnavailableError wraps transient store failures: connection resets,
// timeouts, 5xx responses. Callers may retry; everything else in this
// package's taxonomy is permanent.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("artifact store unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
