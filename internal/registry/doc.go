// Package registry holds everything the orchestrator knows about step
// types: the definitions translated from manifests and the Go handlers
// registered by built-in step modules. Validation cross-checks the two
// so a mismatch between a manifest and its handler surfaces at startup
// instead of mid-pipeline.
package registry
