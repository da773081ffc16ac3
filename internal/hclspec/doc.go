// Package hclspec is the HCL implementation of the config.Loader interface.
// It parses two kinds of sources: pipeline definitions (a `pipeline` block
// plus `step` blocks wiring step types together) and step-type manifests
// (`step_type` blocks declaring parameters, lineage roles, and how the step
// executes).
package hclspec
