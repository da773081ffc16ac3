// Package config defines the format-agnostic configuration model for the
// application: the layered parameter tree that feeds step parameters, and
// the pipeline/step-type definitions loaded from manifests.
//
// The parameter tree is resolved once per run from four layers, lowest
// precedence first: built-in defaults, the base parameter file, sweep-point
// overrides, and explicit command-line overrides. Override layers may only
// touch keys that already exist in the lower layers, unless the key sits
// under a subtree the base file marks as extensible.
//
// Concrete loaders for pipeline and manifest sources, such as for HCL, are
// provided in separate packages.
package config
