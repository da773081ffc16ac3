package config

import "context"

// Source is a named chunk of manifest or pipeline text. Built-in step types
// embed their manifests; user-supplied ones are read from disk.
type Source struct {
	Filename string
	Src      []byte
}

// Loader is the interface for a format-specific definition loader.
type Loader interface {
	// LoadPipeline reads a pipeline definition from the given path and
	// translates it into the format-agnostic model.
	LoadPipeline(ctx context.Context, path string) (*Pipeline, error)

	// LoadStepTypes parses step-type manifests from the given sources. It
	// fails if two sources define the same step type.
	LoadStepTypes(ctx context.Context, sources ...Source) (map[string]*StepType, error)
}
