package artifact

import (
	"context"
	"io"
)

// PutRequest carries one artifact payload into a store. The store assigns
// the version.
type PutRequest struct {
	Name        string
	Payload     io.Reader
	Type        string
	Description string

	// ProducingRunID records lineage back to the publishing step run.
	ProducingRunID string

	// IdempotencyKey deduplicates retried puts: a second put carrying a key
	// the store has already seen returns the original version instead of
	// writing a new one.
	IdempotencyKey string
}

// Store is the artifact and lineage storage contract. The badger-backed
// store implements it in-process; Client implements it against a remote
// store server over HTTP.
type Store interface {
	// Put writes a new immutable version of the named artifact and moves
	// the "latest" tag to it. Versions are assigned monotonically per name.
	Put(ctx context.Context, req PutRequest) (Meta, error)

	// Get resolves a qualified reference and streams the payload back.
	// The caller owns the returned reader.
	Get(ctx context.Context, ref Ref) (Meta, io.ReadCloser, error)

	// Head resolves a qualified reference without fetching the payload.
	Head(ctx context.Context, ref Ref) (Meta, error)

	// Tag points tag at an existing version of name, atomically replacing
	// the tag's previous target. Readers never observe a state in between.
	Tag(ctx context.Context, name string, version Version, tag string) error

	// Versions lists all stored versions of a name, oldest first.
	Versions(ctx context.Context, name string) ([]Meta, error)

	// Names lists all artifact names in the store, sorted.
	Names(ctx context.Context) ([]string, error)

	// PutRun upserts a step-run lineage record.
	PutRun(ctx context.Context, rec RunRecord) error

	// Runs lists step runs, optionally filtered to one pipeline run.
	Runs(ctx context.Context, pipelineRunID string) ([]RunRecord, error)

	// PutPipelineRun upserts a pipeline-run record.
	PutPipelineRun(ctx context.Context, rec PipelineRunRecord) error

	// PipelineRun fetches one pipeline-run record by ID.
	PipelineRun(ctx context.Context, id string) (PipelineRunRecord, error)

	// PipelineRuns lists all pipeline-run records, most recent first.
	PipelineRuns(ctx context.Context) ([]PipelineRunRecord, error)

	// Close releases store resources.
	Close() error
}
