package artifact

import "time"

// Meta describes one immutable stored artifact version.
type Meta struct {
	Name        string    `json:"name"`
	Version     Version   `json:"version"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	Size        int64     `json:"size"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`

	// ProducingRunID links the version to the step run that published it.
	ProducingRunID string `json:"producing_run_id,omitempty"`

	// Tags are the tags currently pointing at this version, filled on reads.
	Tags []string `json:"tags,omitempty"`
}

// Ref returns the exact version-pinned reference for this artifact.
func (m Meta) Ref() Ref { return ExactRef(m.Name, m.Version) }

// RunStatus is the terminal or in-flight state of a step run.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunSucceeded  RunStatus = "succeeded"
	RunFailed     RunStatus = "failed"
	RunGateFailed RunStatus = "gate_failed"
)

// RunRecord is the persisted lineage record of one step execution: which
// exact artifact versions went in, which came out, and what was measured.
type RunRecord struct {
	ID            string    `json:"id"`
	PipelineRunID string    `json:"pipeline_run_id"`
	Step          string    `json:"step"`
	StepType      string    `json:"step_type"`
	Status        RunStatus `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`

	// Params is the resolved parameter object the step ran with.
	Params map[string]any `json:"params,omitempty"`

	// Inputs and Outputs hold fully qualified version-pinned references.
	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`

	Metrics map[string]float64 `json:"metrics,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// PipelineRunRecord groups the step runs of one orchestrated execution.
type PipelineRunRecord struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Config snapshots the fully resolved parameter tree of the run.
	Config map[string]any `json:"config,omitempty"`

	// Overrides preserves the raw sweep and command-line assignments that
	// produced Config, in application order.
	Overrides []string `json:"overrides,omitempty"`

	// Selection is the list of step names that were scheduled.
	Selection []string `json:"selection,omitempty"`

	FailedStep string `json:"failed_step,omitempty"`
	Error      string `json:"error,omitempty"`
}
