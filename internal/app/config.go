package app

import (
	"errors"
	"fmt"
	"time"
)

// Command names understood by App.Run.
const (
	CmdRun       = "run"
	CmdTag       = "tag"
	CmdGet       = "get"
	CmdArtifacts = "artifacts"
	CmdRuns      = "runs"
	CmdServe     = "serve"
	CmdWatch     = "watch"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command string

	LogFormat string
	LogLevel  string

	// StorePath is either a local Badger directory or an http(s) URL of a
	// running store server.
	StorePath string

	// run / watch
	ParamsPath   string // base parameter tree (yaml)
	PipelinePath string // pipeline definition (hcl)
	StepsDir     string // extra step-type manifests (hcl)
	Overrides    []string
	Selection    []string
	MultiRun     bool
	Workers      int
	WorkRoot     string

	// tag
	TagRef  string // name:version to point the tag at
	TagName string

	// get
	GetRef  string
	OutPath string // empty writes the payload to stdout

	// runs
	PipelineRunID string

	// serve
	ListenAddr string

	// watch
	WatchPath string
	Debounce  time.Duration
}

// NewConfig validates a Config for its command.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("a store location is required (-store)")
	}

	switch cfg.Command {
	case CmdRun, CmdWatch:
		if cfg.PipelinePath == "" {
			return nil, errors.New("a pipeline definition is required (-pipeline)")
		}
		if cfg.Workers < 1 {
			cfg.Workers = 1
		}
		if cfg.Command == CmdWatch {
			if cfg.WatchPath == "" {
				return nil, errors.New("a path to watch is required (-path)")
			}
			if cfg.Debounce <= 0 {
				cfg.Debounce = 2 * time.Second
			}
		}
	case CmdTag:
		if cfg.TagRef == "" || cfg.TagName == "" {
			return nil, errors.New("tag requires an artifact reference (name:version) and a tag name")
		}
	case CmdGet:
		if cfg.GetRef == "" {
			return nil, errors.New("get requires an artifact reference (name:version or name:tag)")
		}
	case CmdArtifacts, CmdRuns:
		// No extra requirements.
	case CmdServe:
		if cfg.ListenAddr == "" {
			return nil, errors.New("serve requires a listen address (-listen)")
		}
	default:
		return nil, fmt.Errorf("unknown command %q", cfg.Command)
	}

	return &cfg, nil
}
