package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelyard/modelyard/internal/app"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/gate"
	"github.com/modelyard/modelyard/internal/pipeline"
)

func TestParse_RunCommand(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, shouldExit, err := Parse([]string{
		"run",
		"--pipeline", "pipeline.hcl",
		"--params", "config.yaml",
		"--store", "/tmp/store",
		"--set", "etl.min_price=5",
		"--set", "modeling.n_estimators=10,50",
		"--select", "download,clean",
		"-m",
		"--workers", "8",
	}, out)

	require.NoError(t, err)
	assert.False(t, shouldExit)
	assert.Equal(t, app.CmdRun, cfg.Command)
	assert.Equal(t, "pipeline.hcl", cfg.PipelinePath)
	assert.Equal(t, "config.yaml", cfg.ParamsPath)
	assert.Equal(t, "/tmp/store", cfg.StorePath)
	assert.Equal(t, []string{"etl.min_price=5", "modeling.n_estimators=10,50"}, cfg.Overrides)
	assert.Equal(t, []string{"download", "clean"}, cfg.Selection)
	assert.True(t, cfg.MultiRun)
	assert.Equal(t, 8, cfg.Workers)
}

func TestParse_WatchDefaults(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, _, err := Parse([]string{
		"watch",
		"--pipeline", "pipeline.hcl",
		"--store", "/tmp/store",
		"--path", "/data/drops",
	}, out)

	require.NoError(t, err)
	assert.Equal(t, app.CmdWatch, cfg.Command)
	assert.Equal(t, "/data/drops", cfg.WatchPath)
	assert.Equal(t, 2*time.Second, cfg.Debounce)
}

func TestParse_Help(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, shouldExit, err := Parse([]string{"-h"}, out)

	require.NoError(t, err)
	assert.True(t, shouldExit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
	}{
		{"no command prints usage", nil},
		{"unknown command", []string{"frobnicate"}},
		{"run without pipeline", []string{"run", "--store", "/tmp/store"}},
		{"run without store", []string{"run", "--pipeline", "p.hcl"}},
		{"tag without tag name", []string{"tag", "--store", "/tmp/store", "--artifact", "model_export:v1"}},
		{"bad log format", []string{"artifacts", "--store", "/tmp/store", "--log-format", "xml"}},
		{"bad log level", []string{"artifacts", "--store", "/tmp/store", "--log-level", "loud"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := &bytes.Buffer{}
			cfg, shouldExit, err := Parse(tc.args, out)
			assert.Nil(t, cfg)
			if tc.args == nil {
				// Bare invocation prints usage and exits cleanly.
				assert.True(t, shouldExit)
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	wrapped := func(err error) error { return fmt.Errorf("step clean: %w", err) }
	unknownPath, err := config.ParsePath("modeling.nope")
	require.NoError(t, err)

	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain failure", errors.New("boom"), 1},
		{"gate failure", wrapped(gate.Failf("test_error", "MAE over budget")), 3},
		{"unknown override key", wrapped(&config.UnknownKeyError{Path: unknownPath}), 2},
		{"bad override", wrapped(&config.BadOverrideError{Raw: "a=b=c", Reason: errors.New("too many '='")}), 2},
		{"plan error", wrapped(&pipeline.PlanError{Reason: "cycle"}), 2},
		{"explicit exit error", &ExitError{Code: 2, Message: "usage"}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}
