package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/gate"
)

// openInspectionStore opens the test's store directory after the app has
// released it, for asserting on published state.
func openInspectionStore(t *testing.T, dir string) *artifact.BadgerStore {
	t.Helper()
	store, err := artifact.OpenBadger(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func runConfig(tmp, pipelinePath, paramsPath string) Config {
	return Config{
		Command:      CmdRun,
		StorePath:    filepath.Join(tmp, "store"),
		PipelinePath: pipelinePath,
		ParamsPath:   paramsPath,
		Workers:      1,
		WorkRoot:     filepath.Join(tmp, "work"),
	}
}

func TestApp_RunPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)
	testApp, _ := SetupAppTest(t, runConfig(tmp, pipelinePath, paramsPath))

	// --- Act ---
	err := testApp.Run(context.Background())

	// --- Assert ---
	require.NoError(t, err, "the full weekly pipeline should succeed")

	store := openInspectionStore(t, filepath.Join(tmp, "store"))
	names, err := store.Names(context.Background())
	require.NoError(t, err)

	want := []string{
		"clean_sample.csv",
		"model_export",
		"sample.csv",
		"test_sample.csv",
		"trainval_sample.csv",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("published artifacts mismatch (-want +got):\n%s", diff)
	}

	recs, err := store.PipelineRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, artifact.RunSucceeded, recs[0].Status)
	assert.Equal(t, "nyc_airbnb", recs[0].Pipeline)
	assert.Empty(t, recs[0].FailedStep)

	// The gated rollout step must not have run as part of "all".
	runs, err := store.Runs(context.Background(), recs[0].ID)
	require.NoError(t, err)
	for _, r := range runs {
		assert.NotEqual(t, "test", r.Step, "gated steps are excluded from the default selection")
	}
}

func TestApp_PromoteAndGate(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)

	// Produce a model export.
	trainApp, _ := SetupAppTest(t, runConfig(tmp, pipelinePath, paramsPath))
	require.NoError(t, trainApp.Run(context.Background()))

	// Promote it. The first export of a fresh store is v1.
	tagApp, _ := SetupAppTest(t, Config{
		Command:   CmdTag,
		StorePath: filepath.Join(tmp, "store"),
		TagRef:    "model_export:v1",
		TagName:   "production-ready",
	})
	require.NoError(t, tagApp.Run(context.Background()))

	// The gated rollout step scores the promoted model and passes.
	gateCfg := runConfig(tmp, pipelinePath, paramsPath)
	gateCfg.Selection = []string{"test"}
	gateApp, logs := SetupAppTest(t, gateCfg)
	require.NoError(t, gateApp.Run(context.Background()))
	assert.Contains(t, logs.String(), "test_mae")

	// An impossible error bound turns the same run into a gate failure.
	failCfg := runConfig(tmp, pipelinePath, paramsPath)
	failCfg.Selection = []string{"test"}
	failCfg.Overrides = []string{"modeling.max_mae=0.000001"}
	failApp, _ := SetupAppTest(t, failCfg)
	err := failApp.Run(context.Background())
	require.Error(t, err)
	failure, ok := gate.AsFailure(err)
	require.True(t, ok, "an exceeded error bound must surface as a gate failure, got: %v", err)
	assert.Equal(t, "test_error", failure.Check)
}

func TestApp_GateWithoutPromotion(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)

	trainApp, _ := SetupAppTest(t, runConfig(tmp, pipelinePath, paramsPath))
	require.NoError(t, trainApp.Run(context.Background()))

	// Nothing carries the production-ready tag yet, so the rollout step
	// fails to resolve its model, and that is a step failure, not a gate
	// verdict.
	cfg := runConfig(tmp, pipelinePath, paramsPath)
	cfg.Selection = []string{"test"}
	gateApp, _ := SetupAppTest(t, cfg)
	err := gateApp.Run(context.Background())
	require.Error(t, err)
	_, ok := gate.AsFailure(err)
	assert.False(t, ok, "a missing promotion is not a gate failure")
}

func TestApp_RunSweep(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)

	cfg := runConfig(tmp, pipelinePath, paramsPath)
	cfg.MultiRun = true
	cfg.Workers = 2
	cfg.Overrides = []string{"modeling.n_estimators=3,5"}
	sweepApp, _ := SetupAppTest(t, cfg)

	require.NoError(t, sweepApp.Run(context.Background()))

	store := openInspectionStore(t, filepath.Join(tmp, "store"))
	recs, err := store.PipelineRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2, "a two-value sweep dimension yields two pipeline runs")
	for _, rec := range recs {
		assert.Equal(t, artifact.RunSucceeded, rec.Status)
		require.Len(t, rec.Overrides, 1)
		assert.Contains(t, []string{"modeling.n_estimators=3", "modeling.n_estimators=5"}, rec.Overrides[0])
	}

	// Every point published its own export.
	versions, err := store.Versions(context.Background(), "model_export")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestApp_SelectionFromTree(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)

	cfg := runConfig(tmp, pipelinePath, paramsPath)
	cfg.Overrides = []string{"main.steps=download"}
	runApp, _ := SetupAppTest(t, cfg)
	require.NoError(t, runApp.Run(context.Background()))

	store := openInspectionStore(t, filepath.Join(tmp, "store"))
	names, err := store.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sample.csv"}, names, "only the selected step should publish")
}

func TestApp_RunRejectsUnknownOverrideKey(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)

	cfg := runConfig(tmp, pipelinePath, paramsPath)
	cfg.Overrides = []string{"modeling.no_such_knob=1"}
	runApp, _ := SetupAppTest(t, cfg)

	err := runApp.Run(context.Background())
	require.Error(t, err, "overrides must target keys that exist in the base tree")

	// Nothing ran: the store holds no pipeline run record.
	store := openInspectionStore(t, filepath.Join(tmp, "store"))
	recs, recErr := store.PipelineRuns(context.Background())
	require.NoError(t, recErr)
	assert.Empty(t, recs)
}

func TestApp_StoreCommands(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	pipelinePath, paramsPath := writePipelineFixtures(t, tmp)

	runApp, _ := SetupAppTest(t, runConfig(tmp, pipelinePath, paramsPath))
	require.NoError(t, runApp.Run(context.Background()))

	listApp, out := SetupAppTest(t, Config{
		Command:   CmdArtifacts,
		StorePath: filepath.Join(tmp, "store"),
	})
	require.NoError(t, listApp.Run(context.Background()))
	assert.Contains(t, out.String(), "model_export")
	assert.Contains(t, out.String(), "latest")

	getApp, _ := SetupAppTest(t, Config{
		Command:   CmdGet,
		StorePath: filepath.Join(tmp, "store"),
		GetRef:    "clean_sample.csv:latest",
		OutPath:   filepath.Join(tmp, "fetched.csv"),
	})
	require.NoError(t, getApp.Run(context.Background()))
	assert.FileExists(t, filepath.Join(tmp, "fetched.csv"))

	runsApp, runsOut := SetupAppTest(t, Config{
		Command:   CmdRuns,
		StorePath: filepath.Join(tmp, "store"),
	})
	require.NoError(t, runsApp.Run(context.Background()))
	assert.Contains(t, runsOut.String(), "nyc_airbnb")
	assert.Contains(t, runsOut.String(), "succeeded")
}

func TestApp_TagRequiresExactVersion(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	tagApp, _ := SetupAppTest(t, Config{
		Command:   CmdTag,
		StorePath: filepath.Join(tmp, "store"),
		TagRef:    "model_export:latest",
		TagName:   "production-ready",
	})
	err := tagApp.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exact version")
}
