package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelyard/modelyard/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Log output is
// captured in the returned buffer so parallel tests stay isolated.
func SetupAppTest(t *testing.T, cfg Config) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	validated, err := NewConfig(cfg)
	require.NoError(t, err, "test config should validate")

	testApp := NewApp(logBuffer, validated)

	t.Cleanup(func() {
		if os.Getenv("MODELYARD_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})

	return testApp, logBuffer
}

// writeFixture writes one fixture file into dir and returns its path.
func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

// rawSampleCSV builds a small listings dataset where the price is a pure
// function of minimum_nights, so the trained model can be scored tightly.
func rawSampleCSV(n int) string {
	groups := []string{"Manhattan", "Brooklyn"}
	roomTypes := []string{"Private room", "Entire home/apt"}

	var b strings.Builder
	b.WriteString("id,neighbourhood_group,room_type,minimum_nights,latitude,longitude,price\n")
	for i := 0; i < n; i++ {
		nights := 1 + i%4
		price := 50 + 25*nights
		fmt.Fprintf(&b, "%d,%s,%s,%d,40.75,-73.95,%d\n",
			i+1, groups[i%2], roomTypes[i%2], nights, price)
	}
	return b.String()
}

// testPipelineHCL is the full weekly pipeline, wired the way the production
// definition is: literal artifact names, tunables pulled from the config tree.
const testPipelineHCL = `
pipeline "nyc_airbnb" {
  description = "Weekly rental price pipeline."
}

step "ingest" "download" {
  params {
    source          = config.etl.sample
    output_artifact = "sample.csv"
  }
}

step "basic_cleaning" "clean" {
  params {
    input_artifact  = "sample.csv"
    output_artifact = "clean_sample.csv"
    min_price       = config.etl.min_price
    max_price       = config.etl.max_price
  }
  depends_on = ["download"]
}

step "data_check" "check" {
  params {
    input_artifact     = "clean_sample.csv"
    reference_artifact = "clean_sample.csv"
    kl_threshold       = config.data_check.kl_threshold
    min_price          = config.etl.min_price
    max_price          = config.etl.max_price
    min_rows           = 10
    expected_columns   = ["id", "neighbourhood_group", "room_type", "minimum_nights", "latitude", "longitude", "price"]
  }
  depends_on = ["clean"]
}

step "data_split" "split" {
  params {
    input_artifact    = "clean_sample.csv"
    trainval_artifact = "trainval_sample.csv"
    test_artifact     = "test_sample.csv"
    test_size         = config.modeling.test_size
    random_seed       = config.modeling.random_seed
  }
  depends_on = ["check"]
}

step "train_random_forest" "train" {
  params {
    input_artifact       = "trainval_sample.csv"
    output_artifact      = "model_export"
    target               = "price"
    numeric_features     = ["minimum_nights"]
    categorical_features = ["room_type"]
    val_size             = config.modeling.val_size
    random_seed          = config.modeling.random_seed
    n_estimators         = config.modeling.n_estimators
    max_depth            = config.modeling.max_depth
    min_samples_split    = 2
    min_samples_leaf     = 1
  }
  depends_on = ["split"]
}

step "test_regression_model" "test" {
  params {
    test_artifact = "test_sample.csv:latest"
    max_mae       = config.modeling.max_mae
  }
}
`

// writePipelineFixtures materializes the raw sample, the pipeline definition
// and a matching base parameter tree into dir. It returns the pipeline and
// params paths.
func writePipelineFixtures(t *testing.T, dir string) (pipelinePath, paramsPath string) {
	t.Helper()

	samplePath := writeFixture(t, dir, "sample.csv", rawSampleCSV(60))
	pipelinePath = writeFixture(t, dir, "pipeline.hcl", testPipelineHCL)
	paramsPath = writeFixture(t, dir, "config.yaml", fmt.Sprintf(`
main:
  project_name: nyc_airbnb
  experiment_name: dev
etl:
  sample: %q
  min_price: 10
  max_price: 350
data_check:
  kl_threshold: 0.2
modeling:
  test_size: 0.2
  val_size: 0.2
  random_seed: 42
  n_estimators: 10
  max_depth: 6
  max_mae: 40
`, samplePath))
	return pipelinePath, paramsPath
}
