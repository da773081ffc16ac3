package app

import (
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/steps/basic_cleaning"
	"github.com/modelyard/modelyard/steps/data_check"
	"github.com/modelyard/modelyard/steps/data_split"
	"github.com/modelyard/modelyard/steps/ingest"
	"github.com/modelyard/modelyard/steps/test_regression_model"
	"github.com/modelyard/modelyard/steps/train_random_forest"
)

// coreModules is the built-in step set: the canonical weekly pipeline from
// raw drop to gated model test.
func coreModules() []registry.Module {
	return []registry.Module{
		&ingest.Module{},
		&basic_cleaning.Module{},
		&data_check.Module{},
		&data_split.Module{},
		&train_random_forest.Module{},
		&test_regression_model.Module{},
	}
}
