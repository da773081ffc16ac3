// Package ingest fetches the weekly raw data drop from a local path or an
// http(s) URL and publishes it as a versioned artifact.
package ingest

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/internal/step"
)

//go:embed manifest.hcl
var manifestHCL []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// httpClient is shared across ingest runs to reuse TCP connections.
var httpClient = &http.Client{Timeout: 5 * time.Minute}

// Input defines the parameters declared in the step type manifest.
type Input struct {
	Source            string `yard:"source"`
	OutputArtifact    string `yard:"output_artifact"`
	OutputType        string `yard:"output_type"`
	OutputDescription string `yard:"output_description"`
}

// OnRunIngest is the handler for the 'ingest' step type.
func OnRunIngest(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	var (
		data []byte
		err  error
	)
	if isURL(in.Source) {
		logger.Info("Downloading data drop", "url", in.Source)
		data, err = fetchURL(ctx, in.Source)
	} else {
		logger.Info("Reading data drop", "path", in.Source)
		data, err = os.ReadFile(in.Source)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching source %q: %w", in.Source, err)
	}

	return &step.Result{
		Artifacts: []step.Produced{{
			Name:        in.OutputArtifact,
			Type:        in.OutputType,
			Description: in.OutputDescription,
			Payload:     data,
		}},
		Metrics: map[string]float64{"bytes": float64(len(data))},
	}, nil
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Manifest returns the embedded step type manifest.
func (m *Module) Manifest() config.Source {
	return config.Source{Filename: "steps/ingest/manifest.hcl", Src: manifestHCL}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunIngest", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunIngest,
	})
}
