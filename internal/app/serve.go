package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/ctxlog"
)

// serveStore runs the shared artifact-store HTTP server over a local Badger
// store. This is the one shared-mutation point sweeps and external steps
// talk to.
func (a *App) serveStore(ctx context.Context) error {
	if strings.HasPrefix(a.cfg.StorePath, "http://") || strings.HasPrefix(a.cfg.StorePath, "https://") {
		return fmt.Errorf("serve needs a local store directory, not a URL (%s)", a.cfg.StorePath)
	}

	store, err := artifact.OpenBadger(a.cfg.StorePath)
	if err != nil {
		return fmt.Errorf("opening artifact store at %s: %w", a.cfg.StorePath, err)
	}
	defer store.Close()

	ctxlog.FromContext(ctx).Info("🚀 Store server starting", "addr", a.cfg.ListenAddr, "dir", a.cfg.StorePath)
	return artifact.NewServer(store).Serve(ctx, a.cfg.ListenAddr)
}
