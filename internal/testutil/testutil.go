// Package testutil holds shared helpers for tests: a throwaway artifact
// store, seed helpers, and a race-safe log capture buffer.
package testutil

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/ctxlog"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Context returns a context carrying a discard logger, so code that pulls
// its logger via ctxlog can run quietly under test.
func Context() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

// CapturedContext returns a context whose logger writes into the returned
// buffer, for tests that assert on log output.
func CapturedContext() (context.Context, *SafeBuffer) {
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return ctxlog.WithLogger(context.Background(), logger), buf
}

// OpenStore opens a badger-backed artifact store in a temporary directory
// and closes it when the test finishes.
func OpenStore(t *testing.T) *artifact.BadgerStore {
	t.Helper()
	store, err := artifact.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// PutArtifact seeds one artifact version and returns its metadata.
func PutArtifact(t *testing.T, store artifact.Store, name, artifactType, payload string) artifact.Meta {
	t.Helper()
	meta, err := store.Put(Context(), artifact.PutRequest{
		Name:    name,
		Type:    artifactType,
		Payload: strings.NewReader(payload),
	})
	require.NoError(t, err)
	return meta
}
