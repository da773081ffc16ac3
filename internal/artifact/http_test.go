package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *BadgerStore) {
	t.Helper()
	backing := openTestStore(t)
	srv := httptest.NewServer(NewServer(backing).Handler())
	t.Cleanup(srv.Close)
	return srv, backing
}

func TestClientRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	client := NewClient(srv.URL)
	ctx := context.Background()

	meta, err := client.Put(ctx, PutRequest{
		Name:        "sample.csv",
		Payload:     strings.NewReader("id,price\n1,100\n"),
		Type:        "raw_data",
		Description: "raw scrape",
	})
	require.NoError(t, err)
	assert.Equal(t, Version(1), meta.Version)
	assert.Equal(t, "raw_data", meta.Type)

	t.Run("get streams payload and meta", func(t *testing.T) {
		got, rc, err := client.Get(ctx, MustParseRef("sample.csv:latest"))
		require.NoError(t, err)
		assert.Equal(t, Version(1), got.Version)
		assert.Equal(t, "id,price\n1,100\n", readAll(t, rc))
	})

	t.Run("head resolves without payload", func(t *testing.T) {
		got, err := client.Head(ctx, MustParseRef("sample.csv:v1"))
		require.NoError(t, err)
		assert.Equal(t, meta.Checksum, got.Checksum)
		assert.Contains(t, got.Tags, TagLatest)
	})

	t.Run("tag and resolve through the wire", func(t *testing.T) {
		require.NoError(t, client.Tag(ctx, "sample.csv", 1, TagProduction))
		got, err := client.Head(ctx, MustParseRef("sample.csv:production-ready"))
		require.NoError(t, err)
		assert.Equal(t, Version(1), got.Version)
	})

	t.Run("versions and names", func(t *testing.T) {
		versions, err := client.Versions(ctx, "sample.csv")
		require.NoError(t, err)
		require.Len(t, versions, 1)

		names, err := client.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"sample.csv"}, names)
	})

	t.Run("typed errors survive the wire", func(t *testing.T) {
		_, err := client.Head(ctx, MustParseRef("missing.csv:latest"))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing.csv:latest", notFound.Ref)

		err = client.Tag(ctx, "sample.csv", 1, "latest")
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("run records round trip", func(t *testing.T) {
		require.NoError(t, client.PutPipelineRun(ctx, PipelineRunRecord{ID: "p1", Pipeline: "x", Status: RunRunning}))
		require.NoError(t, client.PutRun(ctx, RunRecord{ID: "r1", PipelineRunID: "p1", Step: "download", Status: RunSucceeded}))

		runs, err := client.Runs(ctx, "p1")
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "download", runs[0].Step)

		prun, err := client.PipelineRun(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, "x", prun.Pipeline)

		pruns, err := client.PipelineRuns(ctx)
		require.NoError(t, err)
		assert.Len(t, pruns, 1)
	})
}

// flakyHandler fails the first n requests with 503 before delegating.
type flakyHandler struct {
	remaining atomic.Int64
	next      http.Handler
}

func (h *flakyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.remaining.Add(-1) >= 0 {
		http.Error(w, `{"error":"maintenance","kind":"internal"}`, http.StatusServiceUnavailable)
		return
	}
	h.next.ServeHTTP(w, r)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	backing := openTestStore(t)

	t.Run("put succeeds after transient outage without duplicating versions", func(t *testing.T) {
		flaky := &flakyHandler{next: NewServer(backing).Handler()}
		flaky.remaining.Store(2)
		srv := httptest.NewServer(flaky)
		defer srv.Close()

		client := NewClient(srv.URL, WithMaxTries(4))
		meta, err := client.Put(context.Background(), PutRequest{
			Name:           "sample.csv",
			Payload:        strings.NewReader("data"),
			IdempotencyKey: "once",
		})
		require.NoError(t, err)
		assert.Equal(t, Version(1), meta.Version)

		versions, err := client.Versions(context.Background(), "sample.csv")
		require.NoError(t, err)
		assert.Len(t, versions, 1)
	})

	t.Run("attempts are bounded", func(t *testing.T) {
		flaky := &flakyHandler{next: NewServer(backing).Handler()}
		flaky.remaining.Store(1000)
		srv := httptest.NewServer(flaky)
		defer srv.Close()

		client := NewClient(srv.URL, WithMaxTries(3))
		_, err := client.Head(context.Background(), MustParseRef("sample.csv:latest"))
		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		// 3 tries total: the initial attempt plus two retries.
		assert.Equal(t, int64(997), flaky.remaining.Load())
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		srv := httptest.NewServer(NewServer(backing).Handler())
		defer srv.Close()

		client := NewClient(srv.URL, WithMaxTries(4))
		_, err := client.Head(context.Background(), MustParseRef("missing.csv:v1"))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}
