package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func putString(t *testing.T, store Store, name, payload string) Meta {
	t.Helper()
	meta, err := store.Put(context.Background(), PutRequest{
		Name:    name,
		Payload: strings.NewReader(payload),
	})
	require.NoError(t, err)
	return meta
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestPutAssignsMonotonicVersions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := putString(t, store, "sample.csv", "one")
	second := putString(t, store, "sample.csv", "two")

	assert.Equal(t, Version(1), first.Version)
	assert.Equal(t, Version(2), second.Version)

	t.Run("latest follows the newest version", func(t *testing.T) {
		meta, rc, err := store.Get(ctx, MustParseRef("sample.csv:latest"))
		require.NoError(t, err)
		assert.Equal(t, Version(2), meta.Version)
		assert.Equal(t, "two", readAll(t, rc))
	})

	t.Run("older versions stay readable", func(t *testing.T) {
		meta, rc, err := store.Get(ctx, MustParseRef("sample.csv:v1"))
		require.NoError(t, err)
		assert.Equal(t, Version(1), meta.Version)
		assert.Equal(t, "one", readAll(t, rc))
	})

	t.Run("names are versioned independently", func(t *testing.T) {
		other := putString(t, store, "other.csv", "x")
		assert.Equal(t, Version(1), other.Version)
	})
}

func TestGetRejectsBareNames(t *testing.T) {
	store := openTestStore(t)
	putString(t, store, "sample.csv", "data")

	_, _, err := store.Get(context.Background(), Ref{Name: "sample.csv"})
	var unqualified *UnqualifiedRefError
	require.ErrorAs(t, err, &unqualified)
}

func TestGetUnknownReference(t *testing.T) {
	store := openTestStore(t)
	putString(t, store, "sample.csv", "data")
	ctx := context.Background()

	t.Run("unknown name", func(t *testing.T) {
		_, _, err := store.Get(ctx, MustParseRef("missing.csv:latest"))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing.csv:latest", notFound.Ref)
	})

	t.Run("unknown version", func(t *testing.T) {
		_, _, err := store.Get(ctx, MustParseRef("sample.csv:v99"))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("unset tag", func(t *testing.T) {
		_, err := store.Head(ctx, MustParseRef("sample.csv:production-ready"))
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestTagFlipsAtomically(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putString(t, store, "model_export", "m1")
	putString(t, store, "model_export", "m2")
	v3 := putString(t, store, "model_export", "m3")

	require.NoError(t, store.Tag(ctx, "model_export", 1, TagProduction))

	meta, err := store.Head(ctx, MustParseRef("model_export:production-ready"))
	require.NoError(t, err)
	assert.Equal(t, Version(1), meta.Version)

	t.Run("retag moves the pointer to the exact version", func(t *testing.T) {
		require.NoError(t, store.Tag(ctx, "model_export", v3.Version, TagProduction))
		meta, err := store.Head(ctx, MustParseRef("model_export:production-ready"))
		require.NoError(t, err)
		assert.Equal(t, Version(3), meta.Version)
	})

	t.Run("latest is unaffected by promotion", func(t *testing.T) {
		meta, err := store.Head(ctx, MustParseRef("model_export:latest"))
		require.NoError(t, err)
		assert.Equal(t, Version(3), meta.Version)
	})

	t.Run("tagging an unknown version fails", func(t *testing.T) {
		err := store.Tag(ctx, "model_export", 99, TagProduction)
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("latest cannot be assigned by hand", func(t *testing.T) {
		err := store.Tag(ctx, "model_export", 1, TagLatest)
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	})
}

func TestConcurrentPutsAllocateDistinctVersions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	const writers = 16

	versions := make(chan Version, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta, err := store.Put(ctx, PutRequest{
				Name:    "model_export",
				Payload: strings.NewReader(fmt.Sprintf("weights-%d", i)),
			})
			if assert.NoError(t, err) {
				versions <- meta.Version
			}
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[Version]bool)
	for v := range versions {
		assert.False(t, seen[v], "version %d allocated twice", v)
		seen[v] = true
	}
	require.Len(t, seen, writers)
	for v := Version(1); v <= writers; v++ {
		assert.True(t, seen[v], "version %d never allocated", v)
	}

	t.Run("the store agrees with the writers", func(t *testing.T) {
		metas, err := store.Versions(ctx, "model_export")
		require.NoError(t, err)
		require.Len(t, metas, writers)
		assert.Equal(t, Version(writers), metas[len(metas)-1].Version)
	})
}

func TestConcurrentGetDuringRetagSeesOldOrNew(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putString(t, store, "model_export", "m1")
	putString(t, store, "model_export", "m2")
	require.NoError(t, store.Tag(ctx, "model_export", 1, TagProduction))

	const flips = 50
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < flips; i++ {
			target := Version(1 + i%2)
			assert.NoError(t, store.Tag(ctx, "model_export", target, TagProduction))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref := MustParseRef("model_export:production-ready")
			for {
				select {
				case <-done:
					return
				default:
				}
				meta, rc, err := store.Get(ctx, ref)
				if !assert.NoError(t, err) {
					return
				}
				data, err := io.ReadAll(rc)
				rc.Close()
				if !assert.NoError(t, err) {
					return
				}
				payload := string(data)
				switch meta.Version {
				case 1:
					assert.Equal(t, "m1", payload)
				case 2:
					assert.Equal(t, "m2", payload)
				default:
					assert.Failf(t, "torn read", "resolved version %d", meta.Version)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestPutIdempotencyKeyDeduplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	req := PutRequest{
		Name:           "clean_sample.csv",
		Payload:        strings.NewReader("rows"),
		IdempotencyKey: "retry-abc",
	}
	first, err := store.Put(ctx, req)
	require.NoError(t, err)

	req.Payload = strings.NewReader("rows")
	second, err := store.Put(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)

	versions, err := store.Versions(ctx, "clean_sample.csv")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	t.Run("a different key writes a new version", func(t *testing.T) {
		third, err := store.Put(ctx, PutRequest{
			Name:           "clean_sample.csv",
			Payload:        strings.NewReader("rows"),
			IdempotencyKey: "retry-def",
		})
		require.NoError(t, err)
		assert.Equal(t, Version(2), third.Version)
	})
}

func TestVersionsAndNames(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	putString(t, store, "b.csv", "1")
	putString(t, store, "a.csv", "1")
	putString(t, store, "a.csv", "2")

	t.Run("versions come back oldest first with tags filled", func(t *testing.T) {
		versions, err := store.Versions(ctx, "a.csv")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, Version(1), versions[0].Version)
		assert.Empty(t, versions[0].Tags)
		assert.Equal(t, Version(2), versions[1].Version)
		assert.Contains(t, versions[1].Tags, TagLatest)
	})

	t.Run("names are sorted", func(t *testing.T) {
		names, err := store.Names(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.csv", "b.csv"}, names)
	})

	t.Run("versions of an unknown name fail", func(t *testing.T) {
		_, err := store.Versions(ctx, "nope.csv")
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})
}

func TestPutRecordsMetadata(t *testing.T) {
	store := openTestStore(t)
	meta, err := store.Put(context.Background(), PutRequest{
		Name:           "sample.csv",
		Payload:        strings.NewReader("id,price\n1,100\n"),
		Type:           "raw_data",
		Description:    "raw scrape",
		ProducingRunID: "run-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "raw_data", meta.Type)
	assert.Equal(t, "raw scrape", meta.Description)
	assert.Equal(t, "run-1", meta.ProducingRunID)
	assert.Equal(t, int64(len("id,price\n1,100\n")), meta.Size)
	assert.True(t, strings.HasPrefix(meta.Checksum, "sha256:"))
	assert.WithinDuration(t, time.Now().UTC(), meta.CreatedAt, time.Minute)
	assert.Equal(t, []string{TagLatest}, meta.Tags)
}

func TestRunRecordsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	prun := PipelineRunRecord{
		ID:        "prun-1",
		Pipeline:  "nyc_airbnb",
		Status:    RunSucceeded,
		StartedAt: time.Now().UTC().Add(-time.Minute),
		Selection: []string{"download", "clean"},
	}
	require.NoError(t, store.PutPipelineRun(ctx, prun))

	require.NoError(t, store.PutRun(ctx, RunRecord{
		ID:            "run-1",
		PipelineRunID: "prun-1",
		Step:          "download",
		Status:        RunSucceeded,
		StartedAt:     time.Now().UTC().Add(-time.Minute),
		Outputs:       []string{"sample.csv:v1"},
	}))
	require.NoError(t, store.PutRun(ctx, RunRecord{
		ID:            "run-2",
		PipelineRunID: "prun-1",
		Step:          "clean",
		Status:        RunFailed,
		StartedAt:     time.Now().UTC(),
		Inputs:        []string{"sample.csv:v1"},
		Error:         "boom",
	}))

	t.Run("runs filter by pipeline run and sort by start", func(t *testing.T) {
		runs, err := store.Runs(ctx, "prun-1")
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "download", runs[0].Step)
		assert.Equal(t, "clean", runs[1].Step)

		none, err := store.Runs(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("pipeline run fetch by id", func(t *testing.T) {
		got, err := store.PipelineRun(ctx, "prun-1")
		require.NoError(t, err)
		assert.Equal(t, prun.Selection, got.Selection)

		_, err = store.PipelineRun(ctx, "missing")
		var rnf *RunNotFoundError
		require.ErrorAs(t, err, &rnf)
	})

	t.Run("pipeline runs list newest first", func(t *testing.T) {
		require.NoError(t, store.PutPipelineRun(ctx, PipelineRunRecord{
			ID:        "prun-2",
			Pipeline:  "nyc_airbnb",
			Status:    RunRunning,
			StartedAt: time.Now().UTC(),
		}))
		runs, err := store.PipelineRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "prun-2", runs[0].ID)
	})
}
