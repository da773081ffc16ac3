package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key prefixes inside the badger keyspace. Artifact names cannot contain
// colons, so the composite keys below are unambiguous.
const (
	keyMeta        = "meta:" // meta:<name>:<version BE> -> Meta JSON
	keySeq         = "seq:"  // seq:<name>               -> last assigned version
	keyTag         = "tag:"  // tag:<name>:<tag>         -> version
	keyIdempotency = "idem:" // idem:<key>               -> {name, version}
	keyRun         = "run:"  // run:<id>                 -> RunRecord JSON
	keyPipelineRun = "prun:" // prun:<id>                -> PipelineRunRecord JSON
)

// idempotencyTTL bounds how long a put's idempotency key deduplicates
// retries. Retries of one logical put happen within seconds; a day is
// comfortably past any retry horizon without growing the keyspace forever.
const idempotencyTTL = 24 * time.Hour

// BadgerStore is the embedded artifact store. Payload bytes live as plain
// files under <dir>/payloads; everything else (metadata, versions, tags,
// idempotency markers, run records) lives in a badger database under
// <dir>/db so tag flips and version assignment are transactional.
type BadgerStore struct {
	db          *badger.DB
	payloadRoot string

	// mu serializes writers so version assignment stays monotonic without
	// transaction retries.
	mu sync.Mutex
}

// OpenBadger opens (creating if needed) an embedded store rooted at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	payloadRoot := filepath.Join(dir, "payloads")
	if err := os.MkdirAll(payloadRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating payload directory: %w", err)
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "db")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening artifact database: %w", err)
	}
	return &BadgerStore{db: db, payloadRoot: payloadRoot}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Put writes the payload to disk first and only then, in one transaction,
// assigns the next version, records the metadata and moves "latest". A
// crash or cancellation between the two phases leaves an orphan payload
// file but never a dangling tag or meta record.
func (s *BadgerStore) Put(ctx context.Context, req PutRequest) (Meta, error) {
	if err := ValidateName(req.Name); err != nil {
		return Meta{}, err
	}
	if req.Payload == nil {
		return Meta{}, &ValidationError{Reason: "put request has no payload"}
	}

	if req.IdempotencyKey != "" {
		if meta, ok, err := s.lookupIdempotent(req.IdempotencyKey); err != nil {
			return Meta{}, err
		} else if ok {
			return meta, nil
		}
	}

	tmp, size, checksum, err := s.spoolPayload(req.Payload)
	if err != nil {
		return Meta{}, err
	}
	defer os.Remove(tmp)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}

	version, err := s.nextVersion(req.Name)
	if err != nil {
		return Meta{}, err
	}

	finalPath := s.payloadPath(req.Name, version)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return Meta{}, fmt.Errorf("creating payload directory: %w", err)
	}
	if err := os.Rename(tmp, finalPath); err != nil {
		return Meta{}, fmt.Errorf("committing payload file: %w", err)
	}

	meta := Meta{
		Name:           req.Name,
		Version:        version,
		Type:           req.Type,
		Description:    req.Description,
		Size:           size,
		Checksum:       checksum,
		CreatedAt:      time.Now().UTC(),
		ProducingRunID: req.ProducingRunID,
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := txn.Set(metaKey(req.Name, version), metaJSON); err != nil {
			return err
		}
		if err := txn.Set(seqKey(req.Name), encodeVersion(version)); err != nil {
			return err
		}
		if err := txn.Set(tagKey(req.Name, TagLatest), encodeVersion(version)); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			marker, err := json.Marshal(meta.Ref().String())
			if err != nil {
				return err
			}
			entry := badger.NewEntry(idemKey(req.IdempotencyKey), marker).WithTTL(idempotencyTTL)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		os.Remove(finalPath)
		return Meta{}, fmt.Errorf("committing artifact metadata: %w", err)
	}

	meta.Tags = []string{TagLatest}
	return meta, nil
}

// Get resolves the reference and opens the payload for reading.
func (s *BadgerStore) Get(ctx context.Context, ref Ref) (Meta, io.ReadCloser, error) {
	meta, err := s.Head(ctx, ref)
	if err != nil {
		return Meta{}, nil, err
	}
	f, err := os.Open(s.payloadPath(meta.Name, meta.Version))
	if err != nil {
		return Meta{}, nil, fmt.Errorf("opening payload for %s: %w", meta.Ref(), err)
	}
	return meta, f, nil
}

// Head resolves the reference to its metadata without touching the payload.
func (s *BadgerStore) Head(_ context.Context, ref Ref) (Meta, error) {
	if err := validateQualified(ref); err != nil {
		return Meta{}, err
	}
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		version := ref.Version
		if !ref.ByVersion() {
			var err error
			version, err = readVersion(txn, tagKey(ref.Name, ref.Tag))
			if err != nil {
				return err
			}
		}
		m, err := readMeta(txn, ref.Name, version)
		if err != nil {
			return err
		}
		tags, err := tagsPointingAt(txn, ref.Name, version)
		if err != nil {
			return err
		}
		m.Tags = tags
		meta = m
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Meta{}, &NotFoundError{Ref: ref.String()}
	}
	if err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Tag atomically points tag at an existing version of name. Readers observe
// either the old target or the new one, never an intermediate state.
func (s *BadgerStore) Tag(_ context.Context, name string, version Version, tag string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateTag(tag); err != nil {
		return err
	}
	if version <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("cannot tag non-positive version %d of %q", version, name)}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := readMeta(txn, name, version); err != nil {
			return err
		}
		return txn.Set(tagKey(name, tag), encodeVersion(version))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return &NotFoundError{Ref: ExactRef(name, version).String()}
	}
	return err
}

// Versions lists every stored version of name, oldest first.
func (s *BadgerStore) Versions(_ context.Context, name string) ([]Meta, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var metas []Meta
	err := s.db.View(func(txn *badger.Txn) error {
		tags := make(map[Version][]string)
		err := iteratePrefix(txn, []byte(keyTag+name+":"), func(key []byte, value []byte) error {
			tag := strings.TrimPrefix(string(key), keyTag+name+":")
			v := decodeVersion(value)
			tags[v] = append(tags[v], tag)
			return nil
		})
		if err != nil {
			return err
		}

		return iteratePrefix(txn, []byte(keyMeta+name+":"), func(_ []byte, value []byte) error {
			var m Meta
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			m.Tags = tags[m.Version]
			sort.Strings(m.Tags)
			metas = append(metas, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, &NotFoundError{Ref: name}
	}
	return metas, nil
}

// Names lists all artifact names present in the store.
func (s *BadgerStore) Names(_ context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(keySeq), func(key []byte, _ []byte) error {
			names = append(names, strings.TrimPrefix(string(key), keySeq))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// PutRun upserts a step-run lineage record.
func (s *BadgerStore) PutRun(_ context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return &ValidationError{Reason: "run record has no id"}
	}
	return s.putJSON(runKey(rec.ID), rec)
}

// Runs lists step-run records, filtered to one pipeline run when
// pipelineRunID is non-empty, ordered by start time.
func (s *BadgerStore) Runs(_ context.Context, pipelineRunID string) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(keyRun), func(_ []byte, value []byte) error {
			var rec RunRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			if pipelineRunID == "" || rec.PipelineRunID == pipelineRunID {
				runs = append(runs, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].StartedAt.Before(runs[j].StartedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// PutPipelineRun upserts a pipeline-run record.
func (s *BadgerStore) PutPipelineRun(_ context.Context, rec PipelineRunRecord) error {
	if rec.ID == "" {
		return &ValidationError{Reason: "pipeline run record has no id"}
	}
	return s.putJSON(pipelineRunKey(rec.ID), rec)
}

// PipelineRun fetches one pipeline-run record.
func (s *BadgerStore) PipelineRun(_ context.Context, id string) (PipelineRunRecord, error) {
	var rec PipelineRunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pipelineRunKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return PipelineRunRecord{}, &RunNotFoundError{ID: id}
	}
	if err != nil {
		return PipelineRunRecord{}, err
	}
	return rec, nil
}

// PipelineRuns lists all pipeline-run records, most recent first.
func (s *BadgerStore) PipelineRuns(_ context.Context) ([]PipelineRunRecord, error) {
	var runs []PipelineRunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return iteratePrefix(txn, []byte(keyPipelineRun), func(_ []byte, value []byte) error {
			var rec PipelineRunRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			runs = append(runs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// --- internals ---

func (s *BadgerStore) lookupIdempotent(key string) (Meta, bool, error) {
	var refStr string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idemKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &refStr)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	ref, err := ParseRef(refStr)
	if err != nil {
		return Meta{}, false, fmt.Errorf("corrupt idempotency marker %q: %w", refStr, err)
	}
	meta, err := s.Head(context.Background(), ref)
	if err != nil {
		return Meta{}, false, err
	}
	return meta, true, nil
}

// spoolPayload streams the payload to a temp file, hashing and counting as
// it goes. The temp file lives on the same filesystem as its final home so
// the later rename is atomic.
func (s *BadgerStore) spoolPayload(payload io.Reader) (path string, size int64, checksum string, err error) {
	f, err := os.CreateTemp(s.payloadRoot, ".upload-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("spooling payload: %w", err)
	}
	hasher := sha256.New()
	size, err = io.Copy(io.MultiWriter(f, hasher), payload)
	closeErr := f.Close()
	if err != nil {
		os.Remove(f.Name())
		return "", 0, "", fmt.Errorf("spooling payload: %w", err)
	}
	if closeErr != nil {
		os.Remove(f.Name())
		return "", 0, "", fmt.Errorf("spooling payload: %w", closeErr)
	}
	return f.Name(), size, "sha256:" + hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *BadgerStore) nextVersion(name string) (Version, error) {
	var last Version
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := readVersion(txn, seqKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		last = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return last + 1, nil
}

func (s *BadgerStore) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) payloadPath(name string, version Version) string {
	return filepath.Join(s.payloadRoot, name, fmt.Sprintf("v%08d", version))
}

func validateQualified(ref Ref) error {
	if ref.Name == "" {
		return &ValidationError{Reason: "artifact reference has an empty name"}
	}
	if ref.Tag == "" && ref.Version <= 0 {
		return &UnqualifiedRefError{Ref: ref.Name}
	}
	return nil
}

func metaKey(name string, version Version) []byte {
	return append([]byte(keyMeta+name+":"), encodeVersion(version)...)
}

func seqKey(name string) []byte       { return []byte(keySeq + name) }
func tagKey(name, tag string) []byte  { return []byte(keyTag + name + ":" + tag) }
func idemKey(key string) []byte       { return []byte(keyIdempotency + key) }
func runKey(id string) []byte         { return []byte(keyRun + id) }
func pipelineRunKey(id string) []byte { return []byte(keyPipelineRun + id) }

func encodeVersion(v Version) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeVersion(b []byte) Version {
	if len(b) != 8 {
		return 0
	}
	return Version(binary.BigEndian.Uint64(b))
}

func readVersion(txn *badger.Txn, key []byte) (Version, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var v Version
	err = item.Value(func(value []byte) error {
		v = decodeVersion(value)
		return nil
	})
	return v, err
}

func readMeta(txn *badger.Txn, name string, version Version) (Meta, error) {
	item, err := txn.Get(metaKey(name, version))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	err = item.Value(func(value []byte) error {
		return json.Unmarshal(value, &meta)
	})
	return meta, err
}

func tagsPointingAt(txn *badger.Txn, name string, version Version) ([]string, error) {
	var tags []string
	err := iteratePrefix(txn, []byte(keyTag+name+":"), func(key []byte, value []byte) error {
		if bytes.Equal(value, encodeVersion(version)) {
			tags = append(tags, strings.TrimPrefix(string(key), keyTag+name+":"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

func iteratePrefix(txn *badger.Txn, prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(value []byte) error {
			v := append([]byte(nil), value...)
			return fn(key, v)
		}); err != nil {
			return err
		}
	}
	return nil
}
