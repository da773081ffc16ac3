package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request and response headers used by the store API.
const (
	HeaderType           = "X-Modelyard-Type"
	HeaderDescription    = "X-Modelyard-Description"
	HeaderProducingRun   = "X-Modelyard-Producing-Run"
	HeaderIdempotencyKey = "X-Modelyard-Idempotency-Key"
	HeaderMeta           = "X-Modelyard-Meta"
)

// errorBody is the JSON error envelope. Kind and Ref let clients rebuild
// the typed error on their side of the wire.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Ref   string `json:"ref,omitempty"`
}

const (
	errKindValidation  = "validation"
	errKindUnqualified = "unqualified_ref"
	errKindNotFound    = "not_found"
	errKindInternal    = "internal"
)

// Server exposes a Store over HTTP, together with /healthz and Prometheus
// /metrics endpoints.
type Server struct {
	store Store
}

// NewServer wraps the given store.
func NewServer(store Store) *Server {
	return &Server{store: store}
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("PUT /v1/artifacts/{name}", s.instrument("put", s.handlePut))
	mux.HandleFunc("GET /v1/artifacts", s.instrument("names", s.handleNames))
	mux.HandleFunc("GET /v1/artifacts/{name}", s.instrument("versions", s.handleVersions))
	mux.HandleFunc("GET /v1/artifacts/{name}/{ref}", s.instrument("get", s.handleGet))
	mux.HandleFunc("GET /v1/artifacts/{name}/{ref}/meta", s.instrument("head", s.handleHead))
	mux.HandleFunc("POST /v1/artifacts/{name}/tags", s.instrument("tag", s.handleTag))

	mux.HandleFunc("POST /v1/runs", s.instrument("put_run", s.handlePutRun))
	mux.HandleFunc("GET /v1/runs", s.instrument("runs", s.handleRuns))
	mux.HandleFunc("POST /v1/pipeline-runs", s.instrument("put_pipeline_run", s.handlePutPipelineRun))
	mux.HandleFunc("GET /v1/pipeline-runs", s.instrument("pipeline_runs", s.handlePipelineRuns))
	mux.HandleFunc("GET /v1/pipeline-runs/{id}", s.instrument("pipeline_run", s.handlePipelineRun))
	return mux
}

// Serve runs the store server until the context is canceled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	logger := ctxlog.FromContext(ctx)
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Store server shutdown failed", "error", err)
		}
	}()

	logger.Info("🗃️ Artifact store server starting", "address", fmt.Sprintf("http://localhost%s", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		logger.Info("🗃️ Artifact store server stopped")
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	meta, err := s.store.Put(r.Context(), PutRequest{
		Name:           r.PathValue("name"),
		Payload:        r.Body,
		Type:           r.Header.Get(HeaderType),
		Description:    r.Header.Get(HeaderDescription),
		ProducingRunID: r.Header.Get(HeaderProducingRun),
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	storePayloadBytes.WithLabelValues("in").Add(float64(meta.Size))
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ref, err := ParseRef(r.PathValue("name") + ":" + r.PathValue("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	meta, payload, err := s.store.Get(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	defer payload.Close()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set(HeaderMeta, string(metaJSON))
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, payload); err == nil {
		storePayloadBytes.WithLabelValues("out").Add(float64(n))
	}
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	ref, err := ParseRef(r.PathValue("name") + ":" + r.PathValue("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := s.store.Head(r.Context(), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Version Version `json:"version"`
		Tag     string  `json:"tag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &ValidationError{Reason: fmt.Sprintf("invalid tag request body: %v", err)})
		return
	}
	if err := s.store.Tag(r.Context(), r.PathValue("name"), req.Version, req.Tag); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.Versions(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]Meta{"versions": metas})
}

func (s *Server) handleNames(w http.ResponseWriter, r *http.Request) {
	names, err := s.store.Names(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"names": names})
}

func (s *Server) handlePutRun(w http.ResponseWriter, r *http.Request) {
	var rec RunRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, &ValidationError{Reason: fmt.Sprintf("invalid run record body: %v", err)})
		return
	}
	if err := s.store.PutRun(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.Runs(r.Context(), r.URL.Query().Get("pipeline_run"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]RunRecord{"runs": runs})
}

func (s *Server) handlePutPipelineRun(w http.ResponseWriter, r *http.Request) {
	var rec PipelineRunRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, &ValidationError{Reason: fmt.Sprintf("invalid pipeline run record body: %v", err)})
		return
	}
	if err := s.store.PutPipelineRun(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.PipelineRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePipelineRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.PipelineRuns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]PipelineRunRecord{"pipeline_runs": runs})
}

// instrument wraps a handler with request counting and latency tracking.
func (s *Server) instrument(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		storeRequestsTotal.WithLabelValues(op, strconv.Itoa(rec.code)).Inc()
		storeRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validation  *ValidationError
		unqualified *UnqualifiedRefError
		notFound    *NotFoundError
		runNotFound *RunNotFoundError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: errKindValidation})
	case errors.As(err, &unqualified):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: errKindUnqualified, Ref: unqualified.Ref})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: errKindNotFound, Ref: notFound.Ref})
	case errors.As(err, &runNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Kind: errKindNotFound, Ref: runNotFound.ID})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Kind: errKindInternal})
	}
}
