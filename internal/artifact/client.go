package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Client implements Store against a remote store server. Transient failures
// (network errors, 5xx responses) are retried with exponential backoff up to
// a bounded number of attempts; everything else surfaces immediately as the
// typed error the server reported.
type Client struct {
	baseURL  string
	httpc    *http.Client
	maxTries uint
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// WithMaxTries bounds the total attempts per operation, first try included.
func WithMaxTries(n uint) ClientOption {
	return func(c *Client) { c.maxTries = n }
}

// NewClient builds a store client for the given base URL,
// e.g. "http://localhost:8450".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpc:    &http.Client{Timeout: 60 * time.Second},
		maxTries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close implements Store; the client holds no resources of its own.
func (c *Client) Close() error { return nil }

// Put uploads one artifact version. The payload is buffered so retried
// attempts resend identical bytes, and the idempotency key ensures a retry
// after a lost response cannot mint a second version.
func (c *Client) Put(ctx context.Context, req PutRequest) (Meta, error) {
	if err := ValidateName(req.Name); err != nil {
		return Meta{}, err
	}
	if req.Payload == nil {
		return Meta{}, &ValidationError{Reason: "put request has no payload"}
	}
	payload, err := io.ReadAll(req.Payload)
	if err != nil {
		return Meta{}, fmt.Errorf("reading payload: %w", err)
	}

	return clientRetry(ctx, c, func() (Meta, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut,
			c.baseURL+"/v1/artifacts/"+url.PathEscape(req.Name), bytes.NewReader(payload))
		if err != nil {
			return Meta{}, backoff.Permanent(err)
		}
		setIfPresent(httpReq.Header, HeaderType, req.Type)
		setIfPresent(httpReq.Header, HeaderDescription, req.Description)
		setIfPresent(httpReq.Header, HeaderProducingRun, req.ProducingRunID)
		setIfPresent(httpReq.Header, HeaderIdempotencyKey, req.IdempotencyKey)

		var meta Meta
		if err := c.doJSON(httpReq, &meta); err != nil {
			return Meta{}, err
		}
		return meta, nil
	})
}

// Get fetches a payload stream. The caller owns the returned reader.
func (c *Client) Get(ctx context.Context, ref Ref) (Meta, io.ReadCloser, error) {
	if err := validateQualified(ref); err != nil {
		return Meta{}, nil, err
	}
	type result struct {
		meta Meta
		body io.ReadCloser
	}
	res, err := clientRetry(ctx, c, func() (result, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.refURL(ref), nil)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		resp, err := c.httpc.Do(httpReq)
		if err != nil {
			return result{}, &UnavailableError{Err: err}
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return result{}, classifyStatus(resp)
		}
		var meta Meta
		if err := json.Unmarshal([]byte(resp.Header.Get(HeaderMeta)), &meta); err != nil {
			resp.Body.Close()
			return result{}, backoff.Permanent(fmt.Errorf("parsing %s header: %w", HeaderMeta, err))
		}
		return result{meta: meta, body: resp.Body}, nil
	})
	if err != nil {
		return Meta{}, nil, err
	}
	return res.meta, res.body, nil
}

// Head resolves a reference to its metadata.
func (c *Client) Head(ctx context.Context, ref Ref) (Meta, error) {
	if err := validateQualified(ref); err != nil {
		return Meta{}, err
	}
	return clientRetry(ctx, c, func() (Meta, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.refURL(ref)+"/meta", nil)
		if err != nil {
			return Meta{}, backoff.Permanent(err)
		}
		var meta Meta
		if err := c.doJSON(httpReq, &meta); err != nil {
			return Meta{}, err
		}
		return meta, nil
	})
}

// Tag atomically retags a version.
func (c *Client) Tag(ctx context.Context, name string, version Version, tag string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ValidateTag(tag); err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{"version": version, "tag": tag})
	if err != nil {
		return err
	}
	_, err = clientRetry(ctx, c, func() (struct{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/v1/artifacts/"+url.PathEscape(name)+"/tags", bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return struct{}{}, c.doJSON(httpReq, nil)
	})
	return err
}

// Versions lists the stored versions of a name, oldest first.
func (c *Client) Versions(ctx context.Context, name string) ([]Meta, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return clientRetry(ctx, c, func() ([]Meta, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/artifacts/"+url.PathEscape(name), nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		var out struct {
			Versions []Meta `json:"versions"`
		}
		if err := c.doJSON(httpReq, &out); err != nil {
			return nil, err
		}
		return out.Versions, nil
	})
}

// Names lists all artifact names.
func (c *Client) Names(ctx context.Context) ([]string, error) {
	return clientRetry(ctx, c, func() ([]string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/artifacts", nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		var out struct {
			Names []string `json:"names"`
		}
		if err := c.doJSON(httpReq, &out); err != nil {
			return nil, err
		}
		return out.Names, nil
	})
}

// PutRun uploads a step-run record.
func (c *Client) PutRun(ctx context.Context, rec RunRecord) error {
	return c.postJSON(ctx, "/v1/runs", rec)
}

// Runs lists step-run records.
func (c *Client) Runs(ctx context.Context, pipelineRunID string) ([]RunRecord, error) {
	target := c.baseURL + "/v1/runs"
	if pipelineRunID != "" {
		target += "?pipeline_run=" + url.QueryEscape(pipelineRunID)
	}
	return clientRetry(ctx, c, func() ([]RunRecord, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		var out struct {
			Runs []RunRecord `json:"runs"`
		}
		if err := c.doJSON(httpReq, &out); err != nil {
			return nil, err
		}
		return out.Runs, nil
	})
}

// PutPipelineRun uploads a pipeline-run record.
func (c *Client) PutPipelineRun(ctx context.Context, rec PipelineRunRecord) error {
	return c.postJSON(ctx, "/v1/pipeline-runs", rec)
}

// PipelineRun fetches one pipeline-run record.
func (c *Client) PipelineRun(ctx context.Context, id string) (PipelineRunRecord, error) {
	return clientRetry(ctx, c, func() (PipelineRunRecord, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/v1/pipeline-runs/"+url.PathEscape(id), nil)
		if err != nil {
			return PipelineRunRecord{}, backoff.Permanent(err)
		}
		var rec PipelineRunRecord
		if err := c.doJSON(httpReq, &rec); err != nil {
			return PipelineRunRecord{}, err
		}
		return rec, nil
	})
}

// PipelineRuns lists pipeline-run records, most recent first.
func (c *Client) PipelineRuns(ctx context.Context) ([]PipelineRunRecord, error) {
	return clientRetry(ctx, c, func() ([]PipelineRunRecord, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/pipeline-runs", nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		var out struct {
			PipelineRuns []PipelineRunRecord `json:"pipeline_runs"`
		}
		if err := c.doJSON(httpReq, &out); err != nil {
			return nil, err
		}
		return out.PipelineRuns, nil
	})
}

// --- internals ---

// clientRetry runs one operation with exponential backoff. Errors wrapped
// in backoff.Permanent stop immediately; transient ones are retried up to
// maxTries attempts total.
func clientRetry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, op, backoff.WithBackOff(expo), backoff.WithMaxTries(c.maxTries))
}

// doJSON performs one round trip, decoding a 2xx JSON body into out when
// out is non-nil and classifying anything else.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding store response: %w", err))
	}
	return nil
}

// classifyStatus rebuilds the typed error from an error response. 5xx maps
// to the retryable UnavailableError; 4xx errors are permanent.
func classifyStatus(resp *http.Response) error {
	var body errorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	if resp.StatusCode >= 500 {
		return &UnavailableError{Err: fmt.Errorf("%s", body.Error)}
	}

	switch body.Kind {
	case errKindNotFound:
		return backoff.Permanent(&NotFoundError{Ref: body.Ref})
	case errKindUnqualified:
		return backoff.Permanent(&UnqualifiedRefError{Ref: body.Ref})
	case errKindValidation:
		return backoff.Permanent(&ValidationError{Reason: body.Error})
	default:
		return backoff.Permanent(fmt.Errorf("store request failed: %s", body.Error))
	}
}

func (c *Client) refURL(ref Ref) string {
	qual := ref.Tag
	if ref.ByVersion() {
		qual = ref.Version.String()
	}
	return c.baseURL + "/v1/artifacts/" + url.PathEscape(ref.Name) + "/" + url.PathEscape(qual)
}

func setIfPresent(h http.Header, key, value string) {
	if value != "" {
		h.Set(key, value)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = clientRetry(ctx, c, func() (struct{}, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return struct{}{}, c.doJSON(httpReq, nil)
	})
	return err
}
