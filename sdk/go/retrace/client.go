package retrace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RecordStore is the delivery capability the ingest path is written
// against: anything that can idempotently upsert a finalized record.
// Client (remote HTTP) and LocalStore (embedded SQLite) both satisfy it.
type RecordStore interface {
	UpsertDecisionRecord(ctx context.Context, rec DecisionRecord) error
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Retrace server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey authenticates requests. Leave empty against a server
	// running with auth disabled.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Retrace decision-audit API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("retrace: BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  httpClient,
	}, nil
}

// UpsertDecisionRecord delivers a finalized record to the server.
// Delivery is idempotent: re-sending the same decision_id updates the
// stored record in place.
func (c *Client) UpsertDecisionRecord(ctx context.Context, rec DecisionRecord) error {
	var resp IngestResponse
	return c.post(ctx, "/v1/decisions", rec, &resp)
}

// GetDecision retrieves a stored record by ID.
func (c *Client) GetDecision(ctx context.Context, decisionID string) (*DecisionRecord, error) {
	var rec DecisionRecord
	if err := c.get(ctx, "/v1/decisions/"+url.PathEscape(decisionID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Explain retrieves the explanation chains and summary for a record.
func (c *Client) Explain(ctx context.Context, decisionID string) (*Explanation, error) {
	var ex Explanation
	if err := c.get(ctx, "/v1/decisions/"+url.PathEscape(decisionID)+"/explain", &ex); err != nil {
		return nil, err
	}
	return &ex, nil
}

// ListOptions are optional filters for ListDecisions.
type ListOptions struct {
	RunID   string
	Outcome Outcome
	Limit   int
	Offset  int
}

// ListDecisions retrieves stored records, newest first, optionally
// filtered by run and outcome.
func (c *Client) ListDecisions(ctx context.Context, opts *ListOptions) ([]DecisionRecord, error) {
	params := url.Values{}
	if opts != nil {
		if opts.RunID != "" {
			params.Set("run_id", opts.RunID)
		}
		if opts.Outcome != "" {
			params.Set("outcome", string(opts.Outcome))
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	path := "/v1/decisions"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp ListDecisionsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// PrecedentFilters narrow a precedent search. All filters are optional
// and conjunctive.
type PrecedentFilters struct {
	PolicyID string
	Tool     string
	Outcome  Outcome
	Limit    int
}

// SearchPrecedents finds prior committed decisions matching the filters,
// for citing as precedent_refs in new runs.
func (c *Client) SearchPrecedents(ctx context.Context, f PrecedentFilters) ([]DecisionRecord, error) {
	body := map[string]any{}
	if f.PolicyID != "" {
		body["policy_id"] = f.PolicyID
	}
	if f.Tool != "" {
		body["tool"] = f.Tool
	}
	if f.Outcome != "" {
		body["outcome"] = f.Outcome
	}
	if f.Limit > 0 {
		body["limit"] = f.Limit
	}
	var resp PrecedentSearchResponse
	if err := c.post(ctx, "/v1/precedents/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Precedents, nil
}

// IngestResponse is the server's acknowledgement for an upserted record.
type IngestResponse struct {
	DecisionID string `json:"decision_id"`
	Status     string `json:"status"`
}

// ListDecisionsResponse is the wire shape of GET /v1/decisions.
type ListDecisionsResponse struct {
	Decisions []DecisionRecord `json:"decisions"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// PrecedentSearchResponse is the wire shape of POST /v1/precedents/search.
type PrecedentSearchResponse struct {
	Precedents []DecisionRecord `json:"precedents"`
}

// ExplainStep is one numbered step in an explanation chain.
type ExplainStep struct {
	Step    int    `json:"step"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
	Detail  any    `json:"detail"`
}

// Explanation is the server's answer to "why did this happen".
type Explanation struct {
	DecisionID    string        `json:"decision_id"`
	Outcome       Outcome       `json:"outcome"`
	OutcomeReason *string       `json:"outcome_reason,omitempty"`
	EvidenceChain []ExplainStep `json:"evidence_chain"`
	PolicyChain   []ExplainStep `json:"policy_chain"`
	ApprovalChain []ExplainStep `json:"approval_chain"`
	ActionChain   []ExplainStep `json:"action_chain"`
	Summary       string        `json:"summary"`
}

// HealthResponse is the server's health report.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// Health checks the server's health status. This endpoint does not
// require authentication.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Ingestor: delivery with a bounded failure queue
// ---------------------------------------------------------------------------

// DefaultMaxFailed is the default cap on the failed-record queue.
const DefaultMaxFailed = 100

// Ingestor delivers finalized records to a RecordStore and keeps a
// bounded FIFO queue of records that failed to deliver, so a transient
// outage loses nothing and a long outage loses only the oldest records
// instead of growing without bound. Safe for concurrent use.
type Ingestor struct {
	store     RecordStore
	maxFailed int

	mu     sync.Mutex
	failed []DecisionRecord
}

// NewIngestor wraps a RecordStore. maxFailed caps the failure queue;
// zero or negative means DefaultMaxFailed.
func NewIngestor(store RecordStore, maxFailed int) *Ingestor {
	if maxFailed <= 0 {
		maxFailed = DefaultMaxFailed
	}
	return &Ingestor{store: store, maxFailed: maxFailed}
}

// Ingest delivers one record. On failure the record is queued for later
// retry and the delivery error is returned; a finalized run is never
// silently dropped and ingestion never panics the host application.
// A nil record (observation-only run) is a no-op.
func (in *Ingestor) Ingest(ctx context.Context, rec *DecisionRecord) error {
	if rec == nil {
		return nil
	}
	if err := in.store.UpsertDecisionRecord(ctx, *rec); err != nil {
		in.enqueue(*rec)
		return fmt.Errorf("retrace: ingest decision %s: %w", rec.DecisionID, err)
	}
	return nil
}

// RetryFailed re-attempts every queued record once, oldest first, and
// returns how many succeeded. Records that fail again stay queued in
// order. Safe to call from a timer or a shutdown hook; there is no
// built-in scheduler.
func (in *Ingestor) RetryFailed(ctx context.Context) int {
	in.mu.Lock()
	pending := in.failed
	in.failed = nil
	in.mu.Unlock()

	succeeded := 0
	var still []DecisionRecord
	for _, rec := range pending {
		if err := in.store.UpsertDecisionRecord(ctx, rec); err != nil {
			still = append(still, rec)
			continue
		}
		succeeded++
	}

	if len(still) > 0 {
		in.mu.Lock()
		// Re-queued records go to the front: they are older than anything
		// enqueued while the retry loop ran.
		in.failed = append(still, in.failed...)
		in.trimLocked()
		in.mu.Unlock()
	}
	return succeeded
}

// FailedCount reports the current depth of the failure queue.
func (in *Ingestor) FailedCount() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.failed)
}

func (in *Ingestor) enqueue(rec DecisionRecord) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.failed = append(in.failed, rec)
	in.trimLocked()
}

// trimLocked drops the oldest queued records beyond the cap. Callers
// hold mu.
func (in *Ingestor) trimLocked() {
	if over := len(in.failed) - in.maxFailed; over > 0 {
		in.failed = append([]DecisionRecord(nil), in.failed[over:]...)
	}
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("retrace: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("retrace: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("retrace: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("retrace: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("retrace: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("retrace: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
