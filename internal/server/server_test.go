package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/internal/auth"
	"github.com/retracehq/retrace/internal/model"
	"github.com/retracehq/retrace/internal/server"
	"github.com/retracehq/retrace/internal/testutil"
)

const testAPIKey = "test-api-key"

var testSrv *httptest.Server

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartPostgres()

	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	keyHash, err := auth.HashAPIKey(testAPIKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash API key: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Verifier:            auth.NewVerifier(keyHash),
		Logger:              testutil.TestLogger(),
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 * 1024 * 1024,
	})
	testSrv = httptest.NewServer(srv.Handler())

	code := m.Run()

	testSrv.Close()
	db.Close()
	tc.Terminate()
	os.Exit(code)
}

// doRequest issues an authenticated request against the test server.
func doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, testSrv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func strPtr(s string) *string { return &s }

func sampleRecord() model.DecisionRecord {
	return model.DecisionRecord{
		DecisionID: uuid.NewString(),
		RunID:      uuid.NewString(),
		Timestamp:  time.Now().UTC().Truncate(time.Microsecond),
		Actor:      &model.Actor{Type: model.ActorAgent, ID: "refund-bot"},
		Evidence: []model.Evidence{
			{
				EvidenceID:   uuid.NewString(),
				Source:       "tool:get_order",
				RetrievedAt:  time.Now().UTC(),
				Snapshot:     map[string]any{"total": float64(49)},
				SnapshotHash: "0123456789abcdef",
			},
		},
		Policies: []model.PolicyEval{
			{PolicyID: "refund-limit", Version: "v1", Result: model.PolicyPass},
		},
		Actions: []model.Action{
			{
				ActionID:    uuid.NewString(),
				Tool:        "issue_refund",
				CommittedAt: time.Now().UTC(),
				Success:     true,
			},
		},
		Outcome: model.OutcomeCommitted,
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeBody[model.HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, "connected", health.Postgres)
}

func TestAuth_MissingKeyRejected(t *testing.T) {
	resp, err := http.Get(testSrv.URL + "/v1/decisions")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	apiErr := decodeBody[model.APIError](t, resp)
	assert.Equal(t, model.ErrCodeUnauthorized, apiErr.Error.Code)
	assert.NotEmpty(t, apiErr.Meta.RequestID)
}

func TestAuth_WrongKeyRejected(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/v1/decisions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestDecision_CreateThenUpdate(t *testing.T) {
	rec := sampleRecord()

	resp := doRequest(t, http.MethodPost, "/v1/decisions", rec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody[model.IngestResponse](t, resp)
	assert.Equal(t, rec.DecisionID, body.DecisionID)
	assert.Equal(t, "created", body.Status)

	// Re-submitting the same decision_id is an update, not a conflict.
	rec.Outcome = model.OutcomeDenied
	rec.OutcomeReason = strPtr("tool issue_refund failed: insufficient balance")
	resp = doRequest(t, http.MethodPost, "/v1/decisions", rec)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody[model.IngestResponse](t, resp)
	assert.Equal(t, "updated", body.Status)

	resp = doRequest(t, http.MethodGet, "/v1/decisions/"+rec.DecisionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[model.DecisionRecord](t, resp)
	assert.Equal(t, model.OutcomeDenied, got.Outcome)
}

func TestIngestDecision_MalformedBody(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, testSrv.URL+"/v1/decisions",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	apiErr := decodeBody[model.APIError](t, resp)
	assert.Equal(t, model.ErrCodeInvalidInput, apiErr.Error.Code)
}

func TestIngestDecision_UnknownFieldRejected(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, testSrv.URL+"/v1/decisions",
		strings.NewReader(`{"decision_id":"d1","run_id":"r1","bogus_field":true}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestIngestDecision_InvalidRecord(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.DecisionRecord)
	}{
		{"missing decision_id", func(r *model.DecisionRecord) { r.DecisionID = "" }},
		{"missing run_id", func(r *model.DecisionRecord) { r.RunID = "" }},
		{"zero timestamp", func(r *model.DecisionRecord) { r.Timestamp = time.Time{} }},
		{"bad outcome", func(r *model.DecisionRecord) { r.Outcome = "maybe" }},
		{"bad actor type", func(r *model.DecisionRecord) { r.Actor = &model.Actor{Type: "robot", ID: "x"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(&rec)
			resp := doRequest(t, http.MethodPost, "/v1/decisions", rec)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		})
	}
}

func TestIngestDecision_BackfillsSnapshotHash(t *testing.T) {
	rec := sampleRecord()
	rec.Evidence[0].SnapshotHash = ""

	resp := doRequest(t, http.MethodPost, "/v1/decisions", rec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doRequest(t, http.MethodGet, "/v1/decisions/"+rec.DecisionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[model.DecisionRecord](t, resp)
	require.Len(t, got.Evidence, 1)
	assert.Len(t, got.Evidence[0].SnapshotHash, 16)
}

func TestGetDecision_NotFound(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/v1/decisions/no-such-id", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	apiErr := decodeBody[model.APIError](t, resp)
	assert.Equal(t, model.ErrCodeNotFound, apiErr.Error.Code)
}

func TestExplainDecision(t *testing.T) {
	rec := sampleRecord()
	resp := doRequest(t, http.MethodPost, "/v1/decisions", rec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doRequest(t, http.MethodGet, "/v1/decisions/"+rec.DecisionID+"/explain", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	exp := decodeBody[model.Explanation](t, resp)
	assert.Equal(t, rec.DecisionID, exp.DecisionID)
	assert.Equal(t, model.OutcomeCommitted, exp.Outcome)
	require.Len(t, exp.EvidenceChain, 1)
	assert.Equal(t, "Read from tool:get_order", exp.EvidenceChain[0].Summary)
	require.Len(t, exp.PolicyChain, 1)
	assert.Equal(t, "Policy refund-limit pass", exp.PolicyChain[0].Summary)
	require.Len(t, exp.ActionChain, 1)
	assert.Equal(t, "Executed issue_refund", exp.ActionChain[0].Summary)
	assert.Contains(t, exp.Summary, "Outcome: committed.")
}

func TestExplainDecision_NotFound(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/v1/decisions/no-such-id/explain", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDecisions_RunFilter(t *testing.T) {
	runID := uuid.NewString()
	first := sampleRecord()
	first.RunID = runID
	second := sampleRecord()
	second.RunID = runID
	second.Timestamp = first.Timestamp.Add(time.Second)
	second.Outcome = model.OutcomeDenied

	for _, rec := range []model.DecisionRecord{first, second} {
		resp := doRequest(t, http.MethodPost, "/v1/decisions", rec)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp := doRequest(t, http.MethodGet, "/v1/decisions?run_id="+runID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[model.ListDecisionsResponse](t, resp)
	require.Len(t, list.Decisions, 2)
	assert.Equal(t, second.DecisionID, list.Decisions[0].DecisionID, "newest first")

	resp = doRequest(t, http.MethodGet, "/v1/decisions?run_id="+runID+"&outcome=denied", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = decodeBody[model.ListDecisionsResponse](t, resp)
	require.Len(t, list.Decisions, 1)
	assert.Equal(t, second.DecisionID, list.Decisions[0].DecisionID)
}

func TestListDecisions_InvalidOutcome(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/v1/decisions?outcome=bogus", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSearchPrecedents(t *testing.T) {
	policyID := "policy-" + uuid.NewString()
	rec := sampleRecord()
	rec.Policies = []model.PolicyEval{
		{PolicyID: policyID, Version: "v3", Result: model.PolicyFail, Message: strPtr("over budget")},
	}
	rec.Outcome = model.OutcomeDenied

	resp := doRequest(t, http.MethodPost, "/v1/decisions", rec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doRequest(t, http.MethodPost, "/v1/precedents/search", model.PrecedentSearchRequest{
		PolicyID: &policyID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[model.PrecedentSearchResponse](t, resp)
	require.Len(t, result.Precedents, 1)
	assert.Equal(t, rec.DecisionID, result.Precedents[0].DecisionID)
}

func TestRequestIDPropagated(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "caller-supplied-id", resp.Header.Get("X-Request-ID"))
}
