package model

import "time"

// APIError is the standard error response envelope. Success responses
// carry their body directly, without an envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every error response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// IngestResponse is the response body for POST /v1/decisions.
type IngestResponse struct {
	DecisionID string `json:"decision_id"`
	Status     string `json:"status"`
}

// ListDecisionsResponse is the response body for GET /v1/decisions.
type ListDecisionsResponse struct {
	Decisions []DecisionRecord `json:"decisions"`
	Limit     int              `json:"limit"`
	Offset    int              `json:"offset"`
}

// PrecedentSearchRequest is the request body for POST /v1/precedents/search.
// All filters are optional and conjunctive.
type PrecedentSearchRequest struct {
	PolicyID *string  `json:"policy_id,omitempty"`
	Tool     *string  `json:"tool,omitempty"`
	Outcome  *Outcome `json:"outcome,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// PrecedentSearchResponse is the response body for POST /v1/precedents/search.
type PrecedentSearchResponse struct {
	Precedents []DecisionRecord `json:"precedents"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// ExplainStep is one numbered step in an explanation chain.
type ExplainStep struct {
	Step    int    `json:"step"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
	Detail  any    `json:"detail"`
}

// Explanation is the response body for GET /v1/decisions/{decision_id}/explain.
// Each chain preserves the source-list order of the underlying record.
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
