package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/extract"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/report"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/worker"
)

const (
	// MaxBatchSize bounds POST /claims/batch
	MaxBatchSize = 1000

	maxClaimBytes = 1 << 20
	maxBatchBytes = 16 << 20
)

// Options are the collaborators of the API. Pipeline is required; a nil
// Repository or Bus disables the endpoints that need it.
type Options struct {
	Pipeline   *pipeline.Pipeline
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Version    string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline *pipeline.Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	return &Handler{
		pipeline: opts.Pipeline,
		repo:     opts.Repository,
		cache:    opts.Cache,
		bus:      opts.Bus,
		version:  opts.Version,
	}
}

// BatchResponse is the response for POST /claims/batch.
type BatchResponse struct {
	Results []*domain.DecisionResult `json:"results"`
	Summary *report.Summary          `json:"summary"`
	TraceID string                   `json:"traceId,omitempty"`
}

// SubmitResponse is the response for POST /claims/submit.
type SubmitResponse struct {
	ClaimID string `json:"claimId"`
	Status  string `json:"status"`
	Topic   string `json:"topic"`
}

// parseSubmission reads one claim: an object with a "text" field for
// extraction, a structured claim object, or a JSON string of free text.
func parseSubmission(body []byte) (pipeline.Submission, error) {
	claim, raw, err := extract.Decode(body)
	return pipeline.Submission{Claim: claim, RawInput: raw}, err
}

// statusFor maps an evaluation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, extract.ErrMalformed):
		return http.StatusBadRequest
	case domain.IsConfigurationError(err):
		return http.StatusInternalServerError
	case pipeline.IsTimeout(err):
		return http.StatusGatewayTimeout
	case domain.IsClaimError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "failed to read request body")
		}
		return nil, false
	}
	return body, true
}

// EvaluateClaim handles POST /claims/evaluate.
// Failures respond with the ERROR record, which carries an "error" field.
func (h *Handler) EvaluateClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := readBody(w, r, maxClaimBytes)
	if !ok {
		return
	}

	sub, err := parseSubmission(body)
	if err != nil {
		if errors.Is(err, extract.ErrMalformed) {
			writeError(w, http.StatusBadRequest, "invalid JSON request body")
			return
		}
		writeJSON(w, statusFor(err), h.pipeline.ErrorRecord(nil, err))
		return
	}

	result, err := h.pipeline.EvaluateSubmission(ctx, sub)
	if result.Metadata != nil {
		result.Metadata.TraceID = GetTraceID(ctx)
	}
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("claim evaluation failed", "claim_id", result.ClaimID, "error", err)
		}
		writeJSON(w, status, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// EvaluateBatch handles POST /claims/batch. Entries that fail to parse
// become ERROR records in place; the response is always in input order.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := readBody(w, r, maxBatchBytes)
	if !ok {
		return
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON array of claims")
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusBadRequest, "batch is empty")
		return
	}
	if len(entries) > MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("batch exceeds %d claims", MaxBatchSize))
		return
	}

	results := make([]*domain.DecisionResult, len(entries))
	var claims []*domain.NormalizedClaim
	var positions []int
	for i, entry := range entries {
		sub, err := parseSubmission(entry)
		if err != nil {
			results[i] = h.pipeline.ErrorRecord(nil, err)
			continue
		}
		claims = append(claims, sub.Claim)
		positions = append(positions, i)
	}

	for j, result := range h.pipeline.EvaluateBatch(ctx, claims) {
		results[positions[j]] = result
	}

	summary := report.Summarize(results)
	slog.Info("batch evaluated",
		"claims", summary.Total,
		"approved", summary.ByDecision[domain.DecisionApproved],
		"review", summary.ByDecision[domain.DecisionRequiresReview],
		"errors", summary.Errors,
	)

	writeJSON(w, http.StatusOK, BatchResponse{
		Results: results,
		Summary: summary,
		TraceID: GetTraceID(ctx),
	})
}

// SubmitClaim handles POST /claims/submit. The claim is queued on the
// event bus and the assigned claim ID is returned with 202.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	body, ok := readBody(w, r, maxClaimBytes)
	if !ok {
		return
	}

	sub, err := parseSubmission(body)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if sub.Claim.ID == "" {
		sub.Claim.ID = uuid.New().String()
	}

	if err := worker.Submit(ctx, h.bus, worker.ClaimMessage{Claim: sub.Claim, Text: sub.RawInput}); err != nil {
		slog.Error("failed to submit claim", "claim_id", sub.Claim.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue claim")
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		ClaimID: sub.Claim.ID,
		Status:  "submitted",
		Topic:   domain.TopicClaimSubmitted,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			status = "degraded"
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":               "true",
		"ruleSnapshotVersion": h.pipeline.Store().Version(),
		"configVersion":       h.pipeline.Engine().Version(),
	})
}

// GetClaim retrieves a persisted claim by ID.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	claimID := chi.URLParam(r, "id")

	claim, err := h.repo.GetClaim(r.Context(), claimID)
	if err != nil {
		h.writeLookupError(w, "claim", claimID, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// ListClaimDecisions returns every decision recorded for a claim.
func (h *Handler) ListClaimDecisions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	claimID := chi.URLParam(r, "id")

	decisions, err := h.repo.ListDecisionsByClaim(r.Context(), claimID)
	if err != nil {
		h.writeLookupError(w, "claim", claimID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claimId":   claimID,
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// GetDecision retrieves a decision by ID.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}
	decisionID := chi.URLParam(r, "id")

	result, err := h.repo.GetDecision(r.Context(), decisionID)
	if err != nil {
		h.writeLookupError(w, "decision", decisionID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListRules returns snapshot statistics and the coverage rules,
// optionally filtered by ?verdict=.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	store := h.pipeline.Store()
	verdict := domain.Verdict(strings.ToUpper(r.URL.Query().Get("verdict")))

	rules := store.Rules()
	if verdict != "" {
		filtered := rules[:0]
		for _, rule := range rules {
			if rule.Verdict == verdict {
				filtered = append(filtered, rule)
			}
		}
		rules = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stats": store.Stats(),
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves a coverage rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	rule, ok := h.pipeline.Store().Rule(ruleID)
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// GetCode retrieves a procedure code entry.
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	entry, ok := h.pipeline.Store().Code(code)
	if !ok {
		writeError(w, http.StatusNotFound, "procedure code not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListSnapshots lists the rule snapshots stored in the repository.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	snapshots, err := h.repo.ListSnapshotVersions(r.Context())
	if err != nil {
		slog.Error("failed to list snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":    h.pipeline.Store().Version(),
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// GetConfig returns the active decision configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	engine := h.pipeline.Engine()
	writeJSON(w, http.StatusOK, map[string]any{
		"configVersion":       engine.Version(),
		"ruleSnapshotVersion": h.pipeline.Store().Version(),
		"engineVersion":       h.version,
		"decision":            engine.Config(),
	})
}

func (h *Handler) writeLookupError(w http.ResponseWriter, kind, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	slog.Error("failed to load "+kind, "id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+kind)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}
