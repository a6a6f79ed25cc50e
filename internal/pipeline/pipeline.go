// Package pipeline runs claims through matching, risk scoring and the
// decision engine, and attaches the audit trail.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/decision"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/extract"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/policy"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/risk"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
)

const tracerName = "github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"

// Deps are the optional collaborators of a Pipeline. A nil field
// disables that concern.
type Deps struct {
	Cache      domain.Cache
	Repository domain.Repository
}

// Pipeline evaluates claims. It is safe for concurrent use.
type Pipeline struct {
	store   *rulestore.Store
	matcher *policy.Matcher
	scorer  *risk.Scorer
	engine  *decision.Engine

	cache   domain.Cache
	repo    domain.Repository
	cfg     domain.PipelineConfig
	version string
	tracer  trace.Tracer
}

// Submission is a claim plus the raw input it was extracted from.
type Submission struct {
	Claim    *domain.NormalizedClaim
	RawInput string
}

// New builds a pipeline over a rule store and a validated decision config.
func New(store *rulestore.Store, cfg *domain.DecisionConfig, pcfg domain.PipelineConfig, deps Deps, version string) (*Pipeline, error) {
	if store == nil {
		return nil, domain.NewConfigError("rules", "rule store is required")
	}
	engine, err := decision.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	scorer, err := risk.NewScorer(cfg)
	if err != nil {
		return nil, err
	}
	if pcfg.Workers <= 0 {
		pcfg.Workers = 8
	}
	if pcfg.CacheTTL <= 0 {
		pcfg.CacheTTL = time.Hour
	}

	return &Pipeline{
		store:   store,
		matcher: policy.NewMatcher(cfg.Matching),
		scorer:  scorer,
		engine:  engine,
		cache:   deps.Cache,
		repo:    deps.Repository,
		cfg:     pcfg,
		version: version,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Store returns the rule store the pipeline evaluates against.
func (p *Pipeline) Store() *rulestore.Store {
	return p.store
}

// Engine returns the decision engine.
func (p *Pipeline) Engine() *decision.Engine {
	return p.engine
}

// Evaluate decides one claim. A per-claim failure returns the ERROR
// record together with the cause, so callers can both report and
// classify it.
func (p *Pipeline) Evaluate(ctx context.Context, claim *domain.NormalizedClaim) (*domain.DecisionResult, error) {
	return p.evaluate(ctx, Submission{Claim: claim})
}

// EvaluateText extracts a claim from free text or JSON and decides it.
func (p *Pipeline) EvaluateText(ctx context.Context, input string) (*domain.DecisionResult, error) {
	claim, err := extract.Extract(input)
	if err != nil {
		result := p.finish(p.engine.ErrorResult(nil, err), nil, time.Now())
		return result, err
	}
	return p.evaluate(ctx, Submission{Claim: claim, RawInput: input})
}

// EvaluateSubmission decides a claim and records its raw input.
func (p *Pipeline) EvaluateSubmission(ctx context.Context, sub Submission) (*domain.DecisionResult, error) {
	return p.evaluate(ctx, sub)
}

// ErrorRecord builds the audited ERROR record for a claim that never
// reached evaluation, such as an unparseable batch entry.
func (p *Pipeline) ErrorRecord(claim *domain.NormalizedClaim, err error) *domain.DecisionResult {
	return p.finish(p.engine.ErrorResult(claim, err), claim, time.Now())
}

// EvaluateBatch decides claims with at most cfg.Workers in flight.
// Results are in input order; failures become ERROR records.
func (p *Pipeline) EvaluateBatch(ctx context.Context, claims []*domain.NormalizedClaim) []*domain.DecisionResult {
	results := make([]*domain.DecisionResult, len(claims))
	sem := make(chan struct{}, p.cfg.Workers)
	var wg sync.WaitGroup

	for i, claim := range claims {
		wg.Add(1)
		go func(i int, claim *domain.NormalizedClaim) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = p.finish(p.engine.ErrorResult(claim, ctx.Err()), claim, time.Now())
				return
			}

			result, _ := p.Evaluate(ctx, claim)
			results[i] = result
		}(i, claim)
	}

	wg.Wait()
	return results
}

type stageOutput struct {
	result *domain.DecisionResult
	meta   domain.EvalMetadata
	err    error
}

func (p *Pipeline) evaluate(ctx context.Context, sub Submission) (*domain.DecisionResult, error) {
	start := time.Now()

	if sub.Claim == nil {
		err := &domain.MissingInputError{Input: "claim"}
		return p.finish(p.engine.ErrorResult(nil, err), nil, start), err
	}
	claim := *sub.Claim
	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.String("claim.id", claim.ID),
	))
	defer span.End()

	if p.cfg.ClaimTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ClaimTimeout)
		defer cancel()
	}

	fingerprint := p.Fingerprint(&claim)
	result, cached := p.lookup(ctx, fingerprint)

	var err error
	if !cached {
		result, err = p.run(ctx, &claim)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			p.remember(ctx, fingerprint, result)
		}
	}

	result = p.finish(result, &claim, start)
	result.Metadata.Cached = cached
	span.SetAttributes(
		attribute.String("decision", string(result.Decision)),
		attribute.Float64("composite_score", result.CompositeScore),
		attribute.Bool("cached", cached),
	)

	p.persist(ctx, &claim, sub.RawInput, result)

	slog.Info("claim evaluated",
		"claim_id", claim.ID,
		"decision_id", result.ID,
		"decision", result.Decision,
		"score", result.CompositeScore,
		"cached", cached,
		"duration_ms", result.Metadata.TotalMs,
	)
	return result, err
}

// run executes the three stages, bounded by ctx.
func (p *Pipeline) run(ctx context.Context, claim *domain.NormalizedClaim) (*domain.DecisionResult, error) {
	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("claim %s: %w", claim.ID, err)
		return p.engine.ErrorResult(claim, err), err
	}

	done := make(chan stageOutput, 1)
	go func() {
		done <- p.stages(ctx, claim)
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return p.engine.ErrorResult(claim, out.err), out.err
		}
		out.result.Metadata = &out.meta
		return out.result, nil
	case <-ctx.Done():
		err := fmt.Errorf("claim %s: %w", claim.ID, ctx.Err())
		return p.engine.ErrorResult(claim, err), err
	}
}

func (p *Pipeline) stages(ctx context.Context, claim *domain.NormalizedClaim) stageOutput {
	var out stageOutput

	t := time.Now()
	_, span := p.tracer.Start(ctx, "policy.match")
	match, err := p.matcher.Match(claim, p.store)
	endSpan(span, err)
	out.meta.MatchMs = time.Since(t).Milliseconds()
	if err != nil {
		out.err = err
		return out
	}

	t = time.Now()
	_, span = p.tracer.Start(ctx, "risk.assess")
	assessment, err := p.scorer.Assess(claim, match)
	endSpan(span, err)
	out.meta.RiskMs = time.Since(t).Milliseconds()
	if err != nil {
		out.err = err
		return out
	}

	t = time.Now()
	_, span = p.tracer.Start(ctx, "decision.decide")
	result, err := p.engine.Decide(claim, match, assessment)
	endSpan(span, err)
	out.meta.DecisionMs = time.Since(t).Milliseconds()
	if err != nil {
		out.err = err
		return out
	}

	out.result = result
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// finish attaches the audit fields every returned result carries.
func (p *Pipeline) finish(result *domain.DecisionResult, claim *domain.NormalizedClaim, start time.Time) *domain.DecisionResult {
	result.ID = uuid.New().String()
	if claim != nil {
		result.ClaimID = claim.ID
	}
	result.EvaluatedAt = time.Now().UTC()
	result.RuleSnapshotVersion = p.store.Version()
	if result.ConfigVersion == "" {
		result.ConfigVersion = p.engine.Version()
	}
	if result.Metadata == nil {
		result.Metadata = &domain.EvalMetadata{}
	}
	result.Metadata.TotalMs = time.Since(start).Milliseconds()
	result.Metadata.Version = p.version
	return result
}

// Fingerprint identifies the inputs a decision depends on: the snapshot,
// the decision config and the claim's clinical fields and cost.
func (p *Pipeline) Fingerprint(claim *domain.NormalizedClaim) string {
	h := sha256.New()
	for _, part := range []string{
		p.store.Version(),
		p.engine.Version(),
		claim.Diagnosis,
		claim.Procedure,
		claim.Cost.String(),
		claim.Language,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (p *Pipeline) lookup(ctx context.Context, fingerprint string) (*domain.DecisionResult, bool) {
	if p.cache == nil {
		return nil, false
	}
	result, err := p.cache.GetDecision(ctx, fingerprint)
	if err != nil {
		slog.Warn("decision cache read failed", "error", err)
		return nil, false
	}
	return result, result != nil
}

// remember caches result without its per-evaluation identity.
func (p *Pipeline) remember(ctx context.Context, fingerprint string, result *domain.DecisionResult) {
	if p.cache == nil {
		return
	}
	entry := *result
	entry.ID = ""
	entry.ClaimID = ""
	entry.EvaluatedAt = time.Time{}
	entry.Metadata = nil
	if err := p.cache.SetDecision(ctx, fingerprint, &entry, p.cfg.CacheTTL); err != nil {
		slog.Warn("decision cache write failed", "error", err)
	}
}

func (p *Pipeline) persist(ctx context.Context, claim *domain.NormalizedClaim, raw string, result *domain.DecisionResult) {
	if p.repo == nil || !p.cfg.PersistResults {
		return
	}
	// Persist even when the evaluation deadline has passed.
	ctx = context.WithoutCancel(ctx)

	record := &domain.ClaimRecord{
		NormalizedClaim: *claim,
		SubmittedAt:     result.EvaluatedAt,
		RawInput:        raw,
	}
	if err := p.repo.SaveClaim(ctx, record); err != nil {
		slog.Error("failed to save claim", "claim_id", claim.ID, "error", err)
	}
	if err := p.repo.SaveDecision(ctx, result); err != nil {
		slog.Error("failed to save decision", "decision_id", result.ID, "error", err)
	}
}

// IsTimeout reports whether err came from the per-claim deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
