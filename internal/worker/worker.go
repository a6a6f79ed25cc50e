// Package worker evaluates claims submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/bus"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"
)

// Evaluator decides claims. *pipeline.Pipeline satisfies it.
type Evaluator interface {
	EvaluateSubmission(ctx context.Context, sub pipeline.Submission) (*domain.DecisionResult, error)
	EvaluateText(ctx context.Context, input string) (*domain.DecisionResult, error)
}

// ClaimMessage is the payload of a submitted claim: either a structured
// claim or free text for the extractor.
type ClaimMessage struct {
	Claim *domain.NormalizedClaim `json:"claim,omitempty"`
	Text  string                  `json:"text,omitempty"`
}

// Submit publishes a claim for asynchronous evaluation.
func Submit(ctx context.Context, eventBus domain.EventBus, msg ClaimMessage) error {
	if msg.Claim == nil && msg.Text == "" {
		return &domain.MissingInputError{Input: "claim or text"}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode claim message: %w", err)
	}
	return eventBus.Publish(ctx, domain.TopicClaimSubmitted, payload)
}

// Worker consumes auditor.claim.submitted and publishes each decision to
// auditor.claim.decided, review cases also to auditor.claim.review, and
// error records to auditor.claim.failed.
type Worker struct {
	bus       domain.EventBus
	evaluator Evaluator

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
	review    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds in-flight evaluations
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, evaluator Evaluator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		evaluator: evaluator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submitted claims.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicClaimSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("claim worker started",
		"topic", domain.TopicClaimSubmitted,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage hands the message to a bounded goroutine so a slow claim
// does not block delivery.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		if err := w.process(w.ctx, msg); err != nil {
			slog.Error("claim processing failed",
				"message_id", msg.ID,
				"error", err,
			)
		}
	}()
	return nil
}

func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var claimMsg ClaimMessage
	if err := json.Unmarshal(msg.Payload, &claimMsg); err != nil {
		w.failed.Add(1)
		return fmt.Errorf("failed to parse claim message: %w", err)
	}

	var result *domain.DecisionResult
	var err error
	if claimMsg.Claim != nil {
		result, err = w.evaluator.EvaluateSubmission(ctx, pipeline.Submission{Claim: claimMsg.Claim, RawInput: claimMsg.Text})
	} else {
		result, err = w.evaluator.EvaluateText(ctx, claimMsg.Text)
	}
	if result == nil {
		w.failed.Add(1)
		return fmt.Errorf("evaluator returned no result: %w", err)
	}
	if err != nil {
		slog.Warn("claim evaluation failed",
			"message_id", msg.ID,
			"claim_id", result.ClaimID,
			"error", err,
		)
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		w.failed.Add(1)
		return fmt.Errorf("failed to encode decision: %w", merr)
	}

	for _, topic := range topicsFor(result) {
		if perr := w.bus.Publish(ctx, topic, payload); perr != nil {
			slog.Error("failed to publish decision",
				"topic", topic,
				"claim_id", result.ClaimID,
				"error", perr,
			)
		}
	}

	switch {
	case result.IsError():
		w.failed.Add(1)
	case result.Decision == domain.DecisionRequiresReview:
		w.review.Add(1)
	}
	w.processed.Add(1)

	slog.Info("claim processed",
		"claim_id", result.ClaimID,
		"trace_id", msg.Metadata[bus.MetadataTraceID],
		"decision", result.Decision,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func topicsFor(result *domain.DecisionResult) []string {
	switch {
	case result.IsError():
		return []string{domain.TopicClaimFailed}
	case result.Decision == domain.DecisionRequiresReview:
		return []string{domain.TopicClaimDecided, domain.TopicClaimReview}
	default:
		return []string{domain.TopicClaimDecided}
	}
}

// Stop unsubscribes and waits for in-flight claims.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("claim worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	Review            int64    `json:"review"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		Review:            w.review.Load(),
	}
}
