package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/bus"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/decision"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/pipeline"
	"github.com/SophieXueZhang/medicare-claims-auditor/internal/rulestore"
)

func newEvaluator(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	store, err := rulestore.Builtin()
	if err != nil {
		t.Fatalf("failed to load builtin rules: %v", err)
	}
	p, err := pipeline.New(store, decision.DefaultConfig(), domain.PipelineConfig{}, pipeline.Deps{}, "test")
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	return p
}

// collect subscribes to topic and returns received decisions.
type collector struct {
	mu      sync.Mutex
	results []*domain.DecisionResult
	ch      chan struct{}
}

func collect(t *testing.T, b domain.EventBus, topic string) *collector {
	t.Helper()
	c := &collector{ch: make(chan struct{}, 100)}
	_, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		var r domain.DecisionResult
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			return err
		}
		c.mu.Lock()
		c.results = append(c.results, &r)
		c.mu.Unlock()
		c.ch <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe %s failed: %v", topic, err)
	}
	return c
}

func (c *collector) wait(t *testing.T, n int) []*domain.DecisionResult {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.DecisionResult(nil), c.results...)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}

func TestWorkerStartAndStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, newEvaluator(t))
	if err := w.Start(Config{Concurrency: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicClaimSubmitted {
		t.Errorf("expected topic %s, got %v", domain.TopicClaimSubmitted, stats.Topics)
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if stats := w.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestWorkerProcessesClaims(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	decided := collect(t, eventBus, domain.TopicClaimDecided)
	review := collect(t, eventBus, domain.TopicClaimReview)
	failed := collect(t, eventBus, domain.TopicClaimFailed)

	w := NewWorker(eventBus, newEvaluator(t))
	if err := w.Start(Config{Concurrency: 2}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ctx := context.Background()

	t.Run("ApprovedClaim", func(t *testing.T) {
		err := Submit(ctx, eventBus, ClaimMessage{Claim: &domain.NormalizedClaim{
			ID:        "claim-approved",
			Diagnosis: "Senile cataract",
			Procedure: "Cataract phacoemulsification with intraocular lens implant",
			Cost:      decimal.NewFromInt(3500),
		}})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		results := decided.wait(t, 1)
		if results[0].ClaimID != "claim-approved" {
			t.Errorf("expected claim-approved, got %s", results[0].ClaimID)
		}
		if results[0].Decision != domain.DecisionApproved {
			t.Errorf("expected APPROVED, got %s", results[0].Decision)
		}
	})

	t.Run("ReviewClaimFromText", func(t *testing.T) {
		err := Submit(ctx, eventBus, ClaimMessage{
			Text: "Diagnosis: Acute respiratory failure\nProcedure: Invasive mechanical ventilation\nCost: 21548.55",
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		reviewed := review.wait(t, 1)
		if reviewed[0].Decision != domain.DecisionRequiresReview {
			t.Errorf("expected REQUIRES_REVIEW, got %s", reviewed[0].Decision)
		}
		if all := decided.wait(t, 1); len(all) != 2 {
			t.Errorf("expected review case on decided topic too, got %d decided", len(all))
		}
	})

	t.Run("FailedClaim", func(t *testing.T) {
		if err := Submit(ctx, eventBus, ClaimMessage{Text: "Cost: 100"}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		results := failed.wait(t, 1)
		if !results[0].IsError() {
			t.Errorf("expected ERROR record, got %s", results[0].Decision)
		}
		time.Sleep(50 * time.Millisecond)
		if decided.count() != 2 {
			t.Errorf("expected error record to skip decided topic, got %d decided", decided.count())
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		before := w.GetStats().Failed
		eventBus.Publish(ctx, domain.TopicClaimSubmitted, []byte("{not json"))
		time.Sleep(50 * time.Millisecond)

		if got := w.GetStats().Failed; got != before+1 {
			t.Errorf("expected failed count %d, got %d", before+1, got)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		stats := w.GetStats()
		if stats.Processed != 3 {
			t.Errorf("expected 3 processed, got %d", stats.Processed)
		}
		if stats.Review != 1 {
			t.Errorf("expected 1 review, got %d", stats.Review)
		}
		if stats.Failed != 2 {
			t.Errorf("expected 2 failed, got %d", stats.Failed)
		}
	})
}

func TestSubmitRequiresContent(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	if err := Submit(context.Background(), eventBus, ClaimMessage{}); err == nil {
		t.Error("expected error for empty claim message")
	}
}
