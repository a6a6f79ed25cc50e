// Package bus carries claim pipeline events over Go channels or NATS.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// MetadataTraceID carries the publisher's trace ID across the bus.
const MetadataTraceID = "trace_id"

// New creates a new event bus based on configuration.
// "channel" returns an in-process ChannelBus, "nats" a NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

func newMessage(ctx context.Context, topic string, payload []byte) (*domain.Message, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetadataTraceID] = sc.TraceID().String()
	}
	return msg, nil
}
