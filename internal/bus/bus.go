package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/riskboard/internal/domain"
)

// MetaTraceID is the metadata key carrying the publisher's trace ID.
const MetaTraceID = "trace_id"

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
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

// newMessage builds the envelope shared by both buses. The trace of the
// publishing request, if any, travels in the metadata.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
	}
	return msg
}

// PublishAnalysis publishes an analysis lifecycle event under the global
// scope. The originating tenant is carried in the payload.
func PublishAnalysis(ctx context.Context, b domain.EventBus, topic string, ev domain.AnalysisEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}
	return b.Publish(ctx, domain.GlobalScope, topic, data)
}

// DecodeAnalysis reads the payload written by PublishAnalysis.
func DecodeAnalysis(msg *domain.Message) (domain.AnalysisEvent, error) {
	var ev domain.AnalysisEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal analysis event: %w", err)
	}
	if ev.TenantID == "" || ev.Record == nil {
		return ev, fmt.Errorf("%w: analysis event without tenant or record", domain.ErrInvalidInput)
	}
	return ev, nil
}
