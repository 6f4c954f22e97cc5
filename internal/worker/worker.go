// Package worker records analysis lifecycle events into the audit trail.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/riskboard/internal/bus"
	"github.com/opensource-finance/riskboard/internal/domain"
)

// Topics consumed by the recorder.
var Topics = []string{
	domain.TopicAnalysisCompleted,
	domain.TopicAnalysisFailed,
}

// Worker consumes analysis events from the EventBus and persists them.
// With the NATS bus several dashboard replicas share one recorder.
type Worker struct {
	bus  domain.EventBus
	repo domain.Repository

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	recorded atomic.Int64
	failed   atomic.Int64
}

// NewWorker creates a new audit worker.
func NewWorker(eventBus domain.EventBus, repo domain.Repository) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the analysis topics under the global scope.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range Topics {
		sub, err := w.bus.Subscribe(w.ctx, domain.GlobalScope, topic, w.handleMessage)
		if err != nil {
			for _, s := range w.subscriptions {
				_ = s.Unsubscribe()
			}
			w.subscriptions = nil
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("audit worker started", "topics", Topics)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	ev, err := bus.DecodeAnalysis(msg)
	if err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse analysis event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	if w.repo == nil {
		return nil
	}

	rec := ev.Record
	rec.TenantID = ev.TenantID
	if err := w.repo.SaveAnalysis(ctx, ev.TenantID, rec); err != nil {
		w.failed.Add(1)
		slog.Error("failed to save analysis",
			"analysis_id", rec.ID,
			"tenant_id", ev.TenantID,
			"trace_id", msg.Metadata[bus.MetaTraceID],
			"error", err,
		)
		return err
	}

	w.recorded.Add(1)
	slog.Debug("analysis recorded",
		"analysis_id", rec.ID,
		"tenant_id", ev.TenantID,
		"status", rec.Status,
		"total", rec.Total,
		"trace_id", msg.Metadata[bus.MetaTraceID],
	)
	return nil
}

// Stop unsubscribes from every topic.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("audit worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Recorded          int64    `json:"recorded"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Recorded:          w.recorded.Load(),
		Failed:            w.failed.Load(),
	}
}
