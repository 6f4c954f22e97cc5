// Package session holds the active analysis of every tenant and runs the
// upload and demo flows that replace it.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/riskboard/internal/aggregate"
	"github.com/opensource-finance/riskboard/internal/bus"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/mock"
	"github.com/opensource-finance/riskboard/internal/progress"
	"github.com/opensource-finance/riskboard/internal/risk"
	"github.com/opensource-finance/riskboard/internal/scoring"
	"github.com/opensource-finance/riskboard/internal/view"
)

var (
	ErrNoFile          = errors.New("no file selected")
	ErrInvalidFileType = errors.New("invalid file type: please select a CSV file")
	ErrBusy            = errors.New("an analysis is already in progress")
	ErrRateLimited     = errors.New("too many uploads, try again in a minute")
	ErrNoAnalysis      = errors.New("no analysis available")
	ErrDemoTooLarge    = errors.New("demo count exceeds the configured maximum")
)

// DefaultMaxDemoCount bounds a demo run when no maximum is configured.
const DefaultMaxDemoCount = 1_000_000

const uploadCounterKey = "uploads"

// Options wires a Manager. Scorer is required; Cache and Bus are optional.
type Options struct {
	Scorer     scoring.Scorer
	Cache      domain.Cache
	Bus        domain.EventBus
	Classifier risk.Classifier

	TopN         int
	PageSize     int
	DemoCount    int
	MaxDemoCount int
	MockSeed     int64

	// UploadsPerMinute limits uploads per tenant. Zero disables the limit.
	UploadsPerMinute int
	ScoredTTL        time.Duration
	ProgressInterval time.Duration

	Now func() time.Time
}

// OptionsFromConfig maps the analysis and cache settings onto Options.
func OptionsFromConfig(cfg *domain.Config) Options {
	return Options{
		Classifier: risk.Classifier{
			MediumThreshold: cfg.Analysis.MediumThreshold,
			HighThreshold:   cfg.Analysis.HighThreshold,
		},
		TopN:             cfg.Analysis.TopN,
		PageSize:         cfg.Analysis.PageSize,
		DemoCount:        cfg.Analysis.DemoCount,
		MaxDemoCount:     cfg.Analysis.MaxDemoCount,
		MockSeed:         cfg.Analysis.MockSeed,
		UploadsPerMinute: cfg.Analysis.UploadsPerMinute,
		ScoredTTL:        cfg.Cache.ScoredTTL,
		ProgressInterval: cfg.Analysis.ProgressInterval,
	}
}

// Manager keeps one slot per tenant.
type Manager struct {
	opts Options
	mock *mock.Generator

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	current  atomic.Pointer[active]
	busy     atomic.Bool
	progress *progress.Tracker
}

// active pairs an analysis with its table so both are swapped together.
type active struct {
	analysis *domain.Analysis
	table    *view.Table
}

// NewManager returns a Manager with defaults filled in.
func NewManager(opts Options) *Manager {
	if opts.Classifier == (risk.Classifier{}) {
		opts.Classifier = risk.DefaultClassifier()
	}
	if opts.TopN <= 0 {
		opts.TopN = aggregate.DefaultTopN
	}
	if opts.PageSize <= 0 {
		opts.PageSize = view.DefaultPageSize
	}
	if opts.MaxDemoCount <= 0 {
		opts.MaxDemoCount = DefaultMaxDemoCount
	}
	if opts.DemoCount <= 0 {
		opts.DemoCount = 50
	}
	opts.DemoCount = min(opts.DemoCount, opts.MaxDemoCount)
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts: opts,
		mock: mock.New(mock.Config{
			Seed:       opts.MockSeed,
			Classifier: opts.Classifier,
		}),
		slots: make(map[string]*slot),
	}
}

func (m *Manager) slot(tenantID string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[tenantID]
	if !ok {
		s = &slot{progress: progress.NewTracker(m.opts.ProgressInterval)}
		m.slots[tenantID] = s
	}
	return s
}

// lookup is the read-path variant of slot: it never creates one.
func (m *Manager) lookup(tenantID string) (*slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[tenantID]
	return s, ok
}

func (m *Manager) loadActive(tenantID string) *active {
	s, ok := m.lookup(tenantID)
	if !ok {
		return nil
	}
	return s.current.Load()
}

// ValidateUpload rejects a missing file or a non-CSV name.
func ValidateUpload(up scoring.Upload) error {
	if up.FileName == "" || len(up.Data) == 0 {
		return ErrNoFile
	}
	if !strings.EqualFold(filepath.Ext(up.FileName), ".csv") {
		return ErrInvalidFileType
	}
	return nil
}

// Submit scores an uploaded file and, unless scoring failed outright,
// replaces the tenant's analysis. A scoring failure is returned as
// *domain.APIError and leaves the previous analysis in place.
//
// The scorer runs detached from ctx: an abandoned request still finishes.
func (m *Manager) Submit(ctx context.Context, tenantID string, up scoring.Upload) (*domain.Analysis, error) {
	if err := ValidateUpload(up); err != nil {
		return nil, err
	}

	s := m.slot(tenantID)
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	if err := m.checkRate(ctx, tenantID); err != nil {
		return nil, err
	}

	start := time.Now()
	s.progress.Start()

	outcome := m.score(context.WithoutCancel(ctx), tenantID, up)
	duration := time.Since(start)

	if outcome.Failed() {
		s.progress.Reset()
		m.publishFailure(ctx, tenantID, up.FileName, outcome.Err, duration)

		slog.Warn("analysis failed",
			"tenant_id", tenantID,
			"file", up.FileName,
			"status_code", outcome.Err.StatusCode,
			"error", outcome.Err.Message,
			"duration_ms", duration.Milliseconds(),
		)
		return nil, outcome.Err
	}

	a := m.build(tenantID, domain.SourceUpload, up.FileName, outcome.Transactions)
	a.Warning = outcome.Err
	m.swap(s, a)
	s.progress.Complete()
	m.publishCompleted(ctx, a, duration)

	slog.Info("analysis completed",
		"tenant_id", tenantID,
		"analysis_id", a.ID,
		"file", up.FileName,
		"total", a.Summary.Total,
		"status", scoring.StatusText(outcome),
		"duration_ms", duration.Milliseconds(),
	)
	return a, nil
}

func (m *Manager) checkRate(ctx context.Context, tenantID string) error {
	if m.opts.UploadsPerMinute <= 0 || m.opts.Cache == nil {
		return nil
	}
	n, err := m.opts.Cache.IncrementCounter(ctx, tenantID, uploadCounterKey, time.Minute)
	if err != nil {
		// the limiter fails open
		slog.Warn("upload counter unavailable", "tenant_id", tenantID, "error", err)
		return nil
	}
	if n > int64(m.opts.UploadsPerMinute) {
		return ErrRateLimited
	}
	return nil
}

// score consults the scored-result cache before calling the scorer.
func (m *Manager) score(ctx context.Context, tenantID string, up scoring.Upload) scoring.Outcome {
	sum := sha256.Sum256(up.Data)
	digest := hex.EncodeToString(sum[:])

	if m.opts.Cache != nil {
		cached, err := m.opts.Cache.GetScored(ctx, tenantID, digest)
		if err != nil {
			slog.Warn("scored cache lookup failed", "tenant_id", tenantID, "error", err)
		}
		if cached != nil {
			slog.Debug("scored cache hit", "tenant_id", tenantID, "digest", digest)
			return scoring.Outcome{Transactions: cached.Transactions, Err: cached.Warning}
		}
	}

	outcome := m.opts.Scorer.Score(ctx, up)

	if m.opts.Cache != nil && !outcome.Failed() && m.opts.ScoredTTL > 0 {
		sf := &domain.ScoredFile{Transactions: outcome.Transactions, Warning: outcome.Err}
		if err := m.opts.Cache.SetScored(ctx, tenantID, digest, sf, m.opts.ScoredTTL); err != nil {
			slog.Warn("failed to cache scored file", "tenant_id", tenantID, "error", err)
		}
	}
	return outcome
}

// Demo replaces the tenant's analysis with count generated records.
// count <= 0 uses the configured demo size; more than MaxDemoCount fails
// with ErrDemoTooLarge before anything is generated.
func (m *Manager) Demo(ctx context.Context, tenantID string, count int) (*domain.Analysis, error) {
	if count <= 0 {
		count = m.opts.DemoCount
	}
	if count > m.opts.MaxDemoCount {
		return nil, fmt.Errorf("%w: %d > %d", ErrDemoTooLarge, count, m.opts.MaxDemoCount)
	}

	s := m.slot(tenantID)
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.busy.Store(false)

	start := time.Now()
	a := m.build(tenantID, domain.SourceDemo, "", m.mock.Generate(count))
	m.swap(s, a)
	s.progress.Reset()
	m.publishCompleted(ctx, a, time.Since(start))

	slog.Info("demo analysis generated",
		"tenant_id", tenantID,
		"analysis_id", a.ID,
		"total", a.Summary.Total,
	)
	return a, nil
}

func (m *Manager) build(tenantID string, source domain.Source, fileName string, list []domain.ProcessedTransaction) *domain.Analysis {
	return &domain.Analysis{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Source:       source,
		FileName:     fileName,
		CreatedAt:    m.opts.Now().UTC(),
		Transactions: list,
		Summary:      aggregate.Summarize(list, m.opts.TopN),
	}
}

func (m *Manager) swap(s *slot, a *domain.Analysis) {
	s.current.Store(&active{
		analysis: a,
		table:    view.NewTable(a.Transactions, m.opts.PageSize),
	})
}

func (m *Manager) publishCompleted(ctx context.Context, a *domain.Analysis, d time.Duration) {
	m.publish(ctx, domain.TopicAnalysisCompleted, domain.AnalysisEvent{
		TenantID: a.TenantID,
		Record:   a.Record(d),
	})
}

func (m *Manager) publishFailure(ctx context.Context, tenantID, fileName string, apiErr *domain.APIError, d time.Duration) {
	m.publish(ctx, domain.TopicAnalysisFailed, domain.AnalysisEvent{
		TenantID: tenantID,
		Record: &domain.AnalysisRecord{
			ID:         uuid.New().String(),
			TenantID:   tenantID,
			Source:     domain.SourceUpload,
			FileName:   fileName,
			Status:     domain.AnalysisFailed,
			Message:    apiErr.Message,
			StatusCode: apiErr.StatusCode,
			DurationMs: d.Milliseconds(),
			CreatedAt:  m.opts.Now().UTC(),
		},
	})
}

func (m *Manager) publish(ctx context.Context, topic string, ev domain.AnalysisEvent) {
	if m.opts.Bus == nil {
		return
	}
	if err := bus.PublishAnalysis(context.WithoutCancel(ctx), m.opts.Bus, topic, ev); err != nil {
		slog.Error("failed to publish analysis event",
			"topic", topic,
			"tenant_id", ev.TenantID,
			"error", err,
		)
	}
}

// Current returns the tenant's analysis.
func (m *Manager) Current(tenantID string) (*domain.Analysis, bool) {
	act := m.loadActive(tenantID)
	if act == nil {
		return nil, false
	}
	return act.analysis, true
}

// Table returns the table view of the tenant's analysis.
func (m *Manager) Table(tenantID string) (*view.Table, bool) {
	act := m.loadActive(tenantID)
	if act == nil {
		return nil, false
	}
	return act.table, true
}

// Progress returns the synthetic upload progress of the tenant.
func (m *Manager) Progress(tenantID string) progress.Status {
	s, ok := m.lookup(tenantID)
	if !ok {
		return progress.Status{State: progress.StateIdle}
	}
	return s.progress.Status()
}

// InFlight reports whether the tenant has an upload or demo running.
func (m *Manager) InFlight(tenantID string) bool {
	s, ok := m.lookup(tenantID)
	return ok && s.busy.Load()
}

// Reset drops the tenant's analysis. It fails with ErrBusy while an upload
// is in flight.
func (m *Manager) Reset(tenantID string) error {
	s, ok := m.lookup(tenantID)
	if !ok {
		return nil
	}
	if s.busy.Load() {
		return ErrBusy
	}
	s.current.Store(nil)
	s.progress.Reset()
	return nil
}

// Close stops every progress timer.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		s.progress.Reset()
	}
}
