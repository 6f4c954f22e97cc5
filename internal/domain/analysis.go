package domain

import "time"

// Source tells how an analysis was produced.
type Source string

const (
	SourceUpload Source = "upload"
	SourceDemo   Source = "demo"
)

// Summary holds the dashboard aggregates of one result set.
type Summary struct {
	Total        int                    `json:"total"`
	Distribution []RiskDistData         `json:"distribution"`
	Trend        []TrendPoint           `json:"trend"`
	TopHigh      []ProcessedTransaction `json:"topHigh"`
	TopMedium    []ProcessedTransaction `json:"topMedium"`
	TopLow       []ProcessedTransaction `json:"topLow"`
}

// Top returns the top table for one bucket.
func (s *Summary) Top(level RiskLevel) []ProcessedTransaction {
	switch level {
	case RiskHigh:
		return s.TopHigh
	case RiskMedium:
		return s.TopMedium
	case RiskLow:
		return s.TopLow
	}
	return nil
}

// Analysis is the result of one upload or demo run for a tenant. It is
// immutable once published; a new run replaces it as a whole.
type Analysis struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenantId"`
	Source       Source                 `json:"source"`
	FileName     string                 `json:"fileName,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	Transactions []ProcessedTransaction `json:"-"`
	Summary      Summary                `json:"summary"`

	// Warning is set when some rows could not be scored.
	Warning *APIError `json:"warning,omitempty"`
}

// Record returns the audit row for a.
func (a *Analysis) Record(duration time.Duration) *AnalysisRecord {
	rec := &AnalysisRecord{
		ID:         a.ID,
		TenantID:   a.TenantID,
		Source:     a.Source,
		FileName:   a.FileName,
		Status:     AnalysisCompleted,
		Total:      a.Summary.Total,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  a.CreatedAt,
	}
	for _, d := range a.Summary.Distribution {
		switch d.Name {
		case RiskHigh.Label():
			rec.HighCount = d.Value
		case RiskMedium.Label():
			rec.MediumCount = d.Value
		case RiskLow.Label():
			rec.LowCount = d.Value
		}
	}
	if a.Warning != nil {
		rec.Status = AnalysisPartial
		rec.Message = a.Warning.Message
	}
	return rec
}

// Analysis statuses stored in the audit trail.
const (
	AnalysisCompleted = "completed"
	AnalysisPartial   = "partial"
	AnalysisFailed    = "failed"
)

// AnalysisRecord is the persisted audit row of an analysis attempt.
// Transactions are never persisted.
type AnalysisRecord struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Source      Source    `json:"source"`
	FileName    string    `json:"fileName,omitempty"`
	Status      string    `json:"status"`
	Total       int       `json:"total"`
	HighCount   int       `json:"highCount"`
	MediumCount int       `json:"mediumCount"`
	LowCount    int       `json:"lowCount"`
	Message     string    `json:"message,omitempty"`
	StatusCode  int       `json:"statusCode,omitempty"`
	DurationMs  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
}
