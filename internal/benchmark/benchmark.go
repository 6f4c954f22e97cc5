// Package benchmark scores a labelled transaction file and compares the
// predicted risk buckets with the fraud labels.
package benchmark

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/riskboard/internal/csvinput"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/scoring"
)

// DefaultLabelField is the fraud label column of the common card-fraud
// datasets.
const DefaultLabelField = "is_fraud"

// Options controls Run.
type Options struct {
	// LabelField names the 0/1 fraud column. Defaults to DefaultLabelField.
	LabelField string

	// MinLevel is the lowest bucket counted as a fraud prediction.
	// Defaults to High.
	MinLevel domain.RiskLevel
}

func (o *Options) defaults() {
	if o.LabelField == "" {
		o.LabelField = DefaultLabelField
	}
	if !o.MinLevel.Valid() {
		o.MinLevel = domain.RiskHigh
	}
}

// Metrics is a confusion matrix plus the rows that could not be compared.
type Metrics struct {
	TruePositives  int `json:"truePositives"`
	FalsePositives int `json:"falsePositives"`
	TrueNegatives  int `json:"trueNegatives"`
	FalseNegatives int `json:"falseNegatives"`

	// Unlabelled rows had no usable label; Unscored rows were dropped by
	// the scorer.
	Unlabelled int `json:"unlabelled"`
	Unscored   int `json:"unscored"`

	Duration time.Duration `json:"duration"`
}

// Total is the number of compared rows.
func (m Metrics) Total() int {
	return m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
}

// Precision is TP / (TP + FP), or 0 when nothing was flagged.
func (m Metrics) Precision() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
}

// Recall is TP / (TP + FN), or 0 when there was no fraud.
func (m Metrics) Recall() float64 {
	return ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is (TP + TN) / Total.
func (m Metrics) Accuracy() float64 {
	return ratio(m.TruePositives+m.TrueNegatives, m.Total())
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Labels reads the fraud label of every row keyed by transaction ID.
func Labels(rows []domain.Transaction, field string) map[string]bool {
	out := make(map[string]bool, len(rows))
	for i := range rows {
		v, ok := rows[i].Get(field)
		if !ok {
			continue
		}
		if label, ok := parseLabel(v); ok {
			out[rows[i].ID] = label
		}
	}
	return out
}

func parseLabel(v any) (bool, bool) {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "fraud":
			return true, true
		case "0", "false", "no", "legit":
			return false, true
		}
	}
	f, ok := domain.ToFloat(v)
	if !ok {
		return false, false
	}
	return f != 0, true
}

// Compare fills the confusion matrix. A scored row takes its label from its
// own columns when the scorer echoed them, else from labels by ID.
func Compare(scored []domain.ProcessedTransaction, labels map[string]bool, opts Options) Metrics {
	opts.defaults()

	var m Metrics
	for i := range scored {
		rec := &scored[i]

		actual, ok := false, false
		if v, found := rec.Get(opts.LabelField); found {
			actual, ok = parseLabel(v)
		}
		if !ok {
			actual, ok = labels[rec.ID]
		}
		if !ok {
			m.Unlabelled++
			continue
		}

		predicted := rec.RiskLevel.Severity() >= opts.MinLevel.Severity()
		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
	return m
}

// Run scores up with s and compares the result with the labels in the file.
// A total scoring failure is returned as *domain.APIError.
func Run(ctx context.Context, s scoring.Scorer, up scoring.Upload, opts Options) (Metrics, error) {
	opts.defaults()

	rows, err := csvinput.Parse(bytes.NewReader(up.Data))
	if err != nil {
		return Metrics{}, fmt.Errorf("reading labels: %w", err)
	}
	labels := Labels(rows, opts.LabelField)
	if len(labels) == 0 {
		return Metrics{}, fmt.Errorf("%w: no %q labels in %s", domain.ErrInvalidInput, opts.LabelField, up.FileName)
	}

	start := time.Now()
	outcome := s.Score(ctx, up)
	if outcome.Failed() {
		return Metrics{}, outcome.Err
	}

	m := Compare(outcome.Transactions, labels, opts)
	m.Duration = time.Since(start)
	if n := len(rows) - len(outcome.Transactions); n > 0 {
		m.Unscored = n
	}
	return m, nil
}
