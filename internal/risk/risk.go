// Package risk maps fraud probabilities to risk buckets and builds
// processed records from raw scorer output.
package risk

import (
	"fmt"
	"math"

	"github.com/opensource-finance/riskboard/internal/domain"
)

// Default bucket thresholds.
const (
	DefaultMediumThreshold = 0.3
	DefaultHighThreshold   = 0.7
)

// Classifier buckets a probability using two inclusive lower bounds.
type Classifier struct {
	MediumThreshold float64
	HighThreshold   float64
}

// DefaultClassifier returns the 0.3 / 0.7 classifier.
func DefaultClassifier() Classifier {
	return Classifier{MediumThreshold: DefaultMediumThreshold, HighThreshold: DefaultHighThreshold}
}

// NewClassifier validates the thresholds.
func NewClassifier(medium, high float64) (Classifier, error) {
	if math.IsNaN(medium) || math.IsNaN(high) || medium < 0 || high > 1 || medium > high {
		return Classifier{}, fmt.Errorf("%w: thresholds must satisfy 0 <= medium <= high <= 1 (got %v, %v)",
			domain.ErrInvalidInput, medium, high)
	}
	return Classifier{MediumThreshold: medium, HighThreshold: high}, nil
}

// Classify returns High for p >= HighThreshold, Medium for p >= MediumThreshold
// and Low otherwise. NaN is Low.
func (c Classifier) Classify(p float64) domain.RiskLevel {
	switch {
	case math.IsNaN(p):
		return domain.RiskLow
	case p >= c.HighThreshold:
		return domain.RiskHigh
	case p >= c.MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Normalize attaches p and its bucket to raw. Every raw field, both alias
// variants and Extra included, is carried over unchanged.
func (c Classifier) Normalize(raw domain.Transaction, p float64) domain.ProcessedTransaction {
	return domain.ProcessedTransaction{
		Transaction:      raw,
		RiskLevel:        c.Classify(p),
		FraudProbability: p,
	}
}

// Classify uses the default thresholds.
func Classify(p float64) domain.RiskLevel {
	return DefaultClassifier().Classify(p)
}

// Normalize uses the default thresholds.
func Normalize(raw domain.Transaction, p float64) domain.ProcessedTransaction {
	return DefaultClassifier().Normalize(raw, p)
}
