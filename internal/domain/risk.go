package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// RiskLevel is an ordinal fraud risk bucket.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// RiskLevels lists the buckets from most to least severe, the order the
// dashboard renders them in.
var RiskLevels = []RiskLevel{RiskHigh, RiskMedium, RiskLow}

// Severity returns 1 for Low, 2 for Medium, 3 for High and 0 otherwise.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the three known buckets.
func (l RiskLevel) Valid() bool {
	return l.Severity() > 0
}

// Label is the chart label for the bucket, e.g. "High Risk".
func (l RiskLevel) Label() string {
	if !l.Valid() {
		return UnknownRiskLabel
	}
	return string(l) + " Risk"
}

// ParseRiskLevel accepts "high", "High", "HIGH" and the like.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, l := range RiskLevels {
		if equalFold(string(l), s) {
			return l, nil
		}
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrInvalidInput, s)
}

// UnknownRiskLabel is used for records whose level is not a known bucket.
const UnknownRiskLabel = "Unknown"

// ProcessedTransaction is a raw Transaction plus the two derived fields.
// FraudProbability is not clamped by producers.
type ProcessedTransaction struct {
	Transaction
	RiskLevel        RiskLevel
	FraudProbability float64
}

// ClampedProbability returns the probability clamped to [0,1]; NaN becomes 0.
func (p *ProcessedTransaction) ClampedProbability() float64 {
	v := p.FraudProbability
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ResolvedAmount picks the amount from either alias, preferring "amount".
// Both aliases stay on the record for renderers that still read "amt".
func (p *ProcessedTransaction) ResolvedAmount() (float64, bool) {
	if p.Amount != nil {
		return *p.Amount, true
	}
	if p.Amt != nil {
		return *p.Amt, true
	}
	return 0, false
}

// ResolvedDate picks the date from either alias, preferring "date".
func (p *ProcessedTransaction) ResolvedDate() string {
	if p.Date != "" {
		return p.Date
	}
	return p.TransDateTransTime
}

// MarshalJSON writes the raw fields plus risk_level and fraud_probability.
func (p ProcessedTransaction) MarshalJSON() ([]byte, error) {
	m := p.Transaction.toMap()
	m[FieldRiskLevel] = p.RiskLevel
	prob := p.FraudProbability
	if math.IsNaN(prob) || math.IsInf(prob, 0) {
		prob = p.ClampedProbability()
	}
	m[FieldFraudProbability] = prob
	return json.Marshal(m)
}

// UnmarshalJSON reads a flat object as written by MarshalJSON.
func (p *ProcessedTransaction) UnmarshalJSON(data []byte) error {
	var t Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	*p = ProcessedTransaction{Transaction: t}
	if v, ok := t.Extra[FieldRiskLevel]; ok {
		p.RiskLevel = RiskLevel(toString(v))
		delete(p.Extra, FieldRiskLevel)
	}
	if v, ok := t.Extra[FieldFraudProbability]; ok {
		if f, ok := ToFloat(v); ok {
			p.FraudProbability = f
		}
		delete(p.Extra, FieldFraudProbability)
	}
	if len(p.Extra) == 0 {
		p.Extra = nil
	}
	return nil
}

// RiskDistData is one bar of the risk distribution chart.
type RiskDistData struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// TrendPoint is one point of the probability trend line. ID is the one-based
// position of the record in the analysed list.
type TrendPoint struct {
	ID    int     `json:"id"`
	Value float64 `json:"value"`
}

// ChartBar is one bar of the top-risk comparison chart.
type ChartBar struct {
	Name        string    `json:"name"`
	Probability float64   `json:"probability"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	ID          string    `json:"id"`
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
