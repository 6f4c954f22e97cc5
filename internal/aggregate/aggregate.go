// Package aggregate computes the dashboard aggregates of a processed
// result set. All functions are pure and safe for concurrent use.
package aggregate

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/riskboard/internal/domain"
)

// DefaultTopN is used when a caller asks for n <= 0 rows.
const DefaultTopN = 5

type bucketCounts struct {
	high, medium, low, unknown int
}

func (c *bucketCounts) add(level domain.RiskLevel) {
	switch level {
	case domain.RiskHigh:
		c.high++
	case domain.RiskMedium:
		c.medium++
	case domain.RiskLow:
		c.low++
	default:
		c.unknown++
	}
}

func (c *bucketCounts) rows() []domain.RiskDistData {
	out := []domain.RiskDistData{
		{Name: domain.RiskHigh.Label(), Value: c.high},
		{Name: domain.RiskMedium.Label(), Value: c.medium},
		{Name: domain.RiskLow.Label(), Value: c.low},
	}
	if c.unknown > 0 {
		out = append(out, domain.RiskDistData{Name: domain.UnknownRiskLabel, Value: c.unknown})
	}
	return out
}

// RiskDistribution counts records per bucket. The three known buckets are
// always present in High, Medium, Low order; an "Unknown" row follows only
// when some record carries an unrecognized level. Values sum to len(list).
func RiskDistribution(list []domain.ProcessedTransaction) []domain.RiskDistData {
	var c bucketCounts
	for i := range list {
		c.add(list[i].RiskLevel)
	}
	return c.rows()
}

// ProbabilityTrend returns one point per record in list order. IDs are
// one-based positions.
func ProbabilityTrend(list []domain.ProcessedTransaction) []domain.TrendPoint {
	out := make([]domain.TrendPoint, len(list))
	for i := range list {
		out[i] = domain.TrendPoint{ID: i + 1, Value: list[i].FraudProbability}
	}
	return out
}

// topK keeps the n highest-probability records seen so far. Equal keys keep
// their arrival order.
type topK struct {
	n    int
	keys []float64
	recs []domain.ProcessedTransaction
}

func newTopK(n int) *topK {
	if n <= 0 {
		n = DefaultTopN
	}
	return &topK{
		n:    n,
		keys: make([]float64, 0, n),
		recs: make([]domain.ProcessedTransaction, 0, n),
	}
}

func (k *topK) offer(rec *domain.ProcessedTransaction) {
	key := rec.FraudProbability
	if math.IsNaN(key) {
		key = math.Inf(-1)
	}

	full := len(k.keys) == k.n
	if full && key <= k.keys[len(k.keys)-1] {
		return
	}

	pos := len(k.keys)
	for pos > 0 && k.keys[pos-1] < key {
		pos--
	}

	if !full {
		k.keys = append(k.keys, 0)
		k.recs = append(k.recs, domain.ProcessedTransaction{})
	}
	copy(k.keys[pos+1:], k.keys[pos:len(k.keys)-1])
	copy(k.recs[pos+1:], k.recs[pos:len(k.recs)-1])
	k.keys[pos] = key
	k.recs[pos] = *rec
}

func (k *topK) result() []domain.ProcessedTransaction {
	return k.recs
}

// TopByRisk returns up to n records of the given level by descending
// probability. Ties keep list order. n <= 0 means DefaultTopN.
func TopByRisk(list []domain.ProcessedTransaction, level domain.RiskLevel, n int) []domain.ProcessedTransaction {
	k := newTopK(n)
	for i := range list {
		if list[i].RiskLevel == level {
			k.offer(&list[i])
		}
	}
	return k.result()
}

// Summarize computes every dashboard aggregate in one pass over list.
func Summarize(list []domain.ProcessedTransaction, n int) domain.Summary {
	var c bucketCounts
	high, medium, low := newTopK(n), newTopK(n), newTopK(n)
	trend := make([]domain.TrendPoint, len(list))

	for i := range list {
		rec := &list[i]
		c.add(rec.RiskLevel)
		trend[i] = domain.TrendPoint{ID: i + 1, Value: rec.FraudProbability}

		switch rec.RiskLevel {
		case domain.RiskHigh:
			high.offer(rec)
		case domain.RiskMedium:
			medium.offer(rec)
		case domain.RiskLow:
			low.offer(rec)
		}
	}

	return domain.Summary{
		Total:        len(list),
		Distribution: c.rows(),
		Trend:        trend,
		TopHigh:      high.result(),
		TopMedium:    medium.result(),
		TopLow:       low.result(),
	}
}

// TopRiskChart flattens the top tables of s into comparison bars labelled
// H1.., M1.., L1.. with probabilities in percent.
func TopRiskChart(s domain.Summary) []domain.ChartBar {
	var out []domain.ChartBar
	for _, level := range domain.RiskLevels {
		prefix := string(level)[:1]
		for i, rec := range s.Top(level) {
			id := rec.ID
			if id == "" {
				id = fmt.Sprintf("%s-%d", strings.ToLower(string(level)), i)
			}
			out = append(out, domain.ChartBar{
				Name:        fmt.Sprintf("%s%d", prefix, i+1),
				Probability: rec.FraudProbability * 100,
				RiskLevel:   level,
				ID:          id,
			})
		}
	}
	return out
}
