package mock

import (
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/riskboard/internal/aggregate"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
)

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestGenerate(t *testing.T) {
	t.Run("Count", func(t *testing.T) {
		g := New(Config{Seed: 1, Now: fixedNow})
		if got := len(g.Generate(50)); got != 50 {
			t.Errorf("expected 50 records, got %d", got)
		}
		if got := g.Generate(0); len(got) != 0 {
			t.Errorf("expected empty list, got %d", len(got))
		}
	})

	t.Run("EveryBucketInThree", func(t *testing.T) {
		for seed := int64(1); seed <= 20; seed++ {
			list := New(Config{Seed: seed, Now: fixedNow}).Generate(3)
			dist := aggregate.RiskDistribution(list)
			for _, d := range dist {
				if d.Value != 1 {
					t.Fatalf("seed %d: expected one record per bucket, got %v", seed, dist)
				}
			}
		}
	})

	t.Run("CustomThresholds", func(t *testing.T) {
		c, err := risk.NewClassifier(0.5, 0.9)
		if err != nil {
			t.Fatal(err)
		}
		list := New(Config{Seed: 7, Now: fixedNow, Classifier: c}).Generate(3)
		for _, rec := range list {
			if rec.RiskLevel != c.Classify(rec.FraudProbability) {
				t.Errorf("level %s does not match probability %v", rec.RiskLevel, rec.FraudProbability)
			}
		}
		if dist := aggregate.RiskDistribution(list); dist[0].Value != 1 || dist[1].Value != 1 || dist[2].Value != 1 {
			t.Errorf("expected one per bucket, got %v", dist)
		}
	})

	t.Run("Reproducible", func(t *testing.T) {
		a := New(Config{Seed: 42, Now: fixedNow}).Generate(25)
		b := New(Config{Seed: 42, Now: fixedNow}).Generate(25)
		if !reflect.DeepEqual(a, b) {
			t.Error("same seed produced different output")
		}
		c := New(Config{Seed: 43, Now: fixedNow}).Generate(25)
		if reflect.DeepEqual(a, c) {
			t.Error("different seeds produced identical output")
		}
	})

	t.Run("Fields", func(t *testing.T) {
		list := New(Config{Seed: 3, Now: fixedNow}).Generate(40)
		oldest := fixedNow.Add(-90 * 24 * time.Hour)
		seen := make(map[string]bool)
		for _, rec := range list {
			if seen[rec.ID] {
				t.Errorf("duplicate id %s", rec.ID)
			}
			seen[rec.ID] = true

			if rec.FraudProbability < 0 || rec.FraudProbability > 1 {
				t.Errorf("%s: probability out of range: %v", rec.ID, rec.FraudProbability)
			}
			if rec.Amount == nil || rec.Amt == nil || *rec.Amount != *rec.Amt || *rec.Amount <= 0 {
				t.Errorf("%s: bad amount aliases %v %v", rec.ID, rec.Amount, rec.Amt)
			}
			if rec.Date == "" || rec.TransDateTransTime == "" {
				t.Errorf("%s: missing date aliases", rec.ID)
			}
			at := time.Unix(*rec.UnixTime, 0)
			if at.Before(oldest) || at.After(fixedNow) {
				t.Errorf("%s: date %v outside the last 90 days", rec.ID, at)
			}
			if len(rec.CCNum) != 16 || rec.Merchant == "" || rec.Category == "" || rec.Job == "" {
				t.Errorf("%s: incomplete record %+v", rec.ID, rec.Transaction)
			}
			if domain.FormatDate(rec.Date) != rec.Date {
				t.Errorf("%s: date %q not in MM/DD/YYYY", rec.ID, rec.Date)
			}
		}
	})
}
