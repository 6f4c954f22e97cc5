package rules

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
	"github.com/opensource-finance/riskboard/internal/scoring"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine("amt > 1000.0 ? 0.9 : 0.1", risk.DefaultClassifier(), 5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.Expression() == "" {
		t.Error("expected expression to be kept")
	}
}

func TestInvalidExpression(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{"Empty", ""},
		{"Syntax", "this is not valid CEL !!!"},
		{"StringResult", "merchant + category"},
		{"UnknownVariable", "txn_count > 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.expression, risk.DefaultClassifier(), 1); err == nil {
				t.Errorf("expected error for %q", tt.expression)
			}
			if err := Validate(tt.expression); err == nil {
				t.Errorf("Validate accepted %q", tt.expression)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	tx := &domain.Transaction{
		ID:       "TX-1",
		Amt:      domain.Float(1500),
		Category: "shopping_net",
		CityPop:  domain.Int(120),
		Extra:    map[string]any{"gender": "F"},
	}

	tests := []struct {
		name       string
		expression string
		want       float64
	}{
		{"Double", "amt > 1000.0 ? 0.85 : 0.05", 0.85},
		{"Bool", "category.startsWith('shopping')", 1},
		{"Int", "city_pop < 500 ? 1 : 0", 1},
		{"AmountFallsBackToAmt", "amount / 3000.0", 0.5},
		{"RowMap", "has(row.gender) && row.gender == 'F' ? 0.4 : 0.0", 0.4},
		{"MissingNumericIsZero", "lat == 0.0 ? 0.2 : 0.9", 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.expression, risk.DefaultClassifier(), 1)
			if err != nil {
				t.Fatalf("NewEngine failed: %v", err)
			}
			got, err := e.Evaluate(tx)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScore(t *testing.T) {
	csv := "trans_num,amt,category\n" +
		"a1,2500.00,shopping_net\n" +
		"a2,400.00,grocery_pos\n" +
		"a3,12.50,gas_transport\n"

	t.Run("AllRows", func(t *testing.T) {
		e, err := NewEngine("amt >= 2000.0 ? 0.9 : (amt >= 100.0 ? 0.5 : 0.1)", risk.DefaultClassifier(), 2)
		if err != nil {
			t.Fatal(err)
		}
		out := e.Score(context.Background(), scoring.Upload{FileName: "t.csv", Data: []byte(csv)})
		if out.Err != nil {
			t.Fatalf("unexpected error: %v", out.Err)
		}
		want := []domain.RiskLevel{domain.RiskHigh, domain.RiskMedium, domain.RiskLow}
		for i, rec := range out.Transactions {
			if rec.RiskLevel != want[i] {
				t.Errorf("row %d (%s): got %s, want %s", i, rec.ID, rec.RiskLevel, want[i])
			}
		}
	})

	t.Run("PartialFailure", func(t *testing.T) {
		// map lookup on a missing key fails at runtime for rows without it
		data := "trans_num,amt,flag\nb1,10,1\nb2,20,\n"
		e, err := NewEngine("row.flag == '1' ? 0.9 : 0.1", risk.DefaultClassifier(), 2)
		if err != nil {
			t.Fatal(err)
		}
		out := e.Score(context.Background(), scoring.Upload{FileName: "p.csv", Data: []byte(data)})
		if len(out.Transactions) != 1 || out.Transactions[0].ID != "b1" {
			t.Fatalf("expected b1 only, got %+v", out.Transactions)
		}
		if out.Err == nil || !strings.Contains(out.Err.Message, "1 of 2") {
			t.Errorf("expected partial error, got %v", out.Err)
		}
	})

	t.Run("TotalFailure", func(t *testing.T) {
		e, _ := NewEngine("row.missing == 'x' ? 1.0 : 0.0", risk.DefaultClassifier(), 2)
		out := e.Score(context.Background(), scoring.Upload{FileName: "t.csv", Data: []byte(csv)})
		if !out.Failed() {
			t.Errorf("expected total failure, got %+v", out)
		}
	})

	t.Run("BadCSV", func(t *testing.T) {
		e, _ := NewEngine("0.5", risk.DefaultClassifier(), 2)
		out := e.Score(context.Background(), scoring.Upload{FileName: "e.csv", Data: nil})
		if !out.Failed() || !strings.HasPrefix(out.Err.Message, "Invalid CSV format") {
			t.Errorf("expected CSV error, got %+v", out.Err)
		}
	})

	t.Run("ManyRows", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("trans_num,amt\n")
		for i := 0; i < 1000; i++ {
			fmt.Fprintf(&b, "r%d,%d\n", i, i)
		}
		e, _ := NewEngine("amt / 1000.0", risk.DefaultClassifier(), 8)
		out := e.Score(context.Background(), scoring.Upload{FileName: "m.csv", Data: []byte(b.String())})
		if out.Err != nil || len(out.Transactions) != 1000 {
			t.Fatalf("got %d rows, err %v", len(out.Transactions), out.Err)
		}
		for i, rec := range out.Transactions {
			if rec.ID != fmt.Sprintf("r%d", i) {
				t.Fatalf("row order not kept at %d: %s", i, rec.ID)
			}
		}
	})

	t.Run("BoundedGoroutines", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("trans_num,amt\n")
		for i := 0; i < 50000; i++ {
			fmt.Fprintf(&b, "r%d,%d\n", i, i%2000)
		}
		e, _ := NewEngine("amt / 2000.0", risk.DefaultClassifier(), 2)

		baseline := runtime.NumGoroutine()
		var peak atomic.Int64
		stop := make(chan struct{})
		sampled := make(chan struct{})
		go func() {
			defer close(sampled)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if n := int64(runtime.NumGoroutine()); n > peak.Load() {
					peak.Store(n)
				}
				runtime.Gosched()
			}
		}()

		out := e.Score(context.Background(), scoring.Upload{FileName: "big.csv", Data: []byte(b.String())})
		close(stop)
		<-sampled

		if out.Err != nil || len(out.Transactions) != 50000 {
			t.Fatalf("got %d rows, err %v", len(out.Transactions), out.Err)
		}
		// sampler + 2 workers, with a little room for runtime goroutines
		if limit := int64(baseline + 1 + 2 + 4); peak.Load() > limit {
			t.Errorf("expected at most %d goroutines while scoring, peaked at %d", limit, peak.Load())
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		e, _ := NewEngine("0.5", risk.DefaultClassifier(), 2)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := e.Score(ctx, scoring.Upload{FileName: "c.csv", Data: []byte("trans_num,amt\nr1,1\nr2,2\n")})
		if !out.Failed() || len(out.Transactions) != 0 {
			t.Errorf("expected total failure on a canceled context, got %d rows, err %v", len(out.Transactions), out.Err)
		}
	})
}
