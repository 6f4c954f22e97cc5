// Package rules provides the CEL-Go based expression scorer used when the
// external scoring service is not available.
package rules

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/riskboard/internal/csvinput"
	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
	"github.com/opensource-finance/riskboard/internal/scoring"
)

// Engine evaluates one compiled CEL expression against transaction rows.
type Engine struct {
	expression string
	program    cel.Program
	classifier risk.Classifier
	maxWorkers int
}

// NewEnv returns the CEL environment expressions are compiled in.
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amt", cel.DoubleType),
		cel.Variable("city_pop", cel.IntType),
		cel.Variable("lat", cel.DoubleType),
		cel.Variable("long", cel.DoubleType),
		cel.Variable("unix_time", cel.IntType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("job", cel.StringType),
		cel.Variable("zip", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// NewEngine compiles expression. It must evaluate to a bool, int or double.
func NewEngine(expression string, c risk.Classifier, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}
	program, err := compile(env, expression)
	if err != nil {
		return nil, err
	}
	return &Engine{
		expression: expression,
		program:    program,
		classifier: c,
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles expression without building an engine.
func Validate(expression string) error {
	env, err := NewEnv()
	if err != nil {
		return err
	}
	_, err = compile(env, expression)
	return err
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("%w: scoring expression is required", domain.ErrInvalidInput)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType && outputType != cel.DynType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// Expression returns the source expression.
func (e *Engine) Expression() string {
	return e.expression
}

// Evaluate returns the probability for one row.
func (e *Engine) Evaluate(tx *domain.Transaction) (float64, error) {
	out, _, err := e.program.Eval(activation(tx))
	if err != nil {
		return 0, fmt.Errorf("evaluation error: %w", err)
	}
	p, ok := toScore(out)
	if !ok {
		return 0, fmt.Errorf("expression returned %s, want a number", out.Type())
	}
	return p, nil
}

// Score parses the uploaded CSV and scores every row in parallel. Rows whose
// expression fails are reported as a partial failure.
func (e *Engine) Score(ctx context.Context, up scoring.Upload) scoring.Outcome {
	start := time.Now()
	rows, err := csvinput.Parse(bytes.NewReader(up.Data))
	if err != nil {
		return scoring.Outcome{Err: &domain.APIError{Message: fmt.Sprintf("Invalid CSV format: %v", err)}}
	}

	results := make([]domain.ProcessedTransaction, len(rows))
	errs := make([]error, len(rows))
	e.evaluateAll(ctx, rows, results, errs)

	out := make([]domain.ProcessedTransaction, 0, len(rows))
	var failed int
	var firstErr error
	for i := range rows {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		out = append(out, results[i])
	}

	slog.Debug("expression scoring done",
		"file", up.FileName,
		"rows", len(rows),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case failed == 0:
		return scoring.Outcome{Transactions: out}
	case len(out) == 0:
		return scoring.Outcome{Transactions: out, Err: &domain.APIError{
			Message: fmt.Sprintf("No transactions could be processed: %v", firstErr),
		}}
	default:
		return scoring.Outcome{Transactions: out, Err: &domain.APIError{
			Message: fmt.Sprintf("%d of %d rows could not be scored: %v", failed, len(rows), firstErr),
		}}
	}
}

// evaluateAll scores rows on a fixed pool of maxWorkers goroutines fed by
// row index. Rows not reached before ctx ends get ctx.Err().
func (e *Engine) evaluateAll(ctx context.Context, rows []domain.Transaction, results []domain.ProcessedTransaction, errs []error) {
	workers := min(e.maxWorkers, len(rows))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				p, err := e.Evaluate(&rows[idx])
				if err != nil {
					errs[idx] = err
					continue
				}
				results[idx] = e.classifier.Normalize(rows[idx], p)
			}
		}()
	}

	for i := range rows {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func activation(tx *domain.Transaction) map[string]any {
	p := domain.ProcessedTransaction{Transaction: *tx}
	amount, _ := p.ResolvedAmount()
	amt := amount
	if tx.Amt != nil {
		amt = *tx.Amt
	}
	return map[string]any{
		"row":       tx.Fields(),
		"amount":    amount,
		"amt":       amt,
		"city_pop":  deref(tx.CityPop),
		"lat":       deref(tx.Lat),
		"long":      deref(tx.Long),
		"unix_time": deref(tx.UnixTime),
		"merchant":  tx.Merchant,
		"category":  tx.Category,
		"job":       tx.Job,
		"zip":       tx.Zip,
	}
}

func deref[T int64 | float64](v *T) T {
	if v == nil {
		return 0
	}
	return *v
}

// toScore converts a CEL value to a probability.
func toScore(val ref.Val) (float64, bool) {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0, true
		}
		return 0.0, true
	case types.Double:
		f := float64(v)
		return f, !math.IsNaN(f)
	case types.Int:
		return float64(v), true
	case types.Uint:
		return float64(v), true
	default:
		return 0, false
	}
}
