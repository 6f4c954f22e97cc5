// Package scoring talks to the external fraud-scoring service and turns its
// responses into processed transactions.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/risk"
)

// Upload is a file submitted for scoring.
type Upload struct {
	FileName string
	Data     []byte
}

// Outcome is the result of one scoring attempt. Transactions may be
// non-empty while Err is set: that is a partial failure.
type Outcome struct {
	Transactions []domain.ProcessedTransaction
	Err          *domain.APIError
}

// Failed reports a total failure: an error and nothing to show.
func (o Outcome) Failed() bool {
	return o.Err != nil && len(o.Transactions) == 0
}

// Scorer scores an uploaded file. Implementations never return a Go error;
// every failure is described by Outcome.Err.
type Scorer interface {
	Score(ctx context.Context, up Upload) Outcome
}

// Probability fields, in order of preference.
var probabilityFields = []string{domain.FieldFraudProbability, "probability", "score"}

// Array fields of an object response that hold scored rows.
var rowFields = []string{"transactions", "results", "predictions"}

// Bucketed array fields returned by the prediction service; they are
// concatenated in this order.
var bucketFields = []string{"highRiskTransactions", "mediumRiskTransactions", "lowRiskTransactions"}

// InterpretResponse maps an HTTP status and body from the scoring service to
// an Outcome, reclassifying every row with c.
func InterpretResponse(status int, body []byte, c risk.Classifier) Outcome {
	if status < 200 || status > 299 {
		return Outcome{Err: &domain.APIError{Message: errorMessage(status, body), StatusCode: status}}
	}

	rows, serviceErr, err := decodeRows(body)
	if err != nil {
		return Outcome{Err: &domain.APIError{
			Message:    fmt.Sprintf("invalid response from scoring service: %v", err),
			StatusCode: status,
		}}
	}

	out := make([]domain.ProcessedTransaction, 0, len(rows))
	skipped := 0
	for _, raw := range rows {
		rec, ok := normalizeRow(raw, c)
		if !ok {
			skipped++
			continue
		}
		out = append(out, rec)
	}

	switch {
	case len(out) == 0 && (skipped > 0 || serviceErr != ""):
		msg := serviceErr
		if msg == "" {
			msg = fmt.Sprintf("No transactions could be processed: none of the %d rows returned a fraud probability", skipped)
		}
		return Outcome{Transactions: out, Err: &domain.APIError{Message: msg, StatusCode: status}}
	case skipped > 0 || serviceErr != "":
		msg := serviceErr
		if skipped > 0 {
			note := fmt.Sprintf("%d of %d rows could not be scored", skipped, len(rows))
			if msg == "" {
				msg = note
			} else {
				msg += " (" + note + ")"
			}
		}
		return Outcome{Transactions: out, Err: &domain.APIError{Message: msg, StatusCode: status}}
	}
	return Outcome{Transactions: out}
}

func decodeRows(body []byte) (rows []json.RawMessage, serviceErr string, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, "", nil
	}

	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, "", err
		}
		return rows, "", nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, "", err
	}
	serviceErr = stringField(obj, "error")

	for _, key := range rowFields {
		if v, ok := obj[key]; ok {
			if err := json.Unmarshal(v, &rows); err != nil {
				return nil, "", fmt.Errorf("field %q: %w", key, err)
			}
			return rows, serviceErr, nil
		}
	}
	for _, key := range bucketFields {
		v, ok := obj[key]
		if !ok {
			continue
		}
		var bucket []json.RawMessage
		if err := json.Unmarshal(v, &bucket); err != nil {
			return nil, "", fmt.Errorf("field %q: %w", key, err)
		}
		rows = append(rows, bucket...)
	}
	return rows, serviceErr, nil
}

func normalizeRow(raw json.RawMessage, c risk.Classifier) (domain.ProcessedTransaction, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return domain.ProcessedTransaction{}, false
	}

	p, ok := probability(m)
	if !ok {
		return domain.ProcessedTransaction{}, false
	}
	delete(m, domain.FieldFraudProbability)
	delete(m, domain.FieldRiskLevel)
	return c.Normalize(domain.TransactionFromMap(m), p), true
}

func probability(m map[string]any) (float64, bool) {
	for _, key := range probabilityFields {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		p, ok := domain.ToFloat(v)
		if !ok || math.IsNaN(p) {
			return 0, false
		}
		return p, true
	}
	return 0, false
}

func errorMessage(status int, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	var obj map[string]json.RawMessage
	if json.Unmarshal(trimmed, &obj) == nil {
		for _, key := range []string{"error", "message"} {
			if s := stringField(obj, key); s != "" {
				return s
			}
		}
	}
	if len(trimmed) > 0 && trimmed[0] != '{' && trimmed[0] != '[' {
		return truncate(string(trimmed), maxErrorText)
	}
	return fmt.Sprintf("request failed with status %d", status)
}

const maxErrorText = 500

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func stringField(obj map[string]json.RawMessage, key string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// TransportError builds the user-facing error for a request that never got
// a response.
func TransportError(err error) *domain.APIError {
	return &domain.APIError{
		Message: fmt.Sprintf("Error processing file: %v. Please try again or check your CSV format.", err),
	}
}

// Markers of malformed numeric or categorical input in service errors.
var hintMarkers = []string{"NaN", "convert string to float", "missing values", "LogisticRegression"}

// RemediationHints returns field-format guidance for messages that look like
// input format problems, or nil.
func RemediationHints(msg string) []string {
	for _, m := range hintMarkers {
		if strings.Contains(msg, m) {
			return []string{
				"For job fields: make sure they are properly formatted",
				"For numeric fields: ensure they contain only numbers",
				"For missing values: make sure all required fields are present",
				"Try using the demo data option if you continue to experience issues",
			}
		}
	}
	return nil
}

// StatusText is a short label for logs.
func StatusText(o Outcome) string {
	switch {
	case o.Err == nil:
		return "ok"
	case o.Failed():
		return "failed"
	default:
		return "partial"
	}
}
