// Package csvinput reads uploaded transaction CSVs into raw transactions
// and writes result sets back out as CSV.
package csvinput

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/riskboard/internal/domain"
)

// ErrEmpty is returned for a file with no header row.
var ErrEmpty = fmt.Errorf("%w: empty CSV", domain.ErrInvalidInput)

// Column aliases seen in exports from other tools. The target is only
// filled when the file does not already carry it.
var aliases = []struct{ source, target string }{
	{"transaction_id", domain.FieldTransNum},
	{"transaction_date", domain.FieldTransDateTransTime},
	{"credit_card", domain.FieldCCNum},
	{"amount", domain.FieldAmt},
	{"merchant_name", domain.FieldMerchant},
	{"merchant_category", domain.FieldCategory},
	{"timestamp", domain.FieldUnixTime},
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Parse reads a header-first CSV. Every row becomes one Transaction. Empty
// cells are treated as absent.
func Parse(r io.Reader) ([]domain.Transaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}
	cols := columns(header)

	var out []domain.Transaction
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}
		out = append(out, row(cols, rec, len(out)))
	}
	return out, nil
}

type column struct {
	index int
	name  string
}

// columns keeps the usable header names and appends alias targets.
func columns(header []string) []column {
	present := make(map[string]bool, len(header))
	var cols []column
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if dropColumn(name) {
			continue
		}
		present[name] = true
		cols = append(cols, column{index: i, name: name})
	}

	n := len(cols)
	for _, a := range aliases {
		if present[a.target] {
			continue
		}
		for _, c := range cols[:n] {
			if c.name == a.source {
				cols = append(cols, column{index: c.index, name: a.target})
				present[a.target] = true
				break
			}
		}
	}
	return cols
}

// dropColumn reports index columns left behind by spreadsheet exports.
func dropColumn(name string) bool {
	if name == "" || strings.Contains(name, "Unnamed") {
		return true
	}
	for _, r := range name {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func row(cols []column, rec []string, n int) domain.Transaction {
	var tx domain.Transaction
	for _, c := range cols {
		if c.index >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[c.index])
		if v == "" {
			continue
		}
		switch c.name {
		case domain.FieldCCNum:
			v = digitsOnly(v)
		case domain.FieldAmt:
			tx.Amt = cleanAmount(v)
			continue
		case domain.FieldUnixTime:
			tx.UnixTime = parseUnix(v)
			continue
		}
		tx.Set(c.name, v)
	}

	if tx.UnixTime == nil && tx.TransDateTransTime != "" {
		if t, ok := parseDate(tx.TransDateTransTime); ok {
			tx.UnixTime = domain.Int(t.Unix())
		}
	}
	if tx.ID == "" {
		if tx.TransNum != "" {
			tx.ID = tx.TransNum
		} else {
			tx.ID = fmt.Sprintf("TX-%d", n)
		}
	}
	return tx
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// cleanAmount strips everything but digits and dots. Anything that still
// does not parse counts as 0.
func cleanAmount(s string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' {
			return r
		}
		return -1
	}, s)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return domain.Float(0)
	}
	return domain.Float(d.InexactFloat64())
}

func parseUnix(s string) *int64 {
	d, err := decimal.NewFromString(s)
	if err == nil {
		return domain.Int(d.IntPart())
	}
	if t, ok := parseDate(s); ok {
		return domain.Int(t.Unix())
	}
	return nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
