package domain

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatAmount renders a USD amount the way the dashboard shows it, e.g.
// "$1,234.50" or "-$12.00". A nil or NaN amount renders as "$0.00".
func FormatAmount(amount *float64) string {
	if amount == nil || math.IsNaN(*amount) || math.IsInf(*amount, 0) {
		return "$0.00"
	}
	d := decimal.NewFromFloat(*amount).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	fixed := d.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + "$" + groupThousands(whole) + "." + frac
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

var usDate = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
	"01/02/2006 15:04:05",
}

// FormatDate renders a date as M/D/YYYY. Dates already in MM/DD/YYYY are
// returned unchanged, unparsable ones are returned as given and an empty
// date renders as "N/A".
func FormatDate(date string) string {
	if date == "" {
		return "N/A"
	}
	if usDate.MatchString(date) {
		return date
	}
	s := strings.TrimSpace(date)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("1/2/2006")
		}
	}
	return date
}

// FormatProbability renders p as a percentage with two decimals. Out of range
// values are clamped first.
func FormatProbability(p float64) string {
	pt := ProcessedTransaction{FraudProbability: p}
	return decimal.NewFromFloat(pt.ClampedProbability()*100).StringFixed(2) + "%"
}
