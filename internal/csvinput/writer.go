package csvinput

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/opensource-finance/riskboard/internal/domain"
)

// Columns written by Write, in order.
var writeColumns = []string{
	domain.FieldID,
	domain.FieldTransNum,
	domain.FieldTransDateTransTime,
	domain.FieldCCNum,
	domain.FieldMerchant,
	domain.FieldCategory,
	domain.FieldAmt,
	domain.FieldZip,
	domain.FieldLat,
	domain.FieldLong,
	domain.FieldCityPop,
	domain.FieldJob,
	domain.FieldUnixTime,
}

// WriteOptions controls Write.
type WriteOptions struct {
	// Scores adds fraud_probability and risk_level columns.
	Scores bool
}

// Write renders list as CSV with a header row. The output parses back with
// Parse.
func Write(w io.Writer, list []domain.ProcessedTransaction, opts WriteOptions) error {
	cw := csv.NewWriter(w)

	header := append([]string(nil), writeColumns...)
	if opts.Scores {
		header = append(header, domain.FieldFraudProbability, domain.FieldRiskLevel)
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, len(header))
	for i := range list {
		p := &list[i]
		amount, ok := p.ResolvedAmount()
		amt := ""
		if ok {
			amt = strconv.FormatFloat(amount, 'f', 2, 64)
		}

		date := p.TransDateTransTime
		if date == "" {
			date = p.Date
		}

		rec = rec[:0]
		rec = append(rec,
			p.ID,
			p.TransNum,
			date,
			p.CCNum,
			p.Merchant,
			p.Category,
			amt,
			p.Zip,
			formatFloat(p.Lat),
			formatFloat(p.Long),
			formatInt(p.CityPop),
			p.Job,
			formatInt(p.UnixTime),
		)
		if opts.Scores {
			rec = append(rec, strconv.FormatFloat(p.FraudProbability, 'f', -1, 64), string(p.RiskLevel))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
