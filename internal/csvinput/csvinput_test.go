package csvinput

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/riskboard/internal/domain"
	"github.com/opensource-finance/riskboard/internal/mock"
)

func TestParse(t *testing.T) {
	t.Run("KnownColumns", func(t *testing.T) {
		data := "trans_date_trans_time,cc_num,merchant,category,amt,trans_num,unix_time,first\n" +
			"2020-06-21 12:14:25,2291-1635-6715-0400,fraud_Kirlin and Sons,personal_care,$2.86,2da90c7d74bd46a0caf3777415b3ebd3,1371816865,Jeff\n"
		list, err := Parse(strings.NewReader(data))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 row, got %d", len(list))
		}

		tx := list[0]
		if tx.CCNum != "2291163567150400" {
			t.Errorf("cc_num not cleaned: %q", tx.CCNum)
		}
		if tx.Amt == nil || *tx.Amt != 2.86 {
			t.Errorf("amt not cleaned: %v", tx.Amt)
		}
		if tx.ID != tx.TransNum || tx.ID == "" {
			t.Errorf("expected id from trans_num, got %q", tx.ID)
		}
		if tx.UnixTime == nil || *tx.UnixTime != 1371816865 {
			t.Errorf("unexpected unix_time %v", tx.UnixTime)
		}
		if tx.Extra["first"] != "Jeff" {
			t.Errorf("unknown column lost: %v", tx.Extra)
		}
	})

	t.Run("Aliases", func(t *testing.T) {
		data := "transaction_id,transaction_date,credit_card,amount,merchant_name,merchant_category\n" +
			"T-9,2021-01-02 03:04:05,4111 1111,\"1,250.00\",Acme,travel\n"
		list, err := Parse(strings.NewReader(data))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		tx := list[0]
		if tx.TransNum != "T-9" || tx.ID != "T-9" {
			t.Errorf("transaction_id not mapped: %+v", tx)
		}
		if tx.TransDateTransTime != "2021-01-02 03:04:05" {
			t.Errorf("transaction_date not mapped: %q", tx.TransDateTransTime)
		}
		if tx.CCNum != "41111111" {
			t.Errorf("credit_card not mapped: %q", tx.CCNum)
		}
		if tx.Amt == nil || *tx.Amt != 1250 {
			t.Errorf("amount not mapped to amt: %v", tx.Amt)
		}
		if tx.Merchant != "Acme" || tx.Category != "travel" {
			t.Errorf("merchant aliases not mapped: %+v", tx)
		}
		want := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC).Unix()
		if tx.UnixTime == nil || *tx.UnixTime != want {
			t.Errorf("unix_time not derived from date: %v", tx.UnixTime)
		}
	})

	t.Run("AliasDoesNotOverride", func(t *testing.T) {
		data := "amount,amt\n5,7\n"
		list, _ := Parse(strings.NewReader(data))
		if *list[0].Amt != 7 || *list[0].Amount != 5 {
			t.Errorf("expected both columns kept, got amount=%v amt=%v", *list[0].Amount, *list[0].Amt)
		}
	})

	t.Run("DropsIndexColumns", func(t *testing.T) {
		data := "Unnamed: 0,6006,,merchant\n1,2,3,Shop\n"
		list, err := Parse(strings.NewReader(data))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(list[0].Extra) != 0 {
			t.Errorf("index columns kept: %v", list[0].Extra)
		}
		if list[0].ID != "TX-0" {
			t.Errorf("expected generated id TX-0, got %q", list[0].ID)
		}
	})

	t.Run("BlankLinesAndShortRows", func(t *testing.T) {
		data := "id,merchant,category\nA,Shop\n\n,,\nB,Store,home\n"
		list, err := Parse(strings.NewReader(data))
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(list) != 2 || list[0].Category != "" || list[1].Category != "home" {
			t.Errorf("unexpected rows: %+v", list)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Parse(strings.NewReader(""))
		if !errors.Is(err, ErrEmpty) || !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrEmpty, got %v", err)
		}
	})
}

func TestWriteRoundTrip(t *testing.T) {
	list := mock.New(mock.Config{Seed: 11, Now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}).Generate(20)

	var buf bytes.Buffer
	if err := Write(&buf, list, WriteOptions{Scores: true}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	parsed, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(parsed) != len(list) {
		t.Fatalf("expected %d rows, got %d", len(list), len(parsed))
	}
	for i := range list {
		got, want := parsed[i], list[i]
		if got.ID != want.ID || got.CCNum != want.CCNum || got.Merchant != want.Merchant {
			t.Errorf("row %d: identity fields differ: %+v vs %+v", i, got, want.Transaction)
		}
		if got.Amt == nil || *got.Amt != *want.Amt {
			t.Errorf("row %d: amt %v, want %v", i, got.Amt, *want.Amt)
		}
		if got.Extra[domain.FieldRiskLevel] != string(want.RiskLevel) {
			t.Errorf("row %d: risk level column %v", i, got.Extra[domain.FieldRiskLevel])
		}
	}
}
