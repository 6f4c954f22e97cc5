package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Transaction is one raw row of an uploaded CSV or of a scorer response.
// No field is required. Numeric fields are pointers so that an absent value
// can be told apart from zero. Columns that are not known are kept in Extra.
type Transaction struct {
	ID                 string
	TransNum           string
	Amount             *float64
	Amt                *float64
	Date               string
	TransDateTransTime string
	Merchant           string
	Category           string
	CCNum              string
	Zip                string
	Lat                *float64
	Long               *float64
	CityPop            *int64
	Job                string
	UnixTime           *int64

	// Extra holds every column that is not one of the known fields above.
	Extra map[string]any
}

// Known wire names.
const (
	FieldID                 = "id"
	FieldTransNum           = "trans_num"
	FieldAmount             = "amount"
	FieldAmt                = "amt"
	FieldDate               = "date"
	FieldTransDateTransTime = "trans_date_trans_time"
	FieldMerchant           = "merchant"
	FieldCategory           = "category"
	FieldCCNum              = "cc_num"
	FieldZip                = "zip"
	FieldLat                = "lat"
	FieldLong               = "long"
	FieldCityPop            = "city_pop"
	FieldJob                = "job"
	FieldUnixTime           = "unix_time"
	FieldRiskLevel          = "risk_level"
	FieldFraudProbability   = "fraud_probability"
)

// Float returns a pointer to v. Handy for building transactions in code.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// Identifier returns the value searched by the transaction table.
func (t *Transaction) Identifier() string {
	return t.ID
}

// Get returns the value of a field by its wire name, known or extra.
func (t *Transaction) Get(name string) (any, bool) {
	v, ok := t.toMap()[name]
	return v, ok
}

// Fields returns every present field keyed by wire name. The map is a copy.
func (t *Transaction) Fields() map[string]any {
	return t.toMap()
}

// Set assigns a field by its wire name. Known fields are coerced leniently;
// anything else goes to Extra.
func (t *Transaction) Set(name string, value any) {
	switch name {
	case FieldID:
		t.ID = toString(value)
	case FieldTransNum:
		t.TransNum = toString(value)
	case FieldAmount:
		t.Amount = toFloatPtr(value)
	case FieldAmt:
		t.Amt = toFloatPtr(value)
	case FieldDate:
		t.Date = toString(value)
	case FieldTransDateTransTime:
		t.TransDateTransTime = toString(value)
	case FieldMerchant:
		t.Merchant = toString(value)
	case FieldCategory:
		t.Category = toString(value)
	case FieldCCNum:
		t.CCNum = toString(value)
	case FieldZip:
		t.Zip = toString(value)
	case FieldLat:
		t.Lat = toFloatPtr(value)
	case FieldLong:
		t.Long = toFloatPtr(value)
	case FieldCityPop:
		t.CityPop = toIntPtr(value)
	case FieldJob:
		t.Job = toString(value)
	case FieldUnixTime:
		t.UnixTime = toIntPtr(value)
	default:
		if t.Extra == nil {
			t.Extra = make(map[string]any)
		}
		t.Extra[name] = value
	}
}

// Clone returns a copy that does not share the Extra map or pointer fields.
func (t Transaction) Clone() Transaction {
	c := t
	c.Amount = clonePtr(t.Amount)
	c.Amt = clonePtr(t.Amt)
	c.Lat = clonePtr(t.Lat)
	c.Long = clonePtr(t.Long)
	c.CityPop = clonePtr(t.CityPop)
	c.UnixTime = clonePtr(t.UnixTime)
	if t.Extra != nil {
		c.Extra = make(map[string]any, len(t.Extra))
		for k, v := range t.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// MarshalJSON flattens the known fields and Extra into one object.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toMap())
}

// UnmarshalJSON accepts any JSON object. Values of known fields are coerced
// (a numeric string is a valid amount, a number is a valid cc_num).
func (t *Transaction) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decoding transaction: %w", err)
	}

	*t = TransactionFromMap(raw)
	return nil
}

// TransactionFromMap builds a Transaction from a decoded JSON object or a
// CSV row keyed by column name.
func TransactionFromMap(raw map[string]any) Transaction {
	var t Transaction
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			v = numberValue(n)
		}
		t.Set(k, v)
	}
	return t
}

func (t *Transaction) toMap() map[string]any {
	m := make(map[string]any, len(t.Extra)+16)
	for k, v := range t.Extra {
		m[k] = v
	}
	putString(m, FieldID, t.ID)
	putString(m, FieldTransNum, t.TransNum)
	putPtr(m, FieldAmount, t.Amount)
	putPtr(m, FieldAmt, t.Amt)
	putString(m, FieldDate, t.Date)
	putString(m, FieldTransDateTransTime, t.TransDateTransTime)
	putString(m, FieldMerchant, t.Merchant)
	putString(m, FieldCategory, t.Category)
	putString(m, FieldCCNum, t.CCNum)
	putString(m, FieldZip, t.Zip)
	putPtr(m, FieldLat, t.Lat)
	putPtr(m, FieldLong, t.Long)
	putPtr(m, FieldCityPop, t.CityPop)
	putString(m, FieldJob, t.Job)
	putPtr(m, FieldUnixTime, t.UnixTime)
	return m
}

func putString(m map[string]any, key, v string) {
	if v != "" {
		m[key] = v
	}
}

func putPtr[T float64 | int64](m map[string]any, key string, v *T) {
	if v == nil {
		return
	}
	if f, ok := any(*v).(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		// encoding/json rejects NaN and Inf
		return
	}
	m[key] = *v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// ToFloat coerces a JSON or CSV value to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toFloatPtr(v any) *float64 {
	f, ok := ToFloat(v)
	if !ok {
		return nil
	}
	return &f
}

func toIntPtr(v any) *int64 {
	switch x := v.(type) {
	case int64:
		return &x
	case int:
		i := int64(x)
		return &i
	}
	f, ok := ToFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	i := int64(f)
	return &i
}
