package vat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Section identifies a register of the declaration.
type Section string

const (
	// SectionSales holds output VAT documents (SprzedazWiersz).
	SectionSales Section = "sales"
	// SectionPurchases holds input VAT documents (ZakupWiersz).
	SectionPurchases Section = "purchases"
)

// RateKind distinguishes numeric rates from the sentinel codes.
type RateKind string

const (
	RateNumeric            RateKind = ""
	RateExempt             RateKind = "zw"
	RateZeroIntraCommunity RateKind = "0 WDT"
	RateZeroExport         RateKind = "0 EXP"
)

// Rate is a line item tax rate: a percentage or one of the sentinel codes.
type Rate struct {
	Kind    RateKind
	Percent decimal.Decimal
}

// PercentRate builds a numeric rate.
func PercentRate(percent decimal.Decimal) Rate {
	return Rate{Kind: RateNumeric, Percent: percent}
}

// IntRate is a shorthand for whole-number percentages.
func IntRate(percent int64) Rate {
	return PercentRate(decimal.NewFromInt(percent))
}

// ExemptRate returns the "zw" sentinel.
func ExemptRate() Rate {
	return Rate{Kind: RateExempt}
}

// IsNumeric reports whether the rate carries a percentage.
func (r Rate) IsNumeric() bool {
	return r.Kind == RateNumeric
}

// Key is the lookup key used by the schema rate tables.
func (r Rate) Key() string {
	if r.IsNumeric() {
		return r.Percent.String()
	}
	return string(r.Kind)
}

func (r Rate) String() string {
	return r.Key()
}

// ErrInvalidRate is returned by ParseRate for unparsable codes.
var ErrInvalidRate = errors.New("vat: invalid rate")

// ParseRate converts textual codes such as "23", "8%", "zw", "0 WDT" into a Rate.
func ParseRate(raw string) (Rate, error) {
	code := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	switch code {
	case "":
		return Rate{}, fmt.Errorf("%w: empty", ErrInvalidRate)
	case "ZW":
		return ExemptRate(), nil
	case "0 WDT", "0WDT", "WDT":
		return Rate{Kind: RateZeroIntraCommunity}, nil
	case "0 EXP", "0EXP", "EXP":
		return Rate{Kind: RateZeroExport}, nil
	}
	code = strings.TrimSpace(strings.TrimSuffix(code, "%"))
	pct, err := decimal.NewFromString(strings.ReplaceAll(code, ",", "."))
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw)
	}
	if pct.IsNegative() {
		return Rate{}, fmt.Errorf("%w: negative %q", ErrInvalidRate, raw)
	}
	return PercentRate(pct), nil
}

// MarshalJSON renders numeric rates as numbers and sentinels as strings.
func (r Rate) MarshalJSON() ([]byte, error) {
	if r.IsNumeric() {
		return []byte(r.Percent.String()), nil
	}
	return json.Marshal(string(r.Kind))
}

// UnmarshalJSON accepts both JSON numbers and textual codes.
func (r *Rate) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return fmt.Errorf("%w: null", ErrInvalidRate)
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := ParseRate(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// LineItem is a single position of a source document. Net and VAT are optional;
// when absent they are derived from quantity, unit price and rate.
type LineItem struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Quantity  decimal.Decimal     `json:"quantity"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
	Net       decimal.NullDecimal `json:"net"`
	Rate      Rate                `json:"rate"`
	VAT       decimal.NullDecimal `json:"vat"`
}

// SourceTransaction is one finalised sale or purchase document for the period.
type SourceTransaction struct {
	ID                  string          `json:"id"`
	Section             Section         `json:"section"`
	CounterpartyName    string          `json:"counterparty_name"`
	CounterpartyTaxID   string          `json:"counterparty_tax_id,omitempty"`
	CounterpartyCountry string          `json:"counterparty_country,omitempty"`
	DocumentNumber      string          `json:"document_number"`
	IssueDate           time.Time       `json:"issue_date"`
	SellDate            time.Time       `json:"sell_date,omitempty"`
	Items               []LineItem      `json:"items"`
	Markers             []string        `json:"markers,omitempty"`
	NetTotal            decimal.Decimal `json:"net_total"`
	VATTotal            decimal.Decimal `json:"vat_total"`
	GrossTotal          decimal.Decimal `json:"gross_total"`
}

// Subject is the taxpayer the declaration is filed for.
type Subject struct {
	TaxID              string `json:"tax_id"`
	Name               string `json:"name"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	Email              string `json:"email,omitempty"`
	TaxOfficeCode      string `json:"tax_office_code,omitempty"`
}

// Period is the reporting range, normally one calendar month.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ErrInvalidPeriod is returned by ParsePeriod.
var ErrInvalidPeriod = errors.New("vat: invalid period")

// ParsePeriod converts "YYYY-MM" into the month range.
func ParsePeriod(raw string) (Period, error) {
	start, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q (expected YYYY-MM)", ErrInvalidPeriod, raw)
	}
	return MonthPeriod(start.Year(), start.Month()), nil
}

// MonthPeriod returns the first and last day of a calendar month in UTC.
func MonthPeriod(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// Label formats the period as YYYY-MM.
func (p Period) Label() string {
	return p.Start.Format("2006-01")
}

// Purpose is the submission purpose (CelZlozenia).
type Purpose int

const (
	PurposeOriginal   Purpose = 1
	PurposeCorrection Purpose = 2
)

// BucketAmount holds the net and VAT accumulated in one bucket.
type BucketAmount struct {
	Net decimal.Decimal `json:"net"`
	VAT decimal.Decimal `json:"vat"`
}

// DeclarationRow is the per-document line of a register.
type DeclarationRow struct {
	Section             Section   `json:"section"`
	Seq                 int       `json:"seq"`
	DocumentID          string    `json:"document_id"`
	CounterpartyName    string    `json:"counterparty_name"`
	CounterpartyTaxID   string    `json:"counterparty_tax_id"`
	CounterpartyCountry string    `json:"counterparty_country,omitempty"`
	DocumentNumber      string    `json:"document_number"`
	IssueDate           time.Time `json:"issue_date"`
	SellDate            time.Time `json:"sell_date,omitempty"`
	Markers             []string  `json:"markers,omitempty"`
	Buckets             BucketSet `json:"buckets"`
	// NetSubtotal (K_P) and VATSubtotal (K_H) are sums over Buckets.
	NetSubtotal decimal.Decimal `json:"net_subtotal"`
	VATSubtotal decimal.Decimal `json:"vat_subtotal"`
}

// ControlTotal is the section-level count and VAT sum.
type ControlTotal struct {
	RowCount int             `json:"row_count"`
	TotalVAT decimal.Decimal `json:"total_vat"`
}

// SummaryField is a single P_ position of the declaration part.
type SummaryField struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// Summary keeps the declaration positions in schema order.
type Summary []SummaryField

// Get returns the named position or zero.
func (s Summary) Get(name string) decimal.Decimal {
	for _, f := range s {
		if f.Name == name {
			return f.Value
		}
	}
	return decimal.Zero
}

// Header carries the form identification and generation metadata.
type Header struct {
	Schema        string    `json:"schema"`
	FormCode      string    `json:"form_code"`
	SystemCode    string    `json:"system_code"`
	SchemaVersion string    `json:"schema_version"`
	Variant       int       `json:"variant"`
	Purpose       Purpose   `json:"purpose"`
	GeneratedAt   time.Time `json:"generated_at"`
	SystemName    string    `json:"system_name"`
	TaxOfficeCode string    `json:"tax_office_code,omitempty"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
}

// Declaration is the assembled record for one period.
type Declaration struct {
	Header          Header           `json:"header"`
	Subject         Subject          `json:"subject"`
	Period          Period           `json:"period"`
	Sales           []DeclarationRow `json:"sales"`
	SalesControl    ControlTotal     `json:"sales_control"`
	Purchases       []DeclarationRow `json:"purchases"`
	PurchaseControl ControlTotal     `json:"purchase_control"`
	Summary         Summary          `json:"summary"`
}

// Result is the successful outcome of a generation run.
type Result struct {
	Declaration Declaration `json:"declaration"`
	Warnings    []Warning   `json:"-"`
}

// MissingRequiredSubjectDataError aborts generation when the subject cannot be identified.
type MissingRequiredSubjectDataError struct {
	Field string
}

func (e *MissingRequiredSubjectDataError) Error() string {
	return fmt.Sprintf("vat: subject %s is required", e.Field)
}

// SerializationError signals a structurally invalid declaration.
type SerializationError struct {
	Reason string
}

func (e *SerializationError) Error() string {
	return "vat: serialize: " + e.Reason
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
