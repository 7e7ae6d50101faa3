package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

// InputFile is an offline document set. JSON files parse as well since YAML is a superset.
type InputFile struct {
	Period    string          `yaml:"period"`
	Subject   InputSubject    `yaml:"subject"`
	Documents []InputDocument `yaml:"documents"`
}

// InputSubject describes the taxpayer.
type InputSubject struct {
	TaxID              string `yaml:"tax_id"`
	Name               string `yaml:"name"`
	RegistrationNumber string `yaml:"registration_number"`
	Email              string `yaml:"email"`
	TaxOfficeCode      string `yaml:"tax_office_code"`
}

// InputDocument is one sale or purchase with plain-text amounts and dates.
type InputDocument struct {
	ID           string      `yaml:"id"`
	Section      string      `yaml:"section"`
	Counterparty string      `yaml:"counterparty"`
	TaxID        string      `yaml:"tax_id"`
	Country      string      `yaml:"country"`
	Number       string      `yaml:"number"`
	IssueDate    string      `yaml:"issue_date"`
	SellDate     string      `yaml:"sell_date"`
	Markers      []string    `yaml:"markers"`
	Items        []InputItem `yaml:"items"`
	NetTotal     string      `yaml:"net_total"`
	VATTotal     string      `yaml:"vat_total"`
	GrossTotal   string      `yaml:"gross_total"`
}

// InputItem is one document position. Net and VAT may be omitted.
type InputItem struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Quantity  string `yaml:"quantity"`
	UnitPrice string `yaml:"unit_price"`
	Net       string `yaml:"net"`
	Rate      string `yaml:"rate"`
	VAT       string `yaml:"vat"`
}

// LoadInput reads and converts an offline document file.
func LoadInput(path string) (InputFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return InputFile{}, err
	}
	return ParseInput(data)
}

// ParseInput decodes YAML or JSON input.
func ParseInput(data []byte) (InputFile, error) {
	var in InputFile
	if err := yaml.Unmarshal(data, &in); err != nil {
		return InputFile{}, fmt.Errorf("parse input: %w", err)
	}
	return in, nil
}

// SubjectValue converts the subject block.
func (in InputFile) SubjectValue() vat.Subject {
	return vat.Subject{
		TaxID:              in.Subject.TaxID,
		Name:               in.Subject.Name,
		RegistrationNumber: in.Subject.RegistrationNumber,
		Email:              in.Subject.Email,
		TaxOfficeCode:      in.Subject.TaxOfficeCode,
	}
}

// Transactions converts the documents, in file order.
func (in InputFile) Transactions() ([]vat.SourceTransaction, error) {
	out := make([]vat.SourceTransaction, 0, len(in.Documents))
	for i, doc := range in.Documents {
		tx, err := doc.transaction()
		if err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i+1, doc.ID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (d InputDocument) transaction() (vat.SourceTransaction, error) {
	section := vat.SectionSales
	switch strings.ToLower(strings.TrimSpace(d.Section)) {
	case "", "sales", "sale":
	case "purchases", "purchase":
		section = vat.SectionPurchases
	default:
		return vat.SourceTransaction{}, fmt.Errorf("unknown section %q", d.Section)
	}
	if strings.TrimSpace(d.IssueDate) == "" {
		return vat.SourceTransaction{}, errors.New("issue_date is required")
	}
	issued, err := parseDate(d.IssueDate)
	if err != nil {
		return vat.SourceTransaction{}, fmt.Errorf("issue_date: %w", err)
	}
	sold, err := parseDate(d.SellDate)
	if err != nil {
		return vat.SourceTransaction{}, fmt.Errorf("sell_date: %w", err)
	}
	tx := vat.SourceTransaction{
		ID:                  d.ID,
		Section:             section,
		CounterpartyName:    d.Counterparty,
		CounterpartyTaxID:   d.TaxID,
		CounterpartyCountry: d.Country,
		DocumentNumber:      d.Number,
		IssueDate:           issued,
		SellDate:            sold,
		Markers:             d.Markers,
	}
	if tx.NetTotal, err = parseAmount(d.NetTotal); err != nil {
		return vat.SourceTransaction{}, fmt.Errorf("net_total: %w", err)
	}
	if tx.VATTotal, err = parseAmount(d.VATTotal); err != nil {
		return vat.SourceTransaction{}, fmt.Errorf("vat_total: %w", err)
	}
	if tx.GrossTotal, err = parseAmount(d.GrossTotal); err != nil {
		return vat.SourceTransaction{}, fmt.Errorf("gross_total: %w", err)
	}
	for _, item := range d.Items {
		line, err := item.lineItem()
		if err != nil {
			return vat.SourceTransaction{}, fmt.Errorf("item %s: %w", item.ID, err)
		}
		tx.Items = append(tx.Items, line)
	}
	return tx, nil
}

func (it InputItem) lineItem() (vat.LineItem, error) {
	rate, err := vat.ParseRate(it.Rate)
	if err != nil {
		return vat.LineItem{}, err
	}
	line := vat.LineItem{ID: it.ID, Name: it.Name, Rate: rate}
	if line.Quantity, err = parseAmount(it.Quantity); err != nil {
		return vat.LineItem{}, fmt.Errorf("quantity: %w", err)
	}
	if line.UnitPrice, err = parseAmount(it.UnitPrice); err != nil {
		return vat.LineItem{}, fmt.Errorf("unit_price: %w", err)
	}
	if line.Net, err = parseOptional(it.Net); err != nil {
		return vat.LineItem{}, fmt.Errorf("net: %w", err)
	}
	if line.VAT, err = parseOptional(it.VAT); err != nil {
		return vat.LineItem{}, fmt.Errorf("vat: %w", err)
	}
	return line, nil
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return t.UTC(), nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
}

func parseOptional(raw string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseAmount(raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
