package documents

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

// Normalizer converts stored rows into the typed compiler input.
type Normalizer struct {
	validate *validator.Validate
}

// NewNormalizer constructs a normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{validate: validator.New()}
}

func (n *Normalizer) check(v any, what string, id int64) error {
	if err := n.validate.Struct(v); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+":"+fe.Tag())
			}
		} else {
			fields = append(fields, err.Error())
		}
		return fmt.Errorf("%w: %s %d (%s)", ErrInvalidRecord, what, id, strings.Join(fields, ", "))
	}
	return nil
}

// Transaction converts an invoice and its lines.
func (n *Normalizer) Transaction(inv InvoiceRecord, lines []LineRecord) (vat.SourceTransaction, error) {
	if err := n.check(inv, "invoice", inv.ID); err != nil {
		return vat.SourceTransaction{}, err
	}
	tx := vat.SourceTransaction{
		ID:                  documentID(inv),
		Section:             vat.Section(inv.Kind),
		CounterpartyName:    cleanText(inv.CounterpartyName),
		CounterpartyTaxID:   cleanTaxID(inv.CounterpartyTaxID),
		CounterpartyCountry: strings.ToUpper(strings.TrimSpace(inv.CounterpartyCountry)),
		DocumentNumber:      cleanText(inv.Number),
		IssueDate:           inv.IssuedAt,
		SellDate:            inv.SoldAt,
		NetTotal:            decimal.RequireFromString(inv.Subtotal),
		VATTotal:            decimal.RequireFromString(inv.TaxAmount),
		GrossTotal:          decimal.RequireFromString(inv.Total),
	}
	for _, m := range inv.Markers {
		if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
			tx.Markers = append(tx.Markers, m)
		}
	}
	for _, line := range lines {
		item, err := n.lineItem(line)
		if err != nil {
			return vat.SourceTransaction{}, err
		}
		tx.Items = append(tx.Items, item)
	}
	return tx, nil
}

func (n *Normalizer) lineItem(line LineRecord) (vat.LineItem, error) {
	if err := n.check(line, "line", line.ID); err != nil {
		return vat.LineItem{}, err
	}
	rate, err := vat.ParseRate(line.RateCode)
	if err != nil {
		return vat.LineItem{}, fmt.Errorf("%w: line %d: %v", ErrInvalidRecord, line.ID, err)
	}
	item := vat.LineItem{
		ID:        strconv.FormatInt(line.ID, 10),
		Name:      cleanText(line.Description),
		Quantity:  decimal.RequireFromString(line.Quantity),
		UnitPrice: decimal.RequireFromString(line.UnitPrice),
		Rate:      rate,
	}
	if line.Subtotal != "" {
		item.Net = decimal.NewNullDecimal(decimal.RequireFromString(line.Subtotal))
	}
	if line.TaxAmount != "" {
		item.VAT = decimal.NewNullDecimal(decimal.RequireFromString(line.TaxAmount))
	}
	return item, nil
}

// Subject converts the company profile. A missing tax id is passed through so
// the compiler can reject it.
func (n *Normalizer) Subject(rec CompanyRecord) (vat.Subject, error) {
	if err := n.check(rec, "company", rec.ID); err != nil {
		return vat.Subject{}, err
	}
	return vat.Subject{
		TaxID:              cleanTaxID(rec.TaxID),
		Name:               cleanText(rec.Name),
		RegistrationNumber: strings.TrimSpace(rec.RegistrationNumber),
		Email:              strings.TrimSpace(rec.Email),
		TaxOfficeCode:      strings.TrimSpace(rec.TaxOfficeCode),
	}, nil
}

// documentID prefixes the row id so AR and AP ids never collide.
func documentID(inv InvoiceRecord) string {
	prefix := "AR-"
	if inv.Kind == string(vat.SectionPurchases) {
		prefix = "AP-"
	}
	return prefix + strconv.FormatInt(inv.ID, 10)
}

// cleanText drops control characters, collapses whitespace and composes to NFC.
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// cleanTaxID strips separators commonly typed into tax ids.
func cleanTaxID(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '.', '\t':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(s)))
}
