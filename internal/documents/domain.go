package documents

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a missing company profile.
	ErrNotFound = errors.New("documents: not found")
	// ErrInvalidRecord wraps validation failures on stored rows.
	ErrInvalidRecord = errors.New("documents: invalid record")
)

// InvoiceRecord is a posted AR or AP invoice as stored. Amounts are kept as the
// database's numeric text so no precision is lost before normalisation.
type InvoiceRecord struct {
	ID                  int64     `validate:"required,gt=0"`
	Kind                string    `validate:"required,oneof=sales purchases"`
	Number              string    `validate:"required,max=256"`
	CounterpartyName    string    `validate:"max=512"`
	CounterpartyTaxID   string    `validate:"omitempty,max=50"`
	CounterpartyCountry string    `validate:"omitempty,len=2,alpha"`
	IssuedAt            time.Time `validate:"required"`
	SoldAt              time.Time
	Markers             []string
	Subtotal            string `validate:"required,numeric"`
	TaxAmount           string `validate:"required,numeric"`
	Total               string `validate:"required,numeric"`
}

// LineRecord is one invoice line. RateCode holds the textual rate ("23", "zw",
// "0 WDT"); Subtotal and TaxAmount are empty when the line did not store them.
type LineRecord struct {
	ID          int64  `validate:"required,gt=0"`
	InvoiceID   int64  `validate:"required,gt=0"`
	Description string `validate:"max=1024"`
	Quantity    string `validate:"required,numeric"`
	UnitPrice   string `validate:"required,numeric"`
	RateCode    string `validate:"required,max=16"`
	Subtotal    string `validate:"omitempty,numeric"`
	TaxAmount   string `validate:"omitempty,numeric"`
}

// CompanyRecord is the company profile used as the declaration subject.
type CompanyRecord struct {
	ID                 int64  `validate:"required,gt=0"`
	Name               string `validate:"max=240"`
	TaxID              string `validate:"max=50"`
	RegistrationNumber string `validate:"omitempty,max=14"`
	Email              string `validate:"omitempty,email"`
	TaxOfficeCode      string `validate:"omitempty,len=4,numeric"`
}
