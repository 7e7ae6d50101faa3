package vat

import (
	"runtime"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultSystemName is written to NazwaSystemu when no override is configured.
const DefaultSystemName = "Odyssey ERP"

// Compiler turns finalised documents into a declaration for one schema version.
type Compiler struct {
	schema     *Schema
	classifier *Classifier
	now        func() time.Time
	workers    int
	tolerance  decimal.Decimal
	purpose    Purpose
	systemName string
}

// Option customises a Compiler.
type Option func(*Compiler)

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) {
		if now != nil {
			c.now = now
		}
	}
}

// WithWorkers bounds the number of documents processed concurrently.
func WithWorkers(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithTolerance sets the accepted row total difference.
func WithTolerance(t decimal.Decimal) Option {
	return func(c *Compiler) {
		if !t.IsNegative() {
			c.tolerance = t
		}
	}
}

// WithPurpose sets the submission purpose written to the header.
func WithPurpose(p Purpose) Option {
	return func(c *Compiler) {
		if p == PurposeOriginal || p == PurposeCorrection {
			c.purpose = p
		}
	}
}

// WithSystemName sets NazwaSystemu.
func WithSystemName(name string) Option {
	return func(c *Compiler) {
		if name = strings.TrimSpace(name); name != "" {
			c.systemName = name
		}
	}
}

// NewCompiler constructs a compiler for the schema.
func NewCompiler(schema *Schema, opts ...Option) *Compiler {
	c := &Compiler{
		schema:     schema,
		classifier: NewClassifier(schema),
		now:        time.Now,
		workers:    runtime.GOMAXPROCS(0),
		tolerance:  DefaultTolerance,
		purpose:    PurposeOriginal,
		systemName: DefaultSystemName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schema returns the compiler's schema.
func (c *Compiler) Schema() *Schema {
	return c.schema
}

type rowResult struct {
	row      DeclarationRow
	warnings []Warning
}

// Generate builds the declaration. The only error is a
// *MissingRequiredSubjectDataError; every other problem is a warning.
func (c *Compiler) Generate(transactions []SourceTransaction, subject Subject, period Period) (Result, error) {
	subject = normalizeSubject(subject)
	if subject.TaxID == "" {
		return Result{}, &MissingRequiredSubjectDataError{Field: "tax_id"}
	}

	results := make([]rowResult, len(transactions))
	seqs := sequenceNumbers(transactions)
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i := range transactions {
		i := i
		g.Go(func() error {
			tx := transactions[i]
			row, warnings := BuildRow(c.schema, c.classifier, seqs[i], tx)
			warnings = append(warnings, CheckRowConsistency(row, tx, c.tolerance)...)
			results[i] = rowResult{row: row, warnings: warnings}
			return nil
		})
	}
	_ = g.Wait()

	var (
		sales, purchases []DeclarationRow
		warnings         []Warning
	)
	for _, r := range results {
		if r.row.Section == SectionPurchases {
			purchases = append(purchases, r.row)
		} else {
			sales = append(sales, r.row)
		}
		warnings = append(warnings, r.warnings...)
	}

	decl := Declaration{
		Header:          c.header(subject, period),
		Subject:         subject,
		Period:          period,
		Sales:           sales,
		SalesControl:    ComputeControlTotal(sales),
		Purchases:       purchases,
		PurchaseControl: ComputeControlTotal(purchases),
		Summary:         ComputeSummary(c.schema, sales, purchases),
	}
	return Result{Declaration: decl, Warnings: warnings}, nil
}

func (c *Compiler) header(subject Subject, period Period) Header {
	return Header{
		Schema:        c.schema.Name,
		FormCode:      c.schema.Form.Code,
		SystemCode:    c.schema.Form.SystemCode,
		SchemaVersion: c.schema.Form.SchemaVersion,
		Variant:       c.schema.Form.Variant,
		Purpose:       c.purpose,
		GeneratedAt:   c.now().UTC().Truncate(time.Second),
		SystemName:    c.systemName,
		TaxOfficeCode: subject.TaxOfficeCode,
		Year:          period.Start.Year(),
		Month:         int(period.Start.Month()),
	}
}

// sequenceNumbers numbers rows per section in input order, starting at 1.
func sequenceNumbers(transactions []SourceTransaction) []int {
	out := make([]int, len(transactions))
	var sales, purchases int
	for i, tx := range transactions {
		if sectionOf(tx) == SectionPurchases {
			purchases++
			out[i] = purchases
		} else {
			sales++
			out[i] = sales
		}
	}
	return out
}

func normalizeSubject(s Subject) Subject {
	s.TaxID = strings.ReplaceAll(strings.TrimSpace(s.TaxID), "-", "")
	s.Name = strings.TrimSpace(s.Name)
	s.RegistrationNumber = strings.TrimSpace(s.RegistrationNumber)
	s.Email = strings.TrimSpace(s.Email)
	s.TaxOfficeCode = strings.TrimSpace(s.TaxOfficeCode)
	return s
}

// GenerateDeclaration compiles with the default schema and options.
func GenerateDeclaration(transactions []SourceTransaction, subject Subject, period Period, opts ...Option) (Result, error) {
	schema, err := LookupSchema(DefaultSchemaName)
	if err != nil {
		return Result{}, err
	}
	return NewCompiler(schema, opts...).Generate(transactions, subject, period)
}
