// Package export renders compiled declarations into review formats.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

const dateLayout = "2006-01-02"

// RegisterHeader returns the column titles of a register table.
func RegisterHeader(schema *vat.Schema, section vat.Section) []string {
	header := []string{"Lp", "Document", "Number", "Counterparty", "Tax ID", "Country", "Issue Date", "Sell Date", "Markers"}
	for _, f := range schema.Fields(section) {
		header = append(header, f.Name)
	}
	return append(header, "Net", "VAT")
}

// RegisterRecord flattens one row in RegisterHeader order.
func RegisterRecord(schema *vat.Schema, row vat.DeclarationRow) []string {
	record := []string{
		strconv.Itoa(row.Seq),
		row.DocumentID,
		row.DocumentNumber,
		row.CounterpartyName,
		row.CounterpartyTaxID,
		row.CounterpartyCountry,
		formatDate(row.IssueDate),
		formatDate(row.SellDate),
		strings.Join(row.Markers, " "),
	}
	for _, f := range schema.Fields(row.Section) {
		record = append(record, formatAmount(f.Value(row)))
	}
	return append(record, formatAmount(row.NetSubtotal), formatAmount(row.VATSubtotal))
}

// WriteRegisterCSV emits one section of the declaration as CSV, closed by a control line.
func WriteRegisterCSV(w io.Writer, schema *vat.Schema, section vat.Section, decl vat.Declaration) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(RegisterHeader(schema, section)); err != nil {
		return err
	}
	rows, control := decl.Sales, decl.SalesControl
	if section == vat.SectionPurchases {
		rows, control = decl.Purchases, decl.PurchaseControl
	}
	for _, row := range rows {
		if err := writer.Write(RegisterRecord(schema, row)); err != nil {
			return err
		}
	}
	if err := writer.Write([]string{"Control", strconv.Itoa(control.RowCount), formatAmount(control.TotalVAT)}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// WriteSummaryCSV emits the declaration positions.
func WriteSummaryCSV(w io.Writer, summary vat.Summary) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Position", "Value"}); err != nil {
		return err
	}
	for _, field := range summary {
		if err := writer.Write([]string{field.Name, formatAmount(field.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteWarningsCSV emits generation diagnostics.
func WriteWarningsCSV(w io.Writer, warnings []vat.WarningView) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()
	if err := writer.Write([]string{"Kind", "Section", "Document", "Message"}); err != nil {
		return err
	}
	for _, warn := range warnings {
		if err := writer.Write([]string{string(warn.Kind), string(warn.Section), warn.Document, warn.Message}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WritePreviewCSV concatenates sales, purchases, summary and warnings separated by blank lines.
func WritePreviewCSV(w io.Writer, schema *vat.Schema, preview vat.Preview) error {
	steps := []func() error{
		func() error { return WriteRegisterCSV(w, schema, vat.SectionSales, preview.Declaration) },
		func() error { return WriteRegisterCSV(w, schema, vat.SectionPurchases, preview.Declaration) },
		func() error { return WriteSummaryCSV(w, preview.Declaration.Summary) },
		func() error { return WriteWarningsCSV(w, preview.Warnings) },
	}
	for i, step := range steps {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
