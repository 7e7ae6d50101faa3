package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

// Sheet names of the review workbook.
const (
	SheetSales     = "Sprzedaz"
	SheetPurchases = "Zakup"
	SheetSummary   = "Deklaracja"
	SheetWarnings  = "Ostrzezenia"
)

// amountColumnsFrom is the first 1-based column holding amounts in register sheets.
const amountColumnsFrom = 10

// WriteWorkbook renders the preview as an xlsx workbook with one sheet per
// register, the declaration positions and the warnings.
func WriteWorkbook(w io.Writer, schema *vat.Schema, preview vat.Preview) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSales); err != nil {
		return err
	}
	for _, name := range []string{SheetPurchases, SheetSummary, SheetWarnings} {
		if _, err := f.NewSheet(name); err != nil {
			return err
		}
	}
	amountStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	decl := preview.Declaration
	if err := writeRegisterSheet(f, SheetSales, schema, vat.SectionSales, decl.Sales, decl.SalesControl, amountStyle, headerStyle); err != nil {
		return err
	}
	if err := writeRegisterSheet(f, SheetPurchases, schema, vat.SectionPurchases, decl.Purchases, decl.PurchaseControl, amountStyle, headerStyle); err != nil {
		return err
	}
	if err := writeSummarySheet(f, decl, amountStyle, headerStyle); err != nil {
		return err
	}
	if err := writeWarningsSheet(f, preview.Warnings, headerStyle); err != nil {
		return err
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeRegisterSheet(f *excelize.File, sheet string, schema *vat.Schema, section vat.Section, rows []vat.DeclarationRow, control vat.ControlTotal, amountStyle, headerStyle int) error {
	header := RegisterHeader(schema, section)
	if err := setRow(f, sheet, 1, toCells(header)); err != nil {
		return err
	}
	if err := styleRow(f, sheet, 1, len(header), headerStyle); err != nil {
		return err
	}
	fields := schema.Fields(section)
	for i, row := range rows {
		cells := []interface{}{
			row.Seq,
			row.DocumentID,
			row.DocumentNumber,
			row.CounterpartyName,
			row.CounterpartyTaxID,
			row.CounterpartyCountry,
			formatDate(row.IssueDate),
			formatDate(row.SellDate),
			strings.Join(row.Markers, " "),
		}
		for _, field := range fields {
			cells = append(cells, amount(field.Value(row)))
		}
		cells = append(cells, amount(row.NetSubtotal), amount(row.VATSubtotal))
		if err := setRow(f, sheet, i+2, cells); err != nil {
			return err
		}
	}

	controlRow := len(rows) + 3
	if err := setRow(f, sheet, controlRow, []interface{}{"Control", control.RowCount, amount(control.TotalVAT)}); err != nil {
		return err
	}
	if err := styleRow(f, sheet, controlRow, 1, headerStyle); err != nil {
		return err
	}
	if len(rows) > 0 {
		if err := f.SetCellStyle(sheet, cellName(amountColumnsFrom, 2), cellName(len(header), len(rows)+1), amountStyle); err != nil {
			return err
		}
	}
	return f.SetCellStyle(sheet, cellName(3, controlRow), cellName(3, controlRow), amountStyle)
}

func writeSummarySheet(f *excelize.File, decl vat.Declaration, amountStyle, headerStyle int) error {
	if err := setRow(f, SheetSummary, 1, []interface{}{"Position", "Value"}); err != nil {
		return err
	}
	if err := styleRow(f, SheetSummary, 1, 2, headerStyle); err != nil {
		return err
	}
	for i, field := range decl.Summary {
		if err := setRow(f, SheetSummary, i+2, []interface{}{field.Name, amount(field.Value)}); err != nil {
			return err
		}
	}
	if len(decl.Summary) == 0 {
		return nil
	}
	return f.SetCellStyle(SheetSummary, "B2", cellName(2, len(decl.Summary)+1), amountStyle)
}

func writeWarningsSheet(f *excelize.File, warnings []vat.WarningView, headerStyle int) error {
	if err := setRow(f, SheetWarnings, 1, []interface{}{"Kind", "Section", "Document", "Message"}); err != nil {
		return err
	}
	if err := styleRow(f, SheetWarnings, 1, 4, headerStyle); err != nil {
		return err
	}
	for i, warn := range warnings {
		cells := []interface{}{string(warn.Kind), string(warn.Section), warn.Document, warn.Message}
		if err := setRow(f, SheetWarnings, i+2, cells); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	return f.SetSheetRow(sheet, cellName(1, row), &cells)
}

func styleRow(f *excelize.File, sheet string, row, width, style int) error {
	return f.SetCellStyle(sheet, cellName(1, row), cellName(width, row), style)
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		panic(fmt.Sprintf("export: invalid cell %d,%d", col, row))
	}
	return name
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
