package vat

import "github.com/shopspring/decimal"

// DefaultTolerance is the accepted difference between computed and stored totals.
var DefaultTolerance = decimal.New(1, -2)

// CheckRowConsistency compares a built row with the document's stored totals.
// It only reports; the row keeps the rate breakdown as computed.
func CheckRowConsistency(row DeclarationRow, tx SourceTransaction, tolerance decimal.Decimal) []Warning {
	var warnings []Warning
	if exceeds(row.NetSubtotal, tx.NetTotal, tolerance) {
		warnings = append(warnings, RowTotalMismatchWarning{
			Section:    row.Section,
			DocumentID: tx.ID,
			Figure:     "net",
			Expected:   tx.NetTotal,
			Computed:   row.NetSubtotal,
		})
	}
	if exceeds(row.VATSubtotal, tx.VATTotal, tolerance) {
		warnings = append(warnings, RowTotalMismatchWarning{
			Section:    row.Section,
			DocumentID: tx.ID,
			Figure:     "vat",
			Expected:   tx.VATTotal,
			Computed:   row.VATSubtotal,
		})
	}
	return warnings
}

func exceeds(computed, expected, tolerance decimal.Decimal) bool {
	return computed.Sub(expected).Abs().GreaterThan(tolerance)
}
