package vat

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// lineAmounts resolves a line item's net and VAT. Stored values win; otherwise
// net is quantity*unit price and VAT is net*rate/100. Both are rounded to two
// places before they reach a bucket.
func lineAmounts(item LineItem) (net, vat decimal.Decimal) {
	if item.Net.Valid {
		net = item.Net.Decimal
	} else {
		net = item.Quantity.Mul(item.UnitPrice)
	}
	net = round2(net)
	if !item.Rate.IsNumeric() {
		return net, decimal.Zero
	}
	if item.VAT.Valid {
		vat = item.VAT.Decimal
	} else {
		vat = net.Mul(item.Rate.Percent).Div(hundred)
	}
	return net, round2(vat)
}

// BuildRow turns one source document into a register row. Warnings cover
// defaulted rates and markers the schema does not know.
func BuildRow(schema *Schema, classifier *Classifier, seq int, tx SourceTransaction) (DeclarationRow, []Warning) {
	section := sectionOf(tx)
	row := DeclarationRow{
		Section:             section,
		Seq:                 seq,
		DocumentID:          tx.ID,
		CounterpartyName:    strings.TrimSpace(tx.CounterpartyName),
		CounterpartyTaxID:   strings.TrimSpace(tx.CounterpartyTaxID),
		CounterpartyCountry: strings.ToUpper(strings.TrimSpace(tx.CounterpartyCountry)),
		DocumentNumber:      strings.TrimSpace(tx.DocumentNumber),
		IssueDate:           tx.IssueDate,
		SellDate:            tx.SellDate,
	}
	var warnings []Warning
	for _, item := range tx.Items {
		bucket, warn := classifier.ClassifyItem(section, tx.ID, item)
		if warn != nil {
			warnings = append(warnings, *warn)
		}
		net, vat := lineAmounts(item)
		row.Buckets.Add(bucket, net, vat)
	}
	row.NetSubtotal, row.VATSubtotal = subtotals(row.Buckets)

	if len(tx.Markers) > 0 {
		present := make(map[string]struct{}, len(tx.Markers))
		for _, m := range tx.Markers {
			m = strings.ToUpper(strings.TrimSpace(m))
			if m == "" {
				continue
			}
			if !schema.HasMarker(section, m) {
				warnings = append(warnings, UnknownMarkerWarning{Section: section, DocumentID: tx.ID, Marker: m})
				continue
			}
			present[m] = struct{}{}
		}
		for _, m := range schema.MarkersFor(section) {
			if _, ok := present[m]; ok {
				row.Markers = append(row.Markers, m)
			}
		}
	}
	return row, warnings
}

func subtotals(set BucketSet) (net, vat decimal.Decimal) {
	net, vat = decimal.Zero, decimal.Zero
	for _, amt := range set {
		net = net.Add(amt.Net)
		vat = vat.Add(amt.VAT)
	}
	return net, vat
}

func sectionOf(tx SourceTransaction) Section {
	if tx.Section == SectionPurchases {
		return SectionPurchases
	}
	return SectionSales
}
