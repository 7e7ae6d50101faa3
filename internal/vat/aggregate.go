package vat

import "github.com/shopspring/decimal"

// ComputeControlTotal reduces a section to its row count and VAT sum.
func ComputeControlTotal(rows []DeclarationRow) ControlTotal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.VATSubtotal)
	}
	return ControlTotal{RowCount: len(rows), TotalVAT: round2(total)}
}

// ComputeSummary evaluates the schema summary table over both sections. Positions
// are computed in table order so references always see earlier values.
func ComputeSummary(schema *Schema, sales, purchases []DeclarationRow) Summary {
	columns := map[Section]map[string]decimal.Decimal{
		SectionSales:     sumColumns(schema.Sales, sales),
		SectionPurchases: sumColumns(schema.Purchases, purchases),
	}
	values := make(map[string]decimal.Decimal, len(schema.Summary))
	out := make(Summary, 0, len(schema.Summary))
	for _, spec := range schema.Summary {
		v := decimal.Zero
		for _, term := range spec.Terms {
			var operand decimal.Decimal
			if term.Ref != "" {
				operand = values[term.Ref]
			} else {
				operand = columns[term.Section][term.Field]
			}
			if term.Sign < 0 {
				v = v.Sub(operand)
			} else {
				v = v.Add(operand)
			}
		}
		if spec.NonNegative && v.IsNegative() {
			v = decimal.Zero
		}
		v = round2(v)
		values[spec.Name] = v
		out = append(out, SummaryField{Name: spec.Name, Value: v})
	}
	return out
}

func sumColumns(fields []FieldSpec, rows []DeclarationRow) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(fields))
	for _, f := range fields {
		total := decimal.Zero
		for _, row := range rows {
			total = total.Add(f.Value(row))
		}
		out[f.Name] = total
	}
	return out
}
