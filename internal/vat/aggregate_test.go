package vat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckRowConsistency(t *testing.T) {
	tx := scenarioASale()
	row, _ := buildRow(t, tx)
	require.Empty(t, CheckRowConsistency(row, tx, DefaultTolerance))

	tx.VATTotal = dec("27.01")
	require.Empty(t, CheckRowConsistency(row, tx, DefaultTolerance), "difference equal to tolerance is accepted")

	tx.NetTotal = dec("151")
	tx.VATTotal = dec("27.50")
	warnings := CheckRowConsistency(row, tx, DefaultTolerance)
	require.Len(t, warnings, 2)
	net := warnings[0].(RowTotalMismatchWarning)
	require.Equal(t, "net", net.Figure)
	requireDecimal(t, "151", net.Expected)
	requireDecimal(t, "150", net.Computed)
	require.Equal(t, "vat", warnings[1].(RowTotalMismatchWarning).Figure)

	// The row keeps its classifier-derived breakdown.
	requireDecimal(t, "150", row.NetSubtotal)
	requireDecimal(t, "27", row.VATSubtotal)
}

func TestCheckRowConsistencyCustomTolerance(t *testing.T) {
	tx := scenarioASale()
	row, _ := buildRow(t, tx)
	tx.VATTotal = dec("27.40")
	require.Len(t, CheckRowConsistency(row, tx, DefaultTolerance), 1)
	require.Empty(t, CheckRowConsistency(row, tx, dec("0.5")))
}

func TestComputeControlTotalScenarioC(t *testing.T) {
	schema := mustSchema(t, DefaultSchemaName)
	c := NewClassifier(schema)
	var rows []DeclarationRow
	for i, tx := range []SourceTransaction{
		purchase("P1", "100", 23, "23"),
		purchase("P2", "33.33", 8, "2.67"),
		purchase("P3", "12.10", 5, "0.61"),
	} {
		row, _ := BuildRow(schema, c, i+1, tx)
		rows = append(rows, row)
	}

	ctrl := ComputeControlTotal(rows)
	require.Equal(t, 3, ctrl.RowCount)
	sum := rows[0].VATSubtotal.Add(rows[1].VATSubtotal).Add(rows[2].VATSubtotal)
	require.True(t, sum.Equal(ctrl.TotalVAT))
	requireDecimal(t, "26.28", ctrl.TotalVAT)
}

func TestComputeControlTotalEmpty(t *testing.T) {
	ctrl := ComputeControlTotal(nil)
	require.Equal(t, 0, ctrl.RowCount)
	requireDecimal(t, "0", ctrl.TotalVAT)
}

func TestComputeSummaryPayable(t *testing.T) {
	schema := mustSchema(t, DefaultSchemaName)
	c := NewClassifier(schema)
	sale, _ := BuildRow(schema, c, 1, scenarioASale())
	exempt, _ := BuildRow(schema, c, 2, SourceTransaction{
		ID:    "S2",
		Items: []LineItem{{ID: "x", Net: nd("10"), Rate: ExemptRate()}},
	})
	buy, _ := BuildRow(schema, c, 1, purchase("P1", "50", 23, "11.50"))

	summary := ComputeSummary(schema, []DeclarationRow{sale, exempt}, []DeclarationRow{buy})
	requireDecimal(t, "10", summary.Get("P_10"))
	requireDecimal(t, "50", summary.Get("P_17"))
	requireDecimal(t, "4", summary.Get("P_18"))
	requireDecimal(t, "100", summary.Get("P_19"))
	requireDecimal(t, "23", summary.Get("P_20"))
	requireDecimal(t, "160", summary.Get("P_37"))
	requireDecimal(t, "27", summary.Get("P_38"))
	requireDecimal(t, "50", summary.Get("P_42"))
	requireDecimal(t, "11.50", summary.Get("P_43"))
	requireDecimal(t, "11.50", summary.Get("P_48"))
	requireDecimal(t, "15.50", summary.Get("P_51"))
	requireDecimal(t, "0", summary.Get("P_53"))
	requireDecimal(t, "0", summary.Get("P_62"))

	names := make([]string, 0, len(summary))
	for _, f := range summary {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"P_10", "P_11", "P_13", "P_15", "P_16", "P_17", "P_18", "P_19", "P_20", "P_21", "P_22",
		"P_37", "P_38", "P_42", "P_43", "P_48", "P_51", "P_53", "P_62"}, names)
}

func TestComputeSummaryExcessCarriedForward(t *testing.T) {
	schema := mustSchema(t, DefaultSchemaName)
	c := NewClassifier(schema)
	sale, _ := BuildRow(schema, c, 1, scenarioASale())
	buy, _ := BuildRow(schema, c, 1, purchase("P1", "200", 23, "46"))

	summary := ComputeSummary(schema, []DeclarationRow{sale}, []DeclarationRow{buy})
	requireDecimal(t, "0", summary.Get("P_51"))
	requireDecimal(t, "19", summary.Get("P_53"))
	requireDecimal(t, "19", summary.Get("P_62"))
}

func TestComputeSummaryUnclassifiedNet(t *testing.T) {
	schema := mustSchema(t, DefaultSchemaName)
	c := NewClassifier(schema)
	row, _ := BuildRow(schema, c, 1, SourceTransaction{
		ID:    "S1",
		Items: []LineItem{{ID: "x", Net: nd("80"), Rate: IntRate(12)}},
	})
	summary := ComputeSummary(schema, []DeclarationRow{row}, nil)
	requireDecimal(t, "80", summary.Get("P_11"))
	requireDecimal(t, "80", summary.Get("P_37"))
	requireDecimal(t, "0", summary.Get("P_38"))
}
