package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func samplePreview(t *testing.T) (*vat.Schema, vat.Preview) {
	t.Helper()
	schema, err := vat.LookupSchema(vat.DefaultSchemaName)
	require.NoError(t, err)
	sale := vat.SourceTransaction{
		ID:                "S1",
		Section:           vat.SectionSales,
		CounterpartyName:  "Acme, Ltd",
		CounterpartyTaxID: "1132853869",
		DocumentNumber:    "FV/1/2024",
		IssueDate:         day(15),
		Items: []vat.LineItem{
			{ID: "S1-1", Net: decimal.NewNullDecimal(decimal.RequireFromString("100")), Rate: vat.IntRate(23)},
			{ID: "S1-2", Net: decimal.NewNullDecimal(decimal.RequireFromString("50")), Rate: vat.IntRate(12)},
		},
		Markers:  []string{"GTU_01"},
		NetTotal: decimal.RequireFromString("150"),
		VATTotal: decimal.RequireFromString("29"),
	}
	buy := vat.SourceTransaction{
		ID:             "P1",
		Section:        vat.SectionPurchases,
		DocumentNumber: "P/1",
		IssueDate:      day(10),
		Items:          []vat.LineItem{{ID: "P1-1", Net: decimal.NewNullDecimal(decimal.RequireFromString("10")), Rate: vat.IntRate(23)}},
		NetTotal:       decimal.RequireFromString("10"),
		VATTotal:       decimal.RequireFromString("2.30"),
	}
	compiler := vat.NewCompiler(schema, vat.WithClock(func() time.Time { return day(31) }))
	res, err := compiler.Generate([]vat.SourceTransaction{sale, buy}, vat.Subject{TaxID: "5260250274", Name: "Odyssey"}, vat.MonthPeriod(2024, time.January))
	require.NoError(t, err)
	return schema, vat.Preview{RunID: "run-1", Declaration: res.Declaration, Warnings: vat.ViewWarnings(res.Warnings)}
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteRegisterCSV(t *testing.T) {
	schema, preview := samplePreview(t)
	var buf bytes.Buffer
	require.NoError(t, WriteRegisterCSV(&buf, schema, vat.SectionSales, preview.Declaration))

	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 3)
	header := records[0]
	require.Equal(t, []string{"Lp", "Document", "Number", "Counterparty", "Tax ID", "Country", "Issue Date", "Sell Date", "Markers"}, header[:9])
	require.Equal(t, "K_10", header[9])
	require.Equal(t, []string{"Net", "VAT"}, header[len(header)-2:])

	row := records[1]
	require.Equal(t, "1", row[0])
	require.Equal(t, "Acme, Ltd", row[3])
	require.Equal(t, "2024-01-15", row[6])
	require.Equal(t, "", row[7])
	require.Equal(t, "GTU_01", row[8])
	col := map[string]string{}
	for i, name := range header {
		col[name] = row[i]
	}
	require.Equal(t, "50.00", col["K_11"])
	require.Equal(t, "100.00", col["K_19"])
	require.Equal(t, "23.00", col["K_20"])
	require.Equal(t, "150.00", col["Net"])

	require.Equal(t, "29.00", col["VAT"])
	require.Equal(t, []string{"Control", "1", "29.00"}, records[2])
}

func TestWritePreviewCSVSections(t *testing.T) {
	schema, preview := samplePreview(t)
	var buf bytes.Buffer
	require.NoError(t, WritePreviewCSV(&buf, schema, preview))

	records := readCSV(t, buf.Bytes())
	var positions, warnings bool
	for _, record := range records {
		if record[0] == "P_38" {
			require.Equal(t, "23.00", record[1])
			positions = true
		}
		if record[0] == string(vat.WarningUnclassifiedRate) {
			require.Equal(t, "S1", record[2])
			warnings = true
		}
	}
	require.True(t, positions)
	require.True(t, warnings)
}

func TestWriteWorkbook(t *testing.T) {
	schema, preview := samplePreview(t)
	var buf bytes.Buffer
	require.NoError(t, WriteWorkbook(&buf, schema, preview))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.Equal(t, []string{SheetSales, SheetPurchases, SheetSummary, SheetWarnings}, f.GetSheetList())

	sales, err := f.GetRows(SheetSales, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(sales), 2)
	require.Equal(t, "Lp", sales[0][0])
	require.Equal(t, "FV/1/2024", sales[1][2])

	col := -1
	for i, name := range sales[0] {
		if name == "K_20" {
			col = i
		}
	}
	require.GreaterOrEqual(t, col, 0)
	require.True(t, decimal.RequireFromString("23").Equal(decimal.RequireFromString(sales[1][col])))

	summary, err := f.GetRows(SheetSummary, excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	found := false
	for _, row := range summary {
		if len(row) == 2 && row[0] == "P_51" {
			require.True(t, decimal.RequireFromString("20.7").Equal(decimal.RequireFromString(row[1])))
			found = true
		}
	}
	require.True(t, found)

	warnings, err := f.GetRows(SheetWarnings)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Equal(t, string(vat.WarningUnclassifiedRate), warnings[1][0])
}
