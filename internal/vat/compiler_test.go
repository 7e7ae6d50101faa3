package vat

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCompiler(t *testing.T, opts ...Option) *Compiler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewCompiler(mustSchema(t, DefaultSchemaName), opts...)
}

func TestGenerateMissingTaxID(t *testing.T) {
	c := newTestCompiler(t)
	for _, id := range []string{"", "   ", "--"} {
		res, err := c.Generate([]SourceTransaction{scenarioASale()}, Subject{TaxID: id, Name: "X"}, january())
		var missing *MissingRequiredSubjectDataError
		require.True(t, errors.As(err, &missing), "tax id %q", id)
		require.Equal(t, "tax_id", missing.Field)
		require.Empty(t, res.Declaration.Sales)
		require.Nil(t, res.Warnings)
	}
}

func TestGenerateSplitsSectionsInInputOrder(t *testing.T) {
	var txs []SourceTransaction
	for i := 0; i < 40; i++ {
		if i%3 == 0 {
			txs = append(txs, purchase(fmt.Sprintf("P%d", i), "10", 23, "2.30"))
			continue
		}
		s := scenarioASale()
		s.ID = fmt.Sprintf("S%d", i)
		txs = append(txs, s)
	}
	res, err := newTestCompiler(t, WithWorkers(4)).Generate(txs, testSubject(), january())
	require.NoError(t, err)
	require.Empty(t, res.Warnings)

	decl := res.Declaration
	require.Len(t, decl.Purchases, 14)
	require.Len(t, decl.Sales, 26)
	require.Equal(t, "P0", decl.Purchases[0].DocumentID)
	require.Equal(t, "P39", decl.Purchases[13].DocumentID)
	require.Equal(t, "S1", decl.Sales[0].DocumentID)
	for i, row := range decl.Sales {
		require.Equal(t, i+1, row.Seq)
	}
	for i, row := range decl.Purchases {
		require.Equal(t, i+1, row.Seq)
	}
	require.Equal(t, 26, decl.SalesControl.RowCount)
	requireDecimal(t, "702", decl.SalesControl.TotalVAT)
	require.Equal(t, 14, decl.PurchaseControl.RowCount)
	requireDecimal(t, "32.20", decl.PurchaseControl.TotalVAT)
}

func TestGenerateHeader(t *testing.T) {
	res, err := newTestCompiler(t, WithPurpose(PurposeCorrection), WithSystemName("Odyssey Test")).
		Generate(nil, Subject{TaxID: "526-025-02-74", TaxOfficeCode: "1471"}, january())
	require.NoError(t, err)
	h := res.Declaration.Header
	require.Equal(t, DefaultSchemaName, h.Schema)
	require.Equal(t, "JPK_VAT", h.FormCode)
	require.Equal(t, "JPK_V7M (2)", h.SystemCode)
	require.Equal(t, 2, h.Variant)
	require.Equal(t, PurposeCorrection, h.Purpose)
	require.Equal(t, "Odyssey Test", h.SystemName)
	require.Equal(t, "1471", h.TaxOfficeCode)
	require.Equal(t, 2024, h.Year)
	require.Equal(t, 1, h.Month)
	require.True(t, fixedNow.Equal(h.GeneratedAt))
	require.Equal(t, "5260250274", res.Declaration.Subject.TaxID)
	require.Equal(t, 0, res.Declaration.SalesControl.RowCount)
}

func TestGenerateCollectsWarnings(t *testing.T) {
	odd := SourceTransaction{
		ID:       "S2",
		Items:    []LineItem{{ID: "S2-1", Net: nd("80"), Rate: IntRate(12)}},
		Markers:  []string{"NOPE"},
		NetTotal: dec("80"),
		VATTotal: dec("0"),
	}
	res, err := newTestCompiler(t).Generate([]SourceTransaction{scenarioASale(), odd}, testSubject(), january())
	require.NoError(t, err)
	counts := CountWarnings(res.Warnings)
	require.Equal(t, 1, counts[WarningUnclassifiedRate])
	require.Equal(t, 1, counts[WarningUnknownMarker])
	require.Equal(t, 1, counts[WarningRowTotalMismatch])
	for _, w := range res.Warnings {
		require.Equal(t, "S2", w.Document())
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	txs := []SourceTransaction{scenarioASale(), purchase("P1", "10", 23, "2.30"), purchase("P2", "99.99", 8, "8")}
	c := newTestCompiler(t, WithWorkers(3))

	first, err := c.Generate(txs, testSubject(), january())
	require.NoError(t, err)
	second, err := c.Generate(txs, testSubject(), january())
	require.NoError(t, err)

	a, err := json.Marshal(first.Declaration)
	require.NoError(t, err)
	b, err := json.Marshal(second.Declaration)
	require.NoError(t, err)
	require.JSONEq(t, string(a), string(b))

	x1, err := SerializeDeclaration(first.Declaration)
	require.NoError(t, err)
	x2, err := SerializeDeclaration(second.Declaration)
	require.NoError(t, err)
	require.Equal(t, x1, x2)
}

func TestGenerateDeclarationUsesDefaultSchema(t *testing.T) {
	res, err := GenerateDeclaration([]SourceTransaction{scenarioASale()}, testSubject(), january(),
		WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	require.Equal(t, DefaultSchemaName, res.Declaration.Header.Schema)
	requireDecimal(t, "27", res.Declaration.SalesControl.TotalVAT)
}
