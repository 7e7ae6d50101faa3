package vat

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}

func mustSchema(t *testing.T, name string) *Schema {
	t.Helper()
	s, err := LookupSchema(name)
	require.NoError(t, err)
	return s
}

func testSubject() Subject {
	return Subject{TaxID: "5260250274", Name: "Odyssey Sp. z o.o."}
}

func january() Period {
	return MonthPeriod(2024, time.January)
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

// scenarioASale is one sale with net 100 at 23% and net 50 at 8%.
func scenarioASale() SourceTransaction {
	return SourceTransaction{
		ID:                "S1",
		Section:           SectionSales,
		CounterpartyName:  "Acme",
		CounterpartyTaxID: "1132853869",
		DocumentNumber:    "FV/1/2024",
		IssueDate:         day(15),
		SellDate:          day(15),
		Items: []LineItem{
			{ID: "S1-1", Net: nd("100"), Rate: IntRate(23)},
			{ID: "S1-2", Net: nd("50"), Rate: IntRate(8)},
		},
		NetTotal:   dec("150"),
		VATTotal:   dec("27"),
		GrossTotal: dec("177"),
	}
}

func purchase(id string, net string, rate int64, vat string) SourceTransaction {
	return SourceTransaction{
		ID:                id,
		Section:           SectionPurchases,
		CounterpartyName:  "Supplier " + id,
		CounterpartyTaxID: "7740001454",
		DocumentNumber:    "P/" + id,
		IssueDate:         day(10),
		Items:             []LineItem{{ID: id + "-1", Net: nd(net), Rate: IntRate(rate)}},
		NetTotal:          dec(net),
		VATTotal:          dec(vat),
	}
}
