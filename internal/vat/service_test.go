package vat

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	mu      sync.Mutex
	txs     []SourceTransaction
	subject Subject
	err     error
	calls   int
}

func (s *stubSource) Load(ctx context.Context, companyID int64, period Period) ([]SourceTransaction, Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.txs, s.subject, s.err
}

func newTestService(t *testing.T, source DocumentSource) (*Service, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	svc := NewService(source, cache, ServiceConfig{SystemName: "Odyssey ERP"})
	svc.WithNow(func() time.Time { return fixedNow })
	var n int
	var mu sync.Mutex
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "run-" + strconv.Itoa(n)
	}
	return svc, cache
}

func TestServicePreviewCachesByDigest(t *testing.T) {
	source := &stubSource{txs: []SourceTransaction{scenarioASale()}, subject: testSubject()}
	svc, cache := newTestService(t, source)
	ctx := context.Background()
	req := Request{CompanyID: 1, Period: "2024-01"}

	first, err := svc.Preview(ctx, req)
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, "run-1", first.RunID)
	require.Len(t, first.Digest, 64)
	require.Contains(t, first.XML, "<PodatekNalezny>27.00</PodatekNalezny>")

	second, err := svc.Preview(ctx, req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, "run-2", second.RunID)
	require.Equal(t, first.XML, second.XML)
	require.Equal(t, first.Digest, second.Digest)
	requireDecimal(t, "27", second.Declaration.SalesControl.TotalVAT)
	requireDecimal(t, "100", second.Declaration.Sales[0].Buckets.Get(BucketStandardHigh).Net)

	source.txs = append(source.txs, purchase("P1", "10", 23, "2.30"))
	third, err := svc.Preview(ctx, req)
	require.NoError(t, err)
	require.False(t, third.Cached)
	require.NotEqual(t, first.Digest, third.Digest)

	require.NoError(t, cache.Bump(ctx))
	fourth, err := svc.Preview(ctx, req)
	require.NoError(t, err)
	require.False(t, fourth.Cached)
}

func TestServicePreviewWarnings(t *testing.T) {
	odd := SourceTransaction{
		ID:        "S2",
		Section:   SectionSales,
		IssueDate: day(5),
		Items:     []LineItem{{ID: "S2-1", Net: nd("80"), Rate: IntRate(12)}},
		NetTotal:  dec("80"),
		VATTotal:  dec("9.60"),
	}
	svc, _ := newTestService(t, &stubSource{txs: []SourceTransaction{odd}, subject: testSubject()})
	p, err := svc.Preview(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	require.Equal(t, WarningUnclassifiedRate, p.Warnings[0].Kind)
	require.Equal(t, SectionSales, p.Warnings[0].Section)
	require.Equal(t, "S2", p.Warnings[0].Document)

	cached, err := svc.Preview(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	require.NoError(t, err)
	require.True(t, cached.Cached)
	require.Equal(t, p.Warnings, cached.Warnings)
}

func TestServiceGenerateBypassesCache(t *testing.T) {
	source := &stubSource{txs: []SourceTransaction{scenarioASale()}, subject: testSubject()}
	svc, _ := newTestService(t, source)
	req := Request{CompanyID: 1, Period: "2024-01", Schema: "JPK_V7M(1)", Purpose: 2}

	p, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, p.Cached)
	require.Equal(t, "JPK_V7M(1)", p.Declaration.Header.Schema)
	require.Equal(t, PurposeCorrection, p.Declaration.Header.Purpose)
	require.Contains(t, p.XML, `<CelZlozenia poz="P_7">2</CelZlozenia>`)

	_, err = svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, source.calls)
}

func TestServiceRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t, &stubSource{subject: testSubject()})
	ctx := context.Background()

	_, err := svc.Preview(ctx, Request{Period: "2024-01"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Preview(ctx, Request{CompanyID: 1, Period: "January"})
	require.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = svc.Preview(ctx, Request{CompanyID: 1, Period: "2024-01", Schema: "JPK_V7K(1)"})
	require.ErrorIs(t, err, ErrUnknownSchema)
	_, err = svc.Preview(ctx, Request{CompanyID: 1, Period: "2024-01", Purpose: 3})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServicePropagatesFatalErrors(t *testing.T) {
	svc, _ := newTestService(t, &stubSource{txs: []SourceTransaction{scenarioASale()}})
	_, err := svc.Preview(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	var missing *MissingRequiredSubjectDataError
	require.True(t, errors.As(err, &missing))

	loadErr := errors.New("db down")
	svc, _ = newTestService(t, &stubSource{err: loadErr})
	_, err = svc.Generate(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	require.ErrorIs(t, err, loadErr)
}

func TestServiceWithoutCache(t *testing.T) {
	svc := NewService(&stubSource{txs: []SourceTransaction{scenarioASale()}, subject: testSubject()}, nil, ServiceConfig{})
	p, err := svc.Preview(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	require.NoError(t, err)
	require.False(t, p.Cached)
	require.NotEmpty(t, p.RunID)
	require.Equal(t, DefaultSchemaName, p.Declaration.Header.Schema)
}

func TestServiceToleranceZeroIsHonoured(t *testing.T) {
	sale := scenarioASale()
	sale.NetTotal = dec("150.005")
	source := &stubSource{txs: []SourceTransaction{sale}, subject: testSubject()}

	p, err := NewService(source, nil, ServiceConfig{}).Generate(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	require.NoError(t, err)
	require.Empty(t, p.Warnings)

	strict := NewService(source, nil, ServiceConfig{Tolerance: decimal.NewNullDecimal(decimal.Zero)})
	p, err = strict.Generate(context.Background(), Request{CompanyID: 1, Period: "2024-01"})
	require.NoError(t, err)
	require.Len(t, p.Warnings, 1)
	require.Equal(t, WarningRowTotalMismatch, p.Warnings[0].Kind)
}

func TestDigestIsStable(t *testing.T) {
	period := january()
	a, err := Digest(DefaultSchemaName, PurposeOriginal, testSubject(), period, []SourceTransaction{scenarioASale()})
	require.NoError(t, err)
	b, err := Digest(DefaultSchemaName, PurposeOriginal, testSubject(), period, []SourceTransaction{scenarioASale()})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := Digest(DefaultSchemaName, PurposeCorrection, testSubject(), period, []SourceTransaction{scenarioASale()})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}
