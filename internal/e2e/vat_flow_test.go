package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-vat/internal/app"
	"github.com/odyssey-erp/odyssey-vat/internal/documents"
	jobmetrics "github.com/odyssey-erp/odyssey-vat/internal/jobs"
	"github.com/odyssey-erp/odyssey-vat/internal/observability"
	"github.com/odyssey-erp/odyssey-vat/internal/vat"
	vathttp "github.com/odyssey-erp/odyssey-vat/internal/vat/http"
	"github.com/odyssey-erp/odyssey-vat/jobs"
	_ "github.com/odyssey-erp/odyssey-vat/testing"
)

type memoryStore struct{}

func (memoryStore) ListInvoices(ctx context.Context, companyID int64, section vat.Section, period vat.Period) ([]documents.InvoiceRecord, error) {
	issued := time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC)
	if section == vat.SectionPurchases {
		return []documents.InvoiceRecord{{
			ID: 20, Kind: "purchases", Number: "ZK/20", CounterpartyName: "Supplier",
			IssuedAt: issued, Subtotal: "200", TaxAmount: "46", Total: "246",
		}}, nil
	}
	return []documents.InvoiceRecord{{
		ID: 10, Kind: "sales", Number: "FV/10/2024", CounterpartyName: "Acme", CounterpartyTaxID: "1132853869",
		IssuedAt: issued, Subtotal: "100.00", TaxAmount: "23.00", Total: "123.00",
	}}, nil
}

func (memoryStore) ListLines(ctx context.Context, section vat.Section, ids []int64) (map[int64][]documents.LineRecord, error) {
	if section == vat.SectionPurchases {
		return map[int64][]documents.LineRecord{20: {{ID: 2, InvoiceID: 20, Quantity: "1", UnitPrice: "200", RateCode: "23"}}}, nil
	}
	return map[int64][]documents.LineRecord{10: {{ID: 1, InvoiceID: 10, Quantity: "1", UnitPrice: "100", RateCode: "23"}}}, nil
}

func (memoryStore) GetCompany(ctx context.Context, companyID int64) (documents.CompanyRecord, error) {
	if companyID != 1 {
		return documents.CompanyRecord{}, documents.ErrNotFound
	}
	return documents.CompanyRecord{ID: 1, Name: "Odyssey Sp. z o.o.", TaxID: "5260250274", Email: "vat@odyssey.test"}, nil
}

func newService(t *testing.T) *vat.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return vat.NewService(documents.NewSource(memoryStore{}), vat.NewCache(client, time.Minute), vat.ServiceConfig{SchemaName: vat.DefaultSchemaName})
}

func TestDeclarationPreviewOverHTTP(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Logger:     logger,
		Config:     &app.Config{AppEnv: "test"},
		VATHandler: vathttp.NewHandler(logger, newService(t), nil, metrics),
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    metrics,
	})

	get := func(target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		return rr
	}

	first := get("/vat/declarations?company_id=1&period=2024-01")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	var preview vat.Preview
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &preview))
	require.False(t, preview.Cached)
	require.Len(t, preview.Declaration.Sales, 1)
	require.Len(t, preview.Declaration.Purchases, 1)
	require.Empty(t, preview.Warnings)

	second := get("/vat/declarations?company_id=1&period=2024-01")
	require.Equal(t, http.StatusOK, second.Code)
	var cached vat.Preview
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &cached))
	require.True(t, cached.Cached)
	require.Equal(t, preview.Digest, cached.Digest)
	require.NotEqual(t, preview.RunID, cached.RunID)

	xml := get("/vat/declarations/xml?company_id=1&period=2024-01")
	require.Equal(t, http.StatusOK, xml.Code)
	body := xml.Body.String()
	require.Contains(t, body, "<K_19>100.00</K_19>")
	require.Contains(t, body, "<K_20>23.00</K_20>")
	require.Contains(t, body, "<LiczbaWierszySprzedazy>1</LiczbaWierszySprzedazy>")

	missing := get("/vat/declarations?company_id=2&period=2024-01")
	require.Equal(t, http.StatusNotFound, missing.Code)

	scrape := get("/metrics")
	require.Equal(t, http.StatusOK, scrape.Code)
	require.Contains(t, scrape.Body.String(), `odyssey_vat_previews_total{source="cache"} 2`)
	require.Contains(t, scrape.Body.String(), `odyssey_vat_exports_total{format="xml"} 1`)
}

func TestDeclarationJobStoresDocument(t *testing.T) {
	dir := t.TempDir()
	job := vat.NewJob(vat.JobConfig{
		Service: newService(t),
		Sink:    vat.FileSink{Dir: dir},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry()),
	})
	task, err := jobs.NewVATDeclarationTask(jobs.VATDeclarationPayload{CompanyID: 1, Period: "2024-01"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, strings.HasPrefix(entries[0].Name(), "jpk_v7m-2_company-1_2024-01_"))

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	require.Contains(t, string(data), "<NIP>5260250274</NIP>")
}
