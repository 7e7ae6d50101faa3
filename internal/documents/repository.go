package documents

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-vat/internal/platform/db"
	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads posted invoices and company profiles from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// Snapshot runs fn against a repository bound to one repeatable-read
// transaction, so both registers and the company come from the same state.
func (r *Repository) Snapshot(ctx context.Context, fn func(Store) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.ReadSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{q: tx})
	})
}

const arInvoicesQuery = `
	SELECT i.id, i.number, COALESCE(c.name, ''), COALESCE(c.tax_id, ''), COALESCE(c.country_code, ''),
		i.issued_at, i.sold_at, COALESCE(i.vat_markers, '{}'),
		i.subtotal::text, i.tax_amount::text, i.total::text
	FROM ar_invoices i
	LEFT JOIN customers c ON c.id = i.customer_id
	WHERE i.company_id = $1 AND i.status IN ('POSTED', 'PAID')
		AND i.issued_at >= $2 AND i.issued_at < $3
	ORDER BY i.issued_at, i.id`

const apInvoicesQuery = `
	SELECT i.id, i.number, COALESCE(s.name, ''), COALESCE(s.tax_id, ''), COALESCE(s.country_code, ''),
		i.issued_at, i.received_at, COALESCE(i.vat_markers, '{}'),
		i.subtotal::text, i.tax_amount::text, i.total::text
	FROM ap_invoices i
	LEFT JOIN suppliers s ON s.id = i.supplier_id
	WHERE i.company_id = $1 AND i.status IN ('POSTED', 'PAID')
		AND i.issued_at >= $2 AND i.issued_at < $3
	ORDER BY i.issued_at, i.id`

// ListInvoices returns posted invoices of one section issued within the period.
func (r *Repository) ListInvoices(ctx context.Context, companyID int64, section vat.Section, period vat.Period) ([]InvoiceRecord, error) {
	query := arInvoicesQuery
	if section == vat.SectionPurchases {
		query = apInvoicesQuery
	}
	rows, err := r.q.Query(ctx, query, companyID, period.Start, period.End.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("documents: list %s invoices: %w", section, err)
	}
	defer rows.Close()

	var out []InvoiceRecord
	for rows.Next() {
		rec := InvoiceRecord{Kind: string(section)}
		var issued, sold pgtype.Date
		if err := rows.Scan(
			&rec.ID, &rec.Number, &rec.CounterpartyName, &rec.CounterpartyTaxID, &rec.CounterpartyCountry,
			&issued, &sold, &rec.Markers,
			&rec.Subtotal, &rec.TaxAmount, &rec.Total,
		); err != nil {
			return nil, err
		}
		rec.IssuedAt = dateValue(issued)
		rec.SoldAt = dateValue(sold)
		out = append(out, rec)
	}
	return out, rows.Err()
}

const arLinesQuery = `
	SELECT id, ar_invoice_id, COALESCE(description, ''), quantity::text, unit_price::text,
		COALESCE(NULLIF(vat_code, ''), tax_pct::text), subtotal::text, tax_amount::text
	FROM ar_invoice_lines
	WHERE ar_invoice_id = ANY($1)
	ORDER BY ar_invoice_id, id`

const apLinesQuery = `
	SELECT id, ap_invoice_id, COALESCE(description, ''), quantity::text, unit_price::text,
		COALESCE(NULLIF(vat_code, ''), tax_pct::text), subtotal::text, tax_amount::text
	FROM ap_invoice_lines
	WHERE ap_invoice_id = ANY($1)
	ORDER BY ap_invoice_id, id`

// ListLines returns invoice lines grouped by invoice id.
func (r *Repository) ListLines(ctx context.Context, section vat.Section, invoiceIDs []int64) (map[int64][]LineRecord, error) {
	out := make(map[int64][]LineRecord, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}
	query := arLinesQuery
	if section == vat.SectionPurchases {
		query = apLinesQuery
	}
	rows, err := r.q.Query(ctx, query, invoiceIDs)
	if err != nil {
		return nil, fmt.Errorf("documents: list %s lines: %w", section, err)
	}
	defer rows.Close()

	for rows.Next() {
		var line LineRecord
		var subtotal, tax pgtype.Text
		if err := rows.Scan(
			&line.ID, &line.InvoiceID, &line.Description, &line.Quantity, &line.UnitPrice,
			&line.RateCode, &subtotal, &tax,
		); err != nil {
			return nil, err
		}
		line.Subtotal = subtotal.String
		line.TaxAmount = tax.String
		out[line.InvoiceID] = append(out[line.InvoiceID], line)
	}
	return out, rows.Err()
}

// GetCompany loads the company profile.
func (r *Repository) GetCompany(ctx context.Context, companyID int64) (CompanyRecord, error) {
	var rec CompanyRecord
	var regon, email, office pgtype.Text
	err := r.q.QueryRow(ctx, `
		SELECT id, name, COALESCE(tax_id, ''), regon, email, tax_office_code
		FROM companies
		WHERE id = $1`, companyID).Scan(&rec.ID, &rec.Name, &rec.TaxID, &regon, &email, &office)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CompanyRecord{}, ErrNotFound
		}
		return CompanyRecord{}, err
	}
	rec.RegistrationNumber = regon.String
	rec.Email = email.String
	rec.TaxOfficeCode = office.String
	return rec, nil
}

// ListCompanyIDs returns the companies with a tax identifier, in id order.
func (r *Repository) ListCompanyIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id FROM companies
		WHERE COALESCE(tax_id, '') <> ''
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func dateValue(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}
