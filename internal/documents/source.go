package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-vat/internal/vat"
)

// Store is the persistence contract used by Source.
type Store interface {
	ListInvoices(ctx context.Context, companyID int64, section vat.Section, period vat.Period) ([]InvoiceRecord, error)
	ListLines(ctx context.Context, section vat.Section, invoiceIDs []int64) (map[int64][]LineRecord, error)
	GetCompany(ctx context.Context, companyID int64) (CompanyRecord, error)
}

// Snapshotter is implemented by stores that can pin reads to one transaction.
type Snapshotter interface {
	Snapshot(ctx context.Context, fn func(Store) error) error
}

// Source loads the finalised document set for a company and period.
type Source struct {
	store      Store
	normalizer *Normalizer
}

// NewSource wires a store with the default normalizer.
func NewSource(store Store) *Source {
	return &Source{store: store, normalizer: NewNormalizer()}
}

// Load returns sales followed by purchases, each in issue order, plus the subject.
func (s *Source) Load(ctx context.Context, companyID int64, period vat.Period) ([]vat.SourceTransaction, vat.Subject, error) {
	snap, ok := s.store.(Snapshotter)
	if !ok {
		return s.load(ctx, s.store, companyID, period)
	}
	var (
		txs     []vat.SourceTransaction
		subject vat.Subject
	)
	err := snap.Snapshot(ctx, func(store Store) error {
		var err error
		txs, subject, err = s.load(ctx, store, companyID, period)
		return err
	})
	if err != nil {
		return nil, vat.Subject{}, err
	}
	return txs, subject, nil
}

func (s *Source) load(ctx context.Context, store Store, companyID int64, period vat.Period) ([]vat.SourceTransaction, vat.Subject, error) {
	company, err := store.GetCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, vat.Subject{}, fmt.Errorf("%w: company %d: %w", vat.ErrSubjectNotFound, companyID, err)
		}
		return nil, vat.Subject{}, err
	}
	subject, err := s.normalizer.Subject(company)
	if err != nil {
		return nil, vat.Subject{}, err
	}

	var out []vat.SourceTransaction
	for _, section := range []vat.Section{vat.SectionSales, vat.SectionPurchases} {
		invoices, err := store.ListInvoices(ctx, companyID, section, period)
		if err != nil {
			return nil, vat.Subject{}, err
		}
		ids := make([]int64, 0, len(invoices))
		for _, inv := range invoices {
			ids = append(ids, inv.ID)
		}
		lines, err := store.ListLines(ctx, section, ids)
		if err != nil {
			return nil, vat.Subject{}, err
		}
		for _, inv := range invoices {
			tx, err := s.normalizer.Transaction(inv, lines[inv.ID])
			if err != nil {
				return nil, vat.Subject{}, err
			}
			out = append(out, tx)
		}
	}
	return out, subject, nil
}
