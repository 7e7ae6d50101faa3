package vat

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrInvalidRequest is returned for malformed preview or job requests.
	ErrInvalidRequest = errors.New("vat: invalid request")
	// ErrSubjectNotFound is returned by sources that cannot find the company.
	ErrSubjectNotFound = errors.New("vat: subject not found")
)

// DocumentSource supplies the finalised documents and subject for a company.
type DocumentSource interface {
	Load(ctx context.Context, companyID int64, period Period) ([]SourceTransaction, Subject, error)
}

// Request selects what to compile.
type Request struct {
	CompanyID int64  `json:"company_id" validate:"required,gt=0"`
	Period    string `json:"period" validate:"required,datetime=2006-01"`
	Schema    string `json:"schema,omitempty" validate:"omitempty,max=32"`
	Purpose   int    `json:"purpose,omitempty" validate:"omitempty,oneof=1 2"`
}

// WarningView is the serialisable form of a Warning.
type WarningView struct {
	Kind     WarningKind `json:"kind"`
	Section  Section     `json:"section"`
	Document string      `json:"document"`
	Message  string      `json:"message"`
}

// Preview is one compiled and serialised declaration.
type Preview struct {
	RunID       string        `json:"run_id"`
	Digest      string        `json:"digest"`
	Cached      bool          `json:"cached"`
	Declaration Declaration   `json:"declaration"`
	Warnings    []WarningView `json:"warnings"`
	XML         string        `json:"xml"`
}

// ServiceConfig carries compiler defaults. An unset Tolerance means
// DefaultTolerance; a set zero demands exact row totals.
type ServiceConfig struct {
	SchemaName string
	SystemName string
	Workers    int
	Tolerance  decimal.NullDecimal
}

// Service loads documents, compiles them and renders the result.
type Service struct {
	source DocumentSource
	cache  *Cache
	cfg    ServiceConfig
	now    func() time.Time
	newID  func() string
	group  singleflight.Group
}

// NewService constructs a Service instance. cache may be nil.
func NewService(source DocumentSource, cache *Cache, cfg ServiceConfig) *Service {
	if cfg.SchemaName == "" {
		cfg.SchemaName = DefaultSchemaName
	}
	if !cfg.Tolerance.Valid {
		cfg.Tolerance = decimal.NewNullDecimal(DefaultTolerance)
	}
	return &Service{source: source, cache: cache, cfg: cfg, now: time.Now, newID: uuid.NewString}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Schemas lists supported schema versions.
func (s *Service) Schemas() []string {
	return SchemaNames()
}

type resolvedRequest struct {
	companyID int64
	period    Period
	schema    *Schema
	purpose   Purpose
}

func (s *Service) resolve(req Request) (resolvedRequest, error) {
	if req.CompanyID <= 0 {
		return resolvedRequest{}, fmt.Errorf("%w: company_id required", ErrInvalidRequest)
	}
	period, err := ParsePeriod(req.Period)
	if err != nil {
		return resolvedRequest{}, err
	}
	name := req.Schema
	if name == "" {
		name = s.cfg.SchemaName
	}
	schema, err := LookupSchema(name)
	if err != nil {
		return resolvedRequest{}, err
	}
	purpose := PurposeOriginal
	switch req.Purpose {
	case 0, int(PurposeOriginal):
	case int(PurposeCorrection):
		purpose = PurposeCorrection
	default:
		return resolvedRequest{}, fmt.Errorf("%w: purpose must be 1 or 2", ErrInvalidRequest)
	}
	return resolvedRequest{companyID: req.CompanyID, period: period, schema: schema, purpose: purpose}, nil
}

// Generate compiles a fresh declaration without consulting the cache.
func (s *Service) Generate(ctx context.Context, req Request) (Preview, error) {
	r, err := s.resolve(req)
	if err != nil {
		return Preview{}, err
	}
	txs, subject, err := s.source.Load(ctx, r.companyID, r.period)
	if err != nil {
		return Preview{}, err
	}
	digest, err := Digest(r.schema.Name, r.purpose, subject, r.period, txs)
	if err != nil {
		return Preview{}, err
	}
	p, err := s.compile(r, txs, subject, digest)
	if err != nil {
		return Preview{}, err
	}
	p.RunID = s.newID()
	return p, nil
}

// Preview compiles the declaration, reusing a cached rendering when the input
// digest is unchanged. Identical concurrent requests share one compilation.
func (s *Service) Preview(ctx context.Context, req Request) (Preview, error) {
	r, err := s.resolve(req)
	if err != nil {
		return Preview{}, err
	}
	txs, subject, err := s.source.Load(ctx, r.companyID, r.period)
	if err != nil {
		return Preview{}, err
	}
	digest, err := Digest(r.schema.Name, r.purpose, subject, r.period, txs)
	if err != nil {
		return Preview{}, err
	}
	key, err := s.cache.BuildKey(ctx, "vat", "preview", strconv.FormatInt(r.companyID, 10), r.period.Label(), digest)
	if err != nil {
		return Preview{}, err
	}

	ch := s.group.DoChan(key, func() (any, error) {
		var p Preview
		hit, err := s.cache.FetchJSON(ctx, key, &p, func(context.Context) (any, error) {
			return s.compile(r, txs, subject, digest)
		})
		if err != nil {
			return Preview{}, err
		}
		p.Cached = hit
		return p, nil
	})
	select {
	case <-ctx.Done():
		return Preview{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Preview{}, res.Err
		}
		p := res.Val.(Preview)
		p.RunID = s.newID()
		return p, nil
	}
}

func (s *Service) compile(r resolvedRequest, txs []SourceTransaction, subject Subject, digest string) (Preview, error) {
	res, err := NewCompiler(r.schema,
		WithClock(s.now),
		WithPurpose(r.purpose),
		WithSystemName(s.cfg.SystemName),
		WithWorkers(s.cfg.Workers),
		WithTolerance(s.cfg.Tolerance.Decimal),
	).Generate(txs, subject, r.period)
	if err != nil {
		return Preview{}, err
	}
	xml, err := Serialize(r.schema, res.Declaration)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Digest:      digest,
		Declaration: res.Declaration,
		Warnings:    ViewWarnings(res.Warnings),
		XML:         xml,
	}, nil
}

// ViewWarnings converts diagnostics into their serialisable form.
func ViewWarnings(warnings []Warning) []WarningView {
	out := make([]WarningView, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, WarningView{Kind: w.Kind(), Section: warningSection(w), Document: w.Document(), Message: w.String()})
	}
	return out
}

func warningSection(w Warning) Section {
	switch v := w.(type) {
	case UnclassifiedRateWarning:
		return v.Section
	case RowTotalMismatchWarning:
		return v.Section
	case UnknownMarkerWarning:
		return v.Section
	}
	return ""
}

type digestInput struct {
	Schema       string              `json:"schema"`
	Purpose      Purpose             `json:"purpose"`
	Subject      Subject             `json:"subject"`
	Period       string              `json:"period"`
	Transactions []SourceTransaction `json:"transactions"`
}

// Digest fingerprints the compiler input with BLAKE2b-256.
func Digest(schema string, purpose Purpose, subject Subject, period Period, txs []SourceTransaction) (string, error) {
	raw, err := json.Marshal(digestInput{Schema: schema, Purpose: purpose, Subject: subject, Period: period.Label(), Transactions: txs})
	if err != nil {
		return "", fmt.Errorf("vat: digest: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
