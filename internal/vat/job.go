package vat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-vat/internal/jobs"
	"github.com/odyssey-erp/odyssey-vat/jobs"
)

const jobName = "vat_declaration_generate"

// Generator is the part of Service used by the job.
type Generator interface {
	Generate(ctx context.Context, req Request) (Preview, error)
}

// Sink stores rendered documents. Where they end up is outside the compiler.
type Sink interface {
	Store(ctx context.Context, name string, body []byte) (string, error)
}

// FileSink writes documents into a directory.
type FileSink struct {
	Dir string
}

// Store writes the body and returns the file path.
func (s FileSink) Store(_ context.Context, name string, body []byte) (string, error) {
	dir := s.Dir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "vat-declarations")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// JobConfig wires dependencies required by the worker job.
type JobConfig struct {
	Service Generator
	Sink    Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Job processes declaration generation requests coming from the queue.
type Job struct {
	service Generator
	sink    Sink
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewJob constructs a Job handler.
func NewJob(cfg JobConfig) *Job {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{service: cfg.Service, sink: cfg.Sink, logger: logger, metrics: cfg.Metrics}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.service == nil || j.sink == nil {
		return errors.New("vat: declaration job not configured")
	}
	tracker := j.metrics.Track(jobName)
	payload, err := jobs.ParseVATDeclarationPayload(task)
	if err != nil || payload.CompanyID <= 0 {
		return tracker.End(asynq.SkipRetry)
	}
	logger := j.logger.With(slog.Int64("company_id", payload.CompanyID), slog.String("period", payload.Period))

	preview, err := j.service.Generate(ctx, Request{
		CompanyID: payload.CompanyID,
		Period:    payload.Period,
		Schema:    payload.Schema,
		Purpose:   payload.Purpose,
	})
	if err != nil {
		logger.Error("vat declaration failed", slog.Any("error", err))
		if isInputError(err) {
			return tracker.End(fmt.Errorf("%w: %w", err, asynq.SkipRetry))
		}
		return tracker.End(err)
	}

	name := DocumentName(payload.CompanyID, preview)
	path, err := j.sink.Store(ctx, name, []byte(preview.XML))
	if err != nil {
		return tracker.End(err)
	}
	if len(preview.Warnings) > 0 {
		report, err := json.MarshalIndent(preview.Warnings, "", "  ")
		if err != nil {
			return tracker.End(err)
		}
		if _, err := j.sink.Store(ctx, strings.TrimSuffix(name, ".xml")+".warnings.json", report); err != nil {
			return tracker.End(err)
		}
	}

	counts := make(map[WarningKind]int)
	for _, w := range preview.Warnings {
		counts[w.Kind]++
	}
	for kind, n := range counts {
		j.metrics.AddWarnings(string(kind), n)
	}
	j.metrics.AddRows(string(SectionSales), payload.CompanyID, len(preview.Declaration.Sales))
	j.metrics.AddRows(string(SectionPurchases), payload.CompanyID, len(preview.Declaration.Purchases))

	logger.Info("vat declaration ready",
		slog.String("run_id", preview.RunID),
		slog.String("digest", preview.Digest),
		slog.String("file", path),
		slog.Int("warnings", len(preview.Warnings)),
	)
	return tracker.End(nil)
}

// DocumentName builds the stored file name for a run.
func DocumentName(companyID int64, p Preview) string {
	schema := strings.NewReplacer("(", "-", ")", "", " ", "").Replace(strings.ToLower(p.Declaration.Header.Schema))
	run := p.RunID
	if len(run) > 8 {
		run = run[:8]
	}
	return fmt.Sprintf("%s_company-%d_%s_%s.xml", schema, companyID, p.Declaration.Period.Label(), run)
}

func isInputError(err error) bool {
	var missing *MissingRequiredSubjectDataError
	var serr *SerializationError
	return errors.As(err, &missing) || errors.As(err, &serr) ||
		errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrSubjectNotFound) || errors.Is(err, ErrInvalidPeriod) || errors.Is(err, ErrUnknownSchema)
}
