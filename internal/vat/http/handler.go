package vathttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-vat/internal/observability"
	"github.com/odyssey-erp/odyssey-vat/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-vat/internal/vat"
	"github.com/odyssey-erp/odyssey-vat/internal/vat/export"
	"github.com/odyssey-erp/odyssey-vat/jobs"
)

const requestTimeout = 20 * time.Second

const (
	contentTypeXML  = "application/xml; charset=utf-8"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeCSV  = "text/csv; charset=utf-8"
)

// PreviewService is the declaration contract used by the handler.
type PreviewService interface {
	Preview(ctx context.Context, req vat.Request) (vat.Preview, error)
	Schemas() []string
}

// Enqueuer schedules background generation.
type Enqueuer interface {
	EnqueueVATDeclaration(ctx context.Context, payload jobs.VATDeclarationPayload) (*asynq.TaskInfo, error)
}

// Handler serves declaration previews, downloads and job submission.
type Handler struct {
	logger   *slog.Logger
	service  PreviewService
	queue    Enqueuer
	metrics  *observability.Metrics
	validate *validator.Validate
}

// NewHandler constructs the VAT HTTP handler. queue and metrics may be nil.
func NewHandler(logger *slog.Logger, service PreviewService, queue Enqueuer, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		queue:    queue,
		metrics:  metrics,
		validate: validator.New(),
	}
}

type schemasResponse struct {
	Default string   `json:"default"`
	Schemas []string `json:"schemas"`
}

type jobResponse struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}

func (h *Handler) handleSchemas(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, schemasResponse{Default: vat.DefaultSchemaName, Schemas: h.service.Schemas()})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	_, preview, ok := h.loadPreview(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) handleXML(w http.ResponseWriter, r *http.Request) {
	req, preview, ok := h.loadPreview(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-VAT-Warnings", strconv.Itoa(len(preview.Warnings)))
	w.Header().Set("X-VAT-Digest", preview.Digest)
	name := vat.DocumentName(req.CompanyID, preview)
	if err := httpx.Attachment(w, contentTypeXML, name, []byte(preview.XML)); err != nil {
		h.logError("stream xml", err)
		return
	}
	h.metrics.ObserveExport("xml")
}

func (h *Handler) handleXLSX(w http.ResponseWriter, r *http.Request) {
	req, preview, ok := h.loadPreview(w, r)
	if !ok {
		return
	}
	schema, err := vat.LookupSchema(preview.Declaration.Header.Schema)
	if err != nil {
		h.respond(w, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, schema, preview); err != nil {
		h.respond(w, fmt.Errorf("write workbook: %w", err))
		return
	}
	name := strings.TrimSuffix(vat.DocumentName(req.CompanyID, preview), ".xml") + ".xlsx"
	if err := httpx.Attachment(w, contentTypeXLSX, name, buf.Bytes()); err != nil {
		h.logError("stream xlsx", err)
		return
	}
	h.metrics.ObserveExport("xlsx")
}

func (h *Handler) handleCSV(w http.ResponseWriter, r *http.Request) {
	req, preview, ok := h.loadPreview(w, r)
	if !ok {
		return
	}
	schema, err := vat.LookupSchema(preview.Declaration.Header.Schema)
	if err != nil {
		h.respond(w, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WritePreviewCSV(&buf, schema, preview); err != nil {
		h.respond(w, fmt.Errorf("write csv: %w", err))
		return
	}
	name := strings.TrimSuffix(vat.DocumentName(req.CompanyID, preview), ".xml") + ".csv"
	if err := httpx.Attachment(w, contentTypeCSV, name, buf.Bytes()); err != nil {
		h.logError("stream csv", err)
		return
	}
	h.metrics.ObserveExport("csv")
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.RespondError(w, fmt.Errorf("%w: job queue not configured", httpx.ErrUnavailable))
		return
	}
	var req vat.Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if err := h.check(req); err != nil {
		h.respond(w, err)
		return
	}
	if req.Schema != "" {
		if _, err := vat.LookupSchema(req.Schema); err != nil {
			h.respond(w, err)
			return
		}
	}
	info, err := h.queue.EnqueueVATDeclaration(r.Context(), jobs.VATDeclarationPayload{
		CompanyID: req.CompanyID,
		Period:    req.Period,
		Schema:    req.Schema,
		Purpose:   req.Purpose,
	})
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		httpx.Problem(w, http.StatusConflict, "Conflict", "a declaration for this company and period is already queued")
		return
	}
	if err != nil {
		h.respond(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, jobResponse{TaskID: info.ID, Queue: info.Queue})
}

func (h *Handler) loadPreview(w http.ResponseWriter, r *http.Request) (vat.Request, vat.Preview, bool) {
	req, err := parseRequest(r)
	if err != nil {
		h.respond(w, err)
		return req, vat.Preview{}, false
	}
	if err := h.check(req); err != nil {
		h.respond(w, err)
		return req, vat.Preview{}, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	preview, err := h.service.Preview(ctx, req)
	if err != nil {
		h.respond(w, err)
		return req, vat.Preview{}, false
	}
	h.metrics.ObservePreview(preview.Cached)
	return req, preview, true
}

func (h *Handler) check(req vat.Request) error {
	err := h.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+":"+fe.Tag())
	}
	return fmt.Errorf("%w: %s", vat.ErrInvalidRequest, strings.Join(fields, ", "))
}

func parseRequest(r *http.Request) (vat.Request, error) {
	query := r.URL.Query()
	req := vat.Request{
		Period: strings.TrimSpace(query.Get("period")),
		Schema: strings.TrimSpace(query.Get("schema")),
	}
	if raw := strings.TrimSpace(query.Get("company_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return vat.Request{}, fmt.Errorf("%w: company_id", vat.ErrInvalidRequest)
		}
		req.CompanyID = id
	}
	if raw := strings.TrimSpace(query.Get("purpose")); raw != "" {
		purpose, err := strconv.Atoi(raw)
		if err != nil {
			return vat.Request{}, fmt.Errorf("%w: purpose", vat.ErrInvalidRequest)
		}
		req.Purpose = purpose
	}
	return req, nil
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	var missing *vat.MissingRequiredSubjectDataError
	var serr *vat.SerializationError
	switch {
	case errors.Is(err, vat.ErrInvalidRequest), errors.Is(err, vat.ErrInvalidPeriod), errors.Is(err, vat.ErrUnknownSchema):
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
	case errors.Is(err, vat.ErrSubjectNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrNotFound, err))
	case errors.As(err, &missing), errors.As(err, &serr):
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err))
	case errors.Is(err, context.DeadlineExceeded):
		h.logError("declaration timeout", err)
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrUnavailable, err))
	default:
		h.logError("declaration request", err)
		httpx.RespondError(w, err)
	}
}

func (h *Handler) logError(context string, err error) {
	if h.logger != nil {
		h.logger.Error(context, slog.Any("error", err))
	}
}
