package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-vat/internal/jobs"
)

const (
	// TaskVATDeclarationSchedule fans out monthly generation to every company.
	TaskVATDeclarationSchedule = "vat:declaration:schedule"
	// MonthlyScheduleSpec runs the fan-out on the 5th of each month.
	MonthlyScheduleSpec = "0 6 5 * *"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SchedulePayload configures the scope of a scheduled fan-out.
type SchedulePayload struct {
	CompanyID string `json:"company_id"`
	Period    string `json:"period"`
	Schema    string `json:"schema,omitempty"`
}

// CompanyLister provides the companies a fan-out covers.
type CompanyLister interface {
	ListCompanyIDs(ctx context.Context) ([]int64, error)
}

// DeclarationEnqueuer submits per-company generation tasks.
type DeclarationEnqueuer interface {
	EnqueueVATDeclaration(ctx context.Context, payload VATDeclarationPayload) (*asynq.TaskInfo, error)
}

// ScheduleJob resolves companies and the closed period, then enqueues one
// generation task per company.
type ScheduleJob struct {
	Companies CompanyLister
	Queue     DeclarationEnqueuer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewScheduleJob constructs the fan-out handler.
func NewScheduleJob(companies CompanyLister, queue DeclarationEnqueuer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ScheduleJob {
	return &ScheduleJob{
		Companies: companies,
		Queue:     queue,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewScheduleTask creates the fan-out task. Empty values mean all companies
// and the previous calendar month.
func NewScheduleTask(companyID, period, schema string) (*asynq.Task, error) {
	if companyID == "" {
		companyID = "all"
	}
	if period == "" {
		period = "previous"
	}
	body, err := json.Marshal(SchedulePayload{CompanyID: companyID, Period: period, Schema: schema})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVATDeclarationSchedule, body, asynq.Queue(QueueDefault)), nil
}

// Handle executes the fan-out.
func (j *ScheduleJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Companies == nil || j.Queue == nil {
		return errors.New("vat schedule: dependencies not configured")
	}
	var payload SchedulePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskVATDeclarationSchedule)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	period, err := j.resolvePeriod(payload.Period)
	if err != nil {
		resultErr = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		j.log().Error("resolve period", slog.String("period", payload.Period), slog.Any("error", err))
		return resultErr
	}
	companyIDs, err := j.resolveCompanies(ctx, payload.CompanyID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve companies", slog.String("company", payload.CompanyID), slog.Any("error", err))
		return resultErr
	}
	if len(companyIDs) == 0 {
		j.log().Info("no companies to declare", slog.String("period", period))
		return resultErr
	}

	enqueued, skipped := 0, 0
	for _, companyID := range companyIDs {
		_, err := j.Queue.EnqueueVATDeclaration(ctx, VATDeclarationPayload{CompanyID: companyID, Period: period, Schema: payload.Schema})
		if errors.Is(err, asynq.ErrDuplicateTask) {
			skipped++
			continue
		}
		if err != nil {
			resultErr = err
			j.log().Error("enqueue declaration", slog.Int64("company_id", companyID), slog.String("period", period), slog.Any("error", err))
			return resultErr
		}
		enqueued++
	}
	j.log().Info("scheduled vat declarations", slog.String("period", period), slog.Int("enqueued", enqueued), slog.Int("skipped", skipped))
	return resultErr
}

func (j *ScheduleJob) resolvePeriod(period string) (string, error) {
	if period != "" && period != "previous" {
		if _, err := time.Parse("2006-01", period); err != nil {
			return "", fmt.Errorf("invalid period %s", period)
		}
		return period, nil
	}
	now := j.now()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, -1, 0).Format("2006-01"), nil
}

func (j *ScheduleJob) resolveCompanies(ctx context.Context, company string) ([]int64, error) {
	if company == "" || company == "all" {
		return j.Companies.ListCompanyIDs(ctx)
	}
	id, err := strconv.ParseInt(company, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid company id %s", company)
	}
	if id <= 0 {
		return nil, fmt.Errorf("company id must be positive")
	}
	return []int64{id}, nil
}

func (j *ScheduleJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ScheduleJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskVATDeclarationSchedule))
	}
	return slog.Default().With(slog.String("job", TaskVATDeclarationSchedule))
}

func (j *ScheduleJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ScheduleJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
