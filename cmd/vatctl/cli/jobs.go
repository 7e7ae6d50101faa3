package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-vat/jobs"
)

// JobsCLI wraps manual management helpers for declaration jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis connection.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerOptions selects the job to enqueue.
type TriggerOptions struct {
	Job       string
	CompanyID int64
	Period    string
	Schema    string
	Purpose   int
}

// Trigger enqueues a supported job.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := buildTask(opts)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault))
}

func buildTask(opts TriggerOptions) (*asynq.Task, error) {
	switch opts.Job {
	case jobs.TaskVATDeclarationGenerate:
		return jobs.NewVATDeclarationTask(jobs.VATDeclarationPayload{
			CompanyID: opts.CompanyID,
			Period:    opts.Period,
			Schema:    opts.Schema,
			Purpose:   opts.Purpose,
		})
	case jobs.TaskVATDeclarationSchedule:
		company := ""
		if opts.CompanyID > 0 {
			company = fmt.Sprintf("%d", opts.CompanyID)
		}
		return jobs.NewScheduleTask(company, opts.Period, opts.Schema)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", opts.Job)
	}
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// RenderQueue prints queue stats and scheduled tasks.
func RenderQueue(out io.Writer, stats QueueStats, scheduled []*asynq.TaskInfo) {
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	for _, info := range scheduled {
		_, _ = fmt.Fprintf(out, " - %s %s next=%s\n", info.ID, info.Type, info.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
}
