package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/odyssey-vat/internal/jobs"
)

func TestVATDeclarationTaskRoundTrip(t *testing.T) {
	payload := VATDeclarationPayload{CompanyID: 7, Period: "2024-01", Schema: "JPK_V7M(1)", Purpose: 2}
	task, err := NewVATDeclarationTask(payload)
	require.NoError(t, err)
	require.Equal(t, TaskVATDeclarationGenerate, task.Type())

	parsed, err := ParseVATDeclarationPayload(task)
	require.NoError(t, err)
	require.Equal(t, payload, parsed)
}

func TestVATDeclarationTaskRequiresScope(t *testing.T) {
	_, err := NewVATDeclarationTask(VATDeclarationPayload{Period: "2024-01"})
	require.Error(t, err)
	_, err = NewVATDeclarationTask(VATDeclarationPayload{CompanyID: 1})
	require.Error(t, err)

	_, err = ParseVATDeclarationPayload(asynq.NewTask(TaskVATDeclarationGenerate, []byte("not json")))
	require.Error(t, err)
}

type stubCompanies struct {
	ids []int64
	err error
}

func (s stubCompanies) ListCompanyIDs(ctx context.Context) ([]int64, error) {
	return s.ids, s.err
}

type recordingQueue struct {
	payloads  []VATDeclarationPayload
	duplicate map[int64]bool
	err       error
}

func (q *recordingQueue) EnqueueVATDeclaration(ctx context.Context, payload VATDeclarationPayload) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.duplicate[payload.CompanyID] {
		return nil, asynq.ErrDuplicateTask
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: "t", Queue: QueueDefault}, nil
}

func newScheduleJob(companies CompanyLister, queue DeclarationEnqueuer) *ScheduleJob {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	job := NewScheduleJob(companies, queue, logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return time.Date(2024, time.March, 5, 6, 0, 0, 0, time.UTC) })
	return job
}

func TestScheduleJobFansOutPreviousMonth(t *testing.T) {
	queue := &recordingQueue{duplicate: map[int64]bool{3: true}}
	job := newScheduleJob(stubCompanies{ids: []int64{1, 2, 3}}, queue)

	task, err := NewScheduleTask("", "", "JPK_V7M(2)")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, []VATDeclarationPayload{
		{CompanyID: 1, Period: "2024-02", Schema: "JPK_V7M(2)"},
		{CompanyID: 2, Period: "2024-02", Schema: "JPK_V7M(2)"},
	}, queue.payloads)
}

func TestScheduleJobSingleCompanyAndExplicitPeriod(t *testing.T) {
	queue := &recordingQueue{}
	job := newScheduleJob(stubCompanies{err: errors.New("should not be called")}, queue)

	task, err := NewScheduleTask("9", "2023-12", "")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []VATDeclarationPayload{{CompanyID: 9, Period: "2023-12"}}, queue.payloads)
}

func TestScheduleJobJanuaryRollsBackYear(t *testing.T) {
	queue := &recordingQueue{}
	job := newScheduleJob(stubCompanies{ids: []int64{4}}, queue)
	job.WithClock(func() time.Time { return time.Date(2025, time.January, 5, 0, 0, 0, 0, time.UTC) })

	task, err := NewScheduleTask("all", "previous", "")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "2024-12", queue.payloads[0].Period)
}

func TestScheduleJobErrors(t *testing.T) {
	queue := &recordingQueue{}
	job := newScheduleJob(stubCompanies{ids: []int64{1}}, queue)

	task, err := NewScheduleTask("1", "March", "")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)

	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskVATDeclarationSchedule, []byte("{"))), asynq.SkipRetry)

	down := errors.New("redis down")
	job = newScheduleJob(stubCompanies{ids: []int64{1}}, &recordingQueue{err: down})
	task, err = NewScheduleTask("", "", "")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), down)

	require.Error(t, (&ScheduleJob{}).Handle(context.Background(), task))
}
