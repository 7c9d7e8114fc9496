package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sitewise-erp/sitewise/internal/jobs"
	"github.com/sitewise-erp/sitewise/internal/ledger"
)

// ReportWarmupJob pre-builds the month-grouped movement report so the first
// dashboard request after a cache bump does not pay the aggregation cost.
type ReportWarmupJob struct {
	Service *ledger.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReportWarmupJob initialises the warmup handler.
func NewReportWarmupJob(service *ledger.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportWarmupJob {
	return &ReportWarmupJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the warmup.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.MonthsBack <= 0 {
		payload.MonthsBack = 12
	}

	tracker := j.metrics().Track(TaskReportWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := time.Now().UTC()
	filter := ledger.ReportFilter{
		GroupBy: ledger.GroupByMonth,
		From:    now.AddDate(0, -payload.MonthsBack, 0),
		To:      now,
	}
	rows, err := j.Service.Report(ctx, filter)
	if err != nil {
		resultErr = err
		j.logger().Error("report warmup failed", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("report warmed",
		slog.Int("months_back", payload.MonthsBack),
		slog.Int("rows", len(rows)),
	)
	return resultErr
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
