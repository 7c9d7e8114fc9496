package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan scans stock levels at or below their safety stock.
	TaskLowStockScan = "ledger:lowstock_scan"
	// TaskReportWarmup pre-builds the monthly movement report into the cache.
	TaskReportWarmup = "ledger:report_warmup"
)

// LowStockScanPayload configures one low-stock scan run.
type LowStockScanPayload struct {
	// Limit caps how many rows are reported per run. Zero means no cap.
	Limit int `json:"limit"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// ReportWarmupPayload configures one report warmup run.
type ReportWarmupPayload struct {
	// MonthsBack bounds the warmed report window. Defaults to 12.
	MonthsBack int `json:"months_back"`
}

// NewReportWarmupTask constructs an Asynq task for the report warmup.
func NewReportWarmupTask(payload ReportWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}
