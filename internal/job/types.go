package job

import (
	"time"
)

// JobStatus represents the status of an import run
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusSucceeded JobStatus = "succeeded"
	StatusFailed    JobStatus = "failed"
)

// Job describes one import run: where rows come from and how they are delivered
type Job struct {
	ID         string
	InputPath  string
	Source     SourceConfig
	Delivery   DeliveryConfig
	Run        RunConfig
	Status     JobStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	LastError  string
}

// SourceConfig represents source file parsing configuration
type SourceConfig struct {
	Path      string `yaml:"path" json:"path"`
	Encoding  string `yaml:"encoding" json:"encoding"`   // "utf-8", "utf-8-bom", "windows-1251" or "iso-8859-1"
	Delimiter string `yaml:"delimiter" json:"delimiter"` // "," by default
	Sheet     string `yaml:"sheet" json:"sheet"`         // spreadsheet sources only; first sheet when empty
}

// DeliveryConfig represents sink delivery settings
type DeliveryConfig struct {
	Table          string `yaml:"table" json:"table"`
	BatchSize      int    `yaml:"batch_size" json:"batchSize"`
	MaxRetries     int    `yaml:"max_retries" json:"maxRetries"`
	BackoffMs      int    `yaml:"backoff_ms" json:"backoffMs"`
	BackoffMaxMs   int    `yaml:"backoff_max_ms" json:"backoffMaxMs"`
	PaceMs         int    `yaml:"pace_ms" json:"paceMs"`
	LongPauseEvery int    `yaml:"long_pause_every" json:"longPauseEvery"`
	LongPauseMs    int    `yaml:"long_pause_ms" json:"longPauseMs"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeoutSeconds"`
	Gzip           bool   `yaml:"gzip" json:"gzip"`
	Upsert         bool   `yaml:"upsert" json:"upsert"`
	OnConflict     string `yaml:"on_conflict" json:"onConflict"`
	DeleteColumn   string `yaml:"delete_column" json:"deleteColumn"`
}

// RunConfig holds per-run switches that do not affect parsing or transport
type RunConfig struct {
	Clear            bool     `yaml:"clear" json:"clear"`
	DryRun           bool     `yaml:"dry_run" json:"dryRun"`
	Limit            int      `yaml:"limit" json:"limit"`
	SaleTypes        []string `yaml:"sale_types" json:"saleTypes"`
	ExcludeSaleTypes []string `yaml:"exclude_sale_types" json:"excludeSaleTypes"`
	ErrorsJsonl      string   `yaml:"errors_jsonl" json:"errorsJsonl"`
	CheckpointPath   string   `yaml:"checkpoint_path" json:"checkpointPath"`
	ReportJSON       string   `yaml:"report_json" json:"reportJson"`
	ProgressEvery    int      `yaml:"progress_every" json:"progressEvery"`
}

// MarkRunning records the start of the run
func (j *Job) MarkRunning() {
	now := time.Now()
	j.Status = StatusRunning
	j.StartedAt = &now
}

// MarkFinished records the end of the run; a non-nil err marks it failed
func (j *Job) MarkFinished(err error) {
	now := time.Now()
	j.FinishedAt = &now
	if err != nil {
		j.Status = StatusFailed
		j.LastError = err.Error()
		return
	}
	j.Status = StatusSucceeded
}
