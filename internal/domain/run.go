package domain

import "time"

// RunKind identifies the pipeline step a PipelineRun belongs to.
type RunKind string

const (
	RunKindIngest    RunKind = "ingest"
	RunKindTransform RunKind = "transform"
)

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun records one execution of the ingest or transform step.
type PipelineRun struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	Kind        RunKind    `gorm:"type:text;not null;index" json:"kind"`
	Status      RunStatus  `gorm:"type:text;not null;default:running" json:"status"`
	Pages       int        `gorm:"default:0" json:"pages"`
	Records     int        `gorm:"default:0" json:"records"`
	Documents   int        `gorm:"default:0" json:"documents"`
	Chunks      int        `gorm:"default:0" json:"chunks"`
	Failed      int        `gorm:"default:0" json:"failed"`
	SnapshotKey string     `gorm:"type:text" json:"snapshot_key,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ErrorLog    string     `gorm:"type:text" json:"error_log,omitempty"`
}

func (PipelineRun) TableName() string {
	return "pipeline_runs"
}
