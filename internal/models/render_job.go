package models

import "time"

// Render job statuses as stored in render_jobs.status.
const (
	RenderStatusRunning   = "running"
	RenderStatusSucceeded = "succeeded"
	RenderStatusFailed    = "failed"
)

// RenderJob is the audit record of one render. It never holds media.
type RenderJob struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"request_id,omitempty"`
	Status      string     `json:"status"`
	SlideCount  int        `json:"slide_count"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	FPS         int        `json:"fps"`
	DurationSec float64    `json:"duration_sec"`
	ErrorCode   *string    `json:"error_code,omitempty"`
	ErrorText   *string    `json:"error_text,omitempty"`
	OutputBytes int64      `json:"output_bytes"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
