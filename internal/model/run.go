package model

import "time"

// RunStatus is the outcome of a scrape-backed resolution.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// ScrapeRun logs one resolution that went to external sources.
type ScrapeRun struct {
	ID        string        `json:"id"`
	DrawDate  time.Time     `json:"draw_date"`
	Status    RunStatus     `json:"status"`
	SourceID  string        `json:"source_id,omitempty"`
	DrawID    string        `json:"draw_id,omitempty"`
	Attempts  int           `json:"attempts"`
	Skipped   int           `json:"skipped"`
	ErrorCode string        `json:"error_code,omitempty"`
	Error     string        `json:"error,omitempty"`
	Forced    bool          `json:"forced"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}
