package events

import "time"

// JobCompletedEvent is published once, when a job reaches FINISHED or FAILED.
type JobCompletedEvent struct {
	JobID       string            `json:"job_id"`
	Status      string            `json:"status"`
	PagesTotal  int               `json:"pages_total"`
	PagesFailed int               `json:"pages_failed"`
	PageErrors  map[string]string `json:"page_errors,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}
