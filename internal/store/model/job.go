package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusCreated  JobStatus = "CREATED"
	JobStatusRunning  JobStatus = "RUNNING"
	JobStatusFinished JobStatus = "FINISHED"
	JobStatusFailed   JobStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusFinished || s == JobStatusFailed
}

// Job is the aggregate root of a fan-out. Its pages are created together
// with it and removed with it.
type Job struct {
	ID        string    `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	Status    JobStatus `gorm:"not null;type:VARCHAR(32)"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
	// DispatchedAt is set once a task was sent for every page.
	DispatchedAt *time.Time
	Pages        []Page `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE;"`
}

type JobList []Job

// NewJob returns a job in CREATED state owning the given pages.
func NewJob(id string, pages []Page) Job {
	return Job{ID: id, Status: JobStatusCreated, Pages: pages}
}

func (j Job) Dispatched() bool {
	return j.DispatchedAt != nil
}

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// PageCount returns the number of pages grouped by status.
func (j Job) PageCount() map[PageStatus]int {
	count := make(map[PageStatus]int, 4)
	for _, p := range j.Pages {
		count[p.Status]++
	}
	return count
}
