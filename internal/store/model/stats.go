package model

type JobStats struct {
	JobsByStatus  map[JobStatus]int64
	PagesByStatus map[PageStatus]int64
}
