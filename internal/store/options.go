package store

import (
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"gorm.io/gorm"
)

// JobQueryFilter narrows JobStore.List. The zero value matches every job.
type JobQueryFilter struct {
	scopes []func(*gorm.DB) *gorm.DB
}

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{}
}

// ByStatus keeps jobs in any of the given statuses. An empty list is ignored.
func (f *JobQueryFilter) ByStatus(statuses ...model.JobStatus) *JobQueryFilter {
	if len(statuses) == 0 {
		return f
	}
	return f.add(func(db *gorm.DB) *gorm.DB {
		return db.Where("status IN ?", statuses)
	})
}

// WithLimit caps the number of jobs returned. Non-positive limits are ignored.
func (f *JobQueryFilter) WithLimit(limit int) *JobQueryFilter {
	if limit <= 0 {
		return f
	}
	return f.add(func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	})
}

func (f *JobQueryFilter) add(scope func(*gorm.DB) *gorm.DB) *JobQueryFilter {
	f.scopes = append(f.scopes, scope)
	return f
}

func (f *JobQueryFilter) apply(db *gorm.DB) *gorm.DB {
	if f == nil || len(f.scopes) == 0 {
		return db
	}
	return db.Scopes(f.scopes...)
}
