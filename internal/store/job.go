package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Job interface {
	// CreateJobWithPages inserts the job and all of its pages. Pages cannot be
	// created any other way, so a page never exists without its job.
	CreateJobWithPages(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	// GetForUpdate loads the job and locks its row until the surrounding
	// transaction ends. Pages are not loaded.
	GetForUpdate(ctx context.Context, id string) (*model.Job, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error)
	UpdateStatus(ctx context.Context, id string, status model.JobStatus) error
	// MarkDispatched records that the tasks of every page were sent.
	MarkDispatched(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) CreateJobWithPages(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == "" {
		return nil, errors.New("job id is required")
	}
	for i := range job.Pages {
		job.Pages[i].JobID = job.ID
	}

	result := s.getDB(ctx).Create(&job)
	if result.Error != nil {
		if err := translateError(result.Error); errors.Is(err, ErrDuplicateKey) {
			return nil, err
		}
		return nil, fmt.Errorf("creating job %s: %w", job.ID, result.Error)
	}

	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).Preload("Pages", func(db *gorm.DB) *gorm.DB {
		return db.Order("pages.position ASC")
	}).First(&job, "id = ?", id)

	if result.Error != nil {
		return nil, translateError(result.Error)
	}
	return &job, nil
}

func (s *JobStore) GetForUpdate(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", id)
	if result.Error != nil {
		return nil, translateError(result.Error)
	}
	return &job, nil
}

func (s *JobStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.getDB(ctx).Model(&model.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter) (model.JobList, error) {
	var jobs model.JobList
	tx := filter.apply(s.getDB(ctx).Model(&jobs).Order("created_at DESC"))
	if err := tx.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *JobStore) UpdateStatus(ctx context.Context, id string, status model.JobStatus) error {
	result := s.getDB(ctx).Model(&model.Job{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("updating job status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) MarkDispatched(ctx context.Context, id string) error {
	result := s.getDB(ctx).Model(&model.Job{}).Where("id = ?", id).Update("dispatched_at", time.Now())
	if result.Error != nil {
		return fmt.Errorf("marking job dispatched: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	result := s.getDB(ctx).Select("Pages").Delete(&model.Job{ID: id})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return result.Error
	}
	return nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
