package store

import (
	"context"

	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Page() Page
	InitialMigration() error
	Statistics(ctx context.Context) (model.JobStats, error)
	Close() error
}

type DataStore struct {
	db   *gorm.DB
	job  Job
	page Page
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:  NewJobStore(db),
		page: NewPageStore(db),
		db:   db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Page() Page {
	return s.page
}

// InitialMigration creates the schema with gorm. Postgres deployments use the
// versioned migrations in pkg/migrations instead.
func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Job{}, &model.Page{})
}

func (s *DataStore) Statistics(ctx context.Context) (model.JobStats, error) {
	stats := model.JobStats{
		JobsByStatus:  make(map[model.JobStatus]int64),
		PagesByStatus: make(map[model.PageStatus]int64),
	}

	var jobRows []struct {
		Status model.JobStatus
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Job{}).Select("status, count(*) as total").Group("status").Scan(&jobRows).Error; err != nil {
		return stats, err
	}
	for _, r := range jobRows {
		stats.JobsByStatus[r.Status] = r.Total
	}

	var pageRows []struct {
		Status model.PageStatus
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Page{}).Select("status, count(*) as total").Group("status").Scan(&pageRows).Error; err != nil {
		return stats, err
	}
	for _, r := range pageRows {
		stats.PagesByStatus[r.Status] = r.Total
	}

	return stats, nil
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
