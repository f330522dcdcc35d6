package store

import (
	"context"
	"fmt"
	"time"

	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"gorm.io/gorm"
)

type Page interface {
	Get(ctx context.Context, id string) (*model.Page, error)
	ListByJob(ctx context.Context, jobID string) (model.PageList, error)
	// Update persists status and error message of an existing page.
	Update(ctx context.Context, page model.Page) (*model.Page, error)
}

type PageStore struct {
	db *gorm.DB
}

// Make sure we conform to Page interface
var _ Page = (*PageStore)(nil)

func NewPageStore(db *gorm.DB) Page {
	return &PageStore{db: db}
}

func (p *PageStore) Get(ctx context.Context, id string) (*model.Page, error) {
	var page model.Page
	result := p.getDB(ctx).First(&page, "id = ?", id)
	if result.Error != nil {
		return nil, translateError(result.Error)
	}
	return &page, nil
}

func (p *PageStore) ListByJob(ctx context.Context, jobID string) (model.PageList, error) {
	var pages model.PageList
	if err := p.getDB(ctx).Where("job_id = ?", jobID).Order("position ASC").Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

func (p *PageStore) Update(ctx context.Context, page model.Page) (*model.Page, error) {
	result := p.getDB(ctx).Model(&model.Page{}).Where("id = ?", page.ID).Updates(map[string]any{
		"status":        page.Status,
		"error_message": page.ErrorMessage,
		"updated_at":    time.Now(),
	})
	if result.Error != nil {
		return nil, fmt.Errorf("updating page %s: %w", page.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return p.Get(ctx, page.ID)
}

func (p *PageStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return p.db.WithContext(ctx)
}
