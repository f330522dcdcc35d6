package service

import (
	"context"
	"errors"

	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"github.com/google/uuid"
)

// PageGenerator splits a job into a fixed number of pages, each carrying a
// fixed number of random work items.
type PageGenerator struct {
	store        store.Store
	pagesPerJob  int
	itemsPerPage int
}

func NewPageGenerator(s store.Store, pagesPerJob, itemsPerPage int) (*PageGenerator, error) {
	if pagesPerJob < 1 {
		return nil, NewErrInvalidGeneratorConfig("pages per job must be at least 1, got %d", pagesPerJob)
	}
	if itemsPerPage < 0 {
		return nil, NewErrInvalidGeneratorConfig("items per page must not be negative, got %d", itemsPerPage)
	}
	return &PageGenerator{store: s, pagesPerJob: pagesPerJob, itemsPerPage: itemsPerPage}, nil
}

// Build returns the job and its pages without persisting them.
func (g *PageGenerator) Build(jobID string) model.Job {
	pages := make([]model.Page, 0, g.pagesPerJob)
	for i := 0; i < g.pagesPerJob; i++ {
		items := make([]uuid.UUID, 0, g.itemsPerPage)
		for j := 0; j < g.itemsPerPage; j++ {
			items = append(items, uuid.New())
		}
		pages = append(pages, model.NewPage(i, model.PageData{ItemIDs: items}))
	}
	return model.NewJob(jobID, pages)
}

// GenerateForJob persists a new job with its pages. It runs inside the
// transaction carried by ctx, if any. store.ErrDuplicateKey is returned as is
// when the job already exists.
func (g *PageGenerator) GenerateForJob(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := g.store.Job().CreateJobWithPages(ctx, g.Build(jobID))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, err
		}
		return nil, NewErrPersistence("creating pages", err)
	}
	return job, nil
}
