package service

import (
	"context"
	"errors"

	"github.com/claboran/orchestrator-worker-poc/internal/message"
	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/store"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobService is the entry point used by the HTTP API and the CLI: it requests
// new jobs through the control queue and reads job state from the store.
type JobService struct {
	store     store.Store
	transport queue.Transport
}

func NewJobService(s store.Store, t queue.Transport) *JobService {
	return &JobService{store: s, transport: t}
}

// RequestJob enqueues a StartJob and returns the job id. An empty jobID is
// replaced by a new uuid.
func (s *JobService) RequestJob(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}

	body, headers, err := message.Encode(message.StartJob{JobID: jobID})
	if err != nil {
		return "", err
	}
	if err := s.transport.Send(ctx, queue.Control, body, headers); err != nil {
		return "", NewErrDispatch(string(queue.Control), err)
	}

	zap.S().Named("job_service").Infow("job requested", "job_id", jobID)
	return jobID, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	return job, nil
}

type JobFilter struct {
	Statuses []model.JobStatus
	Limit    int
}

func (s *JobService) ListJobs(ctx context.Context, filter JobFilter) (model.JobList, error) {
	storeFilter := store.NewJobQueryFilter().
		ByStatus(filter.Statuses...).
		WithLimit(filter.Limit)
	return s.store.Job().List(ctx, storeFilter)
}
