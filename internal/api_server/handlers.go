package apiserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	api "github.com/claboran/orchestrator-worker-poc/api/v1alpha1"
	"github.com/claboran/orchestrator-worker-poc/internal/api/server"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"go.uber.org/zap"
)

type jobHandler struct {
	jobs      *service.JobService
	validator *Validator
	log       *zap.SugaredLogger
}

var _ server.StrictServerInterface = (*jobHandler)(nil)

func newJobHandler(jobs *service.JobService) *jobHandler {
	return &jobHandler{
		jobs:      jobs,
		validator: NewValidator(NewJobValidationRules()...),
		log:       zap.S().Named("job_handler"),
	}
}

type createJobForm struct {
	JobID string `validate:"omitempty,max=255,job_id"`
}

// CreateJob accepts an optional body carrying the job id. The job is created
// asynchronously by the orchestrator.
func (h *jobHandler) CreateJob(ctx context.Context, request server.CreateJobRequestObject) (server.CreateJobResponseObject, error) {
	var form createJobForm
	if request.Body != nil && request.Body.JobId != nil {
		form.JobID = strings.TrimSpace(*request.Body.JobId)
	}
	if err := h.validator.Struct(form); err != nil {
		return server.CreateJob400JSONResponse{Message: fmt.Sprintf("invalid jobId: %s", err)}, nil
	}

	id, err := h.jobs.RequestJob(ctx, form.JobID)
	if err != nil {
		h.log.Errorw("failed to request job", "job_id", form.JobID, "error", err)
		return server.CreateJob503JSONResponse{Message: "failed to enqueue job"}, nil
	}

	return server.CreateJob202JSONResponse{JobId: id}, nil
}

func (h *jobHandler) GetJob(ctx context.Context, request server.GetJobRequestObject) (server.GetJobResponseObject, error) {
	job, err := h.jobs.GetJob(ctx, request.Id)
	if err != nil {
		var notFound *service.ErrResourceNotFound
		if errors.As(err, &notFound) {
			return server.GetJob404JSONResponse{Message: err.Error()}, nil
		}
		h.log.Errorw("failed to get job", "error", err)
		return server.GetJob500JSONResponse{Message: "failed to get job"}, nil
	}

	return server.GetJob200JSONResponse(newJobReply(*job, true)), nil
}

// ListJobs supports repeated ?status= filters and ?limit=.
func (h *jobHandler) ListJobs(ctx context.Context, request server.ListJobsRequestObject) (server.ListJobsResponseObject, error) {
	filter := service.JobFilter{}

	if request.Params.Status != nil {
		for _, s := range *request.Params.Status {
			status, ok := api.StringToJobStatus(s)
			if !ok {
				return server.ListJobs400JSONResponse{Message: fmt.Sprintf("invalid status %q", s)}, nil
			}
			filter.Statuses = append(filter.Statuses, model.JobStatus(status))
		}
	}

	if request.Params.Limit != nil {
		if *request.Params.Limit < 1 {
			return server.ListJobs400JSONResponse{Message: fmt.Sprintf("invalid limit %d", *request.Params.Limit)}, nil
		}
		filter.Limit = *request.Params.Limit
	}

	jobs, err := h.jobs.ListJobs(ctx, filter)
	if err != nil {
		h.log.Errorw("failed to list jobs", "error", err)
		return server.ListJobs500JSONResponse{Message: "failed to list jobs"}, nil
	}

	replies := make(api.JobList, 0, len(jobs))
	for _, j := range jobs {
		replies = append(replies, newJobReply(j, false))
	}
	return server.ListJobs200JSONResponse(replies), nil
}

func newJobReply(job model.Job, withPages bool) api.Job {
	reply := api.Job{
		JobId:        job.ID,
		Status:       api.JobStatus(job.Status),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		DispatchedAt: job.DispatchedAt,
	}
	if !withPages {
		return reply
	}

	counts := make(map[string]int)
	for status, n := range job.PageCount() {
		counts[string(status)] = n
	}
	reply.PageCount = &counts

	pages := make([]api.Page, 0, len(job.Pages))
	for _, p := range job.Pages {
		pages = append(pages, api.Page{
			PageId:       p.ID,
			Position:     p.Position,
			Status:       api.PageStatus(p.Status),
			ErrorMessage: p.ErrorMessage,
			UpdatedAt:    p.UpdatedAt,
		})
	}
	reply.Pages = &pages
	return reply
}
