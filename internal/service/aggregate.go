package service

import "github.com/claboran/orchestrator-worker-poc/internal/store/model"

// AggregateJobStatus derives the job status from all of its pages:
//   - FINISHED when every page finished,
//   - FAILED when every page is terminal and at least one failed,
//   - CREATED while no page has left CREATED,
//   - RUNNING otherwise.
//
// The result depends only on the set of page statuses, so the order in which
// pages complete does not matter.
func AggregateJobStatus(pages model.PageList) model.JobStatus {
	if len(pages) == 0 {
		return model.JobStatusCreated
	}

	var terminal, failed, created int
	for _, p := range pages {
		switch {
		case p.Status == model.PageStatusCreated:
			created++
		case p.Status.IsTerminal():
			terminal++
			if p.Status == model.PageStatusFailed {
				failed++
			}
		}
	}

	switch {
	case terminal == len(pages) && failed > 0:
		return model.JobStatusFailed
	case terminal == len(pages):
		return model.JobStatusFinished
	case created == len(pages):
		return model.JobStatusCreated
	default:
		return model.JobStatusRunning
	}
}
