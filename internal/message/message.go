package message

import (
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
)

// Kind tags a control message. The set is closed: adding a message means
// adding a Kind, a type implementing Message and a case in Decode.
type Kind string

const (
	KindStartJob Kind = "START_JOB"
	KindPageDone Kind = "PAGE_DONE"

	// KindWorkerTask tags task payloads on the worker queue. It is not a
	// control message kind.
	KindWorkerTask Kind = "WORKER_TASK"
)

const (
	HeaderJobID       = "job-id"
	HeaderPageID      = "page-id"
	HeaderMessageType = "message-type"
	HeaderContentType = "Content-Type"

	contentTypeJSON = "application/json"
	typeField       = "@type"
)

// Message is a control queue message. It is implemented only by StartJob and
// PageDone.
type Message interface {
	Kind() Kind
	JobKey() string
	isMessage()
}

// StartJob instructs the orchestrator to create a job and fan it out.
type StartJob struct {
	JobID string `json:"jobId"`
}

func (StartJob) Kind() Kind       { return KindStartJob }
func (m StartJob) JobKey() string { return m.JobID }
func (StartJob) isMessage()       {}

// PageDone reports the outcome of one page. Status is FINISHED or FAILED.
type PageDone struct {
	JobID        string           `json:"jobId"`
	PageID       string           `json:"pageId"`
	Status       model.PageStatus `json:"status"`
	ErrorMessage *string          `json:"errorMessage,omitempty"`
}

func (PageDone) Kind() Kind       { return KindPageDone }
func (m PageDone) JobKey() string { return m.JobID }
func (PageDone) isMessage()       {}

// WorkerJobPayload is the task sent to the worker queue, one per page.
type WorkerJobPayload struct {
	JobID  string         `json:"jobId"`
	PageID string         `json:"pageId"`
	Data   model.PageData `json:"data"`
}
