package message

import (
	"encoding/json"
	"fmt"

	"github.com/claboran/orchestrator-worker-poc/internal/queue"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
)

type envelope struct {
	Type Kind `json:"@type"`
}

// Encode serializes m as JSON carrying its kind both in the "@type" field and
// in the message-type header.
func Encode(m Message) ([]byte, queue.Headers, error) {
	var (
		body    []byte
		err     error
		headers = queue.Headers{
			HeaderMessageType: string(m.Kind()),
			HeaderJobID:       m.JobKey(),
			HeaderContentType: contentTypeJSON,
		}
	)

	switch v := m.(type) {
	case StartJob:
		body, err = json.Marshal(struct {
			Type Kind `json:"@type"`
			StartJob
		}{KindStartJob, v})
	case PageDone:
		headers[HeaderPageID] = v.PageID
		body, err = json.Marshal(struct {
			Type Kind `json:"@type"`
			PageDone
		}{KindPageDone, v})
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrUnknownMessageKind, m)
	}
	if err != nil {
		return nil, nil, err
	}
	return body, headers, nil
}

// Decode parses a control message. The kind comes from the message-type
// header, or from "@type" when the header is missing. Unknown kinds are
// rejected, and so are job-id or page-id headers that disagree with the body.
func Decode(body []byte, headers queue.Headers) (Message, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, NewDecodeError("malformed message body: %w", err)
	}

	kind := Kind(headers.Get(HeaderMessageType))
	switch {
	case kind == "" && env.Type == "":
		return nil, NewDecodeError("message has no kind: %w", ErrUnknownMessageKind)
	case kind == "":
		kind = env.Type
	case env.Type != "" && env.Type != kind:
		return nil, NewDecodeError("message-type header %q disagrees with body type %q", kind, env.Type)
	}

	m, err := decodeKind(kind, body)
	if err != nil {
		return nil, err
	}
	if jobID := headers.Get(HeaderJobID); jobID != "" && jobID != m.JobKey() {
		return nil, NewDecodeError("job-id header %q disagrees with body job id %q", jobID, m.JobKey())
	}
	if done, ok := m.(PageDone); ok {
		if pageID := headers.Get(HeaderPageID); pageID != "" && pageID != done.PageID {
			return nil, NewDecodeError("page-id header %q disagrees with body page id %q", pageID, done.PageID)
		}
	}
	return m, nil
}

func decodeKind(kind Kind, body []byte) (Message, error) {
	switch kind {
	case KindStartJob:
		var m StartJob
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, NewDecodeError("malformed %s message: %w", kind, err)
		}
		if m.JobID == "" {
			return nil, NewDecodeError("%s message without job id", kind)
		}
		return m, nil
	case KindPageDone:
		var m PageDone
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, NewDecodeError("malformed %s message: %w", kind, err)
		}
		if m.JobID == "" || m.PageID == "" {
			return nil, NewDecodeError("%s message without job or page id", kind)
		}
		if !m.Status.IsTerminal() {
			return nil, NewDecodeError("%s message with non terminal status %q", kind, m.Status)
		}
		return m, nil
	default:
		return nil, NewDecodeError("%w: %q", ErrUnknownMessageKind, kind)
	}
}

// EncodeTask serializes a worker task. Job and page ids are duplicated into
// the headers so the worker can check them against the body.
func EncodeTask(p WorkerJobPayload) ([]byte, queue.Headers, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, nil, err
	}
	return body, queue.Headers{
		HeaderMessageType: string(KindWorkerTask),
		HeaderJobID:       p.JobID,
		HeaderPageID:      p.PageID,
		HeaderContentType: contentTypeJSON,
	}, nil
}

// DecodeTask parses a worker task and fails with ErrPayloadHeaderMismatch when
// the job-id or page-id header disagrees with the body.
func DecodeTask(body []byte, headers queue.Headers) (WorkerJobPayload, error) {
	var p WorkerJobPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return p, NewDecodeError("malformed task body: %w", err)
	}
	if p.JobID == "" || p.PageID == "" {
		return p, NewDecodeError("task without job or page id")
	}
	if headers.Get(HeaderJobID) != p.JobID || headers.Get(HeaderPageID) != p.PageID {
		return p, fmt.Errorf("%w: headers job=%q page=%q, body job=%q page=%q", ErrPayloadHeaderMismatch,
			headers.Get(HeaderJobID), headers.Get(HeaderPageID), p.JobID, p.PageID)
	}
	return p, nil
}

// NewPageDone builds the report for a page. A nil workErr yields FINISHED.
func NewPageDone(jobID, pageID string, workErr error) PageDone {
	if workErr == nil {
		return PageDone{JobID: jobID, PageID: pageID, Status: model.PageStatusFinished}
	}
	msg := workErr.Error()
	return PageDone{JobID: jobID, PageID: pageID, Status: model.PageStatusFailed, ErrorMessage: &msg}
}
