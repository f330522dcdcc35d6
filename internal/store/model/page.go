package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type PageStatus string

const (
	PageStatusCreated  PageStatus = "CREATED"
	PageStatusRunning  PageStatus = "RUNNING"
	PageStatusFinished PageStatus = "FINISHED"
	PageStatusFailed   PageStatus = "FAILED"
)

func (s PageStatus) IsTerminal() bool {
	return s == PageStatusFinished || s == PageStatusFailed
}

// CanTransitionTo enforces CREATED -> RUNNING -> {FINISHED|FAILED}.
// CREATED may jump straight to a terminal status.
func (s PageStatus) CanTransitionTo(next PageStatus) bool {
	switch s {
	case PageStatusCreated:
		return next == PageStatusRunning || next.IsTerminal()
	case PageStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// PageData is the opaque work payload of a page.
type PageData struct {
	ItemIDs []uuid.UUID `json:"itemIds"`
}

type Page struct {
	ID           string                       `gorm:"primaryKey;column:id;type:VARCHAR(255);"`
	JobID        string                       `gorm:"not null;type:VARCHAR(255);index:pages_job_id_idx"`
	Position     int                          `gorm:"not null;default:0"`
	Status       PageStatus                   `gorm:"not null;type:VARCHAR(32)"`
	Data         datatypes.JSONType[PageData] `gorm:"not null"`
	ErrorMessage *string                      `gorm:"type:TEXT"`
	CreatedAt    time.Time                    `gorm:"not null;autoCreateTime"`
	UpdatedAt    time.Time                    `gorm:"not null;autoUpdateTime"`
}

type PageList []Page

// NewPage returns a page in CREATED state with a freshly minted id.
func NewPage(position int, data PageData) Page {
	return Page{
		ID:       uuid.NewString(),
		Position: position,
		Status:   PageStatusCreated,
		Data:     datatypes.NewJSONType(data),
	}
}

func (p Page) String() string {
	val, _ := json.Marshal(p)
	return string(val)
}
