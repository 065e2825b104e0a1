package poller

import (
	"time"

	"github.com/opentranslator/client/internal/document"
)

// Job is the client-side view of one translation request. Exactly one job is
// active per Poller; a new submission resets everything to zero.
type Job struct {
	ProcessID      string    `json:"process_id"`
	FileName       string    `json:"file_name"`
	SourceLang     string    `json:"source_lang"`
	TargetLang     string    `json:"target_lang"`
	Direction      string    `json:"direction"`
	Status         string    `json:"status"`
	Progress       int       `json:"progress"`
	CurrentPage    int       `json:"current_page,omitempty"`
	TotalPages     int       `json:"total_pages,omitempty"`
	Estimated      bool      `json:"estimated"`
	TranslatedText string    `json:"translated_text,omitempty"`
	Error          string    `json:"error,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	LastConfirmed  time.Time `json:"last_confirmed"`
}

// IsTerminal returns true once no further polling will happen
func (j *Job) IsTerminal() bool {
	return document.IsTerminalStatus(j.Status)
}

// EventType identifies a poll loop notification
type EventType string

const (
	EventSubmitted      EventType = "submitted"
	EventStatus         EventType = "status"
	EventStallWarning   EventType = "stall_warning"
	EventStuckWarning   EventType = "stuck_warning"
	EventCompleted      EventType = "completed"
	EventFailed         EventType = "failed"
	EventCancelled      EventType = "cancelled"
	EventConnectionLost EventType = "connection_lost"
)

// Event is delivered to listeners (the CLI, the progress bridge) as the job
// advances. Job is a copy taken under lock; receivers own it.
type Event struct {
	Type    EventType `json:"type"`
	Job     Job       `json:"job"`
	Message string    `json:"message,omitempty"`
}
