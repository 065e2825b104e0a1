package document

import (
	"context"
	"time"

	"golang.org/x/text/language"
)

// Job status constants representing the translation lifecycle
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusUnknown    = "unknown"
)

// IsTerminalStatus returns true for states that end polling
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusUnknown:
		return true
	}
	return false
}

// Text layout directions
const (
	DirectionLTR = "ltr"
	DirectionRTL = "rtl"
)

// rtlBases is the set of base languages laid out right to left
var rtlBases = map[string]bool{
	"ar":  true,
	"fa":  true,
	"he":  true,
	"ur":  true,
	"ps":  true,
	"sd":  true,
	"ug":  true,
	"yi":  true,
	"dv":  true,
	"ckb": true,
}

// DirectionForTarget derives the layout direction of the translated text
// from the target language code. Tags are normalized first, so "FA" and
// "fa-IR" both resolve to rtl. Unparseable codes default to ltr.
func DirectionForTarget(targetLang string) string {
	tag, err := language.Parse(targetLang)
	if err != nil {
		return DirectionLTR
	}
	base, _ := tag.Base()
	if rtlBases[base.String()] {
		return DirectionRTL
	}
	return DirectionLTR
}

// SubmitReceipt is the backend's acknowledgement of a new translation job
type SubmitReceipt struct {
	ProcessID            string `json:"processId"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimatedTimeSeconds,omitempty"`
}

// StatusSnapshot is one observation of a job's server-side state. Fallback
// snapshots are synthesized client-side when the server is unreachable and
// are never allowed to overwrite a confirmed observation's progress.
type StatusSnapshot struct {
	ProcessID   string    `json:"process_id"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	CurrentPage int       `json:"current_page,omitempty"`
	TotalPages  int       `json:"total_pages,omitempty"`
	Fallback    bool      `json:"fallback"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ResultMetadata describes the document a result belongs to
type ResultMetadata struct {
	OriginalFileName string `json:"originalFileName"`
	CurrentPage      int    `json:"currentPage,omitempty"`
	TotalPages       int    `json:"totalPages,omitempty"`
}

// Result is a finished translation
type Result struct {
	TranslatedText string         `json:"translatedText"`
	Direction      string         `json:"direction"`
	Metadata       ResultMetadata `json:"metadata"`
}

// SnapshotStore holds the last known status per process ID. The document
// service falls back to it when a status check fails transiently.
type SnapshotStore interface {
	Get(ctx context.Context, processID string) (StatusSnapshot, bool, error)
	Put(ctx context.Context, snap StatusSnapshot) error
	Delete(ctx context.Context, processID string) error
}
