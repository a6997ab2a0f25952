// Package manifest is the append-only event ledger that makes runs
// resumable. One JSON object per line; the state for an identifier is its
// most recent event by append order.
package manifest

import (
	"time"

	"dialogue-annotator/internal/domain"
)

// Status is the outcome recorded for one item at one decision point.
type Status string

const (
	StatusProcessed       Status = "processed"
	StatusSkipped         Status = "skipped"
	StatusFailed          Status = "failed"
	StatusDryRunCandidate Status = "dry_run_candidate"
)

// Reason codes recorded when Status != processed.
const (
	ReasonTooFewTurns           = "too_few_turns"
	ReasonEnglishFilterNegative = "english_filter_negative"
	ReasonAnnotationError       = "annotation_error"
	ReasonInputError            = "input_error"
	ReasonWriteError            = "write_error"
	ReasonInputMalformed        = "input_malformed"
)

// Event is one immutable ledger entry. Events are never edited or deleted.
// DialogueID is empty only for diagnostics about malformed input with no
// derivable identifier; such events are ignored during replay.
type Event struct {
	Timestamp     string             `json:"ts"`
	Status        Status             `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	DialogueID    string             `json:"dialogue_id,omitempty"`
	Index         int                `json:"index"`
	Turns         int                `json:"turns,omitempty"`
	Source        string             `json:"source,omitempty"`
	Output        string             `json:"output,omitempty"`
	Error         string             `json:"error,omitempty"`
	Gate          *domain.GateResult `json:"gate,omitempty"`
	Mode          string             `json:"mode,omitempty"`
	RunID         string             `json:"run_id,omitempty"`
	PromptVersion string             `json:"prompt_version,omitempty"`
}

// Stamp sets the event timestamp to the current UTC wall clock. Replay order
// is defined by append order, not by this timestamp, so clock skew cannot
// reorder state.
func (e *Event) Stamp() {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
}
