// Package plan computes the set of dialogue identifiers eligible for
// processing in one invocation. A plan is derived fresh from the candidate
// set, the existing outputs, and the ledger state on every run; it is never
// persisted or cached.
package plan

import (
	"fmt"

	"dialogue-annotator/internal/manifest"
)

// Mode selects which items a run reconsiders.
type Mode string

const (
	// ModeNew processes items with no output yet whose last recorded status
	// is neither skipped nor failed.
	ModeNew Mode = "new"
	// ModeRerunSkipped reprocesses exactly the items last recorded skipped.
	ModeRerunSkipped Mode = "rerun-skipped"
	// ModeRerunFailed reprocesses exactly the items last recorded failed.
	ModeRerunFailed Mode = "rerun-failed"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNew, ModeRerunSkipped, ModeRerunFailed:
		return Mode(s), nil
	}
	return "", fmt.Errorf("plan: unknown mode %q (want new, rerun-skipped or rerun-failed)", s)
}

// Inputs are the reconciliation facts a plan is derived from. Candidates
// must already be in deterministic (filename) order; the plan preserves it.
type Inputs struct {
	Candidates []string
	Existing   map[string]bool
	LastStatus map[string]manifest.Event
	Mode       Mode
	Overwrite  bool
}

// Build filters the candidate set down to the identifiers eligible under
// the given mode.
//
// Eligibility:
//
//	new           not already output (unless Overwrite), and last status is
//	              neither skipped nor failed
//	rerun-skipped last status is exactly skipped
//	rerun-failed  last status is exactly failed
//
// The rerun modes intentionally skip the already-output guard: a skip or
// failure by definition produced no output. An identifier with no ledger
// history and no existing output is always eligible under new.
func Build(in Inputs) []string {
	eligible := make([]string, 0, len(in.Candidates))
	for _, id := range in.Candidates {
		last, hasHistory := in.LastStatus[id]
		switch in.Mode {
		case ModeRerunSkipped:
			if hasHistory && last.Status == manifest.StatusSkipped {
				eligible = append(eligible, id)
			}
		case ModeRerunFailed:
			if hasHistory && last.Status == manifest.StatusFailed {
				eligible = append(eligible, id)
			}
		default: // ModeNew
			if in.Existing[id] && !in.Overwrite {
				continue
			}
			if hasHistory && (last.Status == manifest.StatusSkipped || last.Status == manifest.StatusFailed) {
				continue
			}
			eligible = append(eligible, id)
		}
	}
	return eligible
}
