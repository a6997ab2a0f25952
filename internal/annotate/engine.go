// Package annotate drives the per-item annotation pipeline: reconcile the
// candidate set against prior runs, gate, classify, and persist — with every
// outcome recorded in the manifest ledger before the next item begins.
package annotate

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"dialogue-annotator/internal/corpus"
	"dialogue-annotator/internal/domain"
	"dialogue-annotator/internal/integrations/azureopenai"
	"dialogue-annotator/internal/manifest"
	"dialogue-annotator/internal/output"
	"dialogue-annotator/internal/plan"
)

const (
	defaultMinTurns    = 4
	defaultTimeout     = 60 * time.Second
	defaultGateTimeout = 30 * time.Second

	gateMaxTokens     = 120
	dialogueMaxTokens = 300
	turnMaxTokens     = 350

	dialogueTemperature = 0.1

	metaSchema = "dialogue-annotation"
)

// Source produces candidates and re-derives dialogues from their source
// files. Dialogues are always re-derived, never cached across runs.
type Source interface {
	Candidates() ([]corpus.Candidate, error)
	Load(c corpus.Candidate) (domain.Dialogue, error)
}

// Ledger records per-item outcomes and replays prior state.
type Ledger interface {
	Append(e manifest.Event) error
	LastStatusByID() (map[string]manifest.Event, error)
}

// OutputStore persists finished records and reports which identifiers
// already have output.
type OutputStore interface {
	Write(d domain.Dialogue) (string, error)
	ExistingIDs() (map[string]bool, error)
}

// Classifier is the resilient client boundary. A (nil, nil) result means
// "classification unavailable" and is never an error here.
type Classifier interface {
	Classify(ctx context.Context, req azureopenai.ClassifyRequest) (json.RawMessage, error)
}

// RunConfig is the explicit per-run configuration carried by the engine; no
// component reads ambient state.
type RunConfig struct {
	Mode         plan.Mode
	Overwrite    bool
	MinTurns     int
	MaxAnnotated int // 0 = unlimited; counts pre-existing outputs
	DryRun       bool

	Model      string // recorded in annotation_meta
	APIVersion string
	RunID      string

	Timeout     time.Duration // per substantive call
	GateTimeout time.Duration
}

// Summary is the user-visible result of one run.
type Summary struct {
	Considered       int
	NewlyProcessed   int
	TotalProcessed   int
	Skipped          int
	Failed           int
	DryRunCandidates int
}

// Engine runs the annotation pipeline for one output directory.
type Engine struct {
	src        Source
	ledger     Ledger
	store      OutputStore
	classifier Classifier
	cfg        RunConfig
	logger     *slog.Logger
}

// NewEngine validates collaborators and applies configuration defaults. The
// classifier may be nil only for dry runs, which never call the external
// service.
func NewEngine(src Source, ledger Ledger, store OutputStore, classifier Classifier, cfg RunConfig, logger *slog.Logger) (*Engine, error) {
	if src == nil {
		return nil, newError(ErrorInvalidConfig, "nil_source", nil)
	}
	if ledger == nil {
		return nil, newError(ErrorInvalidConfig, "nil_ledger", nil)
	}
	if store == nil {
		return nil, newError(ErrorInvalidConfig, "nil_output_store", nil)
	}
	if classifier == nil && !cfg.DryRun {
		return nil, newError(ErrorInvalidConfig, "nil_classifier", nil)
	}
	if cfg.Mode == "" {
		cfg.Mode = plan.ModeNew
	}
	if _, err := plan.ParseMode(string(cfg.Mode)); err != nil {
		return nil, newError(ErrorInvalidConfig, "bad_mode", err)
	}
	if cfg.MinTurns <= 0 {
		cfg.MinTurns = defaultMinTurns
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GateTimeout <= 0 {
		cfg.GateTimeout = defaultGateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		src:        src,
		ledger:     ledger,
		store:      store,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run executes one invocation: plan, then process eligible items in
// candidate order. Per-item failures are recorded and the run continues;
// only ledger/output-directory I/O errors and context cancellation abort.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	candidates, err := e.src.Candidates()
	if err != nil {
		return sum, newError(ErrorInputScan, "discover_candidates", err)
	}
	existing, err := e.store.ExistingIDs()
	if err != nil {
		return sum, newError(ErrorOutputScan, "scan_existing_outputs", err)
	}
	last, err := e.ledger.LastStatusByID()
	if err != nil {
		return sum, newError(ErrorLedgerIO, "replay_ledger", err)
	}

	sum.Considered = len(candidates)
	sum.TotalProcessed = len(existing)

	if e.cfg.MaxAnnotated > 0 && len(existing) >= e.cfg.MaxAnnotated {
		e.logger.Info("processing cap already met by existing outputs",
			"existing", len(existing), "max_annotated", e.cfg.MaxAnnotated)
		return sum, nil
	}

	ids := make([]string, 0, len(candidates))
	byID := make(map[string]corpus.Candidate, len(candidates))
	indexOf := make(map[string]int, len(candidates))
	for i, c := range candidates {
		if c.Err != nil {
			// No key to plan against; record a keyless diagnostic and drop
			// the item from consideration.
			ev := e.newEvent(manifest.StatusSkipped, "", i, c.Path)
			ev.Reason = manifest.ReasonInputMalformed
			ev.Error = c.Err.Error()
			if err := e.append(ev); err != nil {
				return sum, err
			}
			e.logger.Warn("dropping malformed input", "path", c.Path, "err", c.Err)
			continue
		}
		ids = append(ids, c.ID)
		byID[c.ID] = c
		indexOf[c.ID] = i
	}

	eligible := plan.Build(plan.Inputs{
		Candidates: ids,
		Existing:   existing,
		LastStatus: last,
		Mode:       e.cfg.Mode,
		Overwrite:  e.cfg.Overwrite,
	})
	e.logger.Info("run plan computed",
		"candidates", len(candidates),
		"existing", len(existing),
		"eligible", len(eligible),
		"mode", e.cfg.Mode,
		"dry_run", e.cfg.DryRun)

	for _, id := range eligible {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		c := byID[id]
		idx := indexOf[id]

		stop, err := e.processItem(ctx, c, idx, existing, &sum)
		if err != nil {
			return sum, err
		}
		if stop {
			break
		}
	}

	e.logger.Info("run completed",
		"considered", sum.Considered,
		"newly_processed", sum.NewlyProcessed,
		"total_processed", sum.TotalProcessed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"dry_run_candidates", sum.DryRunCandidates)
	return sum, nil
}

// processItem runs steps (a)-(g) for one planned identifier. It returns
// stop=true when the processing cap has been reached; an error return is
// fatal to the run.
func (e *Engine) processItem(ctx context.Context, c corpus.Candidate, idx int, existing map[string]bool, sum *Summary) (stop bool, err error) {
	dlg, err := e.src.Load(c)
	if err != nil {
		ev := e.newEvent(manifest.StatusFailed, c.ID, idx, c.Path)
		ev.Reason = manifest.ReasonInputError
		ev.Error = err.Error()
		sum.Failed++
		return false, e.append(ev)
	}

	if len(dlg.Turns) < e.cfg.MinTurns {
		ev := e.newEvent(manifest.StatusSkipped, c.ID, idx, c.Path)
		ev.Reason = manifest.ReasonTooFewTurns
		ev.Turns = len(dlg.Turns)
		sum.Skipped++
		return false, e.append(ev)
	}

	if e.cfg.DryRun {
		ev := e.newEvent(manifest.StatusDryRunCandidate, c.ID, idx, c.Path)
		ev.Turns = len(dlg.Turns)
		if err := e.append(ev); err != nil {
			return false, err
		}
		sum.DryRunCandidates++
		if e.cfg.MaxAnnotated > 0 && sum.DryRunCandidates >= e.cfg.MaxAnnotated {
			e.logger.Info("reached max annotated in dry run; stopping",
				"max_annotated", e.cfg.MaxAnnotated)
			return true, nil
		}
		return false, nil
	}

	gate, err := e.runGate(ctx, dlg)
	if err != nil {
		return false, err
	}
	if !gate.Unavailable && !gate.IsEnglish {
		ev := e.newEvent(manifest.StatusSkipped, c.ID, idx, c.Path)
		ev.Reason = manifest.ReasonEnglishFilterNegative
		ev.Gate = &gate
		sum.Skipped++
		return false, e.append(ev)
	}

	annotated, err := e.annotateDialogue(ctx, dlg, gate)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.logger.Error("annotation failed", "dialogue_id", c.ID, "err", err)
		ev := e.newEvent(manifest.StatusFailed, c.ID, idx, c.Path)
		ev.Reason = manifest.ReasonAnnotationError
		ev.Error = err.Error()
		sum.Failed++
		return false, e.append(ev)
	}

	path, err := e.store.Write(annotated)
	if err != nil {
		e.logger.Error("output write failed", "dialogue_id", c.ID, "err", err)
		ev := e.newEvent(manifest.StatusFailed, c.ID, idx, c.Path)
		ev.Reason = manifest.ReasonWriteError
		ev.Error = err.Error()
		sum.Failed++
		return false, e.append(ev)
	}

	// The processed event is appended only after the write succeeded. If we
	// crash between the write and this append, the planner's already-output
	// check keeps the item from being re-processed.
	ev := e.newEvent(manifest.StatusProcessed, c.ID, idx, c.Path)
	ev.Turns = len(annotated.Turns)
	ev.Output = filepath.Join(output.SubDir, filepath.Base(path))
	if err := e.append(ev); err != nil {
		return false, err
	}

	sum.NewlyProcessed++
	if !existing[c.ID] {
		existing[c.ID] = true
		sum.TotalProcessed++
	}
	e.logger.Info("dialogue processed", "dialogue_id", c.ID, "output", ev.Output)

	if e.cfg.MaxAnnotated > 0 && sum.TotalProcessed >= e.cfg.MaxAnnotated {
		e.logger.Info("reached max annotated; stopping", "max_annotated", e.cfg.MaxAnnotated)
		return true, nil
	}
	return false, nil
}

// runGate invokes the language gate on a bounded early sample. Gating is an
// optimization: an unreachable service or malformed reply yields an
// unavailable result, which passes. The only error returned is context
// cancellation.
func (e *Engine) runGate(ctx context.Context, dlg domain.Dialogue) (domain.GateResult, error) {
	raw, err := e.classifier.Classify(ctx, azureopenai.ClassifyRequest{
		Prompt:     buildGatePrompt(gateSample(dlg.Turns)),
		SchemaName: "language_gate",
		Schema:     gateSchema,
		MaxTokens:  gateMaxTokens,
		Timeout:    e.cfg.GateTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return domain.GateResult{}, ctx.Err()
		}
		e.logger.Warn("gate call failed; default allow", "dialogue_id", dlg.ID, "err", err)
		raw = nil
	}
	return parseGate(raw), nil
}

// annotateDialogue performs the dialogue-level classification and one
// classification per turn, each supplied with its immediately preceding
// turn as context. Unavailable results propagate as zero-valued fields.
func (e *Engine) annotateDialogue(ctx context.Context, dlg domain.Dialogue, gate domain.GateResult) (domain.Dialogue, error) {
	dlg.Meta = &domain.AnnotationMeta{
		Schema:        metaSchema,
		PromptVersion: PromptVersion,
		Model:         e.cfg.Model,
		APIVersion:    e.cfg.APIVersion,
	}

	raw, err := e.classifier.Classify(ctx, azureopenai.ClassifyRequest{
		Prompt:      buildDialoguePrompt(firstInitiatorContent(dlg.Turns), fullText(dlg.Turns)),
		SchemaName:  "dialogue_level",
		Schema:      dialogueSchema,
		MaxTokens:   dialogueMaxTokens,
		Timeout:     e.cfg.Timeout,
		Temperature: dialogueTemperature,
	})
	if err != nil {
		return domain.Dialogue{}, err
	}
	res := parseDialogueResult(raw)
	dlg.Intent = res.Intent
	dlg.Topic = strings.TrimSpace(res.Topic)
	dlg.Language = res.Language
	dlg.Rationale = res.Reasoning

	for i := range dlg.Turns {
		turn := &dlg.Turns[i]
		prev := precedingContext(dlg.Turns, i)

		switch turn.Role {
		case domain.RoleInitiator:
			raw, err := e.classifier.Classify(ctx, azureopenai.ClassifyRequest{
				Prompt:      buildEngagementPrompt(turn.Content, prev),
				SchemaName:  "initiator_turn",
				Schema:      engagementSchema,
				MaxTokens:   turnMaxTokens,
				Timeout:     e.cfg.Timeout,
				Temperature: dialogueTemperature,
			})
			if err != nil {
				return domain.Dialogue{}, err
			}
			turn.Annotation = &domain.TurnAnnotation{Engagement: parseEngagement(raw)}
		case domain.RoleResponder:
			raw, err := e.classifier.Classify(ctx, azureopenai.ClassifyRequest{
				Prompt:      buildSupportPrompt(turn.Content, prev),
				SchemaName:  "responder_turn",
				Schema:      supportSchema,
				MaxTokens:   turnMaxTokens,
				Timeout:     e.cfg.Timeout,
				Temperature: dialogueTemperature,
			})
			if err != nil {
				return domain.Dialogue{}, err
			}
			turn.Annotation = &domain.TurnAnnotation{Support: parseSupport(raw)}
		}
	}

	dlg.Filter = &domain.FilterVerdict{Language: &gate}
	return dlg, nil
}

func (e *Engine) newEvent(status manifest.Status, id string, index int, source string) manifest.Event {
	ev := manifest.Event{
		Status:        status,
		DialogueID:    id,
		Index:         index,
		Source:        source,
		Mode:          string(e.cfg.Mode),
		RunID:         e.cfg.RunID,
		PromptVersion: PromptVersion,
	}
	ev.Stamp()
	return ev
}

// append wraps ledger appends; a failed append is fatal to the run, since
// resumability guarantees no longer hold without it.
func (e *Engine) append(ev manifest.Event) error {
	if err := e.ledger.Append(ev); err != nil {
		return newError(ErrorLedgerIO, "append_event", err)
	}
	return nil
}
