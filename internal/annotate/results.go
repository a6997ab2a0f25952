package annotate

import (
	"encoding/json"

	"dialogue-annotator/internal/domain"
)

// Structured-output schemas requested from the classification service. The
// engine never trusts the service to honor them: every result is re-parsed
// and an unparseable or missing result degrades to its explicit
// "unavailable" or zero-valued form.
var (
	gateSchema = json.RawMessage(`{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"is_english": {"type": "boolean"},
			"confidence": {"type": "number"},
			"reasoning": {"type": "string"}
		},
		"required": ["is_english", "confidence", "reasoning"]
	}`)

	dialogueSchema = json.RawMessage(`{
		"type": "object",
		"additionalProperties": false,
		"properties": {
			"intent": {"type": "string"},
			"topic": {"type": "string"},
			"language": {"type": "string"},
			"reasoning": {"type": "string"}
		},
		"required": ["intent", "topic", "language", "reasoning"]
	}`)

	engagementSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"emotional": {"type": "boolean"},
			"cognitive": {"type": "object", "additionalProperties": {"type": "boolean"}},
			"behavioral": {"type": "boolean"},
			"reasoning": {"type": "string"}
		},
		"required": ["emotional", "cognitive", "behavioral", "reasoning"]
	}`)

	supportSchema = json.RawMessage(`{
		"type": "object",
		"properties": {
			"support_type": {"type": "string"},
			"strategy_details": {"type": "object", "additionalProperties": {"type": "string"}},
			"reasoning": {"type": "string"}
		},
		"required": ["support_type", "strategy_details", "reasoning"]
	}`)
)

// parseGate maps a raw gate result to its explicit record. A nil or
// unparseable result is "unavailable", which the engine treats as pass: a
// transport failure and a malformed reply are deliberately
// indistinguishable here.
func parseGate(raw json.RawMessage) domain.GateResult {
	if len(raw) == 0 {
		return domain.GateResult{
			IsEnglish:   true,
			Unavailable: true,
			Reasoning:   "gate unavailable; default allow",
		}
	}
	var out domain.GateResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.GateResult{
			IsEnglish:   true,
			Unavailable: true,
			Reasoning:   "gate returned malformed result; default allow",
		}
	}
	return out
}

// parseDialogueResult maps a raw dialogue-level result. Unavailable or
// malformed results yield zero-valued fields: classification quality is
// best-effort, never a hard dependency.
func parseDialogueResult(raw json.RawMessage) domain.DialogueResult {
	var out domain.DialogueResult
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func parseEngagement(raw json.RawMessage) *domain.EngagementResult {
	out := &domain.EngagementResult{Cognitive: map[string]bool{}}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, out)
	if out.Cognitive == nil {
		out.Cognitive = map[string]bool{}
	}
	return out
}

func parseSupport(raw json.RawMessage) *domain.SupportResult {
	out := &domain.SupportResult{StrategyDetails: map[string]string{}}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, out)
	if out.StrategyDetails == nil {
		out.StrategyDetails = map[string]string{}
	}
	return out
}
