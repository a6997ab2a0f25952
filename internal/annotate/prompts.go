package annotate

import (
	"fmt"
	"strings"

	"dialogue-annotator/internal/domain"
)

// PromptVersion is stamped onto ledger events and output records so a later
// reader can tell which prompt generation produced an annotation.
const PromptVersion = "v1"

const (
	// Gate sampling bounds: first turns only, each truncated, total capped.
	gateSampleTurns     = 8
	gateSampleTurnChars = 400
	gateSampleMaxChars  = 1200
)

// firstTurnContext is the sentinel supplied as preceding context when
// classifying the first turn of a dialogue.
const firstTurnContext = "N/A (First Utterance)"

func buildGatePrompt(sample string) string {
	return strings.Join([]string{
		"You are a language detector.",
		"Given a dialogue sample, determine whether the dialogue is predominantly English.",
		"",
		"Dialogue sample:",
		sample,
		"",
		"Return JSON with keys is_english (boolean), confidence (number 0.0-1.0) and reasoning (brief string).",
	}, "\n")
}

func buildDialoguePrompt(firstInitiatorContent, fullText string) string {
	return strings.Join([]string{
		"You are analyzing a complete two-party tutoring dialogue between an initiator (the learner) and a responder (the helper).",
		"",
		"Opening request from the initiator:",
		firstInitiatorContent,
		"",
		"Full dialogue:",
		fullText,
		"",
		"Task:",
		"Classify the dialogue as a whole.",
		"- intent: what the initiator is trying to achieve (short label).",
		"- topic: the subject matter of the dialogue (short free text).",
		"- language: the predominant language of the dialogue.",
		"- reasoning: a brief rationale for the labels above.",
		"",
		"Return JSON only with keys intent, topic, language and reasoning.",
	}, "\n")
}

func buildEngagementPrompt(content, precedingContext string) string {
	return strings.Join([]string{
		"You are analyzing one initiator (learner) turn from a two-party tutoring dialogue.",
		"",
		"Immediately preceding turn:",
		precedingContext,
		"",
		"Initiator turn:",
		content,
		"",
		"Task:",
		"Classify the learner's engagement in this turn.",
		"- emotional: whether the turn shows emotional engagement (boolean).",
		"- cognitive: an object of named cognitive-engagement indicators, each boolean.",
		"- behavioral: whether the turn shows behavioral engagement (boolean).",
		"- reasoning: a brief rationale.",
		"",
		"Return JSON only with keys emotional, cognitive, behavioral and reasoning.",
	}, "\n")
}

func buildSupportPrompt(content, precedingContext string) string {
	return strings.Join([]string{
		"You are analyzing one responder (helper) turn from a two-party tutoring dialogue.",
		"",
		"Immediately preceding turn:",
		precedingContext,
		"",
		"Responder turn:",
		content,
		"",
		"Task:",
		"Classify the support offered in this turn.",
		"- support_type: the primary support strategy (short label).",
		"- strategy_details: an object of named strategy attributes, each a short string.",
		"- reasoning: a brief rationale.",
		"",
		"Return JSON only with keys support_type, strategy_details and reasoning.",
	}, "\n")
}

// gateSample assembles the bounded early-dialogue sample the gate runs on:
// the first turns only, each truncated, with a total cap. Gating is an
// optimization, so a cheap lossy sample is enough.
func gateSample(turns []domain.Turn) string {
	var parts []string
	total := 0
	for i, t := range turns {
		if i >= gateSampleTurns {
			break
		}
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		if len(content) > gateSampleTurnChars {
			content = content[:gateSampleTurnChars]
		}
		parts = append(parts, fmt.Sprintf("%s: %s", t.Role, content))
		total += len(content)
		if total > gateSampleMaxChars {
			break
		}
	}
	sample := strings.Join(parts, "\n")
	if len(sample) > gateSampleMaxChars {
		sample = sample[:gateSampleMaxChars]
	}
	return sample
}

// fullText renders the whole dialogue as "role: content" lines for the
// dialogue-level prompt.
func fullText(turns []domain.Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = fmt.Sprintf("%s: %s", t.Role, t.Content)
	}
	return strings.Join(lines, "\n")
}

// precedingContext renders the turn before index i, or the first-turn
// sentinel.
func precedingContext(turns []domain.Turn, i int) string {
	if i <= 0 {
		return firstTurnContext
	}
	prev := turns[i-1]
	return fmt.Sprintf("%s: %s", prev.Role, prev.Content)
}

// firstInitiatorContent returns the content of the first initiator turn, or
// empty when the dialogue has none.
func firstInitiatorContent(turns []domain.Turn) string {
	for _, t := range turns {
		if t.Role == domain.RoleInitiator {
			return t.Content
		}
	}
	return ""
}
