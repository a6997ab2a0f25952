package domain

// GateResult is the outcome of the cheap language gate run before the
// expensive per-turn classification. Unavailable means the classifier could
// not be reached (or returned nothing usable); the engine treats that as a
// pass, never as a rejection.
type GateResult struct {
	IsEnglish   bool    `json:"is_english"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
	Unavailable bool    `json:"unavailable,omitempty"`
}

// DialogueResult is the dialogue-level classification: what the initiator
// was trying to learn, what the dialogue is about, and in which language.
type DialogueResult struct {
	Intent    string `json:"intent"`
	Topic     string `json:"topic"`
	Language  string `json:"language"`
	Reasoning string `json:"reasoning"`
}

// EngagementResult classifies an initiator turn.
type EngagementResult struct {
	Emotional  bool            `json:"emotional"`
	Cognitive  map[string]bool `json:"cognitive"`
	Behavioral bool            `json:"behavioral"`
	Reasoning  string          `json:"reasoning"`
}

// SupportResult classifies a responder turn.
type SupportResult struct {
	SupportType     string            `json:"support_type"`
	StrategyDetails map[string]string `json:"strategy_details"`
	Reasoning       string            `json:"reasoning"`
}

// TurnAnnotation is the role-dependent classification attached to a turn.
// Exactly one of Engagement or Support is set.
type TurnAnnotation struct {
	Engagement *EngagementResult `json:"engagement,omitempty"`
	Support    *SupportResult    `json:"support,omitempty"`
}
