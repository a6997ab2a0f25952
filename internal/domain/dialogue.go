package domain

// Role is the normalized speaker role within a dialogue. Source corpora use
// their own role vocabulary (teacher/student, plus observer-style roles that
// are dropped during normalization); everything downstream sees only these
// two values.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Turn is a single utterance within a Dialogue.
type Turn struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`

	// Annotation is attached by the engine once the turn has been
	// classified. Its shape depends on Role.
	Annotation *TurnAnnotation `json:"annotation,omitempty"`
}

// SourceInfo carries provenance for a dialogue, including the opaque
// metadata row from the corpus sidecar table (may be empty).
type SourceInfo struct {
	Dataset  string            `json:"dataset"`
	Path     string            `json:"source_path"`
	Filename string            `json:"filename"`
	Metadata map[string]string `json:"metadata"`
}

// AnnotationMeta records which prompt/model combination produced the
// annotations on a dialogue.
type AnnotationMeta struct {
	Schema        string `json:"schema"`
	PromptVersion string `json:"prompt_version"`
	Model         string `json:"annotation_model"`
	APIVersion    string `json:"annotation_api_version"`
}

// FilterVerdict holds the gate outcomes recorded on a finished dialogue.
type FilterVerdict struct {
	Language *GateResult `json:"language,omitempty"`
}

// Dialogue is the unit of annotation work: one complete transcript.
//
// The ID is derived purely from the source filename and never changes across
// runs. A Dialogue is rebuilt from its source file on every run and is never
// mutated once written to the output directory.
type Dialogue struct {
	ID     string     `json:"dialogue_id"`
	Turns  []Turn     `json:"turns"`
	Source SourceInfo `json:"source"`

	// Dialogue-level annotation fields, populated by the engine.
	Intent    string `json:"intent,omitempty"`
	Topic     string `json:"topic,omitempty"`
	Language  string `json:"language,omitempty"`
	Rationale string `json:"rationale,omitempty"`

	Filter *FilterVerdict  `json:"filter,omitempty"`
	Meta   *AnnotationMeta `json:"annotation_meta,omitempty"`
}
