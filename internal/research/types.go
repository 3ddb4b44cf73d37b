package research

import (
	"time"
)

// Language is a supported report language.
type Language string

const (
	LangEnglish Language = "en"
	LangKorean  Language = "ko"
)

// Depth controls how many supervisor iterations a session may run.
type Depth string

const (
	DepthShallow Depth = "shallow"
	DepthMedium  Depth = "medium"
	DepthDeep    Depth = "deep"
)

// MaxIterations returns the supervisor loop cap for the depth.
func (d Depth) MaxIterations() int {
	switch d {
	case DepthShallow:
		return 3
	case DepthMedium:
		return 4
	default:
		return 6
	}
}

// Valid reports whether d is a recognised depth.
func (d Depth) Valid() bool {
	return d == DepthShallow || d == DepthMedium || d == DepthDeep
}

// Stage is one node of the workflow state machine.
type Stage string

const (
	StageIntake       Stage = "intake"
	StageClarifying   Stage = "clarifying"
	StageBriefing     Stage = "briefing"
	StageSupervising  Stage = "supervising"
	StageResearching  Stage = "researching"
	StageSynthesizing Stage = "synthesizing"
	StageFinalizing   Stage = "finalizing"
	StageCompleted    Stage = "completed"
	StageErrored      Stage = "error"
)

// Terminal reports whether the stage ends the session.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageErrored
}

// Subtask is one focused research question proposed by the supervisor.
type Subtask struct {
	Question    string `json:"question"`
	Description string `json:"description"`
}

// Summary is the artefact one researcher slot produces for one subtask.
type Summary struct {
	SubtaskRef int      `json:"subtask_ref"`
	Text       string   `json:"text"`
	Sources    []string `json:"sources"`
}

// StageError records a non-fatal failure inside the workflow.
type StageError struct {
	Stage       Stage  `json:"stage"`
	Kind        Kind   `json:"kind"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// State is the single evolving document the workflow engine mutates.
// Stores treat it as opaque JSON; only the engine understands the fields.
type State struct {
	ClarifiedGoal string       `json:"clarified_goal,omitempty"`
	Brief         string       `json:"brief,omitempty"`
	Subtasks      []Subtask    `json:"subtasks"`
	Summaries     []Summary    `json:"summaries"`
	Iteration     int          `json:"iteration"`
	FinalReport   string       `json:"final_report,omitempty"`
	Errors        []StageError `json:"errors"`
}

// Spec is the immutable part of a session, fixed at creation.
type Spec struct {
	Question       string    `json:"question"`
	Language       Language  `json:"language"`
	Depth          Depth     `json:"depth"`
	MaxResearchers int       `json:"max_researchers"`
	CreatedAt      time.Time `json:"created_at"`
}

// Session is one end-to-end execution of the workflow.
type Session struct {
	ID   string `json:"id"`
	Spec Spec   `json:"spec"`

	Stage     Stage     `json:"stage"`
	Progress  int       `json:"progress"`
	LastError string    `json:"last_error,omitempty"`
	ErrorKind Kind      `json:"error_kind,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`

	State State `json:"state"`
}

// SourceLists returns the per-summary source URL lists, original report shape.
func (s *Session) SourceLists() [][]string {
	out := make([][]string, 0, len(s.State.Summaries))
	for _, sum := range s.State.Summaries {
		src := sum.Sources
		if src == nil {
			src = []string{}
		}
		out = append(out, src)
	}
	return out
}
