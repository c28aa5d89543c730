package tutordto

import "time"

// Frame types sent by the server.
const (
	FrameState             = "state"
	FrameRejected          = "rejected"
	FrameExport            = "export"
	FrameEvaluation        = "evaluation"
	FrameBestMove          = "bestmove"
	FrameEngineUnavailable = "engine_unavailable"
	FrameError             = "error"
)

type Frame struct {
	Type       string      `json:"type"`
	State      *State      `json:"state,omitempty"`
	Reason     *Rejection  `json:"reason,omitempty"`
	Export     *Export     `json:"export,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	BestMove   string      `json:"bestmove,omitempty"`
	Feedback   string      `json:"feedback,omitempty"`
}

type Export struct {
	Format string `json:"format"`
	Text   string `json:"text"`
}

// Evaluation is one engine update. Centipawns is nil when the engine sent no usable score.
type Evaluation struct {
	Seq                uint64   `json:"seq"`
	Centipawns         *int     `json:"centipawns,omitempty"`
	Label              string   `json:"label"`
	PrincipalVariation []string `json:"pv,omitempty"`
}

type Engine struct {
	Status             string   `json:"status"`
	Centipawns         *int     `json:"centipawns,omitempty"`
	Label              string   `json:"label"`
	PrincipalVariation []string `json:"pv,omitempty"`
}

type State struct {
	SessionID      string   `json:"session_id"`
	LessonIndex    int      `json:"lesson_index"`
	LessonID       string   `json:"lesson_id"`
	LessonTitle    string   `json:"lesson_title"`
	Hint           string   `json:"hint,omitempty"`
	HasSolution    bool     `json:"has_solution"`
	SolutionLength int      `json:"solution_length"`
	FreePlay       bool     `json:"free_play"`
	Imported       bool     `json:"imported"`
	Phase          string   `json:"phase"`
	FEN            string   `json:"fen"`
	Turn           string   `json:"turn"`
	History        []string `json:"history"`
	Step           int      `json:"step"`
	Outcome        string   `json:"outcome"`
	OpeningCode    string   `json:"opening_code,omitempty"`
	OpeningName    string   `json:"opening_name,omitempty"`
	Feedback       string   `json:"feedback,omitempty"`
	ElapsedMillis  int64    `json:"elapsed_ms"`
	Engine         Engine   `json:"engine"`
}

type Lesson struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Hint        string `json:"hint,omitempty"`
	HasSolution bool   `json:"has_solution"`
}

type Completion struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	LessonID       string    `json:"lesson_id"`
	Moves          []string  `json:"moves"`
	Undos          int       `json:"undos"`
	DurationMillis int64     `json:"duration_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}
