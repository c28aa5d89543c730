package domain

import "time"

type LessonCompletion struct {
	ID          int64
	SessionID   string
	LessonID    string
	LessonTitle string
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	Undos       int
	Duration    time.Duration
	CompletedAt time.Time
}

// SessionSnapshot is the persisted form of a tutor session. The board is rebuilt by replaying
// MovesUCI from StartFEN.
type SessionSnapshot struct {
	SessionID   string    `json:"session_id"`
	LessonIndex int       `json:"lesson_index"`
	LessonID    string    `json:"lesson_id"`
	FreePlay    bool      `json:"free_play"`
	Imported    bool      `json:"imported,omitempty"`
	StartFEN    string    `json:"start_fen"`
	MovesUCI    []string  `json:"moves_uci"`
	State       string    `json:"state"`
	Undos       int       `json:"undos,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
