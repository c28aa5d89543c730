package tutorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/park285/chess-tutor/internal/domain"
)

var ErrDuplicateCompletion = errors.New("lesson completion already recorded")

// Schema creates the completions table. Applied by EnsureSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS lesson_completions (
	id           BIGSERIAL PRIMARY KEY,
	session_id   TEXT NOT NULL,
	lesson_id    TEXT NOT NULL,
	lesson_title TEXT NOT NULL,
	moves_uci    JSONB NOT NULL,
	moves_san    JSONB NOT NULL,
	pgn          TEXT NOT NULL,
	undos        INTEGER NOT NULL DEFAULT 0,
	duration_ms  BIGINT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, lesson_id, completed_at)
)`

type Repository interface {
	RecordCompletion(ctx context.Context, c *domain.LessonCompletion) (int64, error)
	RecentCompletions(ctx context.Context, lessonID string, limit int) ([]*domain.LessonCompletion, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create lesson_completions: %w", err)
	}
	return nil
}

func (r *repository) RecordCompletion(ctx context.Context, c *domain.LessonCompletion) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("nil lesson completion payload")
	}
	movesUCI, err := json.Marshal(c.MovesUCI)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(c.MovesSAN)
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO lesson_completions (
			session_id,
			lesson_id,
			lesson_title,
			moves_uci,
			moves_san,
			pgn,
			undos,
			duration_ms,
			completed_at
		)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9)
		ON CONFLICT (session_id, lesson_id, completed_at) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		c.SessionID,
		c.LessonID,
		c.LessonTitle,
		movesUCI,
		movesSAN,
		c.PGN,
		c.Undos,
		c.Duration.Milliseconds(),
		c.CompletedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateCompletion
	}
	if err != nil {
		return 0, fmt.Errorf("insert lesson completion: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) RecentCompletions(ctx context.Context, lessonID string, limit int) ([]*domain.LessonCompletion, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT
			id,
			session_id,
			lesson_id,
			lesson_title,
			moves_uci,
			moves_san,
			pgn,
			undos,
			duration_ms,
			completed_at
		FROM lesson_completions
		WHERE lesson_id = $1
		ORDER BY completed_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, lessonID, limit)
	if err != nil {
		return nil, fmt.Errorf("select lesson completions: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.LessonCompletion, 0, limit)
	for rows.Next() {
		var (
			c            domain.LessonCompletion
			movesUCIJSON []byte
			movesSANJSON []byte
			durationMS   int64
		)
		if err := rows.Scan(
			&c.ID,
			&c.SessionID,
			&c.LessonID,
			&c.LessonTitle,
			&movesUCIJSON,
			&movesSANJSON,
			&c.PGN,
			&c.Undos,
			&durationMS,
			&c.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scan lesson completion: %w", err)
		}
		c.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal(movesUCIJSON, &c.MovesUCI); err != nil {
			return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
		}
		if err := json.Unmarshal(movesSANJSON, &c.MovesSAN); err != nil {
			return nil, fmt.Errorf("unmarshal moves_san: %w", err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lesson completions: %w", err)
	}
	return out, nil
}
