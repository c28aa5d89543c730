package tutor

import (
	"errors"
	"fmt"

	"github.com/park285/chess-tutor/internal/chess"
	"github.com/park285/chess-tutor/internal/lesson"
	"go.uber.org/zap"
)

var (
	ErrWrongLessonMove = errors.New("move is not the lesson move")
	ErrLessonComplete  = errors.New("lesson already complete")
	ErrNothingToUndo   = errors.New("no moves to undo")
)

type State string

const (
	StateAwaitingMove   State = "awaiting_move"
	StateLessonComplete State = "lesson_complete"
)

type Verdict string

const (
	VerdictAccepted  Verdict = "accepted"
	VerdictCompleted Verdict = "completed"
)

type Outcome struct {
	Verdict Verdict
	Move    chess.MoveResult
	// Step is the number of moves played after this one.
	Step int
}

// WrongMoveError rejects a legal move that differs from the solution step. Interpreted is false
// when the expected descriptor could not be read as a move and SAN strings were compared instead.
type WrongMoveError struct {
	Step        int
	Interpreted bool
}

func (e *WrongMoveError) Error() string {
	return fmt.Sprintf("move %d is not the lesson move", e.Step+1)
}

func (e *WrongMoveError) Is(target error) bool { return target == ErrWrongLessonMove }

// Machine decides whether a move is accepted for the active lesson. It never touches the
// board before a move is fully validated.
type Machine struct {
	state  State
	logger *zap.Logger
}

func NewMachine(logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{state: StateAwaitingMove, logger: logger}
}

func (m *Machine) State() State { return m.state }

// Reset starts a new lesson instance.
func (m *Machine) Reset() { m.state = StateAwaitingMove }

// Restore sets the state of a resumed session.
func (m *Machine) Restore(s State) {
	if s == StateLessonComplete {
		m.state = StateLessonComplete
		return
	}
	m.state = StateAwaitingMove
}

// Submit validates the attempt and applies it to b when accepted. A lesson without a
// solution is always free play. On any error b is unchanged.
func (m *Machine) Submit(a chess.MoveAttempt, b *chess.Board, l lesson.Lesson, freePlay bool) (Outcome, error) {
	candidate, err := b.DryRun(a)
	if err != nil {
		return Outcome{}, err
	}

	constrained := l.HasSolution() && !freePlay
	if constrained {
		if m.state == StateLessonComplete {
			return Outcome{}, ErrLessonComplete
		}
		step := b.Len()
		expected, ok := l.SolutionStepAt(step)
		if !ok {
			return Outcome{}, ErrLessonComplete
		}
		if matched, interpreted := matchesStep(b, candidate, expected); !matched {
			m.logger.Debug("lesson_move_rejected",
				zap.String("lesson", l.ID),
				zap.Int("step", step),
				zap.String("played", candidate.SAN),
				zap.Bool("interpreted", interpreted),
			)
			return Outcome{}, &WrongMoveError{Step: step, Interpreted: interpreted}
		}
	}

	applied, err := b.Apply(a)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Verdict: VerdictAccepted, Move: applied, Step: b.Len()}
	if constrained && b.Len() == len(l.Solution) {
		m.state = StateLessonComplete
		out.Verdict = VerdictCompleted
		m.logger.Info("lesson_complete", zap.String("lesson", l.ID), zap.Int("moves", b.Len()))
	}
	return out, nil
}

// Undo takes back one ply. Undoing out of a completed lesson reopens it.
func (m *Machine) Undo(b *chess.Board) error {
	if b.Len() == 0 {
		return ErrNothingToUndo
	}
	if err := b.Undo(); err != nil {
		return err
	}
	if m.state == StateLessonComplete {
		m.state = StateAwaitingMove
		m.logger.Debug("lesson_reopened", zap.Int("moves", b.Len()))
	}
	return nil
}

// matchesStep compares coordinate pairs when the expected descriptor reads as a legal move
// from the current position, and SAN strings otherwise.
func matchesStep(b *chess.Board, candidate chess.MoveResult, expected string) (matched, interpreted bool) {
	want, err := b.Interpret(expected)
	if err == nil {
		return chess.ToComparable(want).CoordinatePair == chess.ToComparable(candidate).CoordinatePair, true
	}
	return chess.SameAlgebraic(candidate.SAN, expected), false
}
