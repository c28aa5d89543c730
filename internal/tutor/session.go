package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-tutor/internal/chess"
	"github.com/park285/chess-tutor/internal/chess/uci"
	"github.com/park285/chess-tutor/internal/domain"
	"github.com/park285/chess-tutor/internal/lesson"
	"go.uber.org/zap"
)

const (
	autoMoveTimeMin     = 50
	autoMoveTimeMax     = 300
	defaultMoveTime     = 120
	defaultDeepMoveTime = 300
	sessionEventBuffer  = 64
	backgroundTimeout   = 5 * time.Second
)

var ErrSessionClosed = errors.New("tutor session closed")

// Engine is the analysis side of a session. *uci.Manager implements it.
type Engine interface {
	RequestEvaluation(position string, moveTimeMillis int) error
	Events() <-chan uci.Event
	Snapshot() uci.Snapshot
	Close() error
}

type SnapshotStore interface {
	Save(ctx context.Context, snap domain.SessionSnapshot) error
}

type CompletionRepository interface {
	RecordCompletion(ctx context.Context, c *domain.LessonCompletion) (int64, error)
}

type Notifier interface {
	NotifyCompletion(ctx context.Context, c domain.LessonCompletion) error
}

type Messages interface {
	Text(key string, data any) string
}

type Config struct {
	MoveTimeMillis     int
	DeepMoveTimeMillis int
}

// Deps are the collaborators of a session. Only Lessons and Messages are required.
type Deps struct {
	Lessons     *lesson.Catalog
	Messages    Messages
	Engine      Engine
	Store       SnapshotStore
	Completions CompletionRepository
	Notifier    Notifier
	Logger      *zap.Logger
	Now         func() time.Time
}

type EventKind string

const (
	EventEvaluation        EventKind = "evaluation"
	EventBestMove          EventKind = "bestmove"
	EventEngineUnavailable EventKind = "engine_unavailable"
)

// Event is an engine notification already translated for the board view.
type Event struct {
	Kind               EventKind
	Seq                uint64
	Centipawns         *int
	Label              string
	PrincipalVariation []string
	BestMove           string
	Feedback           string
}

type EngineView struct {
	Status             uci.Status
	Evaluation         *int
	Label              string
	PrincipalVariation []string
}

// View is a read-only copy of the session for rendering.
type View struct {
	SessionID      string
	LessonIndex    int
	LessonID       string
	LessonTitle    string
	Hint           string
	HasSolution    bool
	SolutionLength int
	FreePlay       bool
	Imported       bool
	State          State
	FEN            string
	Turn           string
	History        []string
	Step           int
	Outcome        string
	OpeningCode    string
	OpeningName    string
	Feedback       string
	Elapsed        time.Duration
	Engine         EngineView
}

// Session owns one player's board, lesson progress, timer and engine connection.
// Move handling never waits for the engine.
type Session struct {
	id     string
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	board     *chess.Board
	machine   *Machine
	timer     *Timer
	lessonIdx int
	lesson    lesson.Lesson
	freePlay  bool
	imported  bool
	undos     int
	startedAt time.Time
	closed    bool

	// feedback is also written by the engine dispatcher, which must never wait on mu.
	fbMu     sync.Mutex
	feedback string

	events     chan Event
	dispatchWG sync.WaitGroup
	bgWG       sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// NewSession starts a session on the first lesson.
func NewSession(ctx context.Context, deps Deps, cfg Config) (*Session, error) {
	s, err := newSession(uuid.NewString(), deps, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := s.LoadLesson(ctx, 0); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Resume rebuilds a session from a stored snapshot.
func Resume(ctx context.Context, deps Deps, cfg Config, snap domain.SessionSnapshot) (*Session, error) {
	if strings.TrimSpace(snap.SessionID) == "" {
		return nil, fmt.Errorf("resume: empty session id")
	}
	s, err := newSession(snap.SessionID, deps, cfg)
	if err != nil {
		return nil, err
	}

	l, idx, err := deps.Lessons.ByID(snap.LessonID)
	if err != nil {
		l, err = deps.Lessons.Get(snap.LessonIndex)
		idx = snap.LessonIndex
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("resume lesson: %w", err)
	}
	board, err := chess.Replay(snap.StartFEN, snap.MovesUCI)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("resume board: %w", err)
	}

	s.mu.Lock()
	s.board = board
	s.lesson = l
	s.lessonIdx = idx
	s.freePlay = snap.FreePlay || !l.HasSolution()
	s.imported = snap.Imported
	s.undos = snap.Undos
	s.startedAt = snap.StartedAt
	s.machine.Restore(State(snap.State))
	if s.machine.State() != StateLessonComplete {
		s.timer.Start()
	}
	s.mu.Unlock()
	s.setFeedback(s.hintText(l))
	s.logger.Info("session_resumed", zap.String("lesson", l.ID), zap.Int("moves", board.Len()))
	return s, nil
}

func newSession(id string, deps Deps, cfg Config) (*Session, error) {
	if deps.Lessons == nil {
		return nil, errors.New("lesson catalog is required")
	}
	if deps.Messages == nil {
		return nil, errors.New("message catalog is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.MoveTimeMillis <= 0 {
		cfg.MoveTimeMillis = defaultMoveTime
	}
	if cfg.DeepMoveTimeMillis <= 0 {
		cfg.DeepMoveTimeMillis = defaultDeepMoveTime
	}

	s := &Session{
		id:      id,
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With(zap.String("session", id)),
		now:     now,
		board:   chess.NewBoard(),
		machine: NewMachine(logger),
		timer:   NewTimer(now),
		events:  make(chan Event, sessionEventBuffer),
	}
	if deps.Engine != nil {
		s.dispatchWG.Add(1)
		go s.dispatch(deps.Engine.Events())
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Events delivers engine notifications. It is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// LoadLesson resets the board to the lesson start and restarts the timer.
func (s *Session) LoadLesson(ctx context.Context, index int) (View, error) {
	l, err := s.deps.Lessons.Get(index)
	if err != nil {
		return s.State(), err
	}
	board, err := chess.NewBoardFromPosition(l.StartPosition())
	if err != nil {
		return s.State(), err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrSessionClosed
	}
	s.board = board
	s.lesson = l
	s.lessonIdx = index
	s.freePlay = !l.HasSolution()
	s.imported = false
	s.undos = 0
	s.startedAt = s.now()
	s.machine.Reset()
	s.timer.Start()
	s.setFeedback(s.hintText(l))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("lesson_loaded", zap.String("lesson", l.ID), zap.Int("index", index))
	s.save(ctx, snap)
	return s.State(), nil
}

// SubmitMove validates and plays a move. The returned error classifies a rejection; the
// board is unchanged in that case.
func (s *Session) SubmitMove(ctx context.Context, a chess.MoveAttempt) (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrSessionClosed
	}
	out, err := s.machine.Submit(a, s.board, s.lesson, s.freePlay)
	if err != nil {
		s.setFeedback(s.rejectionText(err))
		s.mu.Unlock()
		s.logger.Debug("move_rejected", zap.String("attempt", a.String()), zap.Error(err))
		return s.State(), err
	}

	s.setFeedback("")
	s.requestEvaluationLocked(clamp(s.cfg.MoveTimeMillis, autoMoveTimeMin, autoMoveTimeMax))

	var completion *domain.LessonCompletion
	if out.Verdict == VerdictCompleted {
		elapsed := s.timer.Stop()
		s.setFeedback(s.deps.Messages.Text("lesson.complete", nil))
		completion = s.completionLocked(elapsed)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("move_accepted",
		zap.String("san", out.Move.SAN),
		zap.String("uci", out.Move.UCI),
		zap.String("verdict", string(out.Verdict)),
	)
	s.save(ctx, snap)
	if completion != nil {
		s.finishLesson(*completion)
	}
	return s.State(), nil
}

// Undo takes back one ply. An empty history is rejected with ErrNothingToUndo.
func (s *Session) Undo(ctx context.Context) (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrSessionClosed
	}
	wasComplete := s.machine.State() == StateLessonComplete
	if err := s.machine.Undo(s.board); err != nil {
		s.setFeedback(s.deps.Messages.Text("undo.empty", nil))
		s.mu.Unlock()
		return s.State(), err
	}
	s.undos++
	if wasComplete {
		s.timer.Resume()
	}
	s.setFeedback(s.deps.Messages.Text("undo.done", nil))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	return s.State(), nil
}

func (s *Session) SetFreePlay(ctx context.Context, enabled bool) (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrSessionClosed
	}
	s.freePlay = enabled
	key := "free_play.disabled"
	if enabled {
		key = "free_play.enabled"
	}
	s.setFeedback(s.deps.Messages.Text(key, nil))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.save(ctx, snap)
	return s.State(), nil
}

// Analyze asks for a longer search of the current position.
func (s *Session) Analyze(ctx context.Context) (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrSessionClosed
	}
	err := s.requestEvaluationLocked(s.cfg.DeepMoveTimeMillis)
	s.mu.Unlock()
	return s.State(), err
}

// ImportFEN replaces the board with a position. Failure leaves the session untouched.
func (s *Session) ImportFEN(ctx context.Context, text string) (View, error) {
	if strings.TrimSpace(text) == "" {
		s.setFeedback(s.deps.Messages.Text("import.fen_invalid", nil))
		return s.State(), fmt.Errorf("%w: empty position", chess.ErrImportFormatInvalid)
	}
	board, err := chess.NewBoardFromPosition(text)
	if err != nil {
		s.setFeedback(s.deps.Messages.Text("import.fen_invalid", nil))
		return s.State(), err
	}
	return s.replaceBoard(ctx, board, "import.fen_ok")
}

// ImportPGN replaces the board with a replayed transcript. Failure leaves the session untouched.
func (s *Session) ImportPGN(ctx context.Context, text string) (View, error) {
	board, err := chess.LoadPGN(text)
	if err != nil {
		s.setFeedback(s.deps.Messages.Text("import.pgn_invalid", nil))
		return s.State(), err
	}
	return s.replaceBoard(ctx, board, "import.pgn_ok")
}

func (s *Session) ExportFEN() string {
	s.mu.Lock()
	fen := s.board.FEN()
	s.mu.Unlock()
	s.setFeedback(s.deps.Messages.Text("export.fen", nil))
	return fen
}

func (s *Session) ExportPGN() string {
	s.mu.Lock()
	text := s.board.PGN(chess.TranscriptHeaders{
		Event: s.lesson.Title,
		Site:  "chess-tutor",
		Date:  s.now(),
	})
	s.mu.Unlock()
	s.setFeedback(s.deps.Messages.Text("export.pgn", nil))
	return text
}

func (s *Session) State() View {
	s.mu.Lock()
	v := View{
		SessionID:      s.id,
		LessonIndex:    s.lessonIdx,
		LessonID:       s.lesson.ID,
		LessonTitle:    s.lesson.Title,
		Hint:           s.lesson.Hint,
		HasSolution:    s.lesson.HasSolution(),
		SolutionLength: len(s.lesson.Solution),
		FreePlay:       s.freePlay,
		Imported:       s.imported,
		State:          s.machine.State(),
		FEN:            s.board.FEN(),
		Turn:           s.board.Turn(),
		History:        s.board.History(),
		Step:           s.board.Len(),
		Outcome:        s.board.Outcome(),
		Elapsed:        s.timer.Elapsed(),
	}
	v.OpeningCode, v.OpeningName = s.board.Opening()
	s.mu.Unlock()

	v.Feedback = s.currentFeedback()
	v.Engine = EngineView{Status: uci.StatusUnavailable, Label: uci.Label(nil)}
	if s.deps.Engine != nil {
		snap := s.deps.Engine.Snapshot()
		v.Engine = EngineView{
			Status:             snap.Status,
			Evaluation:         snap.LastEvaluation,
			Label:              uci.Label(snap.LastEvaluation),
			PrincipalVariation: snap.LastPrincipalVariation,
		}
	}
	return v
}

// Snapshot returns the persisted form of the session.
func (s *Session) Snapshot() domain.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close releases the engine and waits for background work. No event is delivered after it returns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.timer.Stop()
		s.mu.Unlock()

		if s.deps.Engine != nil {
			s.closeErr = s.deps.Engine.Close()
		}
		s.dispatchWG.Wait()
		s.bgWG.Wait()
		close(s.events)
	})
	return s.closeErr
}

func (s *Session) replaceBoard(ctx context.Context, board *chess.Board, okKey string) (View, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrSessionClosed
	}
	s.board = board
	s.machine.Reset()
	s.freePlay = true
	s.imported = true
	s.setFeedback(s.deps.Messages.Text(okKey, nil))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("board_imported", zap.Int("moves", board.Len()))
	s.save(ctx, snap)
	return s.State(), nil
}

// requestEvaluationLocked must be called with mu held.
func (s *Session) requestEvaluationLocked(moveTime int) error {
	if s.deps.Engine == nil {
		s.setFeedback(s.deps.Messages.Text("engine.unavailable", nil))
		return uci.ErrEngineUnavailable
	}
	if err := s.deps.Engine.RequestEvaluation(s.board.FEN(), moveTime); err != nil {
		s.setFeedback(s.deps.Messages.Text("engine.unavailable", nil))
		return err
	}
	return nil
}

func (s *Session) completionLocked(elapsed time.Duration) *domain.LessonCompletion {
	return &domain.LessonCompletion{
		SessionID:   s.id,
		LessonID:    s.lesson.ID,
		LessonTitle: s.lesson.Title,
		MovesUCI:    s.board.MovesUCI(),
		MovesSAN:    s.board.History(),
		PGN: s.board.PGN(chess.TranscriptHeaders{
			Event: s.lesson.Title,
			Site:  "chess-tutor",
			Date:  s.now(),
		}),
		Undos:       s.undos,
		Duration:    elapsed,
		CompletedAt: s.now(),
	}
}

// finishLesson records and announces a completed lesson off the move path.
func (s *Session) finishLesson(c domain.LessonCompletion) {
	if s.deps.Completions == nil && s.deps.Notifier == nil {
		return
	}
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if s.deps.Completions != nil {
			id, err := s.deps.Completions.RecordCompletion(ctx, &c)
			if err != nil {
				s.logger.Warn("completion_record_failed", zap.String("lesson", c.LessonID), zap.Error(err))
			} else {
				c.ID = id
			}
		}
		if s.deps.Notifier != nil {
			if err := s.deps.Notifier.NotifyCompletion(ctx, c); err != nil {
				s.logger.Warn("completion_notify_failed", zap.String("lesson", c.LessonID), zap.Error(err))
			}
		}
	}()
}

func (s *Session) snapshotLocked() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		SessionID:   s.id,
		LessonIndex: s.lessonIdx,
		LessonID:    s.lesson.ID,
		FreePlay:    s.freePlay,
		Imported:    s.imported,
		StartFEN:    s.board.StartFEN(),
		MovesUCI:    s.board.MovesUCI(),
		State:       string(s.machine.State()),
		Undos:       s.undos,
		StartedAt:   s.startedAt,
		UpdatedAt:   s.now(),
	}
}

func (s *Session) save(ctx context.Context, snap domain.SessionSnapshot) {
	if s.deps.Store == nil {
		return
	}
	if err := s.deps.Store.Save(ctx, snap); err != nil {
		s.logger.Warn("session_save_failed", zap.Error(err))
	}
}

// dispatch turns engine events into session events until the engine closes its channel.
func (s *Session) dispatch(in <-chan uci.Event) {
	defer s.dispatchWG.Done()
	for ev := range in {
		var out Event
		switch e := ev.(type) {
		case uci.EvaluationUpdate:
			out = Event{Kind: EventEvaluation, Seq: e.Seq, PrincipalVariation: e.PrincipalVariation}
			if e.HasScore {
				cp := e.Centipawns
				out.Centipawns = &cp
			}
			out.Label = uci.Label(out.Centipawns)
		case uci.BestMoveFound:
			line := s.deps.Messages.Text("engine.bestmove", map[string]any{"Move": e.Move})
			out = Event{Kind: EventBestMove, Seq: e.Seq, BestMove: e.Move, Feedback: s.appendFeedback(line)}
		case uci.ConnectionFailed:
			msg := s.deps.Messages.Text("engine.unavailable", nil)
			s.setFeedback(msg)
			out = Event{Kind: EventEngineUnavailable, Feedback: msg}
			s.logger.Warn("engine_connection_failed", zap.Error(e.Err))
		default:
			continue
		}
		select {
		case s.events <- out:
		default:
			s.logger.Debug("session_event_dropped", zap.String("kind", string(out.Kind)))
		}
	}
}

func (s *Session) rejectionText(err error) string {
	var wrong *WrongMoveError
	switch {
	case errors.As(err, &wrong):
		if wrong.Interpreted {
			return s.deps.Messages.Text("move.wrong", nil)
		}
		return s.deps.Messages.Text("move.mismatch", nil)
	case errors.Is(err, ErrLessonComplete):
		return s.deps.Messages.Text("lesson.already_complete", nil)
	default:
		return s.deps.Messages.Text("move.illegal", nil)
	}
}

func (s *Session) hintText(l lesson.Lesson) string {
	if strings.TrimSpace(l.Hint) == "" {
		return ""
	}
	return s.deps.Messages.Text("lesson.hint", map[string]any{"Hint": l.Hint})
}

func (s *Session) setFeedback(msg string) {
	s.fbMu.Lock()
	s.feedback = msg
	s.fbMu.Unlock()
}

func (s *Session) appendFeedback(line string) string {
	s.fbMu.Lock()
	defer s.fbMu.Unlock()
	if s.feedback == "" {
		s.feedback = line
	} else {
		s.feedback += "\n" + line
	}
	return s.feedback
}

func (s *Session) currentFeedback() string {
	s.fbMu.Lock()
	defer s.fbMu.Unlock()
	return s.feedback
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
