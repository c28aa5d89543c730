package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/park285/chess-tutor/internal/chess"
	"github.com/park285/chess-tutor/internal/chess/uci"
	"github.com/park285/chess-tutor/internal/domain"
	"github.com/park285/chess-tutor/internal/lesson"
	"github.com/park285/chess-tutor/internal/tutor"
	"github.com/park285/chess-tutor/pkg/tutordto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
	maxCommandBytes     = 1 << 20
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// SessionFactory opens a fresh tutor session for one websocket connection.
type SessionFactory func(ctx context.Context) (*tutor.Session, error)

// CompletionReader lists finished lessons, newest first.
type CompletionReader interface {
	RecentCompletions(ctx context.Context, lessonID string, limit int) ([]*domain.LessonCompletion, error)
}

type Options struct {
	PingInterval   time.Duration
	OriginPatterns []string
	Completions    CompletionReader
	Logger         *zap.Logger
}

type Server struct {
	lessons    *lesson.Catalog
	newSession SessionFactory
	opts       Options
	logger     *zap.Logger
}

func NewServer(lessons *lesson.Catalog, factory SessionFactory, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Server{lessons: lessons, newSession: factory, opts: opts, logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", handleHealth)
	r.Get("/lessons", s.handleLessons)
	r.Get("/lessons/{id}/completions", s.handleCompletions)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	all := s.lessons.All()
	out := make([]tutordto.Lesson, 0, len(all))
	for i, l := range all {
		out = append(out, tutordto.Lesson{
			Index:       i,
			ID:          l.ID,
			Title:       l.Title,
			Hint:        l.Hint,
			HasSolution: l.HasSolution(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if s.opts.Completions == nil {
		http.Error(w, "completion history is not configured", http.StatusNotFound)
		return
	}
	id := chi.URLParam(r, "id")
	if _, _, err := s.lessons.ByID(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	list, err := s.opts.Completions.RecentCompletions(r.Context(), id, limit)
	if err != nil {
		s.logger.Warn("completions_query_failed", zap.String("lesson", id), zap.Error(err))
		http.Error(w, "could not load completions", http.StatusInternalServerError)
		return
	}
	out := make([]tutordto.Completion, 0, len(list))
	for _, c := range list {
		out = append(out, tutordto.Completion{
			ID:             c.ID,
			SessionID:      c.SessionID,
			LessonID:       c.LessonID,
			Moves:          c.MovesSAN,
			Undos:          c.Undos,
			DurationMillis: c.Duration.Milliseconds(),
			CompletedAt:    c.CompletedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		OriginPatterns:  s.opts.OriginPatterns,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxCommandBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := s.newSession(ctx)
	if err != nil {
		s.logger.Error("session_open_failed", zap.Error(err))
		_ = writeFrame(ctx, conn, errorFrame(tutordto.CodeInternal, "could not start a session"))
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	logger := s.logger.With(zap.String("session", sess.ID()))
	logger.Info("ws_connected", zap.String("remote", r.RemoteAddr))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for ev := range sess.Events() {
			if err := writeFrame(ctx, conn, eventFrame(ev)); err != nil {
				logger.Debug("ws_event_write_failed", zap.Error(err))
				cancel()
			}
		}
	}()
	go func() {
		defer wg.Done()
		s.pingLoop(ctx, conn, logger)
	}()
	defer func() {
		cancel()
		if err := sess.Close(); err != nil {
			logger.Debug("session_close", zap.Error(err))
		}
		wg.Wait()
		conn.Close(websocket.StatusNormalClosure, "")
		logger.Info("ws_disconnected")
	}()

	if err := writeFrame(ctx, conn, stateFrame(sess.State())); err != nil {
		return
	}
	for {
		var cmd tutordto.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					logger.Debug("ws_read_failed", zap.Error(err))
				}
			}
			return
		}
		for _, f := range Handle(ctx, sess, cmd) {
			if err := writeFrame(ctx, conn, f); err != nil {
				logger.Debug("ws_write_failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				logger.Info("ws_ping_failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f tutordto.Frame) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}

// Handle runs one command against the session and returns the frames to send back.
func Handle(ctx context.Context, sess *tutor.Session, cmd tutordto.Command) []tutordto.Frame {
	var (
		view tutor.View
		err  error
	)
	switch cmd.Type {
	case tutordto.CommandMove:
		view, err = sess.SubmitMove(ctx, chess.MoveAttempt{From: cmd.From, To: cmd.To, Promotion: cmd.Promotion})
	case tutordto.CommandUndo:
		view, err = sess.Undo(ctx)
	case tutordto.CommandLesson:
		view, err = sess.LoadLesson(ctx, cmd.Index)
	case tutordto.CommandFreePlay:
		view, err = sess.SetFreePlay(ctx, cmd.Enabled)
	case tutordto.CommandAnalyze:
		view, err = sess.Analyze(ctx)
	case tutordto.CommandImportFEN:
		view, err = sess.ImportFEN(ctx, cmd.Text)
	case tutordto.CommandImportPGN:
		view, err = sess.ImportPGN(ctx, cmd.Text)
	case tutordto.CommandExportFEN:
		return []tutordto.Frame{{Type: tutordto.FrameExport, Export: &tutordto.Export{Format: "fen", Text: sess.ExportFEN()}}}
	case tutordto.CommandExportPGN:
		return []tutordto.Frame{{Type: tutordto.FrameExport, Export: &tutordto.Export{Format: "pgn", Text: sess.ExportPGN()}}}
	case tutordto.CommandState:
		view = sess.State()
	default:
		return []tutordto.Frame{errorFrame(tutordto.CodeBadCommand, "unknown command "+cmd.Type)}
	}
	if errors.Is(err, tutor.ErrSessionClosed) {
		return []tutordto.Frame{errorFrame(tutordto.CodeInternal, err.Error())}
	}
	if err != nil {
		rej := Classify(err)
		rej.Message = view.Feedback
		st := StateDTO(view)
		return []tutordto.Frame{{Type: tutordto.FrameRejected, Reason: &rej, State: &st}}
	}
	return []tutordto.Frame{stateFrame(view)}
}

// Classify maps a session error onto its wire code.
func Classify(err error) tutordto.Rejection {
	switch {
	case errors.Is(err, chess.ErrIllegalMove):
		return tutordto.Rejection{Code: tutordto.CodeIllegalMove}
	case errors.Is(err, tutor.ErrWrongLessonMove):
		return tutordto.Rejection{Code: tutordto.CodeWrongLessonMove}
	case errors.Is(err, tutor.ErrLessonComplete):
		return tutordto.Rejection{Code: tutordto.CodeLessonComplete}
	case errors.Is(err, tutor.ErrNothingToUndo):
		return tutordto.Rejection{Code: tutordto.CodeNothingToUndo}
	case errors.Is(err, uci.ErrEngineUnavailable):
		return tutordto.Rejection{Code: tutordto.CodeEngineUnavailable}
	case errors.Is(err, chess.ErrImportFormatInvalid):
		return tutordto.Rejection{Code: tutordto.CodeImportFormatInvalid}
	case errors.Is(err, lesson.ErrOutOfRange):
		return tutordto.Rejection{Code: tutordto.CodeLessonOutOfRange}
	default:
		return tutordto.Rejection{Code: tutordto.CodeInternal, Message: err.Error()}
	}
}

func StateDTO(v tutor.View) tutordto.State {
	history := v.History
	if history == nil {
		history = []string{}
	}
	return tutordto.State{
		SessionID:      v.SessionID,
		LessonIndex:    v.LessonIndex,
		LessonID:       v.LessonID,
		LessonTitle:    v.LessonTitle,
		Hint:           v.Hint,
		HasSolution:    v.HasSolution,
		SolutionLength: v.SolutionLength,
		FreePlay:       v.FreePlay,
		Imported:       v.Imported,
		Phase:          string(v.State),
		FEN:            v.FEN,
		Turn:           v.Turn,
		History:        history,
		Step:           v.Step,
		Outcome:        v.Outcome,
		OpeningCode:    v.OpeningCode,
		OpeningName:    v.OpeningName,
		Feedback:       v.Feedback,
		ElapsedMillis:  v.Elapsed.Milliseconds(),
		Engine: tutordto.Engine{
			Status:             string(v.Engine.Status),
			Centipawns:         v.Engine.Evaluation,
			Label:              v.Engine.Label,
			PrincipalVariation: v.Engine.PrincipalVariation,
		},
	}
}

func stateFrame(v tutor.View) tutordto.Frame {
	st := StateDTO(v)
	return tutordto.Frame{Type: tutordto.FrameState, State: &st}
}

func errorFrame(code, msg string) tutordto.Frame {
	return tutordto.Frame{Type: tutordto.FrameError, Reason: &tutordto.Rejection{Code: code, Message: msg}}
}

func eventFrame(ev tutor.Event) tutordto.Frame {
	switch ev.Kind {
	case tutor.EventEvaluation:
		return tutordto.Frame{Type: tutordto.FrameEvaluation, Evaluation: &tutordto.Evaluation{
			Seq:                ev.Seq,
			Centipawns:         ev.Centipawns,
			Label:              ev.Label,
			PrincipalVariation: ev.PrincipalVariation,
		}}
	case tutor.EventBestMove:
		return tutordto.Frame{Type: tutordto.FrameBestMove, BestMove: ev.BestMove, Feedback: ev.Feedback}
	default:
		return tutordto.Frame{Type: tutordto.FrameEngineUnavailable, Feedback: ev.Feedback}
	}
}
