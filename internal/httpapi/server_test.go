package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-tutor/internal/chess/uci"
	"github.com/park285/chess-tutor/internal/domain"
	"github.com/park285/chess-tutor/internal/lesson"
	"github.com/park285/chess-tutor/internal/msgcat"
	"github.com/park285/chess-tutor/internal/tutor"
	"github.com/park285/chess-tutor/internal/tutorstore"
	"github.com/park285/chess-tutor/pkg/tutordto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// scriptedEngine answers every "go" with one info line and a bestmove.
type scriptedEngine struct {
	lines chan string
	once  sync.Once
}

func newScriptedEngine() *scriptedEngine { return &scriptedEngine{lines: make(chan string, 16)} }

func (e *scriptedEngine) Send(cmd string) error {
	if strings.HasPrefix(cmd, "go ") {
		e.lines <- "info depth 12 score cp 35 nodes 1000 pv e7e5 g1f3"
		e.lines <- "bestmove e7e5 ponder g1f3"
	}
	return nil
}

func (e *scriptedEngine) Lines() <-chan string { return e.lines }

func (e *scriptedEngine) Close() error {
	e.once.Do(func() { close(e.lines) })
	return nil
}

func newTestServer(t *testing.T, dial uci.DialFunc) *httptest.Server {
	t.Helper()
	lessons, err := lesson.Load("")
	if err != nil {
		t.Fatalf("lessons: %v", err)
	}
	msgs, err := msgcat.New("")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	factory := func(ctx context.Context) (*tutor.Session, error) {
		eng := uci.NewManager(nil)
		_ = eng.Connect(ctx, dial)
		return tutor.NewSession(ctx, tutor.Deps{Lessons: lessons, Messages: msgs, Engine: eng}, tutor.Config{})
	}
	ts := httptest.NewServer(NewServer(lessons, factory, Options{}).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, ts *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

// readUntil returns the first frame of the wanted type along with everything skipped before it.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, want string) (tutordto.Frame, []tutordto.Frame) {
	t.Helper()
	var skipped []tutordto.Frame
	for {
		var f tutordto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("waiting for %q: %v (skipped %+v)", want, err, skipped)
		}
		if f.Type == want {
			return f, skipped
		}
		skipped = append(skipped, f)
	}
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, cmd tutordto.Command) {
	t.Helper()
	if err := wsjson.Write(ctx, conn, cmd); err != nil {
		t.Fatalf("write %s: %v", cmd.Type, err)
	}
}

func TestHealthAndLessons(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/lessons")
	if err != nil {
		t.Fatalf("lessons: %v", err)
	}
	defer resp.Body.Close()
	var got []tutordto.Lesson
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 3 || got[0].ID != "scholars-mate" || !got[0].HasSolution || got[1].HasSolution {
		t.Fatalf("lessons = %+v", got)
	}
}

func TestMoveAndRejectionFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, ctx := dialWS(t, ts)

	first, _ := readUntil(t, ctx, conn, tutordto.FrameState)
	if first.State.LessonID != "scholars-mate" || first.State.Step != 0 || first.State.Phase != string(tutor.StateAwaitingMove) {
		t.Fatalf("initial state = %+v", first.State)
	}

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandMove, From: "e2", To: "e4"})
	st, _ := readUntil(t, ctx, conn, tutordto.FrameState)
	if st.State.Step != 1 || st.State.History[0] != "e4" {
		t.Fatalf("after e4 = %+v", st.State)
	}

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandMove, From: "d7", To: "d5"})
	rej, _ := readUntil(t, ctx, conn, tutordto.FrameRejected)
	if rej.Reason.Code != tutordto.CodeWrongLessonMove || rej.State.Step != 1 || rej.Reason.Message == "" {
		t.Fatalf("wrong move frame = %+v %+v", rej.Reason, rej.State)
	}

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandMove, From: "e7", To: "e4"})
	rej, _ = readUntil(t, ctx, conn, tutordto.FrameRejected)
	if rej.Reason.Code != tutordto.CodeIllegalMove || rej.State.FEN != st.State.FEN {
		t.Fatalf("illegal move frame = %+v", rej.Reason)
	}

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandUndo})
	st, _ = readUntil(t, ctx, conn, tutordto.FrameState)
	if st.State.Step != 0 {
		t.Fatalf("after undo step = %d", st.State.Step)
	}
	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandUndo})
	rej, _ = readUntil(t, ctx, conn, tutordto.FrameRejected)
	if rej.Reason.Code != tutordto.CodeNothingToUndo {
		t.Fatalf("empty undo = %+v", rej.Reason)
	}

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandLesson, Index: 9})
	rej, _ = readUntil(t, ctx, conn, tutordto.FrameRejected)
	if rej.Reason.Code != tutordto.CodeLessonOutOfRange {
		t.Fatalf("bad lesson = %+v", rej.Reason)
	}
}

func TestImportExportAndUnknownCommand(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, ctx := dialWS(t, ts)
	readUntil(t, ctx, conn, tutordto.FrameState)

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandImportFEN, Text: "garbage"})
	rej, _ := readUntil(t, ctx, conn, tutordto.FrameRejected)
	if rej.Reason.Code != tutordto.CodeImportFormatInvalid {
		t.Fatalf("bad fen = %+v", rej.Reason)
	}

	fen := "8/P7/8/8/8/8/8/k6K w - - 0 1"
	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandImportFEN, Text: fen})
	st, _ := readUntil(t, ctx, conn, tutordto.FrameState)
	if !st.State.Imported || !st.State.FreePlay || st.State.FEN != fen {
		t.Fatalf("imported state = %+v", st.State)
	}

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandMove, From: "a7", To: "a8"})
	readUntil(t, ctx, conn, tutordto.FrameState)
	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandExportFEN})
	exp, _ := readUntil(t, ctx, conn, tutordto.FrameExport)
	if exp.Export.Format != "fen" || !strings.HasPrefix(exp.Export.Text, "Q7/") {
		t.Fatalf("export = %+v", exp.Export)
	}

	send(t, ctx, conn, tutordto.Command{Type: "castle-everything"})
	bad, _ := readUntil(t, ctx, conn, tutordto.FrameError)
	if bad.Reason.Code != tutordto.CodeBadCommand {
		t.Fatalf("unknown command = %+v", bad.Reason)
	}
}

func TestEngineUnavailableIsReported(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, ctx := dialWS(t, ts)

	readUntil(t, ctx, conn, tutordto.FrameEngineUnavailable)
	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandAnalyze})
	rej, _ := readUntil(t, ctx, conn, tutordto.FrameRejected)
	if rej.Reason.Code != tutordto.CodeEngineUnavailable || rej.State.Engine.Status != string(uci.StatusUnavailable) {
		t.Fatalf("analyze without engine = %+v %+v", rej.Reason, rej.State.Engine)
	}
}

func TestEngineFramesAreForwarded(t *testing.T) {
	dial := func(context.Context) (uci.Transport, error) { return newScriptedEngine(), nil }
	ts := newTestServer(t, dial)
	conn, ctx := dialWS(t, ts)
	readUntil(t, ctx, conn, tutordto.FrameState)

	send(t, ctx, conn, tutordto.Command{Type: tutordto.CommandMove, From: "e2", To: "e4"})
	best, skipped := readUntil(t, ctx, conn, tutordto.FrameBestMove)
	if best.BestMove != "e7e5" || !strings.Contains(best.Feedback, "e7e5") {
		t.Fatalf("bestmove frame = %+v", best)
	}
	var eval *tutordto.Evaluation
	for _, f := range skipped {
		if f.Type == tutordto.FrameEvaluation {
			eval = f.Evaluation
		}
	}
	if eval == nil || eval.Centipawns == nil || *eval.Centipawns != 35 || eval.Label != uci.LabelGood {
		t.Fatalf("evaluation frame = %+v (skipped %+v)", eval, skipped)
	}
}

func TestClassifyUnknownError(t *testing.T) {
	got := Classify(errors.New("boom"))
	if got.Code != tutordto.CodeInternal || got.Message != "boom" {
		t.Fatalf("classify = %+v", got)
	}
}

func TestCompletionHistory(t *testing.T) {
	lessons, err := lesson.Load("")
	if err != nil {
		t.Fatalf("lessons: %v", err)
	}
	repo := tutorstore.NewMemoryRepository()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := repo.RecordCompletion(context.Background(), &domain.LessonCompletion{
			SessionID:   "s" + string(rune('a'+i)),
			LessonID:    "scholars-mate",
			MovesSAN:    []string{"e4", "e5"},
			Duration:    time.Duration(i+1) * time.Second,
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	ts := httptest.NewServer(NewServer(lessons, nil, Options{Completions: repo}).Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/lessons/scholars-mate/completions?limit=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var got []tutordto.Completion
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != "sc" || got[0].DurationMillis != 3000 || len(got[0].Moves) != 2 {
		t.Fatalf("completions = %+v", got)
	}

	for path, want := range map[string]int{
		"/lessons/no-such-lesson/completions":        http.StatusNotFound,
		"/lessons/scholars-mate/completions?limit=x": http.StatusBadRequest,
	} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Fatalf("%s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestCompletionHistoryNotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/lessons/scholars-mate/completions")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
