package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/park285/chess-tutor/internal/chess"
	"github.com/park285/chess-tutor/internal/chess/uci"
	"github.com/park285/chess-tutor/internal/config"
	"github.com/park285/chess-tutor/internal/lesson"
	"github.com/park285/chess-tutor/internal/obslog"
	"github.com/park285/chess-tutor/internal/tutor"
	"github.com/park285/chess-tutor/internal/tutorbuilder"
	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Work through lessons in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		resume, _ := cmd.Flags().GetString("resume")
		return runPlay(cmd.InOrStdin(), cmd.OutOrStdout(), resume)
	},
}

func init() {
	playCmd.Flags().String("resume", "", "session id to restore (needs REDIS_URL)")
}

const playHelp = `commands:
  e2e4 | e7e8q | move e2 e4 [q]   play a move
  undo                            take back one move
  lesson N | lessons              switch lesson, list lessons
  free on|off                     toggle free play
  analyze                         ask the engine for a deeper look
  fen <FEN> | pgn <file>          import a position or game
  export fen|pgn                  print the position or game
  state | help | quit`

func runPlay(in io.Reader, out io.Writer, resume string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// stdout belongs to the game.
	opts := obslog.OptionsFromEnv()
	opts.Console = false
	if err := obslog.Init(opts); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer obslog.Sync()

	ctx := context.Background()
	deps, err := tutorbuilder.New(ctx, cfg, obslog.L())
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer deps.Close()

	var sess *tutor.Session
	if resume != "" {
		sess, err = deps.ResumeSession(ctx, resume)
	} else {
		sess, err = deps.NewSession(ctx)
	}
	if err != nil {
		return err
	}
	defer sess.Close()

	return newTerminal(sess, deps.Lessons, deps.Messages, in, out).Run(ctx)
}

var coordinateMove = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)

type terminal struct {
	sess    *tutor.Session
	lessons *lesson.Catalog
	msgs    tutor.Messages
	in      io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newTerminal(sess *tutor.Session, lessons *lesson.Catalog, msgs tutor.Messages, in io.Reader, out io.Writer) *terminal {
	return &terminal{sess: sess, lessons: lessons, msgs: msgs, in: in, out: out}
}

// Run reads commands until quit or end of input. Engine events are printed as they arrive.
func (t *terminal) Run(ctx context.Context) error {
	quit := make(chan struct{})
	defer close(quit)
	go t.printEvents(quit)

	t.printf("session %s\n", t.sess.ID())
	t.printLesson(t.sess.State())

	sc := bufio.NewScanner(t.in)
	for {
		t.printf("> ")
		if !sc.Scan() {
			t.printf("\n")
			return sc.Err()
		}
		if done := t.exec(ctx, strings.TrimSpace(sc.Text())); done {
			return nil
		}
	}
}

func (t *terminal) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	var (
		view tutor.View
		err  error
	)
	switch name := strings.ToLower(fields[0]); name {
	case "quit", "exit":
		return true
	case "help", "?":
		t.printf("%s\n", playHelp)
		return false
	case "state":
		t.printState(t.sess.State())
		return false
	case "lessons":
		t.mu.Lock()
		_ = printLessons(t.out, t.lessons)
		t.mu.Unlock()
		return false
	case "undo":
		view, err = t.sess.Undo(ctx)
	case "lesson":
		n := -1
		if len(fields) > 1 {
			if v, perr := strconv.Atoi(fields[1]); perr == nil {
				n = v
			}
		}
		view, err := t.sess.LoadLesson(ctx, n)
		if err != nil {
			t.printf("! %v\n", err)
			return false
		}
		t.printLesson(view)
		return false
	case "free":
		on := len(fields) < 2 || strings.EqualFold(fields[1], "on")
		view, err = t.sess.SetFreePlay(ctx, on)
	case "analyze":
		view, err = t.sess.Analyze(ctx)
	case "fen":
		view, err = t.sess.ImportFEN(ctx, strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
	case "pgn":
		if len(fields) < 2 {
			t.printf("usage: pgn <file>\n")
			return false
		}
		raw, rerr := os.ReadFile(fields[1])
		if rerr != nil {
			t.printf("! %v\n", rerr)
			return false
		}
		view, err = t.sess.ImportPGN(ctx, string(raw))
	case "export":
		if len(fields) > 1 && strings.EqualFold(fields[1], "pgn") {
			t.printf("%s\n", t.sess.ExportPGN())
		} else {
			t.printf("%s\n", t.sess.ExportFEN())
		}
		return false
	default:
		a, ok := parseMove(fields)
		if !ok {
			t.printf("unknown command %q, type help\n", name)
			return false
		}
		view, err = t.sess.SubmitMove(ctx, a)
	}

	if err != nil {
		t.printf("! %s\n", firstNonEmpty(view.Feedback, err.Error()))
		return false
	}
	t.printState(view)
	return false
}

// parseMove accepts "e2e4", "e7e8q" or "move e2 e4 [q]".
func parseMove(fields []string) (chess.MoveAttempt, bool) {
	if strings.EqualFold(fields[0], "move") {
		if len(fields) < 3 {
			return chess.MoveAttempt{}, false
		}
		a := chess.MoveAttempt{From: strings.ToLower(fields[1]), To: strings.ToLower(fields[2])}
		if len(fields) > 3 {
			a.Promotion = strings.ToLower(fields[3])
		}
		return a, true
	}
	tok := strings.ToLower(fields[0])
	if len(fields) != 1 || !coordinateMove.MatchString(tok) {
		return chess.MoveAttempt{}, false
	}
	return chess.MoveAttempt{From: tok[:2], To: tok[2:4], Promotion: tok[4:]}, true
}

func (t *terminal) printEvents(quit <-chan struct{}) {
	events := t.sess.Events()
	for {
		select {
		case <-quit:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case tutor.EventEvaluation:
				if ev.Centipawns == nil {
					continue
				}
				t.printf("  %s\n", t.msgs.Text("engine.verdict", map[string]any{"Label": ev.Label, "Pawns": pawns(*ev.Centipawns)}))
			case tutor.EventBestMove:
				t.printf("  %s\n", t.msgs.Text("engine.bestmove", map[string]any{"Move": ev.BestMove}))
			case tutor.EventEngineUnavailable:
				t.printf("  %s\n", ev.Feedback)
			}
		}
	}
}

func (t *terminal) printLesson(v tutor.View) {
	t.printf("%s\n", t.msgs.Text("lesson.started", map[string]any{"Title": v.LessonTitle}))
	t.printState(v)
}

func (t *terminal) printState(v tutor.View) {
	progress := fmt.Sprintf("move %d", v.Step)
	if v.HasSolution && !v.FreePlay {
		progress = fmt.Sprintf("step %d/%d", v.Step, v.SolutionLength)
	}
	t.printf("[%s] %s  %s to move  %s\n", v.LessonID, progress, v.Turn, v.FEN)
	if v.OpeningName != "" {
		t.printf("  %s %s\n", v.OpeningCode, v.OpeningName)
	}
	if v.Feedback != "" {
		t.printf("  %s\n", v.Feedback)
	}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func pawns(cp int) string {
	switch {
	case cp >= uci.MateSentinel:
		return "#+"
	case cp <= -uci.MateSentinel:
		return "#-"
	}
	return fmt.Sprintf("%+.2f", float64(cp)/100)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
