package chess

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

const forkFEN = "r1bqkb1r/pppp1ppp/2n2n2/4p1N1/2B1P3/8/PPPP1PPP/RNBQK2R b KQkq - 5 4"

func playAll(t *testing.T, b *Board, moves ...string) {
	t.Helper()
	for _, mv := range moves {
		if len(mv) < 4 {
			t.Fatalf("bad test move %q", mv)
		}
		if _, err := b.Apply(MoveAttempt{From: mv[:2], To: mv[2:4], Promotion: mv[4:]}); err != nil {
			t.Fatalf("Apply(%s): %v", mv, err)
		}
	}
}

func TestApplyIllegalLeavesBoardUnchanged(t *testing.T) {
	b := NewBoard()
	before := b.FEN()
	for _, a := range []MoveAttempt{
		{From: "e2", To: "e5"},
		{From: "e7", To: "e5"},
		{From: "z9", To: "e4"},
		{From: "", To: ""},
	} {
		if _, err := b.Apply(a); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%+v) err = %v, want ErrIllegalMove", a, err)
		}
		if b.FEN() != before || b.Len() != 0 {
			t.Fatalf("board changed after illegal %+v: %s", a, b.FEN())
		}
	}
}

func TestDryRunDoesNotMutate(t *testing.T) {
	b := NewBoard()
	before := b.FEN()
	res, err := b.DryRun(MoveAttempt{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if res.SAN != "e4" || res.UCI != "e2e4" {
		t.Fatalf("unexpected result %+v", res)
	}
	if b.FEN() != before || b.Len() != 0 {
		t.Fatalf("dry run mutated board")
	}
}

func TestApplyRecordsHistoryAndMate(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6")
	res, err := b.Apply(MoveAttempt{From: "h5", To: "f7"})
	if err != nil {
		t.Fatalf("Apply mate: %v", err)
	}
	if !res.IsCheckmate {
		t.Fatalf("expected checkmate, got %+v", res)
	}
	if NormalizeSAN(res.SAN) != "Qxf7" {
		t.Fatalf("SAN = %q", res.SAN)
	}
	want := []string{"e4", "e5", "Bc4", "Nc6", "Qh5", "Nf6"}
	if got := b.History()[:6]; !reflect.DeepEqual(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	if b.Outcome() != "1-0" {
		t.Fatalf("outcome = %s", b.Outcome())
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	b, err := NewBoardFromPosition("8/P7/8/8/8/8/8/k6K w - - 0 1")
	if err != nil {
		t.Fatalf("NewBoardFromPosition: %v", err)
	}
	res, err := b.DryRun(MoveAttempt{From: "a7", To: "a8"})
	if err != nil {
		t.Fatalf("DryRun: %v", err)
	}
	if res.UCI != "a7a8q" || res.Promotion != "q" {
		t.Fatalf("default promotion = %+v", res)
	}
	res, err = b.DryRun(MoveAttempt{From: "a7", To: "a8", Promotion: "n"})
	if err != nil {
		t.Fatalf("DryRun knight: %v", err)
	}
	if res.UCI != "a7a8n" {
		t.Fatalf("knight promotion = %+v", res)
	}
}

func TestUndoRestoresPreviousPosition(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e2e4")
	before := b.FEN()
	playAll(t, b, "e7e5")
	if err := b.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if b.FEN() != before || b.Len() != 1 {
		t.Fatalf("undo did not restore: %s len=%d", b.FEN(), b.Len())
	}
	if err := b.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if err := b.Undo(); !errors.Is(err, ErrNoMoves) {
		t.Fatalf("Undo on empty = %v, want ErrNoMoves", err)
	}
}

func TestInterpretDescriptors(t *testing.T) {
	b, err := NewBoardFromPosition(forkFEN)
	if err != nil {
		t.Fatalf("NewBoardFromPosition: %v", err)
	}
	res, err := b.Interpret("d5")
	if err != nil {
		t.Fatalf("Interpret SAN: %v", err)
	}
	if ToComparable(res).CoordinatePair != "d7d5" {
		t.Fatalf("coordinate pair = %+v", ToComparable(res))
	}
	if _, err := b.Interpret("d7d5"); err != nil {
		t.Fatalf("Interpret UCI: %v", err)
	}
	if _, err := b.Interpret("exd4"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("Interpret illegal = %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("interpret mutated board")
	}
}

func TestFENRoundTrip(t *testing.T) {
	for _, fen := range []string{forkFEN, standardStartFEN} {
		first, err := NewBoardFromPosition(fen)
		if err != nil {
			t.Fatalf("import %q: %v", fen, err)
		}
		exported := first.FEN()
		second, err := NewBoardFromPosition(exported)
		if err != nil {
			t.Fatalf("re-import %q: %v", exported, err)
		}
		if second.FEN() != exported || exported != fen {
			t.Fatalf("round trip mismatch: %q -> %q -> %q", fen, exported, second.FEN())
		}
	}
	if _, err := NewBoardFromPosition("not a fen"); !errors.Is(err, ErrImportFormatInvalid) {
		t.Fatalf("bad fen err = %v", err)
	}
}

func TestPGNRoundTrip(t *testing.T) {
	b := NewBoard()
	playAll(t, b, "e2e4", "e7e5", "f1c4", "b8c6", "d1h5", "g8f6", "h5f7")
	text := b.PGN(TranscriptHeaders{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)})
	if !strings.Contains(text, "1. e4 e5 2. Bc4 Nc6") || !strings.HasSuffix(text, "1-0") {
		t.Fatalf("unexpected transcript:\n%s", text)
	}
	loaded, err := LoadPGN(text)
	if err != nil {
		t.Fatalf("LoadPGN: %v", err)
	}
	if loaded.FEN() != b.FEN() || !reflect.DeepEqual(loaded.History(), b.History()) {
		t.Fatalf("transcript did not round trip: %s vs %s", loaded.FEN(), b.FEN())
	}
}

func TestPGNFromCustomStart(t *testing.T) {
	b, err := NewBoardFromPosition(forkFEN)
	if err != nil {
		t.Fatalf("NewBoardFromPosition: %v", err)
	}
	playAll(t, b, "d7d5", "e4d5")
	text := b.PGN(TranscriptHeaders{})
	if !strings.Contains(text, "[FEN \""+forkFEN+"\"]") || !strings.Contains(text, "4... d5 5. exd5") {
		t.Fatalf("unexpected transcript:\n%s", text)
	}
	loaded, err := LoadPGN(text)
	if err != nil {
		t.Fatalf("LoadPGN: %v", err)
	}
	if loaded.FEN() != b.FEN() {
		t.Fatalf("custom start did not round trip")
	}
}

func TestLoadPGNRejectsGarbage(t *testing.T) {
	for _, text := range []string{"", "   ", "1. e4 e5 2. Ke3 Kf9"} {
		if _, err := LoadPGN(text); !errors.Is(err, ErrImportFormatInvalid) {
			t.Fatalf("LoadPGN(%q) err = %v", text, err)
		}
	}
}

func TestSameAlgebraic(t *testing.T) {
	if !SameAlgebraic("Qxf7#", "Qxf7") || !SameAlgebraic("e4!?", "e4") {
		t.Fatalf("normalization failed")
	}
	if SameAlgebraic("", "") || SameAlgebraic("Nc3", "Nf3") {
		t.Fatalf("unexpected match")
	}
}
