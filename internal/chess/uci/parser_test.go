package uci

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseCentipawnLine(t *testing.T) {
	p := ParseLine("info depth 12 seldepth 18 multipv 1 score cp 40 nodes 1234 nps 99 pv e2e4 e7e5 g1f3")
	if p.Kind != LineInfo || !p.HasScore {
		t.Fatalf("unexpected parse: %+v", p)
	}
	cp, ok := p.Centipawns()
	if !ok || cp != 40 || p.ScoreKind != ScoreCentipawn {
		t.Fatalf("score = %d %v %s", cp, ok, p.ScoreKind)
	}
	if want := []string{"e2e4", "e7e5", "g1f3"}; !reflect.DeepEqual(p.PrincipalVariation, want) {
		t.Fatalf("pv = %v", p.PrincipalVariation)
	}
	if Label(&cp) != LabelGood {
		t.Fatalf("label = %s", Label(&cp))
	}
}

func TestParseMateUsesSentinel(t *testing.T) {
	p := ParseLine("info depth 5 score mate 3 pv h5f7")
	cp, ok := p.Centipawns()
	if !ok || cp != MateSentinel || p.ScoreValue != 3 {
		t.Fatalf("mate = %d %v %+v", cp, ok, p)
	}
	if Label(&cp) != LabelBlunder {
		t.Fatalf("label = %s", Label(&cp))
	}

	neg := ParseLine("info score mate -2 pv a1a2")
	if v, _ := neg.Centipawns(); v != -MateSentinel {
		t.Fatalf("negative mate = %d", v)
	}
	mated := ParseLine("info score mate 0 pv (none)")
	if v, _ := mated.Centipawns(); v != -MateSentinel {
		t.Fatalf("mate 0 = %d", v)
	}
}

func TestParseBestMove(t *testing.T) {
	p := ParseLine("bestmove e2e4 ponder e7e5\r\n")
	if p.Kind != LineBestMove || p.BestMove != "e2e4" || p.Ponder != "e7e5" {
		t.Fatalf("bestmove = %+v", p)
	}
	none := ParseLine("bestmove (none)")
	if none.Kind != LineBestMove || none.BestMove != "" {
		t.Fatalf("bestmove none = %+v", none)
	}
	bare := ParseLine("bestmove")
	if bare.Kind != LineBestMove || !errors.Is(bare.ParseError, ErrMissingMove) {
		t.Fatalf("bare bestmove = %+v", bare)
	}
}

func TestParseIgnoresChatter(t *testing.T) {
	for _, line := range []string{
		"",
		"   ",
		"id name Stockfish 16",
		"uciok",
		"readyok",
		"info string NNUE evaluation enabled",
		"info depth 1 score cp 20 nodes 20",
		"info depth 1 currmove e2e4 currmovenumber 1",
		"info multipv 1 depth 3 nodes 50",
		"option name Hash type spin default 16",
		"xbestmove e2e4",
	} {
		if p := ParseLine(line); p.Kind != LineOther {
			t.Fatalf("ParseLine(%q) = %+v, want LineOther", line, p)
		}
	}
}

func TestParseMalformedScoreKeepsPV(t *testing.T) {
	for _, line := range []string{
		"info score cp abc pv e2e4",
		"info score wdl 10 pv e2e4",
		"info score cp pv e2e4",
	} {
		p := ParseLine(line)
		if p.Kind != LineInfo || p.HasScore || !errors.Is(p.ParseError, ErrMalformedScore) {
			t.Fatalf("ParseLine(%q) = %+v", line, p)
		}
		if len(p.PrincipalVariation) != 1 || p.PrincipalVariation[0] != "e2e4" {
			t.Fatalf("pv lost for %q: %v", line, p.PrincipalVariation)
		}
	}
}

func TestNormalizeStripsNonText(t *testing.T) {
	raw := []byte("bestmove e2e4\x00\r\n")
	raw = append([]byte{0xff}, raw...)
	if got := Normalize(raw); got != "bestmove e2e4" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestLabelThresholds(t *testing.T) {
	cases := []struct {
		cp   int
		want string
	}{
		{0, LabelGood},
		{49, LabelGood},
		{-49, LabelGood},
		{50, LabelInaccuracy},
		{149, LabelInaccuracy},
		{150, LabelMistake},
		{-299, LabelMistake},
		{300, LabelBlunder},
		{-MateSentinel, LabelBlunder},
	}
	for _, c := range cases {
		v := c.cp
		if got := Label(&v); got != c.want {
			t.Fatalf("Label(%d) = %s, want %s", c.cp, got, c.want)
		}
	}
	if Label(nil) != LabelUnknown {
		t.Fatalf("Label(nil) = %s", Label(nil))
	}
}
