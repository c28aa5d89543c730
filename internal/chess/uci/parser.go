package uci

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// MateSentinel stands in for a forced mate so mate scores share the centipawn scale.
const MateSentinel = 99999

type LineKind int

const (
	LineOther LineKind = iota
	LineBestMove
	LineInfo
)

type ScoreKind string

const (
	ScoreCentipawn ScoreKind = "cp"
	ScoreMate      ScoreKind = "mate"
)

var (
	ErrMalformedScore = errors.New("malformed score")
	ErrMissingMove    = errors.New("bestmove without move token")
)

// ParsedLine is one engine output line broken into named fields.
// ParseError is set when a recognised line carried a field that could not be read;
// the remaining fields are still usable.
type ParsedLine struct {
	Kind LineKind

	BestMove string
	Ponder   string

	HasScore           bool
	ScoreKind          ScoreKind
	ScoreValue         int
	PrincipalVariation []string

	ParseError error
}

// Centipawns maps the score onto one numeric domain. Mate in n for the side to move
// is +MateSentinel, being mated (n <= 0) is -MateSentinel.
func (p ParsedLine) Centipawns() (int, bool) {
	if !p.HasScore {
		return 0, false
	}
	if p.ScoreKind == ScoreMate {
		if p.ScoreValue > 0 {
			return MateSentinel, true
		}
		return -MateSentinel, true
	}
	return p.ScoreValue, true
}

// Normalize turns a raw payload into a single trimmed text line.
func Normalize(raw []byte) string {
	s := strings.ToValidUTF8(string(raw), "")
	return strings.TrimFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == 0 })
}

// ParseLine tokenizes one engine line. Unrecognised lines come back as LineOther and never fail.
func ParseLine(line string) ParsedLine {
	fields := strings.Fields(Normalize([]byte(line)))
	if len(fields) == 0 {
		return ParsedLine{Kind: LineOther}
	}
	if fields[0] == "bestmove" {
		return parseBestMove(fields)
	}
	return parseEvaluation(fields)
}

func parseBestMove(fields []string) ParsedLine {
	out := ParsedLine{Kind: LineBestMove}
	if len(fields) < 2 {
		out.ParseError = ErrMissingMove
		return out
	}
	if fields[1] != "(none)" {
		out.BestMove = fields[1]
	}
	for i := 2; i+1 < len(fields); i++ {
		if fields[i] == "ponder" {
			out.Ponder = fields[i+1]
			break
		}
	}
	return out
}

// parseEvaluation needs both a score and a pv token. pv runs to the end of the line.
func parseEvaluation(fields []string) ParsedLine {
	scoreIdx, pvIdx := -1, -1
	for i, f := range fields {
		switch f {
		case "score":
			if scoreIdx == -1 && pvIdx == -1 {
				scoreIdx = i
			}
		case "pv":
			if pvIdx == -1 {
				pvIdx = i
			}
		}
	}
	if scoreIdx == -1 || pvIdx == -1 {
		return ParsedLine{Kind: LineOther}
	}

	out := ParsedLine{Kind: LineInfo}
	if pvIdx+1 < len(fields) {
		out.PrincipalVariation = append([]string(nil), fields[pvIdx+1:]...)
	}

	if scoreIdx+2 >= pvIdx {
		out.ParseError = ErrMalformedScore
		return out
	}
	kind := ScoreKind(fields[scoreIdx+1])
	if kind != ScoreCentipawn && kind != ScoreMate {
		out.ParseError = ErrMalformedScore
		return out
	}
	v, err := strconv.Atoi(fields[scoreIdx+2])
	if err != nil {
		out.ParseError = ErrMalformedScore
		return out
	}
	out.HasScore = true
	out.ScoreKind = kind
	out.ScoreValue = v
	return out
}
