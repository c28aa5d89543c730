package chess

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TranscriptHeaders are the tag pairs written at the top of an exported transcript.
type TranscriptHeaders struct {
	Event string
	Site  string
	White string
	Black string
	Date  time.Time
}

// PGN renders the board as a transcript. Games that start away from the standard position
// carry SetUp/FEN tags so they load back to the same state.
func (b *Board) PGN(h TranscriptHeaders) string {
	result := b.Outcome()
	date := h.Date
	if date.IsZero() {
		date = time.Now()
	}
	event := h.Event
	if strings.TrimSpace(event) == "" {
		event = "Chess Tutor"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[Event \"%s\"]\n", sanitizeTag(event)))
	sb.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizeTag(defaultTag(h.Site))))
	sb.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	sb.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizeTag(defaultTag(h.White))))
	sb.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizeTag(defaultTag(h.Black))))
	sb.WriteString(fmt.Sprintf("[Result \"%s\"]\n", result))
	if b.startFEN != standardStartFEN {
		sb.WriteString("[SetUp \"1\"]\n")
		sb.WriteString(fmt.Sprintf("[FEN \"%s\"]\n", b.startFEN))
	}
	sb.WriteString("\n")

	moveNumber, blackFirst := fenMoveNumber(b.startFEN)
	for i, san := range b.movesSAN {
		whiteToMove := (i%2 == 0) != blackFirst
		switch {
		case whiteToMove:
			sb.WriteString(fmt.Sprintf("%d. ", moveNumber))
		case i == 0:
			sb.WriteString(fmt.Sprintf("%d... ", moveNumber))
		}
		sb.WriteString(san)
		sb.WriteString(" ")
		if !whiteToMove {
			moveNumber++
		}
	}
	sb.WriteString(result)
	return sb.String()
}

// fenMoveNumber reads the fullmove counter and side to move from a FEN.
func fenMoveNumber(fen string) (int, bool) {
	fields := strings.Fields(fen)
	number := 1
	blackToMove := false
	if len(fields) >= 2 {
		blackToMove = fields[1] == "b"
	}
	if len(fields) >= 6 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n > 0 {
			number = n
		}
	}
	return number, blackToMove
}

func defaultTag(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func sanitizeTag(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
