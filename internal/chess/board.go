package chess

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

// StartMarker selects the standard initial position wherever a position encoding is accepted.
const StartMarker = "start"

const standardStartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrIllegalMove         = errors.New("illegal chess move")
	ErrImportFormatInvalid = errors.New("invalid position or transcript")
	ErrNoMoves             = errors.New("no moves to undo")
)

var ecoBook = sync.OnceValue(opening.NewBookECO)

// MoveAttempt is a caller-supplied candidate move. Promotion is a lowercase piece letter and
// defaults to a queen when empty.
type MoveAttempt struct {
	From      string
	To        string
	Promotion string
}

func (a MoveAttempt) String() string {
	return strings.ToLower(strings.TrimSpace(a.From)) + strings.ToLower(strings.TrimSpace(a.To)) + strings.ToLower(strings.TrimSpace(a.Promotion))
}

// MoveResult describes a legal move. It is only produced for attempts the rules accept.
type MoveResult struct {
	SAN         string
	UCI         string
	From        string
	To          string
	Promotion   string
	IsCheck     bool
	IsCheckmate bool
	FEN         string
}

// Board is a game state: a start position and the ordered moves applied to it.
type Board struct {
	startFEN string
	game     *nchess.Game
	movesUCI []string
	movesSAN []string
}

func NewBoard() *Board {
	return &Board{startFEN: standardStartFEN, game: nchess.NewGame()}
}

// NewBoardFromPosition builds a board from the start marker or a FEN string.
func NewBoardFromPosition(encoding string) (*Board, error) {
	enc := strings.TrimSpace(encoding)
	if enc == "" || strings.EqualFold(enc, StartMarker) || enc == "startpos" {
		return NewBoard(), nil
	}
	game, err := gameFromFEN(enc)
	if err != nil {
		return nil, err
	}
	return &Board{startFEN: game.FEN(), game: game}, nil
}

// LoadPGN parses a full-game transcript and replays its main line onto a fresh board.
func LoadPGN(text string) (*Board, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty transcript", ErrImportFormatInvalid)
	}
	opt, err := nchess.PGN(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFormatInvalid, err)
	}
	parsed := nchess.NewGame(opt)
	positions := parsed.Positions()
	moves := parsed.Moves()
	if len(positions) == 0 {
		return nil, fmt.Errorf("%w: transcript has no positions", ErrImportFormatInvalid)
	}

	b, err := NewBoardFromPosition(positions[0].String())
	if err != nil {
		return nil, err
	}
	notation := nchess.UCINotation{}
	for i, mv := range moves {
		if i >= len(positions) {
			break
		}
		text := strings.ToLower(notation.Encode(positions[i], mv))
		if _, err := b.applyUCI(text); err != nil {
			return nil, fmt.Errorf("%w: replay move %d (%s): %v", ErrImportFormatInvalid, i+1, text, err)
		}
	}
	return b, nil
}

// Replay rebuilds a board from a start encoding and a list of UCI moves.
func Replay(startFEN string, movesUCI []string) (*Board, error) {
	b, err := NewBoardFromPosition(startFEN)
	if err != nil {
		return nil, err
	}
	for _, mv := range movesUCI {
		if _, err := b.applyUCI(strings.ToLower(strings.TrimSpace(mv))); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", mv, err)
		}
	}
	return b, nil
}

func gameFromFEN(fen string) (*nchess.Game, error) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImportFormatInvalid, err)
	}
	return nchess.NewGame(opt), nil
}

// DryRun tests the attempt on a copy of the game. The board is never modified.
func (b *Board) DryRun(a MoveAttempt) (MoveResult, error) {
	_, res, err := b.resolve(a)
	return res, err
}

// Apply plays the attempt. On error the board is unchanged.
func (b *Board) Apply(a MoveAttempt) (MoveResult, error) {
	next, res, err := b.resolve(a)
	if err != nil {
		return MoveResult{}, err
	}
	b.commit(next, res)
	return res, nil
}

// Interpret reads a move descriptor (SAN first, then UCI) against the current position
// without playing it.
func (b *Board) Interpret(descriptor string) (MoveResult, error) {
	text := strings.TrimSpace(descriptor)
	if text == "" {
		return MoveResult{}, ErrIllegalMove
	}
	pos := b.game.Position()
	if mv, err := (nchess.AlgebraicNotation{}).Decode(pos, text); err == nil {
		if _, res, err := b.play(mv); err == nil {
			return res, nil
		}
	}
	if mv, err := (nchess.UCINotation{}).Decode(pos, strings.ToLower(text)); err == nil {
		if _, res, err := b.play(mv); err == nil {
			return res, nil
		}
	}
	return MoveResult{}, ErrIllegalMove
}

// Undo removes the last ply by replaying the remaining moves from the start position.
func (b *Board) Undo() error {
	if len(b.movesUCI) == 0 {
		return ErrNoMoves
	}
	rebuilt, err := Replay(b.startFEN, b.movesUCI[:len(b.movesUCI)-1])
	if err != nil {
		return err
	}
	*b = *rebuilt
	return nil
}

func (b *Board) FEN() string { return b.game.FEN() }

func (b *Board) StartFEN() string { return b.startFEN }

// History returns the SAN of every move played, oldest first.
func (b *Board) History() []string { return append([]string(nil), b.movesSAN...) }

func (b *Board) MovesUCI() []string { return append([]string(nil), b.movesUCI...) }

func (b *Board) Len() int { return len(b.movesUCI) }

func (b *Board) Turn() string {
	if b.game.Position().Turn() == nchess.White {
		return "white"
	}
	return "black"
}

func (b *Board) Outcome() string {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return "1-0"
	case nchess.BlackWon:
		return "0-1"
	case nchess.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

// Opening returns the ECO code and name for games that began from the standard position.
func (b *Board) Opening() (string, string) {
	if b.startFEN != standardStartFEN || len(b.movesUCI) == 0 {
		return "", ""
	}
	book := ecoBook()
	if book == nil {
		return "", ""
	}
	if eco := book.Find(b.game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}

func (b *Board) resolve(a MoveAttempt) (*nchess.Game, MoveResult, error) {
	from := strings.ToLower(strings.TrimSpace(a.From))
	to := strings.ToLower(strings.TrimSpace(a.To))
	if len(from) != 2 || len(to) != 2 {
		return nil, MoveResult{}, ErrIllegalMove
	}
	promo := strings.ToLower(strings.TrimSpace(a.Promotion))
	if promo == "" {
		promo = "q"
	}
	notation := nchess.UCINotation{}
	pos := b.game.Position()
	for _, text := range []string{from + to, from + to + promo} {
		mv, err := notation.Decode(pos, text)
		if err != nil {
			continue
		}
		if next, res, err := b.play(mv); err == nil {
			return next, res, nil
		}
	}
	return nil, MoveResult{}, ErrIllegalMove
}

func (b *Board) applyUCI(text string) (MoveResult, error) {
	mv, err := (nchess.UCINotation{}).Decode(b.game.Position(), text)
	if err != nil {
		return MoveResult{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	next, res, err := b.play(mv)
	if err != nil {
		return MoveResult{}, err
	}
	b.commit(next, res)
	return res, nil
}

// play applies mv to a clone and describes the result.
func (b *Board) play(mv *nchess.Move) (*nchess.Game, MoveResult, error) {
	before := b.game.Position()
	clone := b.game.Clone()
	if err := clone.Move(mv, nil); err != nil {
		return nil, MoveResult{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	moves := clone.Moves()
	if len(moves) == 0 {
		return nil, MoveResult{}, ErrIllegalMove
	}
	last := moves[len(moves)-1]
	uci := strings.ToLower(nchess.UCINotation{}.Encode(before, last))
	res := MoveResult{
		SAN:         nchess.AlgebraicNotation{}.Encode(before, last),
		UCI:         uci,
		From:        last.S1().String(),
		To:          last.S2().String(),
		IsCheck:     last.HasTag(nchess.Check),
		IsCheckmate: clone.Method() == nchess.Checkmate,
		FEN:         clone.FEN(),
	}
	if len(uci) == 5 {
		res.Promotion = uci[4:]
	}
	return clone, res, nil
}

func (b *Board) commit(next *nchess.Game, res MoveResult) {
	b.game = next
	b.movesUCI = append(b.movesUCI, res.UCI)
	b.movesSAN = append(b.movesSAN, res.SAN)
}
