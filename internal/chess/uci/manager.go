package uci

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	minMoveTimeMillis = 50
	maxMoveTimeMillis = 5000
	eventBuffer       = 64
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrAlreadyConnected  = errors.New("engine session already connected")
	errEngineExited      = errors.New("engine output closed")
)

type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusReady         Status = "ready"
	StatusThinking      Status = "thinking"
	StatusIdle          Status = "idle"
	StatusUnavailable   Status = "unavailable"
)

// Transport is a line-oriented connection to an engine. Lines is closed when the engine goes away.
type Transport interface {
	Send(cmd string) error
	Lines() <-chan string
	Close() error
}

type DialFunc func(ctx context.Context) (Transport, error)

// Event is one of BestMoveFound, EvaluationUpdate or ConnectionFailed.
type Event interface{ engineEvent() }

type BestMoveFound struct {
	Seq    uint64
	Move   string
	Ponder string
}

type EvaluationUpdate struct {
	Seq                uint64
	HasScore           bool
	Kind               ScoreKind
	Value              int
	Centipawns         int
	PrincipalVariation []string
}

type ConnectionFailed struct {
	Err error
}

func (BestMoveFound) engineEvent()    {}
func (EvaluationUpdate) engineEvent() {}
func (ConnectionFailed) engineEvent() {}

// Snapshot is a copy of the engine session fields.
type Snapshot struct {
	Status                 Status
	PendingPosition        string
	LastEvaluation         *int
	LastPrincipalVariation []string
	Seq                    uint64
}

// Manager owns one engine connection for one tutor session.
//
// A request while a search is running supersedes it: "stop" goes out before the new
// position. Every "go" is answered by exactly one "bestmove" in order, so counting
// dispatched and completed searches tells which output belongs to the latest request.
// Output of superseded searches is read and dropped.
type Manager struct {
	logger *zap.Logger

	sendMu sync.Mutex

	mu         sync.Mutex
	status     Status
	transport  Transport
	pending    string
	lastEval   *int
	lastPV     []string
	dispatched uint64
	completed  uint64
	closed     bool

	events    chan Event
	done      chan struct{}
	pumpWG    sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger,
		status: StatusUninitialized,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events delivers engine events in arrival order. It is closed by Close.
func (m *Manager) Events() <-chan Event { return m.events }

// Connect dials the engine. Failure leaves the session unavailable.
func (m *Manager) Connect(ctx context.Context, dial DialFunc) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrEngineUnavailable
	}
	if m.status != StatusUninitialized {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.mu.Unlock()

	var (
		t   Transport
		err error
	)
	if dial == nil {
		err = errors.New("no engine configured")
	} else {
		t, err = dial(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil && m.closed {
		_ = t.Close()
		return ErrEngineUnavailable
	}
	if err != nil {
		m.status = StatusUnavailable
		m.logger.Warn("engine_connect_failed", zap.Error(err))
		m.emitLocked(ConnectionFailed{Err: err})
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	m.transport = t
	m.status = StatusReady
	m.pumpWG.Add(1)
	go m.pump(t.Lines())
	m.logger.Debug("engine_connected")
	return nil
}

// RequestEvaluation asks for a search of position (a FEN or the start marker). The move
// time is clamped to a sane range. A previous search still running is superseded.
func (m *Manager) RequestEvaluation(position string, moveTimeMillis int) error {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	if m.closed || m.transport == nil || m.status == StatusUnavailable || m.status == StatusUninitialized {
		m.mu.Unlock()
		return ErrEngineUnavailable
	}
	supersede := m.status == StatusThinking
	m.dispatched++
	seq := m.dispatched
	m.status = StatusThinking
	m.pending = position
	m.lastEval = nil
	m.lastPV = nil
	t := m.transport
	m.mu.Unlock()

	cmds := make([]string, 0, 3)
	if supersede {
		cmds = append(cmds, "stop")
	}
	cmds = append(cmds,
		buildPositionCommand(position),
		"go movetime "+strconv.Itoa(clampMoveTime(moveTimeMillis)),
	)
	for _, cmd := range cmds {
		if err := t.Send(cmd); err != nil {
			m.fail(fmt.Errorf("send %q: %w", cmd, err))
			return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
	}
	m.logger.Debug("engine_request",
		zap.Uint64("seq", seq),
		zap.Bool("superseded_previous", supersede),
		zap.String("position", position),
	)
	return nil
}

// OnLine feeds one engine output line into the session.
func (m *Manager) OnLine(raw string) {
	p := ParseLine(raw)
	if p.Kind == LineOther {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	switch p.Kind {
	case LineBestMove:
		if m.completed >= m.dispatched {
			m.logger.Debug("engine_unsolicited_bestmove", zap.String("line", raw))
			return
		}
		m.completed++
		if m.completed != m.dispatched {
			m.logger.Debug("engine_stale_bestmove", zap.Uint64("seq", m.completed), zap.Uint64("latest", m.dispatched))
			return
		}
		m.status = StatusIdle
		m.emitLocked(BestMoveFound{Seq: m.completed, Move: p.BestMove, Ponder: p.Ponder})

	case LineInfo:
		if m.status != StatusThinking || m.completed+1 != m.dispatched {
			return
		}
		if p.ParseError != nil {
			m.logger.Debug("engine_line_partial", zap.Error(p.ParseError), zap.String("line", raw))
		}
		ev := EvaluationUpdate{Seq: m.dispatched, PrincipalVariation: p.PrincipalVariation}
		if cp, ok := p.Centipawns(); ok {
			v := cp
			m.lastEval = &v
			ev.HasScore = true
			ev.Kind = p.ScoreKind
			ev.Value = p.ScoreValue
			ev.Centipawns = cp
		}
		if len(p.PrincipalVariation) > 0 {
			m.lastPV = append([]string(nil), p.PrincipalVariation...)
		}
		if !ev.HasScore && len(ev.PrincipalVariation) == 0 {
			return
		}
		m.emitLocked(ev)
	}
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		Status:          m.status,
		PendingPosition: m.pending,
		Seq:             m.dispatched,
	}
	if m.lastEval != nil {
		v := *m.lastEval
		s.LastEvaluation = &v
	}
	if m.lastPV != nil {
		s.LastPrincipalVariation = append([]string(nil), m.lastPV...)
	}
	return s
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Close stops the line pump and releases the transport. No event is delivered after it returns.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.closed = true
		t := m.transport
		m.transport = nil
		m.mu.Unlock()

		m.pumpWG.Wait()
		if t != nil {
			// a request that read the transport before closed was set may still be sending
			m.sendMu.Lock()
			m.closeErr = t.Close()
			m.sendMu.Unlock()
		}
		close(m.events)
	})
	return m.closeErr
}

func (m *Manager) pump(lines <-chan string) {
	defer m.pumpWG.Done()
	for {
		select {
		case <-m.done:
			return
		case line, ok := <-lines:
			if !ok {
				m.fail(errEngineExited)
				return
			}
			m.OnLine(line)
		}
	}
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.status == StatusUnavailable {
		return
	}
	m.status = StatusUnavailable
	m.logger.Warn("engine_unavailable", zap.Error(err))
	m.emitLocked(ConnectionFailed{Err: err})
}

// emitLocked must be called with mu held. It gives up once Close has started.
func (m *Manager) emitLocked(ev Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func clampMoveTime(ms int) int {
	if ms < minMoveTimeMillis {
		return minMoveTimeMillis
	}
	if ms > maxMoveTimeMillis {
		return maxMoveTimeMillis
	}
	return ms
}

func buildPositionCommand(fen string) string {
	f := strings.TrimSpace(fen)
	if f == "" || f == "startpos" || strings.EqualFold(f, "start") {
		return "position startpos"
	}
	return "position fen " + f
}
