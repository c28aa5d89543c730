package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout  = 4 * time.Second
	newGameRetryAttempts = 3
	newGameRetryDelay    = 150 * time.Millisecond
	lineBuffer           = 256
)

var errProcessClosed = errors.New("engine process closed")

type Options struct {
	Threads int
	HashMB  int
	MultiPV int
}

// Process is a running UCI engine binary. stdout is read by one goroutine for the whole
// lifetime of the process and delivered on Lines.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	done   chan struct{}
	logger *zap.Logger

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// StartProcess spawns the engine and completes the uci/isready handshake. ctx bounds the
// handshake only; the process outlives it.
func StartProcess(ctx context.Context, binaryPath string, opt Options, logger *zap.Logger) (*Process, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		lines:  make(chan string, lineBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go p.readLoop(stdoutPipe)

	if err := p.initialize(ctx, opt); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Process) Lines() <-chan string { return p.lines }

// Send writes one command line.
func (p *Process) Send(cmd string) error {
	select {
	case <-p.done:
		return errProcessClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := strings.TrimRight(cmd, "\n") + "\n"
	_, err := io.WriteString(p.stdin, msg)
	return err
}

// EnsureReady waits for readyok, dropping any output still queued before it.
func (p *Process) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := p.Send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (p *Process) NewGame(ctx context.Context) error {
	if err := p.Send("ucinewgame"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", err)
	}

	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := p.EnsureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts {
			return err
		}
		p.logger.Warn("uci_ensure_ready_retry",
			zap.Int("attempt", attempt),
			zap.Int("max", newGameRetryAttempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		p.mu.Unlock()
		if p.cmd != nil && p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		if p.cmd != nil {
			p.closeErr = p.cmd.Wait()
		}
	})
	return p.closeErr
}

func (p *Process) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := p.Send("uci"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := p.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}
	for _, cmd := range optionCommands(opt) {
		if err := p.Send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	if err := p.Send("isready"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := p.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

func (p *Process) readLoop(r io.Reader) {
	defer close(p.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := Normalize(sc.Bytes())
		if line == "" {
			continue
		}
		select {
		case p.lines <- line:
		case <-p.done:
			return
		}
	}
	if err := sc.Err(); err != nil {
		p.logger.Debug("uci_read_error", zap.Error(err))
	}
}

func (p *Process) awaitToken(ctx context.Context, token string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				return errEngineExited
			}
			if strings.Contains(line, token) {
				return nil
			}
		}
	}
}

func validateOptions(opt Options) error {
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.MultiPV < 0 {
		return fmt.Errorf("multipv must be >= 0: %d", opt.MultiPV)
	}
	return nil
}

func optionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	multiPV := opt.MultiPV
	if multiPV <= 0 {
		multiPV = 1
	}
	return []string{
		fmt.Sprintf("setoption name Threads value %d", threads),
		fmt.Sprintf("setoption name Hash value %d", opt.HashMB),
		fmt.Sprintf("setoption name MultiPV value %d", multiPV),
	}
}
