package tutorbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/chess-tutor/internal/chess/uci"
	"github.com/park285/chess-tutor/internal/config"
	"github.com/park285/chess-tutor/internal/lesson"
	"github.com/park285/chess-tutor/internal/msgcat"
	"github.com/park285/chess-tutor/internal/notify"
	"github.com/park285/chess-tutor/internal/tutor"
	"github.com/park285/chess-tutor/internal/tutorstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const engineConnectTimeout = 5 * time.Second

// Deps holds everything a tutor session needs. Redis, postgres, the webhook and the engine are optional.
type Deps struct {
	Lessons     *lesson.Catalog
	Messages    *msgcat.Catalog
	Pool        *uci.Pool
	Snapshots   *tutorstore.SnapshotStore
	Completions tutorstore.Repository
	Notifier    *notify.Webhook

	cfg    *config.AppConfig
	rdb    *redis.Client
	db     *sql.DB
	logger *zap.Logger
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{cfg: cfg, logger: logger}

	var err error
	if d.Lessons, err = lesson.Load(cfg.LessonsFile); err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}
	if d.Messages, err = msgcat.New(cfg.MessagesDir); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	// Engine (optional): sessions without one report the engine as unavailable.
	if cfg.EngineEnabled() {
		d.Pool, err = uci.NewPool(uci.PoolConfig{
			BinaryPath: cfg.StockfishPath,
			Options:    uci.Options{Threads: cfg.EngineThreads, HashMB: cfg.EngineHashMB},
			Capacity:   cfg.EnginePoolSize,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("engine_disabled", zap.String("path", cfg.StockfishPath), zap.Error(err))
			d.Pool = nil
		}
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		d.rdb, err = tutorstore.Dial(dctx, cfg.RedisURL)
		cancel()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init redis: %w", err)
		}
		d.Snapshots = tutorstore.NewSnapshotStore(d.rdb, cfg.SessionTTL)
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		if err := d.openRepository(ctx); err != nil {
			d.Close()
			return nil, err
		}
	} else {
		d.Completions = tutorstore.NewMemoryRepository()
	}

	if cfg.WebhookURL != "" {
		d.Notifier = notify.NewWebhook(cfg.WebhookURL,
			notify.WithTimeout(cfg.WebhookTimeout),
			notify.WithLogger(logger),
		)
	}
	return d, nil
}

func (d *Deps) openRepository(ctx context.Context) error {
	db, err := sql.Open("postgres", d.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := tutorstore.EnsureSchema(pctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("ensure schema: %w", err)
	}
	d.db = db
	d.Completions = tutorstore.NewRepository(db)
	return nil
}

func (d *Deps) sessionDeps(eng tutor.Engine) tutor.Deps {
	td := tutor.Deps{
		Lessons:     d.Lessons,
		Messages:    d.Messages,
		Engine:      eng,
		Completions: d.Completions,
		Logger:      d.logger,
	}
	if d.Snapshots != nil {
		td.Store = d.Snapshots
	}
	if d.Notifier != nil {
		td.Notifier = d.Notifier
	}
	return td
}

func (d *Deps) sessionConfig() tutor.Config {
	return tutor.Config{MoveTimeMillis: d.cfg.EngineMoveTimeMS, DeepMoveTimeMillis: d.cfg.EngineDeepMoveTimeMS}
}

// connectEngine returns a manager that is either ready or already marked unavailable.
// A busy pool is not waited on for long.
func (d *Deps) connectEngine(ctx context.Context) *uci.Manager {
	m := uci.NewManager(d.logger)
	var dial uci.DialFunc
	if d.Pool != nil {
		dial = d.Pool.Dialer()
	}
	cctx, cancel := context.WithTimeout(ctx, engineConnectTimeout)
	defer cancel()
	_ = m.Connect(cctx, dial)
	return m
}

// NewSession opens a session on the first lesson with its own engine connection.
func (d *Deps) NewSession(ctx context.Context) (*tutor.Session, error) {
	eng := d.connectEngine(ctx)
	s, err := tutor.NewSession(ctx, d.sessionDeps(eng), d.sessionConfig())
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return s, nil
}

// ResumeSession restores a stored session. It needs redis.
func (d *Deps) ResumeSession(ctx context.Context, sessionID string) (*tutor.Session, error) {
	if d.Snapshots == nil {
		return nil, errors.New("session storage is not configured")
	}
	snap, err := d.Snapshots.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	eng := d.connectEngine(ctx)
	s, err := tutor.Resume(ctx, d.sessionDeps(eng), d.sessionConfig(), snap)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	return s, nil
}

func (d *Deps) Close() error {
	var errs []error
	if d.Pool != nil {
		errs = append(errs, d.Pool.Close())
	}
	if d.rdb != nil {
		errs = append(errs, d.rdb.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}
