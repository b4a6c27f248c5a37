package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/repository"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage"
	"github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/migrations"
)

// backend: авторитетное хранилище сообщений, реакций, закреплений и справочник.
type backend struct {
	messages  storage.MessageStore
	reactions storage.ReactionStore
	pins      storage.PinStore
	directory storage.DirectoryAdmin
	closers   []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openStore(ctx context.Context, cfg *config.Config, dev bool) (*backend, error) {
	if cfg.Storage == config.StorageMemory {
		mem := memory.New()
		logger.Info("storage: in-memory (state is lost on restart)")
		return &backend{messages: mem, reactions: mem, pins: mem, directory: memory.NewDirectory()}, nil
	}

	b := &backend{}
	if dev {
		db, err := startEmbeddedPostgres(cfg)
		if err != nil {
			return nil, fmt.Errorf("embedded postgres: %w", err)
		}
		b.closers = append(b.closers, func() {
			logger.Info("stopping embedded postgres...")
			if err := db.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		})
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 2

	pool, err := startup.ConnectDBWithRetry(ctx, poolCfg, 60*time.Second, "")
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, pool.Close)

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := repository.Migrate(migrateCtx, pool, migrations.Files); err != nil {
		b.Close()
		return nil, err
	}
	logger.Info("database connected, migrations applied")

	b.messages = repository.NewMessageRepository(pool)
	b.reactions = repository.NewReactionRepository(pool)
	b.pins = repository.NewPinnedRepository(pool)
	b.directory = repository.NewDirectory(pool)
	return b, nil
}

type presenceBackend interface {
	storage.PresenceStore
	storage.Locker
}

// liveState: присутствие и lease свипера: Redis для нескольких инстансов, иначе память процесса.
type liveState struct {
	presence storage.PresenceStore
	locker   storage.Locker
	close    func()
}

func (l *liveState) Close() {
	if l.close != nil {
		l.close()
	}
}

func openPresence(ctx context.Context, cfg *config.Config) (*liveState, error) {
	if cfg.Redis.URL == "" {
		logger.Info("presence: in-memory (single instance)")
		return &liveState{presence: memory.NewPresence(), locker: memory.NewLocker()}, nil
	}
	client, err := startup.ConnectRedisWithRetry(ctx, cfg.Redis.URL, 30*time.Second, "")
	if err != nil {
		return nil, err
	}
	var rb presenceBackend = client
	logger.Info("presence: redis")
	return &liveState{presence: rb, locker: rb, close: func() {
		if err := client.Close(); err != nil {
			logger.Errorf("redis close: %v", err)
		}
	}}, nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)
	port := uint32(5432)
	if v, err := strconv.Atoi(os.Getenv("DEV_PG_PORT")); err == nil && v > 0 {
		port = uint32(v)
	}

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "chatsync-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
