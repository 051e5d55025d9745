// Package apikeys keeps the set of accepted API keys and their per-key rate
// limits, loaded from Postgres and refreshed in the background.
package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chart2png/internal/config"
	"chart2png/internal/infra/logging"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrStoreNotReady signals that keys have not been loaded yet, typically
	// because the database was unreachable at startup.
	ErrStoreNotReady = errors.New("api key store not ready")
)

const (
	schemaDDL = `CREATE TABLE IF NOT EXISTS api_keys (
		key TEXT PRIMARY KEY,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		label TEXT
	);`
	indexDDL  = `CREATE INDEX IF NOT EXISTS idx_api_keys_created_at ON api_keys (created_at);`
	selectAll = `SELECT key, rate_limit FROM api_keys;`
)

// Store is an in-memory view of the api_keys table.
type Store struct {
	cfg config.PostgresConfig

	mu    sync.RWMutex
	limit map[string]int

	dbMu sync.Mutex
	db   *sql.DB
}

// NewStore returns an empty store; call Load or LoadMap before use.
func NewStore(cfg config.PostgresConfig) *Store {
	return &Store{cfg: cfg}
}

// Enabled reports whether a database is configured.
func (s *Store) Enabled() bool {
	return s.cfg.Host != ""
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	dsn, err := DSN(s.cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Small, low-throughput control plane table.
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, ddl := range []string{schemaDDL, indexDDL} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure api_keys schema: %w", err)
		}
	}

	s.db = db
	return db, nil
}

// Load replaces the cached keys with the current contents of api_keys.
// On failure the previous keys stay in effect.
func (s *Store) Load(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, selectAll)
	if err != nil {
		return err
	}
	defer rows.Close()

	keys := make(map[string]int)
	for rows.Next() {
		var key string
		var limit int
		if err := rows.Scan(&key, &limit); err != nil {
			return err
		}
		keys[key] = limit
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.swap(keys)
	logging.Debug("API keys loaded", "count", len(keys))
	return nil
}

// LoadMap replaces the cached keys with a copy of m.
func (s *Store) LoadMap(m map[string]int) {
	keys := make(map[string]int, len(m))
	for k, v := range m {
		keys[k] = v
	}
	s.swap(keys)
}

func (s *Store) swap(keys map[string]int) {
	s.mu.Lock()
	s.limit = keys
	s.mu.Unlock()
}

// Ready reports whether keys were loaded at least once.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit != nil
}

// Validate returns nil for a known key.
func (s *Store) Validate(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.limit == nil {
		return ErrStoreNotReady
	}
	if _, ok := s.limit[key]; !ok {
		return ErrInvalidAPIKey
	}
	return nil
}

// RateLimit returns the per-interval request budget for key. Unknown keys
// and keys stored with 0 are unlimited.
func (s *Store) RateLimit(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit[key]
}

// RefreshPeriodically reloads keys every interval until ctx is done.
func (s *Store) RefreshPeriodically(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Load(ctx); err != nil {
				logging.Error("Failed to reload API keys", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.dbMu.Lock()
	defer s.dbMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DSN builds a postgres URL from cfg. A Host that already is a URL is
// returned unchanged.
func DSN(cfg config.PostgresConfig) (string, error) {
	if strings.HasPrefix(cfg.Host, "postgres://") || strings.HasPrefix(cfg.Host, "postgresql://") {
		return cfg.Host, nil
	}
	switch {
	case cfg.Host == "":
		return "", errors.New("postgres host is empty")
	case cfg.Database == "":
		return "", errors.New("postgres database is empty")
	case cfg.User == "":
		return "", errors.New("postgres user is empty")
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	hostPort := cfg.Host
	switch {
	case strings.HasPrefix(hostPort, "["):
		if !strings.Contains(hostPort, "]:") {
			hostPort = fmt.Sprintf("%s:%d", hostPort, port)
		}
	case strings.Count(hostPort, ":") >= 2:
		hostPort = fmt.Sprintf("[%s]:%d", hostPort, port)
	case !strings.Contains(hostPort, ":"):
		hostPort = fmt.Sprintf("%s:%d", hostPort, port)
	}

	u := &url.URL{Scheme: "postgres", Host: hostPort, Path: "/" + cfg.Database}
	if cfg.Password != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	} else {
		u.User = url.User(cfg.User)
	}
	if cfg.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", cfg.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
