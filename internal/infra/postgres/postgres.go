package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/PowerTrack/config"
)

const (
	defaultDialTimeout = 5 * time.Second
	applicationName    = "powertrack-analytics"
)

// NewPool creates the pgx pool used for read-heavy analytics queries and verifies connectivity.
func NewPool(ctx context.Context, cfg config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(ConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	applyDuration(cfg.MaxConnLifetime, &poolCfg.MaxConnLifetime)
	applyDuration(cfg.MaxConnIdleTime, &poolCfg.MaxConnIdleTime)
	applyDuration(cfg.HealthCheckPeriod, &poolCfg.HealthCheckPeriod)

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return pool, nil
}

// applyDuration overwrites dst when raw parses as a positive duration.
func applyDuration(raw string, dst *time.Duration) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		*dst = d
	}
}

// ConnString renders a postgres:// URL with defaults for host, port and sslmode.
func ConnString(cfg config.PostgresConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	credentials := url.PathEscape(cfg.User)
	if cfg.Password != "" {
		credentials = fmt.Sprintf("%s:%s", credentials, url.PathEscape(cfg.Password))
	}

	return fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s",
		credentials,
		host,
		port,
		url.PathEscape(cfg.Database),
		sslMode,
	)
}
