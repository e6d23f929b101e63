package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/quizdesk/quizstore/config"
)

const (
	driverName     = "postgres"
	applicationTag = "quizstore"
	connectTimeout = 5 * time.Second
)

// pool sizes the connection pool. Migrations import in a handful of
// transactions, so the serving limits are enough for them too.
var pool = struct {
	maxOpen, maxIdle int
	idleTime, life   time.Duration
}{
	maxOpen:  20,
	maxIdle:  4,
	idleTime: 2 * time.Minute,
	life:     30 * time.Minute,
}

// DSN renders cfg as a postgres URL usable by both lib/pq and the schema
// migrator.
func DSN(cfg config.DatabaseConfig) string {
	q := url.Values{}
	q.Set("application_name", applicationTag)
	q.Set("connect_timeout", strconv.Itoa(int(connectTimeout.Seconds())))
	q.Set("sslmode", "disable")
	if cfg.UseSSL {
		q.Set("sslmode", "require")
	}

	u := url.URL{
		Scheme:   driverName,
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open returns a pooled handle to the quiz database once it answers a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	conn, err := sql.Open(driverName, DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(pool.maxOpen)
	conn.SetMaxIdleConns(pool.maxIdle)
	conn.SetConnMaxIdleTime(pool.idleTime)
	conn.SetConnMaxLifetime(pool.life)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping postgres at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return conn, nil
}
