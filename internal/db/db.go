package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/tasktrack/apiserver/config"
)

const (
	defaultDBDriver     = "postgres"
	pgxDriver           = "pgx"
	defaultPingTimeout  = 5 * time.Second
	defaultConnMaxIdle  = 2 * time.Minute
	defaultConnMaxLife  = 30 * time.Minute
	defaultMaxIdleConns = 5
	defaultMaxOpenConns = 25
)

// Open connects to Postgres through lib/pq, or through pgx when
// DB_DRIVER=pgx, and verifies the connection with a ping.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	driver, err := DriverName(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, PostgresURL(cfg.Database))
	if err != nil {
		return nil, err
	}

	db.SetConnMaxIdleTime(defaultConnMaxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLife)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetMaxOpenConns(defaultMaxOpenConns)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// DriverName maps the configured driver onto a registered database/sql driver.
func DriverName(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "pq":
		return defaultDBDriver, nil
	case pgxDriver:
		return pgxDriver, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// PostgresURL builds a postgres:// connection URL understood by both drivers
// and by golang-migrate.
func PostgresURL(cfg config.DatabaseConfig) string {
	sslmode := "disable"
	if cfg.UseSSL {
		sslmode = "require"
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:   url.UserPassword(cfg.User, cfg.Password),
		Path:   cfg.DBName,
	}

	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()

	return u.String()
}
