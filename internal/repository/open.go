package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/opensource-finance/heron/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLitePath  = "./heron.db"
	defaultBusyTimeout = 5 * time.Second
	pingTimeout        = 5 * time.Second
)

// poolDefaults fills unset pool settings. Postgres serves concurrent
// ingest and the async worker; SQLite writers serialize on the file lock,
// so a small pool avoids queueing on busy_timeout.
func poolDefaults(cfg domain.RepositoryConfig) domain.RepositoryConfig {
	switch cfg.Driver {
	case "postgres":
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 25
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 10
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = 30 * time.Minute
		}
	case "sqlite":
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 4
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 4
		}
	}
	return cfg
}

// sqliteDSN builds the modernc DSN. Writes take the lock up front
// (_txlock=immediate) so the verification transaction waits on
// busy_timeout instead of failing on lock upgrade.
func sqliteDSN(cfg domain.RepositoryConfig) string {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}
	busy := cfg.SQLiteBusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// postgresDSN builds a URL DSN; credentials are escaped.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "heron"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + dbname,
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	q := url.Values{}
	q.Set("sslmode", sslmode)
	q.Set("application_name", "heron")
	q.Set("connect_timeout", strconv.Itoa(int(pingTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

// open connects to the configured database and applies pool settings.
func open(ctx context.Context, cfg domain.RepositoryConfig) (*sql.DB, error) {
	var driverName, dsn string
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		driverName, dsn = "sqlite", sqliteDSN(cfg)
	case "postgres":
		driverName, dsn = "postgres", postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidInput, cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	cfg = poolDefaults(cfg)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}
	return db, nil
}
