// Package postgres подключает общее SQL-хранилище к PostgreSQL через pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/mall/internal/storage/sqlstore"
)

const (
	defaultPingTimeout = 5 * time.Second
	defaultMaxConns    = 25

	uniqueViolationCode      = "23505"
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
)

var errNotInitialized = errors.New("postgres store is not initialized")

// Dialect описывает PostgreSQL для общего SQL-хранилища.
var Dialect = sqlstore.Dialect{
	Name:                 "postgres",
	NumberedPlaceholders: true,
	IsUniqueViolation: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
	},
	IsLockConflict: func(err error) bool {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			return false
		}
		return pgErr.Code == deadlockDetectedCode || pgErr.Code == serializationFailureCode
	},
}

type settings struct {
	maxConns    int
	pingTimeout time.Duration
}

// Option настраивает подключение.
type Option func(*settings)

// WithMaxConns ограничивает пул соединений, открытых и простаивающих.
func WithMaxConns(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithPingTimeout ограничивает проверку доступности при открытии.
func WithPingTimeout(timeout time.Duration) Option {
	return func(s *settings) {
		if timeout > 0 {
			s.pingTimeout = timeout
		}
	}
}

// Store - хранилище каталога, заказов, outbox и ключей идемпотентности в PostgreSQL.
type Store struct {
	*sqlstore.Store
	conn     *pgx.ConnConfig
	settings settings
}

// Open разбирает DSN, открывает пул и проверяет доступность базы.
// Некорректный DSN отклоняется до любого сетевого обращения.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	conn, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	s := settings{maxConns: defaultMaxConns, pingTimeout: defaultPingTimeout}
	for _, opt := range opts {
		opt(&s)
	}

	db := stdlib.OpenDB(*conn)
	db.SetMaxOpenConns(s.maxConns)
	db.SetMaxIdleConns(s.maxConns)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := ping(ctx, db, s.pingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: sqlstore.New(db, Dialect), conn: conn, settings: s}, nil
}

func ping(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Target описывает базу для логов без учётных данных.
func (s *Store) Target() string {
	if s == nil || s.conn == nil {
		return ""
	}
	return s.conn.Host + ":" + strconv.Itoa(int(s.conn.Port)) + "/" + s.conn.Database
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.Store == nil {
		return errNotInitialized
	}
	return s.Store.Ping(ctx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул. Nil-хранилище закрывать можно.
func (s *Store) Close() error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.Close()
}
