// Command migrate применяет встроенные миграции к Postgres или SQLite.
//
//	migrate -driver sqlite -path mall.db -direction status
//	MALL_POSTGRES_DSN=... migrate -direction down -steps 1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/storage/postgres"
	"github.com/vladislavdragonenkov/mall/internal/storage/sqlite"
)

const (
	defaultTimeout = 30 * time.Second

	envPostgresDSN = "MALL_POSTGRES_DSN"
	envSQLitePath  = "MALL_SQLITE_PATH"
)

type options struct {
	driver    string
	direction string
	steps     int
	dsn       string
	path      string
	timeout   time.Duration
}

// migrator - общее у хранилищ postgres и sqlite.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (uint, bool, error)
	Close() error
}

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	opts, err := parseOptions(args, getenv, stderr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	return run(ctx, opts, stdout)
}

func parseOptions(args []string, getenv func(string) string, output io.Writer) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(output)

	var opts options
	fs.StringVar(&opts.driver, "driver", "postgres", "storage driver: postgres|sqlite")
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply or roll back (0: all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.StringVar(&opts.path, "path", "", "SQLite file (fallback: "+envSQLitePath+")")
	fs.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.driver = strings.ToLower(strings.TrimSpace(opts.driver))
	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	opts.dsn = firstNonBlank(opts.dsn, getenv(envPostgresDSN))
	opts.path = firstNonBlank(opts.path, getenv(envSQLitePath))

	switch {
	case opts.steps < 0:
		return options{}, fmt.Errorf("steps must be >= 0, got %d", opts.steps)
	case opts.timeout <= 0:
		return options{}, fmt.Errorf("timeout must be > 0")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	var apply func(migrator) error
	switch opts.direction {
	case "up":
		apply = func(m migrator) error { return m.MigrateUp(ctx, opts.steps) }
	case "down":
		apply = func(m migrator) error { return m.MigrateDown(ctx, opts.steps) }
	case "status":
	default:
		return fmt.Errorf("unsupported direction %q (use up|down|status)", opts.direction)
	}

	store, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if apply != nil {
		if err := apply(store); err != nil {
			return fmt.Errorf("migrate %s: %w", opts.direction, err)
		}
	}

	version, dirty, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "migrate %s ok: driver=%s version=%d dirty=%t\n", opts.direction, opts.driver, version, dirty)
	return nil
}

func openStore(ctx context.Context, opts options) (migrator, error) {
	switch opts.driver {
	case "postgres":
		if opts.dsn == "" {
			return nil, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
		}
		store, err := postgres.Open(ctx, opts.dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case "sqlite":
		if opts.path == "" {
			return nil, fmt.Errorf("%s (or -path) is required", envSQLitePath)
		}
		store, err := sqlite.Open(ctx, opts.path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q (use postgres|sqlite)", opts.driver)
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
