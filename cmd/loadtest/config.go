package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"
)

type loadMode string

const (
	modePlace     loadMode = "place"
	modePlaceRead loadMode = "place-read"
)

func (m *loadMode) String() string { return string(*m) }

func (m *loadMode) Set(value string) error {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modePlace, modePlaceRead:
		*m = mode
		return nil
	default:
		return fmt.Errorf("unsupported mode %q (want %s or %s)", value, modePlace, modePlaceRead)
	}
}

type config struct {
	baseURL     string
	concurrency int
	timeout     time.Duration
	mode        loadMode

	// total ограничивает число сценариев. С duration ограничение действует,
	// только если флаг задан явно.
	total    int
	totalSet bool
	duration time.Duration

	userID     int64
	productID  int64
	quantity   int
	idempotent bool
	outputPath string
}

// maxScenarios возвращает предел сценариев; 0 - без предела.
func (c config) maxScenarios() int {
	if c.duration > 0 && !c.totalSet {
		return 0
	}
	return c.total
}

func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("count:%d", c.total)
	case c.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", c.duration, c.total)
	default:
		return fmt.Sprintf("duration:%s", c.duration)
	}
}

func parseConfig(args []string, output io.Writer) (config, error) {
	cfg := config{mode: modePlace}

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "REST API base URL")
	fs.IntVar(&cfg.total, "total", 100, "scenarios to run; with -duration acts as an upper bound only when set")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for a fixed time instead of a fixed count (e.g. 1m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.Var(&cfg.mode, "mode", "scenario: place | place-read")
	fs.Int64Var(&cfg.userID, "user-id", 1, "buyer user id")
	fs.Int64Var(&cfg.productID, "product-id", 1, "product to buy")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.BoolVar(&cfg.idempotent, "idempotent", false, "send a unique Idempotency-Key with every order")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if c.baseURL == "" {
		errs = append(errs, errors.New("base-url is required"))
	}
	if c.duration < 0 {
		errs = append(errs, errors.New("duration must be >= 0"))
	}
	if (c.duration == 0 || c.totalSet) && c.total <= 0 {
		errs = append(errs, errors.New("total must be > 0"))
	}
	if c.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if c.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if c.userID <= 0 || c.productID <= 0 {
		errs = append(errs, errors.New("user-id and product-id must be > 0"))
	}
	if c.quantity <= 0 {
		errs = append(errs, errors.New("quantity must be > 0"))
	}
	return errors.Join(errs...)
}
