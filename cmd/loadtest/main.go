// Команда loadtest гоняет сценарии оформления заказа против REST API и
// сверяет остаток товара до и после: под конкурентной нагрузкой принятых
// заказов должно быть ровно столько, сколько хватило остатка.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var errRunUnhealthy = errors.New("load test finished with failed scenarios or inconsistent stock")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		return err
	}

	client := &shopClient{http: newHTTPClient(cfg), baseURL: cfg.baseURL}
	result := newRunner(cfg, client).run(ctx)

	printReport(stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return err
		}
	}
	if !result.healthy() {
		return errRunUnhealthy
	}
	return nil
}
