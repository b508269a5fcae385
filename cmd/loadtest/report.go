package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	// #nosec G306 -- отчёт нагрузочного прогона не содержит секретов.
	if err := os.WriteFile(clean, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printReport(w io.Writer, result report, cfg config) {
	fmt.Fprintln(w, "Load test summary")
	fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.target(),
		result.TotalScenarios, result.SuccessScenarios, result.RejectedScenarios, result.FailedScenarios,
		result.ErrorRate)
	fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)

	l := result.ScenarioLatencyMs
	fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		l.Min, l.Avg, l.P50, l.P95, l.P99, l.Max)

	for _, name := range slices.Sorted(maps.Keys(result.Methods)) {
		if name == callScenario {
			continue
		}
		stats := result.Methods[name]
		fmt.Fprintf(w, "%s: calls=%d success=%d rejected=%d failed=%d codes=%s p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Rejected, stats.Failed, formatCodes(stats.Codes), stats.LatencyMs.P95)
	}

	if s := result.Stock; s != nil {
		fmt.Fprintf(w, "stock: before=%d after=%d qty=%d expected_accepted=%d accepted=%d consistent=%t\n",
			s.Before, s.After, s.Quantity, s.ExpectedAccepted, s.Accepted, s.Consistent)
	}
}

func formatCodes(codes map[string]int64) string {
	parts := make([]string, 0, len(codes))
	for _, code := range slices.Sorted(maps.Keys(codes)) {
		parts = append(parts, fmt.Sprintf("%s:%d", code, codes[code]))
	}
	return strings.Join(parts, ",")
}
