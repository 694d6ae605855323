// Package batch applies one operation across many targets with per-item
// failure isolation: one bad target never aborts the rest, and the report
// accounts for every input in order.
package batch

import (
	"fmt"
	"log/slog"
)

// ItemResult records one target's outcome. Status is "ok" on success and a
// short error description otherwise.
type ItemResult struct {
	Target string `json:"target"`
	Status string `json:"status"`
}

// Report summarizes a batch run.
type Report struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Results []ItemResult `json:"results"`
}

// Ok reports whether every item succeeded and at least one item ran.
func (r Report) Ok() bool {
	return r.Total > 0 && r.Failed == 0
}

// Run applies op to each target in order. Errors are recorded per item and
// never abort the remaining targets. Retry is not batch-level concern; the
// session layer already retries transient failures per call.
func Run(logger *slog.Logger, targets []string, op func(target string) error) Report {
	report := Report{
		Total:   len(targets),
		Results: make([]ItemResult, 0, len(targets)),
	}
	for _, target := range targets {
		if err := op(target); err != nil {
			report.Failed++
			report.Results = append(report.Results, ItemResult{Target: target, Status: err.Error()})
			logger.Warn("batch item failed",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Success++
		report.Results = append(report.Results, ItemResult{Target: target, Status: "ok"})
	}
	return report
}

// Summary renders the counters for a human-facing result message.
func (r Report) Summary(verb string) string {
	return fmt.Sprintf("%s %d of %d messages (%d failed)", verb, r.Success, r.Total, r.Failed)
}
