package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/portal-backup/internal/runlog"
)

func outcome(id string, status runlog.Status) runlog.Outcome {
	return runlog.Outcome{ItemID: id, ItemName: id, Status: status}
}

type retryHarness struct {
	pauses    int
	downloads []string
	// logs are returned by rebuild, one per round.
	logs []runlog.Log
}

func (h *retryHarness) controller(attempts int) retryController {
	return retryController{
		attempts:  attempts,
		interval:  time.Minute,
		pause:     func(context.Context, time.Duration) { h.pauses++ },
		retryable: func(itemID string) bool { return itemID != "noexport" },
		download:  func(_ context.Context, itemID string) { h.downloads = append(h.downloads, itemID) },
		rebuild: func() runlog.Log {
			l := h.logs[0]
			if len(h.logs) > 1 {
				h.logs = h.logs[1:]
			}
			return l
		},
		log: zerolog.Nop(),
	}
}

func TestRetryStopsWhenNothingFails(t *testing.T) {
	h := &retryHarness{}
	_, report := h.controller(3).run(context.Background(), runlog.NewLog(outcome("a", runlog.StatusSuccess)), 1)
	if report.Reason != StopComplete || h.pauses != 0 {
		t.Fatalf("unexpected report %+v after %d pauses", report, h.pauses)
	}
}

func TestRetrySystemicFailureConsumesNoBudget(t *testing.T) {
	h := &retryHarness{}
	start := runlog.NewLog(outcome("a", runlog.StatusFail), outcome("b", runlog.StatusFail), outcome("c", runlog.StatusSkippedFresh))
	_, report := h.controller(3).run(context.Background(), start, 2)
	if report.Reason != StopSystemic || report.Rounds != 0 || h.pauses != 0 || len(h.downloads) != 0 {
		t.Fatalf("unexpected report %+v, pauses %d, downloads %v", report, h.pauses, h.downloads)
	}
}

func TestRetryBoundedByAttempts(t *testing.T) {
	failing := runlog.NewLog(outcome("a", runlog.StatusSuccess), outcome("b", runlog.StatusFail))
	h := &retryHarness{logs: []runlog.Log{failing}}
	final, report := h.controller(4).run(context.Background(), failing, 2)
	if report.Reason != StopExhausted || report.Rounds != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
	if h.pauses != 4 || len(h.downloads) != 4 {
		t.Fatalf("expected 4 pauses and downloads, got %d and %v", h.pauses, h.downloads)
	}
	if final.Summary().Fail != 1 {
		t.Fatalf("final log should keep the failure, got %+v", final.Summary())
	}
}

func TestRetryOnlyRedownloadsFailures(t *testing.T) {
	start := runlog.NewLog(outcome("a", runlog.StatusSuccess), outcome("b", runlog.StatusFail), outcome("c", runlog.StatusFail))
	recovered := runlog.NewLog(outcome("a", runlog.StatusSuccess), outcome("b", runlog.StatusSuccess), outcome("c", runlog.StatusSuccess))
	h := &retryHarness{logs: []runlog.Log{recovered}}
	_, report := h.controller(3).run(context.Background(), start, 3)
	if report.Reason != StopComplete || report.Rounds != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(h.downloads) != 2 || h.downloads[0] != "b" || h.downloads[1] != "c" {
		t.Fatalf("unexpected downloads %v", h.downloads)
	}
}

func TestRetryUnretryableFailures(t *testing.T) {
	h := &retryHarness{}
	start := runlog.NewLog(outcome("a", runlog.StatusSuccess), outcome("noexport", runlog.StatusFail))
	_, report := h.controller(3).run(context.Background(), start, 2)
	if report.Reason != StopUnretryable || h.pauses != 0 {
		t.Fatalf("unexpected report %+v after %d pauses", report, h.pauses)
	}
}

func TestRetryZeroAttempts(t *testing.T) {
	h := &retryHarness{}
	start := runlog.NewLog(outcome("a", runlog.StatusSuccess), outcome("b", runlog.StatusFail))
	_, report := h.controller(0).run(context.Background(), start, 2)
	if report.Reason != StopExhausted || report.Rounds != 0 || h.pauses != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}
