package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/portal-backup/internal/runlog"
)

// StopReason records why the retry loop ended.
type StopReason string

const (
	StopComplete    StopReason = "complete"
	StopSystemic    StopReason = "systemic"
	StopExhausted   StopReason = "exhausted"
	StopUnretryable StopReason = "unretryable"
	StopCancelled   StopReason = "cancelled"
)

type RetryReport struct {
	Rounds int
	Reason StopReason
}

// retryController re-downloads failed datasets in rounds until nothing fails,
// every candidate fails (systemic), or the round budget is spent.
type retryController struct {
	attempts int
	interval time.Duration
	pause    func(ctx context.Context, d time.Duration)
	// retryable reports whether the dataset has an export that can be fetched again.
	retryable func(itemID string) bool
	download  func(ctx context.Context, itemID string)
	rebuild   func() runlog.Log
	log       zerolog.Logger
}

// run drives the loop starting from the log built after the first download
// pass. candidates is the number of datasets downloads were due for.
func (r retryController) run(ctx context.Context, current runlog.Log, candidates int) (runlog.Log, RetryReport) {
	var report RetryReport
	for {
		failed := current.Failed()
		switch {
		case len(failed) == 0:
			report.Reason = StopComplete
			return current, report
		case len(failed) == candidates:
			r.log.Error().Int("failed", len(failed)).Msg("every download failed, skipping retries")
			report.Reason = StopSystemic
			return current, report
		case report.Rounds >= r.attempts:
			r.log.Warn().Int("failed", len(failed)).Int("rounds", report.Rounds).Msg("retry budget exhausted")
			report.Reason = StopExhausted
			return current, report
		case ctx.Err() != nil:
			report.Reason = StopCancelled
			return current, report
		}

		var ids []string
		for _, o := range failed {
			if r.retryable(o.ItemID) {
				ids = append(ids, o.ItemID)
			}
		}
		if len(ids) == 0 {
			r.log.Warn().Int("failed", len(failed)).Msg("no failed dataset has an export to download")
			report.Reason = StopUnretryable
			return current, report
		}

		r.log.Info().Int("retrying", len(ids)).Int("round", report.Rounds+1).Dur("pause", r.interval).Msg("retrying failed downloads")
		r.pause(ctx, r.interval)
		for _, id := range ids {
			r.download(ctx, id)
		}
		current = r.rebuild()
		report.Rounds++
	}
}
