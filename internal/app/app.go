package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/rowjay/portal-backup/internal/config"
	"github.com/rowjay/portal-backup/internal/ledger"
	"github.com/rowjay/portal-backup/internal/lock"
	"github.com/rowjay/portal-backup/internal/logging"
	"github.com/rowjay/portal-backup/internal/metrics"
	"github.com/rowjay/portal-backup/internal/notify"
	"github.com/rowjay/portal-backup/internal/portal"
	"github.com/rowjay/portal-backup/internal/runlog"
	"github.com/rowjay/portal-backup/internal/storage"
	"github.com/rowjay/portal-backup/internal/util"
)

// ErrOutsideWindow is returned by Run when started outside the configured schedule window.
var ErrOutsideWindow = errors.New("outside backup window")

// Clock is the subset of clock.Clock the engine needs for timestamps and pauses.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type App struct {
	Cfg      *config.Config
	Portal   portal.Portal
	Ledger   *ledger.Store
	Mirror   storage.Storage // nil when mirroring is disabled
	Log      zerolog.Logger
	Notifier notify.Notifier
	Clock    Clock
	Validate runlog.ValidateFunc
}

func New(cfg *config.Config, p portal.Portal, mirror storage.Storage, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{
		Cfg:      cfg,
		Portal:   p,
		Ledger:   ledger.NewStore(util.LedgerPath(cfg.Backup.DownloadRoot, cfg.Backup.LedgerFile)),
		Mirror:   mirror,
		Log:      log,
		Notifier: notifier,
		Clock:    clock.WallClock,
		Validate: runlog.ValidateArchive,
	}
}

type RunResult struct {
	RunID       string
	RunDate     string
	FullBackup  bool
	Log         runlog.Log
	Ledger      ledger.Ledger
	Retry       RetryReport
	Summary     runlog.Summary
	Unreadable  int // datasets skipped because their metadata could not be read
	LedgerSaved bool
	RunLogPath  string
	Mirrored    int
}

// Run performs one incremental backup pass. It returns an error only when the
// run could not start; per-dataset failures are reported in the result.
func (a *App) Run(ctx context.Context) (*RunResult, error) {
	start := a.Clock.Now()
	runID := uuid.NewString()
	log := logging.ForRun(a.Log, runID)
	runMetrics := metrics.NewRun()

	var res *RunResult
	var opErr error
	defer func() {
		a.finish(log, runID, res, runMetrics, start, opErr)
	}()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile, runID)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer guard.Release()

	window, err := util.ParseWindow(a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
	if err != nil {
		opErr = err
		return nil, err
	}
	if !window.Contains(start) {
		opErr = fmt.Errorf("%w: now %s, window %s", ErrOutsideWindow, start.Format(time.RFC3339), window)
		return nil, opErr
	}

	datasets, unreadable, err := a.discover(ctx, log)
	if err != nil {
		opErr = err
		return nil, err
	}

	runDate := util.RunDate(start)
	current, persist, degraded := a.loadLedger(ctx, log, start)
	full := a.Cfg.Backup.FullBackup || degraded

	records := make([]ledger.Record, 0, len(datasets))
	for _, d := range datasets {
		records = append(records, d.record)
	}
	merged, cls := ledger.Classify(current, records, full)
	log.Info().Int("candidates", len(records)).Int("stale", len(cls.Stale)).Int("fresh", len(cls.Fresh)).Bool("full_backup", full).Msg("classified datasets")
	if persist {
		a.saveLedger(ctx, log, merged)
	}

	handles := a.exportAll(ctx, log, datasets, cls, runDate, runMetrics)
	candidates := a.candidates(datasets, cls, handles, runDate)

	fetched := fetchedSet{}
	fetch := func(ctx context.Context, h exportHandle) {
		if a.download(ctx, log, h, runMetrics) {
			fetched[h.path()] = true
		}
	}
	if len(handles) > 0 {
		log.Info().Dur("pause", a.Cfg.Backup.SleepInterval).Int("exports", len(handles)).Msg("waiting for exports to complete")
		a.pause(ctx, a.Cfg.Backup.SleepInterval)
		for _, h := range handles {
			fetch(ctx, h)
		}
	}

	validate := fetched.validator(a.Validate)
	build := func() runlog.Log { return runlog.Build(candidates, validate) }
	retryable := func(itemID string) bool {
		_, ok := handles.byID(itemID)
		return ok
	}
	redownload := func(ctx context.Context, itemID string) {
		if h, ok := handles.byID(itemID); ok {
			fetch(ctx, h)
		}
	}
	rc := retryController{
		attempts:  a.Cfg.Backup.RetryCount,
		interval:  a.Cfg.Backup.RetryInterval,
		pause:     a.pause,
		retryable: retryable,
		download:  redownload,
		rebuild:   build,
		log:       log,
	}
	runLog, report := rc.run(ctx, build(), len(cls.Stale))

	if a.Cfg.Backup.DeleteExports {
		a.deleteExports(context.WithoutCancel(ctx), log, handles)
	}

	runLogPath := util.RunLogPath(a.Cfg.Backup.DownloadRoot, runDate)
	if runLog.Len() > 0 {
		if err := runlog.Write(runLogPath, runLog); err != nil {
			log.Warn().Err(err).Str("path", runLogPath).Msg("could not write run log")
			runLogPath = ""
		}
	} else {
		log.Info().Msg("no datasets found to back up")
		runLogPath = ""
	}

	final := ledger.Reconcile(merged, runLog, a.Clock.Now())
	saved := false
	if persist {
		saved = a.saveLedger(context.WithoutCancel(ctx), log, final)
	} else {
		log.Warn().Str("path", a.Ledger.Path).Msg("ledger left untouched because it could not be read")
	}

	res = &RunResult{
		RunID:       runID,
		RunDate:     runDate,
		FullBackup:  full,
		Log:         runLog,
		Ledger:      final,
		Retry:       report,
		Summary:     runLog.Summary(),
		Unreadable:  unreadable,
		LedgerSaved: saved,
		RunLogPath:  runLogPath,
	}
	if a.Mirror != nil {
		res.Mirrored = a.mirror(context.WithoutCancel(ctx), log, res)
	}
	return res, nil
}

// loadLedger returns the ledger to classify against, whether it may be written
// back, and whether the run must back up every dataset. A corrupt file is moved
// aside before anything overwrites it; an unreadable one is never written.
func (a *App) loadLedger(ctx context.Context, log zerolog.Logger, start time.Time) (ledger.Ledger, bool, bool) {
	current, err := a.Ledger.Load(ctx)
	switch {
	case err == nil:
		return current, true, false
	case errors.Is(err, ledger.ErrNotFound):
		log.Info().Str("path", a.Ledger.Path).Msg("no ledger yet, backing up every dataset")
		return ledger.New(), true, true
	case errors.Is(err, ledger.ErrCorrupt):
		moved, qerr := a.Ledger.Quarantine(start.UTC().Format("20060102T150405"))
		if qerr != nil {
			log.Warn().Err(err).AnErr("quarantine_error", qerr).Str("path", a.Ledger.Path).Msg("damaged ledger could not be moved aside, backing up every dataset without saving the ledger")
			return current, false, true
		}
		log.Warn().Err(err).Str("moved_to", moved).Int("salvaged", current.Len()).Msg("damaged ledger moved aside, backing up every dataset")
		return current, true, true
	default:
		log.Warn().Err(err).Str("path", a.Ledger.Path).Msg("could not read ledger, backing up every dataset without saving the ledger")
		return ledger.New(), false, true
	}
}

func (a *App) saveLedger(ctx context.Context, log zerolog.Logger, l ledger.Ledger) bool {
	if err := a.Ledger.Save(ctx, l); err != nil {
		log.Warn().Err(err).Str("path", a.Ledger.Path).Msg("could not save ledger")
		return false
	}
	log.Debug().Str("path", a.Ledger.Path).Int("entries", l.Len()).Msg("ledger saved")
	return true
}

// pause blocks for d or until ctx is done.
func (a *App) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-a.Clock.After(d):
	case <-ctx.Done():
	}
}

func (a *App) finish(log zerolog.Logger, runID string, res *RunResult, m *metrics.Run, start time.Time, opErr error) {
	end := a.Clock.Now()
	event := notify.Event{
		Type:      "backup",
		Message:   fmt.Sprintf("backup of datasets tagged %q", a.Cfg.Backup.Tag),
		RunID:     runID,
		Tag:       a.Cfg.Backup.Tag,
		StartedAt: start,
		EndedAt:   end,
		Duration:  end.Sub(start).String(),
	}
	switch {
	case opErr != nil || res == nil:
		event.Status = notify.StatusFailed
		if opErr != nil {
			event.Error = opErr.Error()
		}
		log.Error().Err(opErr).Msg("backup run did not start")
	default:
		s := res.Summary
		event.Succeeded, event.Failed, event.Skipped = s.Success, s.Fail, s.Skipped
		event.RetryRounds = res.Retry.Rounds
		event.StopReason = string(res.Retry.Reason)
		event.Status = notify.StatusSuccess
		if s.Fail > 0 || res.Unreadable > 0 {
			event.Status = notify.StatusPartial
		}
		m.Finish(s.Success, s.Fail, s.Skipped, res.Retry.Rounds, start, end)
		log.Info().
			Int("succeeded", s.Success).
			Int("failed", s.Fail).
			Int("skipped", s.Skipped).
			Int("unreadable", res.Unreadable).
			Int("retry_rounds", res.Retry.Rounds).
			Str("stop_reason", string(res.Retry.Reason)).
			Bool("ledger_saved", res.LedgerSaved).
			Dur("duration", end.Sub(start)).
			Msg("backup completed")
		for _, o := range res.Log.Failed() {
			log.Warn().Str("item_id", o.ItemID).Str("item_name", o.ItemName).Str("zip_path", o.ZipPath).Msg("backup is invalid or missing; consider a longer sleep_interval")
		}
	}

	if err := m.WriteTextfile(a.Cfg.Metrics.TextfilePath); err != nil {
		log.Warn().Err(err).Msg("could not write metrics textfile")
	}
	if a.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Notifier.Notify(ctx, event); err != nil {
		log.Warn().Err(err).Msg("notification failed")
	}
}

// Status returns the persisted ledger.
func (a *App) Status(ctx context.Context) (ledger.Ledger, error) {
	return a.Ledger.Load(ctx)
}

// Check authenticates against the portal and lists the datasets a run would consider.
func (a *App) Check(ctx context.Context) ([]ledger.Record, error) {
	datasets, _, err := a.discover(ctx, a.Log)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Record, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, d.record)
	}
	return out, nil
}
