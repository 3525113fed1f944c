package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/rowjay/portal-backup/internal/ledger"
	"github.com/rowjay/portal-backup/internal/logging"
	"github.com/rowjay/portal-backup/internal/metrics"
	"github.com/rowjay/portal-backup/internal/runlog"
	"github.com/rowjay/portal-backup/internal/util"
)

// exportHandle ties a dataset to the portal item its export produced.
type exportHandle struct {
	ItemID       string
	ItemName     string
	ExportItemID string
	Dir          string
	FileName     string
}

// handleSet keeps export handles in export order.
type handleSet []exportHandle

func (s handleSet) byID(itemID string) (exportHandle, bool) {
	for _, h := range s {
		if h.ItemID == itemID {
			return h, true
		}
	}
	return exportHandle{}, false
}

// exportAll issues one export per stale dataset, sequentially. A failed export
// is logged and leaves the dataset without a handle.
func (a *App) exportAll(ctx context.Context, log zerolog.Logger, datasets []dataset, cls ledger.Classification, runDate string, m *metrics.Run) handleSet {
	var handles handleSet
	for _, d := range datasets {
		if !cls.IsStale(d.item.ID) {
			continue
		}
		itemLog := logging.ForDataset(log, d.item.ID, d.item.Name)
		title := util.ArchiveName(d.item.Name, runDate)
		itemLog.Info().Str("title", title).Str("format", a.Cfg.Backup.ExportFormat).Msg("exporting")
		exp, err := a.Portal.Export(ctx, d.item, title, a.Cfg.Backup.ExportFormat)
		m.ObserveExport(err)
		if err != nil {
			itemLog.Error().Err(err).Msg("export failed")
			continue
		}
		handles = append(handles, exportHandle{
			ItemID:       d.item.ID,
			ItemName:     d.item.Name,
			ExportItemID: exp.ExportItemID,
			Dir:          util.ArchiveDir(a.Cfg.Backup.DownloadRoot, d.item.Name),
			FileName:     title + util.ArchiveExt,
		})
	}
	return handles
}

// candidates describes every discovered dataset for the run-log builder.
func (a *App) candidates(datasets []dataset, cls ledger.Classification, handles handleSet, runDate string) []runlog.Candidate {
	out := make([]runlog.Candidate, 0, len(datasets))
	for _, d := range datasets {
		c := runlog.Candidate{
			ItemID:    d.item.ID,
			ItemName:  d.item.Name,
			ItemTitle: d.item.Title,
			Stale:     cls.IsStale(d.item.ID),
		}
		if c.Stale {
			c.ZipPath = util.ArchivePath(a.Cfg.Backup.DownloadRoot, d.item.Name, runDate)
			_, c.Exported = handles.byID(d.item.ID)
		}
		out = append(out, c)
	}
	return out
}

func (h exportHandle) path() string {
	return filepath.Join(h.Dir, h.FileName)
}

// fetchedSet records the archive paths whose download completed in this run.
type fetchedSet map[string]bool

// validator only accepts archives fetched in this run, so an older archive at
// the same path from an earlier run that day never passes for a fresh one.
func (f fetchedSet) validator(validate runlog.ValidateFunc) runlog.ValidateFunc {
	return func(path string) error {
		if !f[path] {
			return fmt.Errorf("%w: %s was not downloaded in this run", runlog.ErrInvalidArchive, path)
		}
		return validate(path)
	}
}

// download fetches one export into its archive folder and reports whether the
// transfer completed. A bad archive only shows up later, when it is validated.
func (a *App) download(ctx context.Context, log zerolog.Logger, h exportHandle, m *metrics.Run) bool {
	itemLog := logging.ForDataset(log, h.ItemID, h.ItemName)
	if err := os.MkdirAll(h.Dir, 0o750); err != nil {
		itemLog.Warn().Err(err).Str("dir", h.Dir).Msg("could not create archive folder")
	}
	itemLog.Info().Str("file", h.FileName).Str("dir", h.Dir).Msg("downloading")
	err := a.Portal.Download(ctx, h.ExportItemID, h.Dir, h.FileName)
	m.ObserveDownload(err)
	if err != nil {
		itemLog.Error().Err(err).Msg("download failed")
		return false
	}
	return true
}

// deleteExports removes every export artifact from the portal regardless of
// how its download ended. Failures are logged and not retried.
func (a *App) deleteExports(ctx context.Context, log zerolog.Logger, handles handleSet) {
	for _, h := range handles {
		itemLog := logging.ForDataset(log, h.ItemID, h.ItemName).With().Str("export_item_id", h.ExportItemID).Logger()
		if err := a.Portal.Delete(ctx, h.ExportItemID); err != nil {
			itemLog.Error().Err(err).Msg("could not delete export from portal")
			continue
		}
		itemLog.Debug().Msg("deleted export from portal")
	}
}
