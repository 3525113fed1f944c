package ledger

import (
	"time"

	"github.com/rowjay/portal-backup/internal/runlog"
)

// Reconcile merges a run log into the ledger. Every outcome refreshes the
// entry's name and title (inserting the entry if needed); only successful
// outcomes advance the backup fields. BackupTS never moves backwards.
func Reconcile(l Ledger, log runlog.Log, now time.Time) Ledger {
	out := l.clone()
	nowMS := now.UnixMilli()
	for _, o := range log.Outcomes() {
		e, _ := out.Get(o.ItemID)
		e.ItemID = o.ItemID
		e.ItemName = o.ItemName
		e.ItemTitle = o.ItemTitle
		if o.Status == runlog.StatusSuccess {
			ts := nowMS
			if e.BackupTS > ts {
				ts = e.BackupTS
			}
			e.BackupTS = ts
			e.BackupText = FormatTS(ts)
			e.ZipPath = o.ZipPath
		}
		out.put(e)
	}
	return out
}
