package ledger

// Merge folds freshly observed records into the ledger. Matching entries get
// their observed metadata refreshed; unseen ids are appended with no backup.
// Backup fields are never touched here.
func Merge(l Ledger, records []Record) Ledger {
	out := l.clone()
	for _, r := range records {
		if i, ok := out.index[r.ItemID]; ok {
			out.entries[i].observe(r)
			continue
		}
		e := Entry{ItemID: r.ItemID}
		e.observe(r)
		out.put(e)
	}
	return out
}

// Classification splits the candidate datasets of one run.
type Classification struct {
	Stale []string
	Fresh []string
}

// IsStale reports whether id was classified as requiring export.
func (c Classification) IsStale(id string) bool {
	for _, s := range c.Stale {
		if s == id {
			return true
		}
	}
	return false
}

// Classify merges records into the ledger and decides, per record, whether
// the dataset must be exported. A dataset is stale when forceFull is set, when
// it has never been backed up, or when its last edit is strictly newer than its
// last successful backup. Order follows records.
func Classify(l Ledger, records []Record, forceFull bool) (Ledger, Classification) {
	merged := Merge(l, records)
	var cls Classification
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.ItemID]; dup {
			continue
		}
		seen[r.ItemID] = struct{}{}
		e, _ := merged.Get(r.ItemID)
		if forceFull || stale(e) {
			cls.Stale = append(cls.Stale, r.ItemID)
		} else {
			cls.Fresh = append(cls.Fresh, r.ItemID)
		}
	}
	return merged, cls
}

func stale(e Entry) bool {
	if !e.BackedUp() {
		return true
	}
	return e.BackupTS < e.LastEditTS
}
