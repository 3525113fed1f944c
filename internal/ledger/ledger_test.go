package ledger

import (
	"testing"
	"time"

	"github.com/rowjay/portal-backup/internal/runlog"
)

func rec(id string, lastEdit int64) Record {
	return Record{ItemID: id, ItemName: "name-" + id, ItemTitle: "title-" + id, ModifiedTS: lastEdit, LastEditTS: lastEdit, LastEditText: FormatTS(lastEdit)}
}

func TestMergeIntoEmptyLedger(t *testing.T) {
	l := Merge(New(), []Record{rec("a", 10), rec("b", 20)})
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
	for _, e := range l.Entries() {
		if e.BackedUp() {
			t.Fatalf("new entry %s should not be backed up", e.ItemID)
		}
	}
}

func TestMergeRefreshesMetadataAndKeepsBackup(t *testing.T) {
	base := New(Entry{ItemID: "a", ItemName: "old", LastEditTS: 5, BackupTS: 7, BackupText: "x", ZipPath: "p.zip"})
	merged := Merge(base, []Record{rec("a", 9), rec("b", 1)})

	a, _ := merged.Get("a")
	if a.ItemName != "name-a" || a.LastEditTS != 9 {
		t.Fatalf("metadata not refreshed: %+v", a)
	}
	if a.BackupTS != 7 || a.ZipPath != "p.zip" || a.BackupText != "x" {
		t.Fatalf("backup fields changed: %+v", a)
	}
	if ids := []string{merged.Entries()[0].ItemID, merged.Entries()[1].ItemID}; ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected order %v", ids)
	}
	if old, _ := base.Get("a"); old.ItemName != "old" {
		t.Fatalf("merge mutated its input: %+v", old)
	}
}

func TestMergeNeverDuplicatesKeys(t *testing.T) {
	l := Merge(New(), []Record{rec("a", 1), rec("a", 2), rec("b", 3)})
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
	if a, _ := l.Get("a"); a.LastEditTS != 2 {
		t.Fatalf("last record should win, got %+v", a)
	}
}

func TestClassify(t *testing.T) {
	base := New(
		Entry{ItemID: "equal", BackupTS: 100},
		Entry{ItemID: "edited", BackupTS: 100},
		Entry{ItemID: "older", BackupTS: 200},
		Entry{ItemID: "never"},
	)
	records := []Record{rec("equal", 100), rec("edited", 101), rec("older", 150), rec("never", 1), rec("new", 1)}

	tests := []struct {
		name      string
		forceFull bool
		stale     []string
	}{
		{name: "incremental", stale: []string{"edited", "never", "new"}},
		{name: "full", forceFull: true, stale: []string{"equal", "edited", "older", "never", "new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, cls := Classify(base, records, tt.forceFull)
			if len(cls.Stale) != len(tt.stale) {
				t.Fatalf("stale = %v, want %v", cls.Stale, tt.stale)
			}
			for i, id := range tt.stale {
				if cls.Stale[i] != id {
					t.Fatalf("stale = %v, want %v", cls.Stale, tt.stale)
				}
			}
			if len(cls.Stale)+len(cls.Fresh) != len(records) {
				t.Fatalf("every record must be classified: %+v", cls)
			}
		})
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	base := New(Entry{ItemID: "a", BackupTS: 10}, Entry{ItemID: "b", BackupTS: 50})
	records := []Record{rec("a", 20), rec("b", 50), rec("c", 5)}

	_, first := Classify(base, records, false)
	_, second := Classify(base, records, false)
	if len(first.Stale) != len(second.Stale) {
		t.Fatalf("classification changed: %v vs %v", first.Stale, second.Stale)
	}
	for i := range first.Stale {
		if first.Stale[i] != second.Stale[i] {
			t.Fatalf("classification changed: %v vs %v", first.Stale, second.Stale)
		}
	}
	if !first.IsStale("a") || first.IsStale("b") || !first.IsStale("c") {
		t.Fatalf("unexpected classification %+v", first)
	}
}

func TestReconcileAdvancesOnlySuccess(t *testing.T) {
	now := time.UnixMilli(5000)
	base := New(
		Entry{ItemID: "ok", ItemName: "ok", BackupTS: 100, BackupText: FormatTS(100), ZipPath: "old-ok.zip"},
		Entry{ItemID: "bad", ItemName: "bad", BackupTS: 100, BackupText: FormatTS(100), ZipPath: "old-bad.zip"},
		Entry{ItemID: "fresh", ItemName: "fresh", BackupTS: 100, BackupText: FormatTS(100), ZipPath: "old-fresh.zip"},
	)
	log := runlog.NewLog(
		runlog.Outcome{ItemID: "ok", ItemName: "ok2", ZipPath: "new-ok.zip", Status: runlog.StatusSuccess},
		runlog.Outcome{ItemID: "bad", ItemName: "bad2", ZipPath: "new-bad.zip", Status: runlog.StatusFail},
		runlog.Outcome{ItemID: "fresh", ItemName: "fresh2", Status: runlog.StatusSkippedFresh},
		runlog.Outcome{ItemID: "added", ItemName: "added", ZipPath: "added.zip", Status: runlog.StatusSuccess},
	)

	out := Reconcile(base, log, now)

	ok, _ := out.Get("ok")
	if ok.BackupTS != 5000 || ok.BackupText != FormatTS(5000) || ok.ZipPath != "new-ok.zip" || ok.ItemName != "ok2" {
		t.Fatalf("unexpected success entry %+v", ok)
	}
	for _, id := range []string{"bad", "fresh"} {
		e, _ := out.Get(id)
		if e.BackupTS != 100 || e.ZipPath != "old-"+id+".zip" {
			t.Fatalf("%s backup fields changed: %+v", id, e)
		}
		if e.ItemName != id+"2" {
			t.Fatalf("%s metadata not refreshed: %+v", id, e)
		}
	}
	added, ok2 := out.Get("added")
	if !ok2 || added.BackupTS != 5000 {
		t.Fatalf("missing upserted entry: %+v", added)
	}
	if out.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", out.Len())
	}
}

func TestReconcileNeverRegressesBackupTS(t *testing.T) {
	l := New(Entry{ItemID: "a"})
	success := runlog.NewLog(runlog.Outcome{ItemID: "a", Status: runlog.StatusSuccess, ZipPath: "a.zip"})
	fail := runlog.NewLog(runlog.Outcome{ItemID: "a", Status: runlog.StatusFail, ZipPath: "a.zip"})

	var prev int64
	steps := []struct {
		log runlog.Log
		now int64
	}{
		{success, 1000},
		{fail, 2000},
		{success, 500}, // clock stepped backwards
		{success, 3000},
	}
	for i, s := range steps {
		l = Reconcile(l, s.log, time.UnixMilli(s.now))
		e, _ := l.Get("a")
		if e.BackupTS < prev {
			t.Fatalf("step %d: backup_ts regressed from %d to %d", i, prev, e.BackupTS)
		}
		prev = e.BackupTS
	}
	if prev != 3000 {
		t.Fatalf("unexpected final backup_ts %d", prev)
	}
}

func TestFormatTS(t *testing.T) {
	if got := FormatTS(0); got != "01/01/1970 00:00:00" {
		t.Fatalf("unexpected format %q", got)
	}
}
