package ledger

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const sampleLedger = `item_id,item_name,item_title,updated_ts,last_edit_date,last_edit_date_ts,backup_date,backup_ts,zip_path
a1,Roads,Road Centrelines,1700000000000,14/11/2023 22:13:20,1700000000000,15/11/2023 01:00:00,1700010000000,/data/backups/Roads/20231115_Roads.zip
b2,Parcels,"Parcels, Cadastre",1690000000000,22/07/2023 04:26:40,1690000000000,,,
`

func TestStoreRoundTripIsByteStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Last_Successful_Backup.csv")
	if err := os.WriteFile(path, []byte(sampleLedger), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewStore(path)
	l, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
	b, _ := l.Get("b2")
	if b.BackedUp() || b.ItemTitle != "Parcels, Cadastre" {
		t.Fatalf("unexpected entry %+v", b)
	}

	if err := store.Save(context.Background(), l); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte(sampleLedger)) {
		t.Fatalf("round trip changed the file:\n%s", got)
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing.csv"))
	_, err := store.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreLoadUnparsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	bad := "item_id,item_name\na,b\n"
	if err := os.WriteFile(path, []byte(bad), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewStore(path).Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt for missing columns, got %v", err)
	}
}

func TestStoreLoadKeepsParsableRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	damaged := sampleLedger + "q9,Bad,Bad,oops,,oops,,,\n"
	if err := os.WriteFile(path, []byte(damaged), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, err := NewStore(path).Load(context.Background())
	if !errors.Is(err, ErrCorrupt) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
	if l.Len() != 2 {
		t.Fatalf("expected the 2 good rows, got %d", l.Len())
	}
	a, _ := l.Get("a1")
	if a.BackupTS != 1700010000000 || a.ZipPath != "/data/backups/Roads/20231115_Roads.zip" {
		t.Fatalf("good row lost its backup record: %+v", a)
	}
}

func TestStoreLoadUnreadableIsNotMissing(t *testing.T) {
	// A directory at the ledger path cannot be read but is not missing either.
	path := t.TempDir()
	_, err := NewStore(path).Load(context.Background())
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected a plain read error, got %v", err)
	}
}

func TestStoreQuarantine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte("broken"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	moved, err := NewStore(path).Quarantine("20260314T020000")
	if err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if moved != path+".corrupt-20260314T020000" {
		t.Fatalf("unexpected destination %s", moved)
	}
	if data, err := os.ReadFile(moved); err != nil || string(data) != "broken" {
		t.Fatalf("quarantined copy changed: %q, %v", data, err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("original should be gone, got %v", err)
	}
}

func TestStoreLoadLegacyFloatTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	legacy := "item_id,item_name,item_title,updated_ts,last_edit_date,last_edit_date_ts,backup_date,backup_ts,zip_path\n" +
		"a,A,A,1.7e+12,,1700000000000.0,,nan,\n"
	if err := os.WriteFile(path, []byte(legacy), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, err := NewStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, _ := l.Get("a")
	if a.UpdatedTS != 1700000000000 || a.LastEditTS != 1700000000000 || a.BackedUp() {
		t.Fatalf("unexpected entry %+v", a)
	}
}

func TestStoreSaveCreatesFolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.csv")
	store := NewStore(path)
	l := New(Entry{ItemID: "a", ItemName: "A", LastEditTS: 5, BackupTS: 6, BackupText: FormatTS(6), ZipPath: "a.zip"})
	if err := store.Save(context.Background(), l); err != nil {
		t.Fatalf("save: %v", err)
	}
	back, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, _ := back.Get("a")
	if a.BackupTS != 6 || a.ZipPath != "a.zip" {
		t.Fatalf("unexpected entry %+v", a)
	}
}

func TestStoreEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	store := NewStore(path)
	if err := store.Save(context.Background(), New()); err != nil {
		t.Fatalf("save: %v", err)
	}
	l, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty ledger, got %d entries", l.Len())
	}
}
