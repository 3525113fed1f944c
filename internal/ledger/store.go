package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jszwec/csvutil"
)

var (
	// ErrNotFound means no ledger file exists yet. Callers start from an empty
	// ledger and may write a fresh one.
	ErrNotFound = errors.New("ledger not found")
	// ErrCorrupt means the file exists but some or all of it cannot be parsed.
	// Load still returns every row it could read.
	ErrCorrupt = errors.New("ledger is corrupt")
)

type row struct {
	ItemID         string `csv:"item_id"`
	ItemName       string `csv:"item_name"`
	ItemTitle      string `csv:"item_title"`
	UpdatedTS      string `csv:"updated_ts"`
	LastEditDate   string `csv:"last_edit_date"`
	LastEditDateTS string `csv:"last_edit_date_ts"`
	BackupDate     string `csv:"backup_date"`
	BackupTS       string `csv:"backup_ts"`
	ZipPath        string `csv:"zip_path"`
}

// Store persists the ledger as a CSV file.
type Store struct {
	Path string
}

func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Load reads the ledger. A missing file wraps ErrNotFound and a damaged one
// wraps ErrCorrupt alongside the rows that did parse. Any other error means
// the file could not be read at all.
func (s *Store) Load(ctx context.Context) (Ledger, error) {
	select {
	case <-ctx.Done():
		return Ledger{}, ctx.Err()
	default:
	}

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Ledger{}, fmt.Errorf("%w: %s", ErrNotFound, s.Path)
	}
	if err != nil {
		return Ledger{}, fmt.Errorf("read ledger: %w", err)
	}
	rows, err := decodeRows(data)
	if err != nil {
		return New(), fmt.Errorf("%w: parse %s: %v", ErrCorrupt, s.Path, err)
	}
	entries := make([]Entry, 0, len(rows))
	var bad []error
	for i, r := range rows {
		if r.ItemID == "" {
			continue
		}
		e, err := r.entry()
		if err != nil {
			bad = append(bad, fmt.Errorf("row %d: %v", i+2, err))
			continue
		}
		entries = append(entries, e)
	}
	l := New(entries...)
	if len(bad) > 0 {
		return l, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.Path, errors.Join(bad...))
	}
	return l, nil
}

// Quarantine renames the ledger file to path.corrupt-<suffix> so a damaged
// copy survives the next Save.
func (s *Store) Quarantine(suffix string) (string, error) {
	dst := s.Path + ".corrupt-" + suffix
	if err := os.Rename(s.Path, dst); err != nil {
		return "", fmt.Errorf("quarantine ledger: %w", err)
	}
	return dst, nil
}

// Save writes the ledger atomically, creating the parent folder if needed.
func (s *Store) Save(ctx context.Context, l Ledger) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	payload, err := Encode(l)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.csv")
	if err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Encode renders the ledger in its file format.
func Encode(l Ledger) ([]byte, error) {
	rows := make([]row, 0, l.Len())
	for _, e := range l.entries {
		rows = append(rows, rowFromEntry(e))
	}
	return csvutil.Marshal(rows)
}

func decodeRows(data []byte) ([]row, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(bytes.NewReader(data)))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	dec.DisallowMissingColumns = true
	var rows []row
	if err := dec.Decode(&rows); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows, nil
}

func (r row) entry() (Entry, error) {
	updated, err := parseTS(r.UpdatedTS)
	if err != nil {
		return Entry{}, fmt.Errorf("updated_ts: %w", err)
	}
	lastEdit, err := parseTS(r.LastEditDateTS)
	if err != nil {
		return Entry{}, fmt.Errorf("last_edit_date_ts: %w", err)
	}
	backup, err := parseTS(r.BackupTS)
	if err != nil {
		return Entry{}, fmt.Errorf("backup_ts: %w", err)
	}
	return Entry{
		ItemID:       r.ItemID,
		ItemName:     r.ItemName,
		ItemTitle:    r.ItemTitle,
		UpdatedTS:    updated,
		LastEditText: r.LastEditDate,
		LastEditTS:   lastEdit,
		BackupText:   r.BackupDate,
		BackupTS:     backup,
		ZipPath:      r.ZipPath,
	}, nil
}

func rowFromEntry(e Entry) row {
	r := row{
		ItemID:         e.ItemID,
		ItemName:       e.ItemName,
		ItemTitle:      e.ItemTitle,
		UpdatedTS:      strconv.FormatInt(e.UpdatedTS, 10),
		LastEditDate:   e.LastEditText,
		LastEditDateTS: strconv.FormatInt(e.LastEditTS, 10),
		ZipPath:        e.ZipPath,
	}
	if e.BackedUp() {
		r.BackupTS = strconv.FormatInt(e.BackupTS, 10)
		r.BackupDate = e.BackupText
	}
	return r
}

// parseTS accepts integer milliseconds, an empty cell (zero), and the
// float form ("1.5e+12", "1568000000000.0") older tools wrote.
func parseTS(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) {
		return 0, nil
	}
	if math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return int64(f), nil
}
