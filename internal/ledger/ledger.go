package ledger

import (
	"time"
)

// DateLayout is the human-readable timestamp format stored next to every epoch column.
const DateLayout = "02/01/2006 15:04:05"

// Record is the metadata observed for a dataset during the current run.
type Record struct {
	ItemID       string
	ItemName     string
	ItemTitle    string
	ModifiedTS   int64 // portal-level modification time, epoch ms
	LastEditTS   int64 // max edit time across layers and tables, epoch ms
	LastEditText string
}

// Entry is the persisted state of one dataset.
type Entry struct {
	ItemID       string
	ItemName     string
	ItemTitle    string
	UpdatedTS    int64
	LastEditText string
	LastEditTS   int64
	BackupText   string
	BackupTS     int64 // zero means never backed up
	ZipPath      string
}

// BackedUp reports whether the entry has a recorded successful backup.
func (e Entry) BackedUp() bool {
	return e.BackupTS > 0
}

func (e *Entry) observe(r Record) {
	e.ItemName = r.ItemName
	e.ItemTitle = r.ItemTitle
	e.UpdatedTS = r.ModifiedTS
	e.LastEditTS = r.LastEditTS
	e.LastEditText = r.LastEditText
}

// Ledger is an ordered set of entries keyed by item id. Values are never
// mutated in place; every operation returns a new Ledger.
type Ledger struct {
	entries []Entry
	index   map[string]int
}

// New builds a ledger from entries. A repeated item id keeps the position of
// its first occurrence and the values of its last.
func New(entries ...Entry) Ledger {
	l := Ledger{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		l.put(e)
	}
	return l
}

func (l *Ledger) put(e Entry) {
	if l.index == nil {
		l.index = map[string]int{}
	}
	if i, ok := l.index[e.ItemID]; ok {
		l.entries[i] = e
		return
	}
	l.index[e.ItemID] = len(l.entries)
	l.entries = append(l.entries, e)
}

func (l Ledger) clone() Ledger {
	out := Ledger{
		entries: make([]Entry, len(l.entries)),
		index:   make(map[string]int, len(l.entries)),
	}
	copy(out.entries, l.entries)
	for k, v := range l.index {
		out.index[k] = v
	}
	return out
}

// Len returns the number of entries.
func (l Ledger) Len() int {
	return len(l.entries)
}

// Get returns the entry for id.
func (l Ledger) Get(id string) (Entry, bool) {
	i, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Entries returns a copy of the entries in ledger order.
func (l Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// FormatTS renders an epoch-millisecond timestamp in DateLayout (UTC).
func FormatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DateLayout)
}
