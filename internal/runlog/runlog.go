package runlog

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zip"
)

// ErrInvalidArchive marks an archive that is missing or cannot be opened.
var ErrInvalidArchive = errors.New("invalid archive")

type Status string

const (
	StatusSuccess      Status = "success"
	StatusFail         Status = "fail"
	StatusSkippedFresh Status = "skipped-fresh"
)

// Outcome is the result for one dataset in one run.
type Outcome struct {
	ItemID    string `csv:"item_id"`
	ItemName  string `csv:"item_name"`
	ItemTitle string `csv:"item_title"`
	ZipPath   string `csv:"zip_path"`
	Status    Status `csv:"status"`
}

// Candidate is a dataset considered by the run.
type Candidate struct {
	ItemID    string
	ItemName  string
	ItemTitle string
	ZipPath   string
	Stale     bool
	// Exported is false for a stale dataset whose export call failed; it has
	// nothing to download.
	Exported bool
}

// Log is the immutable set of outcomes of one run, in candidate order.
type Log struct {
	outcomes []Outcome
}

func NewLog(outcomes ...Outcome) Log {
	out := make([]Outcome, len(outcomes))
	copy(out, outcomes)
	return Log{outcomes: out}
}

func (l Log) Outcomes() []Outcome {
	out := make([]Outcome, len(l.outcomes))
	copy(out, l.outcomes)
	return out
}

func (l Log) Len() int { return len(l.outcomes) }

// Failed returns the outcomes with StatusFail.
func (l Log) Failed() []Outcome {
	return l.filter(StatusFail)
}

// Successful returns the outcomes with StatusSuccess.
func (l Log) Successful() []Outcome {
	return l.filter(StatusSuccess)
}

func (l Log) filter(status Status) []Outcome {
	var out []Outcome
	for _, o := range l.outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

type Summary struct {
	Success int
	Fail    int
	Skipped int
}

func (l Log) Summary() Summary {
	var s Summary
	for _, o := range l.outcomes {
		switch o.Status {
		case StatusSuccess:
			s.Success++
		case StatusFail:
			s.Fail++
		case StatusSkippedFresh:
			s.Skipped++
		}
	}
	return s
}

// ValidateFunc checks the archive at path.
type ValidateFunc func(path string) error

// Build produces one outcome per candidate. Fresh candidates are skipped without
// any check; stale ones are validated against what is on disk right now.
func Build(candidates []Candidate, validate ValidateFunc) Log {
	if validate == nil {
		validate = ValidateArchive
	}
	outcomes := make([]Outcome, 0, len(candidates))
	for _, c := range candidates {
		o := Outcome{ItemID: c.ItemID, ItemName: c.ItemName, ItemTitle: c.ItemTitle}
		switch {
		case !c.Stale:
			o.Status = StatusSkippedFresh
		case !c.Exported:
			o.ZipPath = c.ZipPath
			o.Status = StatusFail
		default:
			o.ZipPath = c.ZipPath
			if err := validate(c.ZipPath); err != nil {
				o.Status = StatusFail
			} else {
				o.Status = StatusSuccess
			}
		}
		outcomes = append(outcomes, o)
	}
	return Log{outcomes: outcomes}
}

// ValidateArchive succeeds when path opens as a zip container.
func ValidateArchive(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArchive)
	}
	rc, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return rc.Close()
}
