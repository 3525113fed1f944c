package runlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
)

// Write stores the log as CSV at path, creating the folder if needed.
func Write(path string, l Log) error {
	payload, err := csvutil.Marshal(l.Outcomes())
	if err != nil {
		return fmt.Errorf("encode run log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	return os.WriteFile(path, payload, 0o640)
}

// Read loads a run log written by Write.
func Read(path string) (Log, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Log{}, err
	}
	var outcomes []Outcome
	if err := csvutil.Unmarshal(data, &outcomes); err != nil {
		return Log{}, fmt.Errorf("decode run log: %w", err)
	}
	return Log{outcomes: outcomes}, nil
}
