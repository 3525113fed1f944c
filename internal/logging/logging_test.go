package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONCarriesRunID(t *testing.T) {
	var buf bytes.Buffer
	log := ForRun(New(&buf, "debug", "json"), "run-1")
	log.Info().Str("item_id", "abc").Msg("exported")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line["run_id"] != "run-1" || line["item_id"] != "abc" || line["message"] != "exported" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "chatty", "json")
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line should be filtered: %s", buf.String())
	}
	log.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatalf("info line should be written")
	}
}

func TestForDatasetOmitsEmptyName(t *testing.T) {
	var buf bytes.Buffer
	log := ForDataset(New(&buf, "", "json"), "abc", "")
	log.Warn().Msg("download failed")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if line["item_id"] != "abc" || line["level"] != "warn" {
		t.Fatalf("unexpected log line: %v", line)
	}
	if _, ok := line["item_name"]; ok {
		t.Fatalf("empty item_name should be omitted: %v", line)
	}
}
