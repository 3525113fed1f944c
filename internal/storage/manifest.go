package storage

import "time"

const ManifestSuffix = ".manifest.json"

// Manifest describes one mirrored archive.
type Manifest struct {
	RunID       string    `json:"run_id"`
	Key         string    `json:"key"`
	ItemID      string    `json:"item_id"`
	ItemName    string    `json:"item_name"`
	ItemTitle   string    `json:"item_title"`
	SourcePath  string    `json:"source_path"`
	Compression string    `json:"compression"`
	Encryption  bool      `json:"encryption"`
	CreatedAt   time.Time `json:"created_at"`
	SourceBytes int64     `json:"source_bytes"`
	StoredBytes int64     `json:"stored_bytes"`
	ToolVersion string    `json:"tool_version"`
}

func ManifestKey(objectKey string) string {
	return objectKey + ManifestSuffix
}
