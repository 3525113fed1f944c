package util

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

const (
	RunDateLayout = "20060102"
	ArchiveExt    = ".zip"
	backupsFolder = "backups"
	logsFolder    = "logs"
	runLogSuffix  = "_backup_run_log.csv"
	defaultLedger = "Last_Successful_Backup.csv"
)

// RunDate formats the date component used in archive and run log names.
func RunDate(when time.Time) string {
	return when.Format(RunDateLayout)
}

// ArchiveName is the export title and the stem of the downloaded archive.
func ArchiveName(datasetName, runDate string) string {
	return runDate + "_" + datasetName
}

// ArchiveDir is the folder holding every archive of one dataset.
func ArchiveDir(root, datasetName string) string {
	return filepath.Join(root, backupsFolder, datasetName)
}

// ArchivePath returns {root}/backups/{name}/{date}_{name}.zip.
func ArchivePath(root, datasetName, runDate string) string {
	return filepath.Join(ArchiveDir(root, datasetName), ArchiveName(datasetName, runDate)+ArchiveExt)
}

// RunLogPath returns {root}/logs/{date}_backup_run_log.csv.
func RunLogPath(root, runDate string) string {
	return filepath.Join(root, logsFolder, runDate+runLogSuffix)
}

// LedgerPath returns the ledger file under root.
func LedgerPath(root, file string) string {
	if file == "" {
		file = defaultLedger
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(root, file)
}

// BuildObjectKey constructs a normalized object key for a mirrored file.
func BuildObjectKey(prefix, datasetName, fileName string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	if datasetName != "" {
		parts = append(parts, datasetName)
	}
	parts = append(parts, fileName)
	return path.Join(parts...)
}
