package storage

import (
	"fmt"
	"path/filepath"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"

	sqliteFileName = "snapshots.db"
)

// Backend is a durable slot per filter holding its last snapshot
type Backend interface {
	SaveSnapshot(snapshot Snapshot) error
	LoadSnapshot(filterID string) (*Snapshot, error)
	ListSnapshots() ([]SnapshotListItem, error)
	DeleteSnapshot(filterID string) error
	SnapshotExists(filterID string) bool
	Close() error
}

// Open creates the backend for the given driver rooted in dataDir
func Open(driver, dataDir string) (Backend, error) {
	switch driver {
	case "", DriverFile:
		return NewFileBackend(dataDir), nil
	case DriverSQLite:
		return NewSQLiteBackend(filepath.Join(dataDir, sqliteFileName))
	default:
		return nil, fmt.Errorf("unknown storage driver %q (valid: %s, %s)", driver, DriverFile, DriverSQLite)
	}
}
