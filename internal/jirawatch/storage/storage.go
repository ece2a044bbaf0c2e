package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const snapshotFileSuffix = ".yaml"

// FileBackend stores one pretty-printed YAML file per watched filter
type FileBackend struct {
	dataDir string
}

// NewFileBackend creates a new file-based snapshot backend
func NewFileBackend(dataDir string) *FileBackend {
	return &FileBackend{
		dataDir: dataDir,
	}
}

// ensureDataDir creates the data directory if it doesn't exist
func (b *FileBackend) ensureDataDir() error {
	return os.MkdirAll(b.dataDir, 0755)
}

// snapshotFilePath returns the file path for a given filter
func (b *FileBackend) snapshotFilePath(filterID string) string {
	return filepath.Join(b.dataDir, fmt.Sprintf("jira-%s%s", filterID, snapshotFileSuffix))
}

// SaveSnapshot writes the snapshot, replacing any previous one for the same filter
func (b *FileBackend) SaveSnapshot(snapshot Snapshot) error {
	if err := b.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Write next to the target and rename so a crash never leaves a truncated snapshot
	filePath := b.snapshotFilePath(snapshot.FilterID)
	tmp, err := os.CreateTemp(b.dataDir, ".jira-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return fmt.Errorf("failed to replace snapshot file: %w", err)
	}

	return nil
}

// LoadSnapshot loads the snapshot of a filter. It returns nil without an error when no
// snapshot was stored yet.
func (b *FileBackend) LoadSnapshot(filterID string) (*Snapshot, error) {
	data, err := os.ReadFile(b.snapshotFilePath(filterID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var snapshot Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snapshot.FilterID == "" {
		snapshot.FilterID = filterID
	}

	return &snapshot, nil
}

// ListSnapshots returns summaries of all stored snapshots, ordered by filter ID
func (b *FileBackend) ListSnapshots() ([]SnapshotListItem, error) {
	if err := b.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(b.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var items []SnapshotListItem
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "jira-") || !strings.HasSuffix(name, snapshotFileSuffix) {
			continue
		}
		filterID := strings.TrimSuffix(strings.TrimPrefix(name, "jira-"), snapshotFileSuffix)

		snapshot, err := b.LoadSnapshot(filterID)
		if err != nil || snapshot == nil {
			continue // Skip snapshots that can't be loaded
		}

		items = append(items, SnapshotListItem{
			FilterID:   filterID,
			LastSaved:  snapshot.LastSaved,
			IssueCount: len(snapshot.Issues),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].FilterID < items[j].FilterID
	})

	return items, nil
}

// DeleteSnapshot removes the snapshot of a filter
func (b *FileBackend) DeleteSnapshot(filterID string) error {
	if err := os.Remove(b.snapshotFilePath(filterID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}

	return nil
}

// SnapshotExists checks if a snapshot exists for the filter
func (b *FileBackend) SnapshotExists(filterID string) bool {
	_, err := os.Stat(b.snapshotFilePath(filterID))
	return err == nil
}

// Close is a no-op for the file backend
func (b *FileBackend) Close() error {
	return nil
}
