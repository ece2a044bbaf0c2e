package storage

import (
	"time"

	"github.com/sirupsen/logrus"
)

// SnapshotStore loads and saves the last-known issue list of a filter. Persistence
// failures never surface to the caller: a snapshot that cannot be read means "no
// baseline" and a snapshot that cannot be written is logged and dropped.
type SnapshotStore struct {
	backend Backend
	logger  *logrus.Entry
	now     func() time.Time
}

// NewSnapshotStore creates a store on top of a backend
func NewSnapshotStore(backend Backend, logger *logrus.Entry) *SnapshotStore {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SnapshotStore{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// Load returns the persisted issues of a filter. found is false when there is no usable
// snapshot, either because none was saved or because it could not be read.
func (s *SnapshotStore) Load(filterID string) (issues []Issue, found bool) {
	snapshot, err := s.backend.LoadSnapshot(filterID)
	if err != nil {
		s.logger.WithError(err).Warn("Cannot load saved snapshot, starting without baseline")
		return nil, false
	}
	if snapshot == nil {
		return nil, false
	}
	return snapshot.Issues, true
}

// Save overwrites the persisted issues of a filter
func (s *SnapshotStore) Save(filterID string, issues []Issue) {
	snapshot := Snapshot{
		FilterID:  filterID,
		LastSaved: s.now(),
		Issues:    issues,
	}
	if err := s.backend.SaveSnapshot(snapshot); err != nil {
		s.logger.WithError(err).Error("Cannot save snapshot")
		return
	}
	s.logger.WithField("issues", len(issues)).Info("Saved snapshot")
}
