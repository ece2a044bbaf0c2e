package service

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/compare"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/jira"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/notify"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/registry"
	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

const terminationTimeout = 30 * time.Second

// Tracker is the issue tracker a filter is watched on
type Tracker interface {
	compare.DetailProvider
	ListIssues(ctx context.Context, filterID string, maxResults int) ([]storage.Issue, error)
	FilterName(ctx context.Context, filterID string) (string, error)
}

// Notifier delivers events through the configured channels
type Notifier interface {
	Notify(ctx context.Context, event notify.Event) bool
}

// InstanceRegistry records which process watches which filter
type InstanceRegistry interface {
	Register(filterID string) (*registry.Record, error)
	Unregister() error
}

// Config is the immutable configuration of a watch, built once at startup
type Config struct {
	FilterID          string
	MaxResults        int
	Schedule          cron.Schedule
	PersistEveryCycle bool
	Version           string
}

// Service orchestrates the jira-notify functionality
type Service struct {
	config   Config
	tracker  Tracker
	backend  storage.Backend
	store    *storage.SnapshotStore
	detector *compare.Detector
	notifier Notifier
	registry InstanceRegistry
	logger   *logrus.Entry

	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
	sdNotify func(state string)
}

// NewService creates a new service instance. tracker, notifier and registry may be nil
// for operations that only touch stored snapshots.
func NewService(config Config, tracker Tracker, backend storage.Backend, detector *compare.Detector, notifier Notifier, instances InstanceRegistry, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("filter", config.FilterID)

	return &Service{
		config:   config,
		tracker:  tracker,
		backend:  backend,
		store:    storage.NewSnapshotStore(backend, logger),
		detector: detector,
		notifier: notifier,
		registry: instances,
		logger:   logger,
		now:      time.Now,
		after:    time.After,
		sdNotify: func(state string) {
			if _, err := daemon.SdNotify(false, state); err != nil {
				logger.WithError(err).Debug("Cannot notify service manager")
			}
		},
	}
}

// watchState is what a running watch carries between cycles. An empty previous list
// means the baseline is unknown.
type watchState struct {
	previous []storage.Issue
}

// Watch polls the filter until ctx is cancelled or a non-transient error occurs. A cycle
// that has started always finishes, cancellation is only observed between cycles.
func (s *Service) Watch(ctx context.Context) error {
	if _, err := s.registry.Register(s.config.FilterID); err != nil {
		return fmt.Errorf("cannot register watcher: %w", err)
	}
	defer func() {
		if err := s.registry.Unregister(); err != nil {
			s.logger.WithError(err).Warn("Cannot unregister watcher")
		}
	}()

	event := notify.Event{FilterID: s.config.FilterID, Version: s.config.Version}
	if name, err := s.tracker.FilterName(ctx, s.config.FilterID); err != nil {
		s.logger.WithError(err).Warn("Cannot look up filter name")
	} else {
		event.FilterName = name
	}

	launch := event
	launch.Kind = notify.KindLaunch
	if !s.notifier.Notify(ctx, launch) {
		s.logger.Warn("No channel delivered the launch notification")
	}
	defer func() {
		termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminationTimeout)
		defer cancel()
		termination := event
		termination.Kind = notify.KindTermination
		if !s.notifier.Notify(termCtx, termination) {
			s.logger.Warn("No channel delivered the termination notification")
		}
	}()

	s.sdNotify(daemon.SdNotifyReady)
	defer s.sdNotify(daemon.SdNotifyStopping)

	state := &watchState{}
	var found bool
	state.previous, found = s.store.Load(s.config.FilterID)
	s.logger.WithFields(logrus.Fields{"snapshot": found, "issues": len(state.previous)}).Info("Watching filter")

	for {
		if ctx.Err() != nil {
			s.logger.Info("Stopping watch")
			return nil
		}

		if err := s.cycle(context.WithoutCancel(ctx), state, event); err != nil {
			if !jira.IsTransient(err) {
				return fmt.Errorf("poll of filter %s failed: %w", s.config.FilterID, err)
			}
			s.logger.WithError(err).Warn("Transient failure, skipping this poll")
		}

		now := s.now()
		next := s.config.Schedule.Next(now)
		s.logger.WithField("next", next.Format(time.DateTime)).Debug("Waiting for next poll")

		select {
		case <-ctx.Done():
			s.logger.Info("Stopping watch")
			return nil
		case <-s.after(next.Sub(now)):
		}
	}
}

// cycle runs one fetch, detect, notify and persist round
func (s *Service) cycle(ctx context.Context, state *watchState, event notify.Event) error {
	logger := s.logger.WithField("cycle", uuid.NewString()[:8])

	current, err := s.tracker.ListIssues(ctx, s.config.FilterID, s.config.MaxResults)
	if err != nil {
		return err
	}

	if len(state.previous) == 0 {
		s.store.Save(s.config.FilterID, current)
		state.previous = current
		logger.WithField("issues", len(current)).Info("Baseline established")
		return nil
	}

	changes, err := s.detector.DetectChanges(ctx, state.previous, current, s.tracker)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"issues":  len(current),
		"new":     len(changes.NewIssues),
		"updated": len(changes.UpdatedIssues),
	}).Info("Poll finished")

	if !changes.Empty() {
		event.Kind = notify.KindIssues
		event.Changes = changes
		if !s.notifier.Notify(ctx, event) {
			logger.Warn("No channel delivered the notification")
		}
	}

	if !changes.Empty() || s.config.PersistEveryCycle {
		s.store.Save(s.config.FilterID, current)
	}
	state.previous = current

	s.sdNotify(fmt.Sprintf("STATUS=%d issues, last poll %s", len(current), s.now().Format(time.DateTime)))
	return nil
}

// InspectResult is a dry run of one poll against the stored snapshot
type InspectResult struct {
	FilterID    string
	LastSaved   time.Time
	Current     []storage.Issue
	Disappeared []storage.Issue
	Changes     storage.ChangeSet
}

// Inspect fetches the filter and reports what the next poll would notify about. Nothing
// is notified or saved.
func (s *Service) Inspect(ctx context.Context) (*InspectResult, error) {
	snapshot, err := s.backend.LoadSnapshot(s.config.FilterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("no snapshot stored for filter %s", s.config.FilterID)
	}

	current, err := s.tracker.ListIssues(ctx, s.config.FilterID, s.config.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issues: %w", err)
	}

	changes, err := s.detector.DetectChanges(ctx, snapshot.Issues, current, s.tracker)
	if err != nil {
		return nil, fmt.Errorf("failed to detect changes: %w", err)
	}

	_, disappeared, _ := compare.Partition(snapshot.Issues, current)
	result := &InspectResult{
		FilterID:  s.config.FilterID,
		LastSaved: snapshot.LastSaved,
		Current:   current,
		Changes:   changes,
	}
	for _, issue := range snapshot.Issues {
		if disappeared.Has(issue.Key) {
			result.Disappeared = append(result.Disappeared, issue)
		}
	}

	return result, nil
}

// ListSnapshots returns all stored snapshots
func (s *Service) ListSnapshots() ([]storage.SnapshotListItem, error) {
	return s.backend.ListSnapshots()
}

// DeleteSnapshot removes the stored snapshot of the filter
func (s *Service) DeleteSnapshot() error {
	if !s.backend.SnapshotExists(s.config.FilterID) {
		return fmt.Errorf("no snapshot stored for filter %s", s.config.FilterID)
	}
	return s.backend.DeleteSnapshot(s.config.FilterID)
}
