package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/skyofdwarf/jira-notify/internal/jirawatch/storage"
)

// ErrNotConfigured is returned by channels that lack the credentials or tools to deliver
var ErrNotConfigured = errors.New("channel not configured")

// Kind tells channels what an event announces
type Kind int

const (
	KindIssues Kind = iota
	KindLaunch
	KindTermination
)

func (k Kind) String() string {
	switch k {
	case KindLaunch:
		return "launch"
	case KindTermination:
		return "termination"
	default:
		return "issues"
	}
}

// Event is everything a channel needs to render one notification
type Event struct {
	Kind       Kind
	FilterID   string
	FilterName string
	Version    string
	Changes    storage.ChangeSet
}

// Label is the filter name when known, the filter ID otherwise
func (e Event) Label() string {
	if e.FilterName != "" {
		return e.FilterName
	}
	return e.FilterID
}

// Channel delivers events to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Linker builds browser links for issues and filters
type Linker interface {
	IssueURL(key string) string
	FilterURL(filterID string) string
}

// Router delivers an event through the first channel able to take it
type Router struct {
	channels []Channel
	logger   *logrus.Entry
}

// NewRouter creates a router trying channels in the given order
func NewRouter(logger *logrus.Entry, channels ...Channel) *Router {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Router{
		channels: channels,
		logger:   logger,
	}
}

// Channels returns the names of the configured channels in routing order
func (r *Router) Channels() []string {
	names := make([]string, 0, len(r.channels))
	for _, channel := range r.channels {
		names = append(names, channel.Name())
	}
	return names
}

// Notify tries each channel in order and stops at the first one that delivers. It
// returns false when no channel delivered the event.
func (r *Router) Notify(ctx context.Context, event Event) bool {
	logger := r.logger.WithField("event", event.Kind.String())

	for _, channel := range r.channels {
		err := channel.Send(ctx, event)
		if err == nil {
			logger.WithField("channel", channel.Name()).Debug("Notification delivered")
			return true
		}
		if errors.Is(err, ErrNotConfigured) {
			logger.WithField("channel", channel.Name()).Debug("Channel not configured, skipping")
			continue
		}
		logger.WithError(err).WithField("channel", channel.Name()).Warn("Channel failed to deliver notification")
	}

	return false
}
