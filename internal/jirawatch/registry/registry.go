package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const recordSuffix = ".filter"

// ErrAlreadyWatched is returned when a live process already watches the filter
var ErrAlreadyWatched = errors.New("filter is already watched by another process")

// Record describes one running watcher
type Record struct {
	PID        int       `yaml:"pid"`
	FilterID   string    `yaml:"filter_id"`
	InstanceID string    `yaml:"instance_id"`
	StartedAt  time.Time `yaml:"started_at"`
	Alive      bool      `yaml:"-"`
}

// Registry keeps one record file per running watcher, named after its PID
type Registry struct {
	dir   string
	pid   int
	alive func(pid int) bool
	now   func() time.Time

	registered *Record
}

// New creates a registry storing records in dir
func New(dir string) *Registry {
	return &Registry{
		dir:   dir,
		pid:   os.Getpid(),
		alive: processAlive,
		now:   time.Now,
	}
}

// DefaultDir returns the directory holding watcher records, preferring XDG_RUNTIME_DIR
func DefaultDir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "jira-notify"), nil
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot obtain user cache dir: %w", err)
	}
	return filepath.Join(cacheDir, "jira-notify", "instances"), nil
}

// Register records the current process as the watcher of filterID. Records left behind
// by dead processes are removed on the way.
func (r *Registry) Register(filterID string) (*Record, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	records, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if record.PID == r.pid {
			continue
		}
		if !record.Alive {
			_ = os.Remove(r.recordPath(record.PID))
			continue
		}
		if record.FilterID == filterID {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyWatched, record.PID)
		}
	}

	record := &Record{
		PID:        r.pid,
		FilterID:   filterID,
		InstanceID: uuid.NewString(),
		StartedAt:  r.now(),
	}
	data, err := yaml.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := os.WriteFile(r.recordPath(r.pid), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write record: %w", err)
	}

	record.Alive = true
	r.registered = record
	return record, nil
}

// Unregister removes the record of the current process. It is safe to call when nothing
// was registered.
func (r *Registry) Unregister() error {
	if r.registered == nil {
		return nil
	}
	if err := os.Remove(r.recordPath(r.pid)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove record: %w", err)
	}
	r.registered = nil
	return nil
}

// List returns all records ordered by filter ID, marking those whose process is gone
func (r *Registry) List() ([]Record, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry directory: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSuffix(name, recordSuffix))
		if err != nil {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			continue
		}
		var record Record
		if err := yaml.Unmarshal(data, &record); err != nil {
			continue
		}
		record.PID = pid
		record.Alive = r.alive(pid)
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].FilterID != records[j].FilterID {
			return records[i].FilterID < records[j].FilterID
		}
		return records[i].PID < records[j].PID
	})

	return records, nil
}

func (r *Registry) recordPath(pid int) string {
	return filepath.Join(r.dir, strconv.Itoa(pid)+recordSuffix)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
