package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Mode selects the engine procedure a job runs against each data source.
type Mode string

const (
	// ModeOptimization sweeps strategy parameters across the full dataset.
	ModeOptimization Mode = "optimization"
	// ModeWalkForward runs a rolling optimize-then-verify walk across the dataset.
	ModeWalkForward Mode = "walk_forward"
)

var allModes = []Mode{ModeOptimization, ModeWalkForward}

var modeSet = func() map[Mode]struct{} {
	set := make(map[Mode]struct{}, len(allModes))
	for _, mode := range allModes {
		set[mode] = struct{}{}
	}
	return set
}()

// AllModes returns the ordered list of known run modes.
func AllModes() []Mode {
	cp := make([]Mode, len(allModes))
	copy(cp, allModes)
	return cp
}

// ParseMode converts a string into a known Mode. Hyphens are accepted in
// place of underscores so CLI input like "walk-forward" resolves.
func ParseMode(value string) (Mode, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	if normalized == "" {
		return "", false
	}
	mode := Mode(normalized)
	_, ok := modeSet[mode]
	return mode, ok
}

// Display returns the operator-facing name for the mode.
func (m Mode) Display() string {
	switch m {
	case ModeOptimization:
		return "Optimization"
	case ModeWalkForward:
		return "Walk-Forward"
	default:
		return string(m)
	}
}

// SourceType distinguishes how a data source's bytes are located.
type SourceType string

const (
	// SourcePath references a file on the local filesystem by absolute path.
	SourcePath SourceType = "path"
	// SourceBlob references an uploaded payload stored under a blob key.
	SourceBlob SourceType = "blob"
)

// Source is one dataset a job processes. Exactly one of Path or Key is set
// depending on Type.
type Source struct {
	Type         SourceType `json:"type"`
	Path         string     `json:"path,omitempty"`
	Key          string     `json:"key,omitempty"`
	Name         string     `json:"name,omitempty"`
	Size         int64      `json:"size,omitempty"`
	LastModified time.Time  `json:"last_modified,omitzero"`
}

// Validate checks the structural invariants for the source's type.
func (s Source) Validate() error {
	switch s.Type {
	case SourcePath:
		if strings.TrimSpace(s.Path) == "" {
			return errors.New("path source requires a path")
		}
		if !filepath.IsAbs(s.Path) {
			return fmt.Errorf("path source %q must be absolute", s.Path)
		}
	case SourceBlob:
		if strings.TrimSpace(s.Key) == "" {
			return errors.New("blob source requires a key")
		}
	default:
		return fmt.Errorf("unknown source type %q", string(s.Type))
	}
	return nil
}

// Display returns a short human-readable name for the source.
func (s Source) Display() string {
	if name := strings.TrimSpace(s.Name); name != "" {
		return name
	}
	if s.Type == SourcePath && s.Path != "" {
		return filepath.Base(s.Path)
	}
	if s.Key != "" {
		return s.Key
	}
	return "(unnamed)"
}

// Job is a queued unit of work: one strategy configuration applied to an
// ordered list of data sources. SourceCursor records how many sources have
// been fully processed; SuccessCount and FailureCount partition the
// processed prefix, so SuccessCount+FailureCount always equals SourceCursor.
type Job struct {
	ID           string
	Index        int64
	Label        string
	Mode         Mode
	Strategy     string
	Config       string
	Sources      []Source
	SourceCursor int
	SuccessCount int
	FailureCount int
	AddedAt      time.Time
	UpdatedAt    time.Time
}

// Remaining returns how many sources are still unprocessed.
func (j *Job) Remaining() int {
	if j == nil {
		return 0
	}
	remaining := len(j.Sources) - j.SourceCursor
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Started reports whether any source of the job has been processed.
func (j *Job) Started() bool {
	return j != nil && j.SourceCursor > 0
}

// BlobKeys returns the blob keys referenced by the job's sources.
func (j *Job) BlobKeys() []string {
	if j == nil {
		return nil
	}
	var keys []string
	for _, src := range j.Sources {
		if src.Type == SourceBlob && src.Key != "" {
			keys = append(keys, src.Key)
		}
	}
	return keys
}

// Clone returns a deep copy so callers can mutate progress counters without
// sharing slices with other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Sources = make([]Source, len(j.Sources))
	copy(cp.Sources, j.Sources)
	return &cp
}

// Draft describes a job before it is persisted. Labels left empty are
// derived from the mode and the first source name.
type Draft struct {
	Label    string
	Mode     Mode
	Strategy string
	Config   string
	Sources  []DraftSource
}

// DraftSource is one dataset being enqueued. When Payload is non-nil the
// bytes are persisted to blob storage and the stored source references the
// resulting key; otherwise Path must name a local file.
type DraftSource struct {
	Path         string
	Name         string
	Payload      []byte
	LastModified time.Time
}

// Validate checks a draft before enqueueing.
func (d Draft) Validate() error {
	if _, ok := modeSet[d.Mode]; !ok {
		return fmt.Errorf("unknown mode %q", string(d.Mode))
	}
	if strings.TrimSpace(d.Strategy) == "" {
		return errors.New("strategy must be set")
	}
	if len(d.Sources) == 0 {
		return errors.New("at least one data source is required")
	}
	for i, src := range d.Sources {
		if src.Payload == nil && strings.TrimSpace(src.Path) == "" {
			return fmt.Errorf("source %d has neither path nor payload", i)
		}
	}
	return nil
}

// QueueStats aggregates queue counts for status output.
type QueueStats struct {
	Jobs             int
	Sources          int
	SourcesProcessed int
	SourcesFailed    int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TableExists      bool
	ColumnsPresent   []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
