package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/rentalprep/pkg/domain"
)

// Record is the persisted form of a tracked run.
type Record struct {
	ID           string             `json:"id"`
	Project      string             `json:"project"`
	Group        string             `json:"group"`
	JobType      string             `json:"job_type"`
	InvocationID string             `json:"invocation_id,omitempty"`
	Status       domain.RunStatus   `json:"status"`
	Config       map[string]any     `json:"config,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
}

// FileTracker writes each run to <root>/<project>/<group>/<run id>.json.
type FileTracker struct {
	root string
	now  func() time.Time
}

// NewFileTracker creates a tracker rooted at dir.
func NewFileTracker(dir string) (*FileTracker, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("tracking directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tracking directory: %w", err)
	}
	return &FileTracker{root: dir, now: time.Now}, nil
}

// BeginRun persists a running record and returns its handle.
func (t *FileTracker) BeginRun(ctx context.Context, spec domain.RunSpec) (Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Project == "" || spec.Group == "" || spec.JobType == "" {
		return nil, fmt.Errorf("run spec requires project, group and job type")
	}

	dir := filepath.Join(t.root, safeSegment(spec.Project), safeSegment(spec.Group))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	run := &fileRun{
		now: t.now,
		record: Record{
			ID:           uuid.New().String(),
			Project:      spec.Project,
			Group:        spec.Group,
			JobType:      spec.JobType,
			InvocationID: spec.InvocationID,
			Status:       domain.RunRunning,
			StartedAt:    t.now().UTC(),
		},
	}
	run.path = filepath.Join(dir, run.record.ID+".json")
	if err := run.flush(); err != nil {
		return nil, err
	}
	return run, nil
}

// ReadRecords loads every run of a group, ordered by start time.
func (t *FileTracker) ReadRecords(project, group string) ([]Record, error) {
	dir := filepath.Join(t.root, safeSegment(project), safeSegment(group))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read run group: %w", err)
	}
	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", entry.Name(), err)
		}
		records = append(records, rec)
	}
	sortByStart(records)
	return records, nil
}

type fileRun struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	record Record
	ended  bool
}

func (r *fileRun) ID() string {
	return r.record.ID
}

func (r *fileRun) LogConfig(values map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return fmt.Errorf("run %s already ended", r.record.ID)
	}
	if r.record.Config == nil {
		r.record.Config = make(map[string]any, len(values))
	}
	for k, v := range values {
		r.record.Config[k] = v
	}
	return r.flush()
}

func (r *fileRun) LogMetrics(values map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return fmt.Errorf("run %s already ended", r.record.ID)
	}
	if r.record.Metrics == nil {
		r.record.Metrics = make(map[string]float64, len(values))
	}
	for k, v := range values {
		r.record.Metrics[k] = v
	}
	return r.flush()
}

func (r *fileRun) End(status domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil
	}
	r.ended = true
	ended := r.now().UTC()
	r.record.Status = status
	r.record.EndedAt = &ended
	return r.flush()
}

func (r *fileRun) flush() error {
	data, err := json.MarshalIndent(r.record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", r.record.ID, err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", r.record.ID, err)
	}
	return nil
}

func safeSegment(s string) string {
	return strings.NewReplacer("/", "_", `\`, "_", "..", "_").Replace(s)
}

func sortByStart(records []Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].StartedAt.Before(records[j-1].StartedAt); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
