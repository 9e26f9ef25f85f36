// Package taskstore implements the Task Store (spec §3, §4.3): durable
// task records with state, priority, and result slots, persisted through
// the Locked JSON Store.
package taskstore

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/agentsvc/agentsvcd/internal/jsonstore"
	"github.com/agentsvc/agentsvcd/internal/logging"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// ErrNotFound is returned when a task id does not exist.
var ErrNotFound = errors.New("taskstore: not found")

// ErrInvalidTransition is returned when a status change is not legal.
var ErrInvalidTransition = errors.New("taskstore: invalid status transition")

// Metadata carries the optional fields the executor consumes.
type Metadata struct {
	WebhookURL       string   `json:"webhook_url,omitempty"`
	SessionID        string   `json:"session_id,omitempty"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	MaxBudgetUSD     *float64 `json:"max_budget_usd,omitempty"`
	AllowedTools     []string `json:"allowed_tools,omitempty"`
	DisallowedTools  []string `json:"disallowed_tools,omitempty"`
	Agent            string   `json:"agent,omitempty"`
	MCPConfig        string   `json:"mcp_config,omitempty"`
}

// Task is a durable unit of asynchronous work.
type Task struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Prompt      string     `json:"prompt"`
	ProjectPath string     `json:"project_path"`
	Model       string     `json:"model"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	CostUSD     float64    `json:"cost_usd"`
	Metadata    Metadata   `json:"metadata"`
}

type document struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Store persists tasks under dataDir/tasks/tasks.json.
type Store struct {
	backend *jsonstore.Store
	logger  logging.Logger
}

// New constructs a Task Store backed by the document at path.
func New(path string, logger logging.Logger) (*Store, error) {
	backend, err := jsonstore.New(path, logger)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, logger: logging.OrNop(logger)}, nil
}

func (s *Store) read() (document, error) {
	doc := document{Tasks: map[string]*Task{}}
	if err := s.backend.Read(&doc); err != nil {
		return document{}, err
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]*Task{}
	}
	return doc, nil
}

// Create stores a new pending task. Priority is clamped to [1,10],
// defaulting to 5.
func (s *Store) Create(task Task) (*Task, error) {
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Priority == 0 {
		task.Priority = 5
	}
	if task.Priority < 1 {
		task.Priority = 1
	}
	if task.Priority > 10 {
		task.Priority = 10
	}
	task.Status = StatusPending
	task.CreatedAt = now
	task.UpdatedAt = now

	var created Task
	err := jsonstore.WithLock(s.backend, &document{}, func(d *document) error {
		if d.Tasks == nil {
			d.Tasks = map[string]*Task{}
		}
		rec := task
		d.Tasks[rec.ID] = &rec
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Get retrieves a task by id.
func (s *Store) Get(id string) (*Task, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Delete removes a task record outright.
func (s *Store) Delete(id string) error {
	return jsonstore.WithLock(s.backend, &document{}, func(d *document) error {
		if _, ok := d.Tasks[id]; !ok {
			return ErrNotFound
		}
		delete(d.Tasks, id)
		return nil
	})
}

// ListFilter narrows List results.
type ListFilter struct {
	Status Status
	Limit  int
}

// List returns tasks ordered by priority descending, then created_at
// ascending (FIFO within a priority level), per spec §4.3.
func (s *Store) List(filter ListFilter) ([]*Task, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0, len(doc.Tasks))
	for _, rec := range doc.Tasks {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sortByPriorityThenFIFO(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func sortByPriorityThenFIFO(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// GetNextPending returns the highest-priority, earliest-created pending
// task, or nil if none exists. Not atomic with MarkProcessing; the Task
// Queue is responsible for reserving the concurrency slot first.
func (s *Store) GetNextPending() (*Task, error) {
	pending, err := s.List(ListFilter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

func (s *Store) transition(id string, allowed []Status, mutate func(*Task)) (*Task, error) {
	var updated Task
	err := jsonstore.WithLock(s.backend, &document{}, func(d *document) error {
		rec, ok := d.Tasks[id]
		if !ok {
			return ErrNotFound
		}
		if !statusAllowed(rec.Status, allowed) {
			return ErrInvalidTransition
		}
		mutate(rec)
		rec.UpdatedAt = time.Now().UTC()
		updated = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func statusAllowed(current Status, allowed []Status) bool {
	for _, s := range allowed {
		if current == s {
			return true
		}
	}
	return false
}

// MarkProcessing transitions pending -> processing and stamps started_at.
func (s *Store) MarkProcessing(id string) (*Task, error) {
	return s.transition(id, []Status{StatusPending}, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusProcessing
		t.StartedAt = &now
	})
}

// MarkCompleted transitions processing -> completed with a result and cost.
func (s *Store) MarkCompleted(id, result string, cost float64, durationMs int64) (*Task, error) {
	return s.transition(id, []Status{StatusProcessing}, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusCompleted
		t.Result = result
		t.CostUSD = cost
		t.CompletedAt = &now
		t.DurationMs = &durationMs
	})
}

// MarkFailed transitions pending|processing -> failed with an error message.
func (s *Store) MarkFailed(id, errMsg string) (*Task, error) {
	return s.transition(id, []Status{StatusPending, StatusProcessing}, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusFailed
		t.Error = errMsg
		t.CompletedAt = &now
	})
}

// Cancel transitions pending|processing -> cancelled. Returns ErrInvalidTransition
// if the task is already terminal.
func (s *Store) Cancel(id string) (*Task, error) {
	return s.transition(id, []Status{StatusPending, StatusProcessing}, func(t *Task) {
		now := time.Now().UTC()
		t.Status = StatusCancelled
		t.CompletedAt = &now
	})
}

// SetPriority updates priority while the task is pending or processing.
func (s *Store) SetPriority(id string, priority int) (*Task, error) {
	if priority < 1 || priority > 10 {
		return nil, errors.New("taskstore: priority must be in [1,10]")
	}
	return s.transition(id, []Status{StatusPending, StatusProcessing}, func(t *Task) {
		t.Priority = priority
	})
}

// Stats summarizes the task store for queue status reporting.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// GetStats tallies tasks by status.
func (s *Store) GetStats() (Stats, error) {
	doc, err := s.read()
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, rec := range doc.Tasks {
		stats.Total++
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// Cleanup deletes terminal tasks whose completed_at predates the cutoff.
// Non-terminal tasks are never auto-deleted.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed := 0
	err := jsonstore.WithLock(s.backend, &document{}, func(d *document) error {
		for id, rec := range d.Tasks {
			if !isTerminal(rec.Status) || rec.CompletedAt == nil {
				continue
			}
			if rec.CompletedAt.Before(cutoff) {
				delete(d.Tasks, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ResetProcessingToPending is the crash-recovery sweep (spec §4.6 Start):
// any task left in "processing" (from a prior process that died mid-flight)
// is moved back to pending so the queue can re-dispatch it.
func (s *Store) ResetProcessingToPending() ([]string, error) {
	var recovered []string
	err := jsonstore.WithLock(s.backend, &document{}, func(d *document) error {
		for _, rec := range d.Tasks {
			if rec.Status == StatusProcessing {
				rec.Status = StatusPending
				rec.UpdatedAt = time.Now().UTC()
				recovered = append(recovered, rec.ID)
			}
		}
		return nil
	})
	return recovered, err
}
