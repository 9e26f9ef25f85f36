// Package session implements the Session Store (spec §3, §4.2):
// conversation records with a running cost and message count, persisted
// through the Locked JSON Store.
package session

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentsvc/agentsvcd/internal/jsonstore"
	"github.com/agentsvc/agentsvcd/internal/logging"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusClosed   Status = "closed"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session: not found")

// Session is a conversational context with accumulated cost.
type Session struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ProjectPath   string         `json:"project_path"`
	Model         string         `json:"model"`
	Status        Status         `json:"status"`
	TotalCostUSD  float64        `json:"total_cost_usd"`
	MessagesCount int            `json:"messages_count"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type document struct {
	Sessions map[string]*Session `json:"sessions"`
}

// Store persists sessions under dataDir/sessions/sessions.json.
type Store struct {
	backend *jsonstore.Store
	logger  logging.Logger
}

// ListFilter narrows List results.
type ListFilter struct {
	Status      Status
	ProjectPath string
	Limit       int
}

// New constructs a Session Store backed by the document at path.
func New(path string, logger logging.Logger) (*Store, error) {
	backend, err := jsonstore.New(path, logger)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, logger: logging.OrNop(logger)}, nil
}

func emptyDoc() document { return document{Sessions: map[string]*Session{}} }

func (s *Store) read() (document, error) {
	doc := emptyDoc()
	if err := s.backend.Read(&doc); err != nil {
		return document{}, err
	}
	if doc.Sessions == nil {
		doc.Sessions = map[string]*Session{}
	}
	return doc, nil
}

// Create stores a new session. If data.ID is empty, one is generated.
func (s *Store) Create(data Session) (*Session, error) {
	now := time.Now().UTC()
	if data.ID == "" {
		data.ID = uuid.NewString()
	}
	if data.Status == "" {
		data.Status = StatusActive
	}
	data.CreatedAt = now
	data.UpdatedAt = now

	var created Session
	err := jsonstore.WithLock(s.backend, &document{}, func(wrapped *document) error {
		if wrapped.Sessions == nil {
			wrapped.Sessions = map[string]*Session{}
		}
		rec := data
		wrapped.Sessions[rec.ID] = &rec
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// Get retrieves a session by id, re-reading from disk.
func (s *Store) Get(id string) (*Session, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Patch is a partial update applied under the store lock.
type Patch struct {
	Status      *Status
	ProjectPath *string
	Model       *string
	Metadata    map[string]any
}

// Update applies patch to the session identified by id.
func (s *Store) Update(id string, patch Patch) (*Session, error) {
	var updated Session
	err := jsonstore.WithLock(s.backend, &document{}, func(wrapped *document) error {
		rec, ok := wrapped.Sessions[id]
		if !ok {
			return ErrNotFound
		}
		if patch.Status != nil {
			rec.Status = *patch.Status
		}
		if patch.ProjectPath != nil {
			rec.ProjectPath = *patch.ProjectPath
		}
		if patch.Model != nil {
			rec.Model = *patch.Model
		}
		if patch.Metadata != nil {
			if rec.Metadata == nil {
				rec.Metadata = map[string]any{}
			}
			for k, v := range patch.Metadata {
				rec.Metadata[k] = v
			}
		}
		rec.UpdatedAt = time.Now().UTC()
		updated = *rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a session.
func (s *Store) Delete(id string) error {
	return jsonstore.WithLock(s.backend, &document{}, func(wrapped *document) error {
		if _, ok := wrapped.Sessions[id]; !ok {
			return ErrNotFound
		}
		delete(wrapped.Sessions, id)
		return nil
	})
}

// List returns sessions sorted by updated_at descending, optionally
// filtered by status/project_path, capped at filter.Limit.
func (s *Store) List(filter ListFilter) ([]*Session, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(doc.Sessions))
	for _, rec := range doc.Sessions {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if filter.ProjectPath != "" && rec.ProjectPath != filter.ProjectPath {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Search matches q as a case-insensitive substring of id or any string
// metadata value; non-string metadata values are not searched.
func (s *Store) Search(q string, limit int) ([]*Session, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(q)
	out := make([]*Session, 0)
	for _, rec := range doc.Sessions {
		if strings.Contains(strings.ToLower(rec.ID), needle) || metadataContains(rec.Metadata, needle) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func metadataContains(meta map[string]any, needle string) bool {
	for _, v := range meta {
		if strings.Contains(strings.ToLower(toString(v)), needle) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return ""
	}
}

// Cleanup deletes sessions whose updated_at predates the retention cutoff.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed := 0
	err := jsonstore.WithLock(s.backend, &document{}, func(wrapped *document) error {
		for id, rec := range wrapped.Sessions {
			if rec.UpdatedAt.Before(cutoff) {
				delete(wrapped.Sessions, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// IncrementMessages bumps messages_count by one.
func (s *Store) IncrementMessages(id string) error {
	return jsonstore.WithLock(s.backend, &document{}, func(wrapped *document) error {
		rec, ok := wrapped.Sessions[id]
		if !ok {
			return ErrNotFound
		}
		rec.MessagesCount++
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// AddCost adds usd (must be >= 0) to the session's running total.
func (s *Store) AddCost(id string, usd float64) error {
	if usd < 0 {
		return errors.New("session: cost delta must be non-negative")
	}
	return jsonstore.WithLock(s.backend, &document{}, func(wrapped *document) error {
		rec, ok := wrapped.Sessions[id]
		if !ok {
			return ErrNotFound
		}
		rec.TotalCostUSD += usd
		rec.UpdatedAt = time.Now().UTC()
		return nil
	})
}
