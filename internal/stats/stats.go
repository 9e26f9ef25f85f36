// Package stats implements the Statistics Store (spec §3, §4.4): global
// and per-day aggregates of requests, tokens, cost, and per-model counts.
package stats

import (
	"sort"
	"time"

	"github.com/agentsvc/agentsvcd/internal/jsonstore"
	"github.com/agentsvc/agentsvcd/internal/logging"
)

const retainDays = 90

// RequestCounters tracks request outcomes.
type RequestCounters struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// TokenCounters tracks token usage.
type TokenCounters struct {
	TotalInput  int64 `json:"total_input"`
	TotalOutput int64 `json:"total_output"`
}

// CostCounters tracks spend.
type CostCounters struct {
	TotalUSD float64 `json:"total_usd"`
}

// ModelStat is a per-model histogram entry.
type ModelStat struct {
	Count   int     `json:"count"`
	CostUSD float64 `json:"cost_usd"`
}

// DayRecord is the per-day aggregate, keyed by YYYY-MM-DD in UTC.
type DayRecord struct {
	Date     string                `json:"date"`
	Requests RequestCounters       `json:"requests"`
	Tokens   TokenCounters         `json:"tokens"`
	Costs    CostCounters          `json:"costs"`
	Models   map[string]*ModelStat `json:"models"`
}

// Document is the statistics singleton.
type Document struct {
	Requests RequestCounters       `json:"requests"`
	Tokens   TokenCounters         `json:"tokens"`
	Costs    CostCounters          `json:"costs"`
	Models   map[string]*ModelStat `json:"models"`
	Daily    []*DayRecord          `json:"daily"`
}

func empty() Document {
	return Document{Models: map[string]*ModelStat{}}
}

// Store persists the statistics singleton under dataDir/statistics/statistics.json.
type Store struct {
	backend *jsonstore.Store
	logger  logging.Logger
	now     func() time.Time
}

// New constructs a Statistics Store backed by the document at path.
func New(path string, logger logging.Logger) (*Store, error) {
	backend, err := jsonstore.New(path, logger)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, logger: logging.OrNop(logger), now: time.Now}, nil
}

func (s *Store) read() (Document, error) {
	doc := empty()
	if err := s.backend.Read(&doc); err != nil {
		return Document{}, err
	}
	if doc.Models == nil {
		doc.Models = map[string]*ModelStat{}
	}
	return doc, nil
}

// RequestInput describes a single recorded attempt.
type RequestInput struct {
	Success      bool
	Model        string
	CostUSD      float64
	InputTokens  int64
	OutputTokens int64
}

// RecordRequest updates globals and today's day record atomically, per
// spec §4.4: creates the day record if absent, advances every counter,
// then prunes day records older than 90 days.
func (s *Store) RecordRequest(in RequestInput) error {
	today := s.now().UTC().Format("2006-01-02")
	return jsonstore.WithLock(s.backend, &Document{}, func(d *Document) error {
		if d.Models == nil {
			d.Models = map[string]*ModelStat{}
		}
		applyRequest(&d.Requests, &d.Tokens, &d.Costs, d.Models, in)

		day := findOrCreateDay(d, today)
		applyRequest(&day.Requests, &day.Tokens, &day.Costs, day.Models, in)

		pruneOldDays(d, s.now().UTC())
		return nil
	})
}

func applyRequest(req *RequestCounters, tok *TokenCounters, cost *CostCounters, models map[string]*ModelStat, in RequestInput) {
	req.Total++
	if in.Success {
		req.Successful++
	} else {
		req.Failed++
	}
	tok.TotalInput += in.InputTokens
	tok.TotalOutput += in.OutputTokens
	cost.TotalUSD += in.CostUSD

	if in.Model != "" {
		m, ok := models[in.Model]
		if !ok {
			m = &ModelStat{}
			models[in.Model] = m
		}
		m.Count++
		m.CostUSD += in.CostUSD
	}
}

func findOrCreateDay(d *Document, date string) *DayRecord {
	for _, day := range d.Daily {
		if day.Date == date {
			if day.Models == nil {
				day.Models = map[string]*ModelStat{}
			}
			return day
		}
	}
	day := &DayRecord{Date: date, Models: map[string]*ModelStat{}}
	d.Daily = append(d.Daily, day)
	return day
}

func pruneOldDays(d *Document, now time.Time) {
	cutoff := now.AddDate(0, 0, -retainDays).Format("2006-01-02")
	kept := d.Daily[:0]
	for _, day := range d.Daily {
		if day.Date >= cutoff {
			kept = append(kept, day)
		}
	}
	d.Daily = kept
}

// Reset restores the statistics document to its zero value.
func (s *Store) Reset() error {
	return jsonstore.WithLock(s.backend, &Document{}, func(d *Document) error {
		*d = empty()
		return nil
	})
}

// GetSummary returns the current global aggregates.
func (s *Store) GetSummary() (Document, error) {
	return s.read()
}

// GetDaily returns day records sorted by date descending, capped at limit.
func (s *Store) GetDaily(limit int) ([]*DayRecord, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := append([]*DayRecord(nil), doc.Daily...)
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetByDateRange returns day records with date in [start,end] inclusive
// (YYYY-MM-DD), sorted ascending.
func (s *Store) GetByDateRange(start, end string) ([]*DayRecord, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	var out []*DayRecord
	for _, day := range doc.Daily {
		if day.Date >= start && day.Date <= end {
			out = append(out, day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// TopModel is a ranked model entry.
type TopModel struct {
	Model   string  `json:"model"`
	Count   int     `json:"count"`
	CostUSD float64 `json:"cost_usd"`
}

// GetTopModels returns models sorted by count descending, capped at limit.
func (s *Store) GetTopModels(limit int) ([]TopModel, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make([]TopModel, 0, len(doc.Models))
	for name, m := range doc.Models {
		out = append(out, TopModel{Model: name, Count: m.Count, CostUSD: m.CostUSD})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Model < out[j].Model
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
