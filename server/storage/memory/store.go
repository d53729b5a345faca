// memory based implementation for testing and single-process use
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cyp0633/recurra/server/storage"
)

// Store implements storage.Storage interface using in-memory maps
type Store struct {
	mu     sync.RWMutex
	rules  map[string]*storage.RecurrenceRule
	events map[string]*storage.Event
	byRule map[string][]string // rule id -> event ids
}

var _ storage.Storage = (*Store)(nil)

// New creates a new in-memory storage
func New() *Store {
	return &Store{
		rules:  make(map[string]*storage.RecurrenceRule),
		events: make(map[string]*storage.Event),
		byRule: make(map[string][]string),
	}
}

func notFound(msg string) error {
	return &storage.Error{Type: storage.ErrNotFound, Message: msg}
}

// Rule operations

func (s *Store) CreateRule(_ context.Context, rule *storage.RecurrenceRule) error {
	if rule == nil || rule.ID == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "rule id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return &storage.Error{
			Type:    storage.ErrAlreadyExists,
			Message: "rule already exists",
		}
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *Store) GetRule(_ context.Context, id string) (*storage.RecurrenceRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, notFound("rule not found")
	}
	return rule.Clone(), nil
}

func (s *Store) ListRules(_ context.Context, filter storage.RuleFilter) ([]*storage.RecurrenceRule, int, error) {
	s.mu.RLock()
	var matched []*storage.RecurrenceRule
	for _, r := range s.rules {
		if filter.Matches(r) {
			matched = append(matched, r.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *storage.RecurrenceRule) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})

	total := len(matched)
	if filter.Limit <= 0 {
		return matched, total, nil
	}
	lo := min(filter.Offset(), total)
	hi := min(lo+filter.Limit, total)
	return matched[lo:hi], total, nil
}

func (s *Store) UpdateRule(_ context.Context, rule *storage.RecurrenceRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; !exists {
		return notFound("rule not found")
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *Store) MarkGenerated(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return notFound("rule not found")
	}
	rule.LastGeneratedDate = &at
	return nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return notFound("rule not found")
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) AddExceptionDate(_ context.Context, ruleID, dateKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return false, notFound("rule not found")
	}
	if slices.Contains(rule.ExceptionDates, dateKey) {
		return false, nil
	}
	rule.ExceptionDates = append(rule.ExceptionDates, dateKey)
	return true, nil
}

// Event operations

func (s *Store) ListEventsByRule(_ context.Context, ruleID string) ([]*storage.Event, error) {
	s.mu.RLock()
	ids := s.byRule[ruleID]
	out := make([]*storage.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.events[id].Clone())
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b *storage.Event) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out, nil
}

func (s *Store) ReplaceEvents(_ context.Context, ruleID string, events []*storage.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		if e.ID == "" {
			return 0, &storage.Error{Type: storage.ErrInvalidInput, Message: "event id is required"}
		}
	}

	deleted := s.deleteByRuleLocked(ruleID)
	ids := make([]string, 0, len(events))
	for _, e := range events {
		c := e.Clone()
		c.RecurrenceRuleID = ruleID
		s.events[c.ID] = c
		ids = append(ids, c.ID)
	}
	if len(ids) > 0 {
		s.byRule[ruleID] = ids
	}
	return deleted, nil
}

func (s *Store) DeleteEventsByRule(_ context.Context, ruleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteByRuleLocked(ruleID), nil
}

func (s *Store) DeleteEvents(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		e, ok := s.events[id]
		if !ok {
			continue
		}
		delete(s.events, id)
		s.byRule[e.RecurrenceRuleID] = slices.DeleteFunc(s.byRule[e.RecurrenceRuleID], func(x string) bool {
			return x == id
		})
		if len(s.byRule[e.RecurrenceRuleID]) == 0 {
			delete(s.byRule, e.RecurrenceRuleID)
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) deleteByRuleLocked(ruleID string) int {
	ids := s.byRule[ruleID]
	for _, id := range ids {
		delete(s.events, id)
	}
	delete(s.byRule, ruleID)
	return len(ids)
}
