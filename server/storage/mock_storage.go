package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStorage implements the Storage interface for testing
type MockStorage struct {
	mock.Mock
}

var _ Storage = (*MockStorage)(nil)

func (m *MockStorage) CreateRule(ctx context.Context, rule *RecurrenceRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockStorage) GetRule(ctx context.Context, id string) (*RecurrenceRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RecurrenceRule), args.Error(1)
}

func (m *MockStorage) ListRules(ctx context.Context, filter RuleFilter) ([]*RecurrenceRule, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*RecurrenceRule), args.Int(1), args.Error(2)
}

func (m *MockStorage) UpdateRule(ctx context.Context, rule *RecurrenceRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockStorage) MarkGenerated(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockStorage) DeleteRule(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStorage) AddExceptionDate(ctx context.Context, ruleID, dateKey string) (bool, error) {
	args := m.Called(ctx, ruleID, dateKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) ListEventsByRule(ctx context.Context, ruleID string) ([]*Event, error) {
	args := m.Called(ctx, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Event), args.Error(1)
}

func (m *MockStorage) ReplaceEvents(ctx context.Context, ruleID string, events []*Event) (int, error) {
	args := m.Called(ctx, ruleID, events)
	return args.Int(0), args.Error(1)
}

func (m *MockStorage) DeleteEventsByRule(ctx context.Context, ruleID string) (int, error) {
	args := m.Called(ctx, ruleID)
	return args.Int(0), args.Error(1)
}

func (m *MockStorage) DeleteEvents(ctx context.Context, ids []string) (int, error) {
	args := m.Called(ctx, ids)
	return args.Int(0), args.Error(1)
}
