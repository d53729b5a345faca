package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cyp0633/recurra/server/repository"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/cyp0633/recurra/server/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

// fakeRepo serves n active rules and fails the ids in failing.
type fakeRepo struct {
	mu          sync.Mutex
	rules       []*storage.RecurrenceRule
	failing     map[string]error
	regenerated []string
	listErr     error
}

func newFakeRepo(n int) *fakeRepo {
	f := &fakeRepo{failing: map[string]error{}}
	for i := range n {
		f.rules = append(f.rules, &storage.RecurrenceRule{ID: fmt.Sprintf("rule-%02d", i), IsActive: true})
	}
	return f
}

func (f *fakeRepo) GetRules(_ context.Context, filter storage.RuleFilter) (repository.RulePage, error) {
	if f.listErr != nil {
		return repository.RulePage{}, f.listErr
	}
	var matched []*storage.RecurrenceRule
	for _, r := range f.rules {
		if filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	page := repository.RulePage{Total: len(matched), Page: filter.Page, Limit: filter.Limit}
	lo := min(filter.Offset(), len(matched))
	hi := min(lo+filter.Limit, len(matched))
	page.Rules = matched[lo:hi]
	return page, nil
}

func (f *fakeRepo) RegenerateEvents(_ context.Context, id string) (repository.RuleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[id]; ok {
		return repository.RuleResult{}, err
	}
	f.regenerated = append(f.regenerated, id)
	return repository.RuleResult{EventsCreated: 3, EventsDeleted: 2}, nil
}

func TestRunOnce_PagesThroughActiveRules(t *testing.T) {
	repo := newFakeRepo(45)
	repo.rules[7].IsActive = false
	repo.failing["rule-30"] = errors.New("disk full")
	repo.failing["rule-31"] = fmt.Errorf("%w: rule-31", repository.ErrNotFound)

	s, err := New(repo, Config{PageSize: 20, Logger: testLogger})
	require.NoError(t, err)

	stats, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStats{
		Rules:         44,
		Regenerated:   42,
		Failed:        2,
		EventsCreated: 42 * 3,
		EventsDeleted: 42 * 2,
	}, stats)
	assert.NotContains(t, repo.regenerated, "rule-07")
	assert.Contains(t, repo.regenerated, "rule-44")
}

func TestRunOnce_ListError(t *testing.T) {
	repo := newFakeRepo(3)
	repo.listErr = errors.New("connection refused")

	s, err := New(repo, Config{Logger: testLogger})
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestRunOnce_Cancelled(t *testing.T) {
	s, err := New(newFakeRepo(5), Config{Logger: testLogger})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stats.Rules)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(newFakeRepo(0), Config{Schedule: "every tuesday"})
	assert.Error(t, err)

	s, err := New(newFakeRepo(0), Config{Schedule: "@hourly"})
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
}

func TestStartStop(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	s, err := New(newFakeRepo(1), Config{Location: berlin, Logger: testLogger})
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	next := s.Next().In(berlin)
	assert.Equal(t, 3, next.Hour())
	assert.Zero(t, next.Minute())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestRunOnce_RollsHorizonForward(t *testing.T) {
	now := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	repo := repository.New(repository.Config{
		Store:  memory.New(),
		Now:    func() time.Time { return now },
		Logger: testLogger,
	})
	ctx := context.Background()

	created, err := repo.CreateRule(ctx, repository.RuleDraft{
		PetID:      "luna",
		Title:      "Walk",
		Frequency:  "daily",
		DailyTimes: []string{"07:00"},
		StartDate:  now,
	})
	require.NoError(t, err)
	assert.Equal(t, 181, created.EventsCreated)

	now = now.AddDate(0, 0, 10)
	s, err := New(repo, Config{Logger: testLogger})
	require.NoError(t, err)
	stats, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Regenerated)

	events, err := repo.GetEventsByRuleID(ctx, created.Rule.ID, repository.EventQuery{IncludePast: true})
	require.NoError(t, err)
	require.Len(t, events, 181)
	assert.Equal(t, time.Date(2026, 2, 19, 7, 0, 0, 0, time.UTC), events[0].StartTime)
	assert.Equal(t, time.Date(2026, 8, 18, 7, 0, 0, 0, time.UTC), events[180].StartTime)
}
