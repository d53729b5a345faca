package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/cyp0633/recurra/server/cache"
	"github.com/cyp0633/recurra/server/notify"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/cyp0633/recurra/server/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%04d", s.n)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// hookStore runs a one-shot callback after selected store reads, to land
// a write between a read and whatever the caller does with its result.
type hookStore struct {
	storage.Storage
	mu        sync.Mutex
	afterGet  func()
	afterList func()
}

func (h *hookStore) take(hook *func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn := *hook
	*hook = nil
	return fn
}

func (h *hookStore) GetRule(ctx context.Context, id string) (*storage.RecurrenceRule, error) {
	rule, err := h.Storage.GetRule(ctx, id)
	if fn := h.take(&h.afterGet); fn != nil {
		fn()
	}
	return rule, err
}

func (h *hookStore) ListEventsByRule(ctx context.Context, ruleID string) ([]*storage.Event, error) {
	events, err := h.Storage.ListEventsByRule(ctx, ruleID)
	if fn := h.take(&h.afterList); fn != nil {
		fn()
	}
	return events, err
}

type fixture struct {
	repo  *Repository
	store *memory.Store
	hooks *hookStore
	clock *testClock
	bus   *notify.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)}
	store := memory.New()
	hooks := &hookStore{Storage: store}
	bus := notify.NewBus()
	events := cache.New(cache.CacheConfig{TTL: time.Hour, MaxEntries: 100, CleanupInterval: time.Hour})
	events.Watch(bus)
	t.Cleanup(func() {
		events.Close()
		bus.Close()
	})

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	repo := New(Config{
		Store:     hooks,
		IDs:       &seqIDs{},
		Now:       clock.Now,
		Publisher: bus,
		Cache:     events,
		Logger:    logger,
	})
	return &fixture{repo: repo, store: store, hooks: hooks, clock: clock, bus: bus}
}

// fridayDraft is a weekly Friday 09:00 reminder in Istanbul.
func fridayDraft() RuleDraft {
	return RuleDraft{
		PetID:      "luna",
		Title:      "Rabies booster",
		EventType:  "vaccine",
		Details:    storage.Details{VaccineName: "Nobivac"},
		Frequency:  "weekly",
		Interval:   1,
		DaysOfWeek: []int{5},
		DailyTimes: []string{"09:00"},
		Timezone:   "Europe/Istanbul",
		StartDate:  time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	}
}

func starts(events []*storage.Event) []time.Time {
	out := make([]time.Time, len(events))
	for i, e := range events {
		out[i] = e.StartTime
	}
	return out
}

func TestCreateRule_IstanbulFriday(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	assert.Equal(t, 26, res.EventsCreated)
	assert.False(t, res.Truncated)
	assert.True(t, res.Rule.IsActive)
	require.NotNil(t, res.Rule.LastGeneratedDate)
	assert.Equal(t, f.clock.Now(), *res.Rule.LastGeneratedDate)

	events, err := f.repo.GetEventsByRuleID(ctx, res.Rule.ID, EventQuery{})
	require.NoError(t, err)
	require.Len(t, events, 26)
	assert.Equal(t, time.Date(2026, 2, 13, 6, 0, 0, 0, time.UTC), events[0].StartTime)
	assert.Equal(t, time.Date(2026, 8, 7, 6, 0, 0, 0, time.UTC), events[25].StartTime)

	for i, e := range events {
		assert.Equal(t, i, e.SeriesIndex)
		assert.Equal(t, storage.StatusUpcoming, e.Status)
		assert.Equal(t, "luna", e.PetID)
		assert.Equal(t, "Nobivac", e.Details.VaccineName)
		assert.Equal(t, res.Rule.ID, e.RecurrenceRuleID)
	}

	stored, err := f.repo.GetRuleByID(ctx, res.Rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", stored.Timezone)
}

func TestCreateRule_MalformedTime(t *testing.T) {
	f := newFixture(t)
	draft := fridayDraft()
	draft.DailyTimes = []string{"9am"}

	_, err := f.repo.CreateRule(context.Background(), draft)
	require.ErrorIs(t, err, ErrInvalidInput)

	page, err := f.repo.GetRules(context.Background(), storage.RuleFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCreateRule_CapsAt240(t *testing.T) {
	f := newFixture(t)
	four := 4
	res, err := f.repo.CreateRule(context.Background(), RuleDraft{
		PetID:       "milo",
		Title:       "Insulin",
		Frequency:   "daily",
		TimesPerDay: &four,
		StartDate:   f.clock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 240, res.EventsCreated)
	assert.True(t, res.Truncated)
	assert.Equal(t, 1, res.Rule.Interval)
}

func TestRegenerateEvents_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID

	before, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{IncludePast: true})
	require.NoError(t, err)

	first, err := f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)
	second, err := f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first.EventsCreated, second.EventsCreated)
	assert.Equal(t, second.EventsCreated, second.EventsDeleted)

	after, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{IncludePast: true})
	require.NoError(t, err)
	assert.Equal(t, starts(before), starts(after))
	// every pass writes fresh rows
	assert.NotEqual(t, before[0].ID, after[0].ID)

	_, err = f.repo.RegenerateEvents(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegenerateEvents_RollsHorizonForward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	_, err = f.repo.RegenerateEvents(ctx, created.Rule.ID)
	require.NoError(t, err)

	events, err := f.repo.GetEventsByRuleID(ctx, created.Rule.ID, EventQuery{IncludePast: true})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 6, 6, 0, 0, 0, time.UTC), events[0].StartTime)

	rule, err := f.repo.GetRuleByID(ctx, created.Rule.ID)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), *rule.LastGeneratedDate)
}

func TestAddException(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID

	// warm the cache so invalidation is exercised
	_, err = f.repo.GetEventsByRuleID(ctx, id, EventQuery{})
	require.NoError(t, err)

	res, err := f.repo.AddException(ctx, id, "2026-02-20")
	require.NoError(t, err)
	assert.Equal(t, ExceptionResult{DateKey: "2026-02-20", Added: true, EventsDeleted: 1}, res)
	assert.False(t, res.NoOp())

	res, err = f.repo.AddException(ctx, id, "2026-02-20")
	require.NoError(t, err)
	assert.True(t, res.NoOp())

	// 05:00Z is 08:00 in Istanbul on the 27th
	res, err = f.repo.AddException(ctx, id, "2026-02-27T05:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-27", res.DateKey)
	assert.Equal(t, 1, res.EventsDeleted)

	// 22:30Z on the 26th is already the 27th in Istanbul
	res, err = f.repo.AddException(ctx, id, "2026-02-26T22:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-27", res.DateKey)
	assert.True(t, res.NoOp())

	events, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, events, 24)
	assert.Equal(t, time.Date(2026, 3, 6, 6, 0, 0, 0, time.UTC), events[1].StartTime)

	// exceptions survive regeneration
	regen, err := f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 24, regen.EventsCreated)

	rule, err := f.repo.GetRuleByID(ctx, id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2026-02-20", "2026-02-27"}, rule.ExceptionDates)

	_, err = f.repo.AddException(ctx, id, "next friday")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.repo.AddException(ctx, "missing", "2026-02-20")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID

	res, err := f.repo.UpdateRule(ctx, id, RulePatch{
		DaysOfWeek: Set([]int{1, 5}),
		DailyTimes: Set([]string{"20:00", "08:00"}),
		Title:      Set("Rabies booster (2x)"),
	})
	require.NoError(t, err)
	assert.Equal(t, 26, res.EventsDeleted)
	assert.Equal(t, 26*2*2, res.EventsCreated)
	assert.Equal(t, "Rabies booster (2x)", res.Rule.Title)
	assert.Equal(t, "vaccine", res.Rule.EventType)

	events, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, events, 3)
	// today's 08:00 Istanbul has passed; 20:00 has not
	assert.Equal(t, time.Date(2026, 2, 9, 17, 0, 0, 0, time.UTC), events[0].StartTime)
	assert.Equal(t, time.Date(2026, 2, 13, 5, 0, 0, 0, time.UTC), events[1].StartTime)
	assert.Equal(t, time.Date(2026, 2, 13, 17, 0, 0, 0, time.UTC), events[2].StartTime)
	assert.Equal(t, "Rabies booster (2x)", events[0].Title)

	// deactivate: events go away and stay away
	res, err = f.repo.UpdateRule(ctx, id, RulePatch{IsActive: Set(false)})
	require.NoError(t, err)
	assert.Zero(t, res.EventsCreated)
	assert.Equal(t, 104, res.EventsDeleted)

	regen, err := f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, regen.EventsCreated)

	events, err = f.repo.GetEventsByRuleID(ctx, id, EventQuery{IncludePast: true})
	require.NoError(t, err)
	assert.Empty(t, events)

	// reactivate and clear the explicit times: back to the 09:00 default
	res, err = f.repo.UpdateRule(ctx, id, RulePatch{IsActive: Set(true), DailyTimes: Clear[[]string]()})
	require.NoError(t, err)
	assert.Equal(t, 52, res.EventsCreated)
	assert.Nil(t, res.Rule.DailyTimes)

	_, err = f.repo.UpdateRule(ctx, "missing", RulePatch{Title: Set("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)

	res, err := f.repo.DeleteRule(ctx, created.Rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 26, res.EventsDeleted)

	_, err = f.repo.GetRuleByID(ctx, created.Rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, storage.IsNotFound(err))

	events, err := f.repo.GetEventsByRuleID(ctx, created.Rule.ID, EventQuery{IncludePast: true})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = f.repo.DeleteRule(ctx, created.Rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEventsByRuleID_PastAndLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID

	// two Fridays have passed
	f.clock.Set(time.Date(2026, 2, 21, 0, 0, 0, 0, time.UTC))

	upcoming, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{})
	require.NoError(t, err)
	assert.Len(t, upcoming, 24)
	assert.Equal(t, time.Date(2026, 2, 27, 6, 0, 0, 0, time.UTC), upcoming[0].StartTime)

	all, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{IncludePast: true, Limit: 5})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, time.Date(2026, 2, 13, 6, 0, 0, 0, time.UTC), all[0].StartTime)

	none, err := f.repo.GetEventsByRuleID(ctx, "missing", EventQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 3 {
		d := fridayDraft()
		d.PetID = fmt.Sprintf("pet-%d", i%2)
		_, err := f.repo.CreateRule(ctx, d)
		require.NoError(t, err)
		f.clock.Set(f.clock.Now().Add(time.Minute))
	}

	page, err := f.repo.GetRules(ctx, storage.RuleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.Limit)
	assert.Len(t, page.Rules, 3)

	page, err = f.repo.GetRules(ctx, storage.RuleFilter{PetID: "pet-0", Limit: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Rules, 1)
	assert.Equal(t, "pet-0", page.Rules[0].PetID)

	page, err = f.repo.GetRules(ctx, storage.RuleFilter{Limit: 10_000})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.Limit)
}

func TestMutationsArePublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.bus.Subscribe(16)

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID
	_, err = f.repo.UpdateRule(ctx, id, RulePatch{Title: Set("x")})
	require.NoError(t, err)
	_, err = f.repo.AddException(ctx, id, "2026-02-20")
	require.NoError(t, err)
	_, err = f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)
	_, err = f.repo.DeleteRule(ctx, id)
	require.NoError(t, err)

	var kinds []notify.Kind
	for range 5 {
		m := <-sub.C
		assert.Equal(t, id, m.RuleID)
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []notify.Kind{
		notify.KindCreated,
		notify.KindUpdated,
		notify.KindExceptionAdded,
		notify.KindRegenerated,
		notify.KindDeleted,
	}, kinds)
}

func TestCreateRule_StoreFailure(t *testing.T) {
	store := new(storage.MockStorage)
	store.On("CreateRule", mock.Anything, mock.AnythingOfType("*storage.RecurrenceRule")).Return(nil)
	store.On("ReplaceEvents", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(0, errors.New("disk full"))
	store.On("DeleteRule", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	repo := New(Config{Store: store, Now: func() time.Time { return time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC) }})
	_, err := repo.CreateRule(context.Background(), fridayDraft())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	store.AssertExpectations(t)

	// the half-created rule is removed again
	stored := store.Calls[0].Arguments.Get(1).(*storage.RecurrenceRule)
	store.AssertCalled(t, "DeleteRule", mock.Anything, stored.ID)
}

func TestCreateRule_EventWriteFailureLeavesNoRule(t *testing.T) {
	store := memory.New()
	failing := new(storage.MockStorage)
	failing.On("CreateRule", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		require.NoError(t, store.CreateRule(args.Get(0).(context.Context), args.Get(1).(*storage.RecurrenceRule)))
	})
	failing.On("ReplaceEvents", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("disk full"))
	failing.On("DeleteRule", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		require.NoError(t, store.DeleteRule(args.Get(0).(context.Context), args.String(1)))
	})

	repo := New(Config{Store: failing})
	_, err := repo.CreateRule(context.Background(), fridayDraft())
	require.Error(t, err)

	rules, total, err := store.ListRules(context.Background(), storage.RuleFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, rules)
}

func TestGetRuleByID_MapsNotFound(t *testing.T) {
	store := new(storage.MockStorage)
	store.On("GetRule", mock.Anything, "r1").
		Return(nil, &storage.Error{Type: storage.ErrNotFound, Message: "rule not found"})

	repo := New(Config{Store: store})
	_, err := repo.GetRuleByID(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, storage.IsNotFound(err))

	store.On("GetRule", mock.Anything, "r2").Return(nil, errors.New("connection reset"))
	_, err = repo.GetRuleByID(context.Background(), "r2")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGetEventsByRuleID_WriteDuringFillIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID

	// the rule is deactivated after the reader loaded its events but
	// before the reader filled the cache
	f.hooks.afterList = func() {
		_, err := f.repo.UpdateRule(ctx, id, RulePatch{IsActive: Set(false)})
		require.NoError(t, err)
	}
	inFlight, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{IncludePast: true})
	require.NoError(t, err)
	assert.Len(t, inFlight, 26)

	stored, err := f.store.ListEventsByRule(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, stored)

	later, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{IncludePast: true})
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestRegenerateEvents_KeepsConcurrentException(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.CreateRule(ctx, fridayDraft())
	require.NoError(t, err)
	id := created.Rule.ID

	// an exception lands after the regeneration read the rule
	f.hooks.afterGet = func() {
		res, err := f.repo.AddException(ctx, id, "2026-03-06")
		require.NoError(t, err)
		require.True(t, res.Added)
	}
	_, err = f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)

	rule, err := f.repo.GetRuleByID(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, rule.ExceptionDates, "2026-03-06")
	require.NotNil(t, rule.LastGeneratedDate)
	assert.Equal(t, f.clock.Now(), *rule.LastGeneratedDate)

	// the next pass honours it
	_, err = f.repo.RegenerateEvents(ctx, id)
	require.NoError(t, err)
	events, err := f.repo.GetEventsByRuleID(ctx, id, EventQuery{})
	require.NoError(t, err)
	assert.NotContains(t, starts(events), time.Date(2026, 3, 6, 6, 0, 0, 0, time.UTC))
	assert.Len(t, events, 25)
}

func TestRulePatch_JSON(t *testing.T) {
	var p RulePatch
	err := json.Unmarshal([]byte(`{"title":"Walk","day_of_month":null,"days_of_week":[1,3],"end_date":"2026-12-31T00:00:00Z"}`), &p)
	require.NoError(t, err)

	assert.True(t, p.Title.Present)
	assert.Equal(t, "Walk", p.Title.Value.MustGet())
	assert.True(t, p.DayOfMonth.Present)
	assert.True(t, p.DayOfMonth.Value.IsAbsent())
	assert.False(t, p.TimesPerDay.Present)
	assert.False(t, p.Empty())

	day := 31
	rule := &storage.RecurrenceRule{Title: "Old", DayOfMonth: &day, Frequency: "monthly"}
	p.Apply(rule)
	assert.Equal(t, "Walk", rule.Title)
	assert.Nil(t, rule.DayOfMonth)
	assert.Equal(t, []int{1, 3}, rule.DaysOfWeek)
	assert.Equal(t, "monthly", rule.Frequency)
	require.NotNil(t, rule.EndDate)
	assert.Equal(t, 2026, rule.EndDate.Year())

	assert.True(t, RulePatch{}.Empty())
	assert.Error(t, json.Unmarshal([]byte(`{"interval":"two"}`), &p))
}

func TestRRule(t *testing.T) {
	f := newFixture(t)
	created, err := f.repo.CreateRule(context.Background(), fridayDraft())
	require.NoError(t, err)

	s, err := f.repo.RRule(created.Rule)
	require.NoError(t, err)
	assert.Contains(t, s, "FREQ=WEEKLY")
	assert.Contains(t, s, "BYDAY=FR")
	assert.Contains(t, s, "BYHOUR=9")
}
