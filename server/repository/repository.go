// Package repository owns the lifecycle of recurrence rules: it stores
// them, keeps their generated events in step with every edit, and tells
// the rest of the process what changed.
package repository

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cyp0633/recurra/server/notify"
	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for operations on an unknown rule id.
	ErrNotFound = errors.New("recurrence rule not found")
	// ErrInvalidInput is returned for malformed dates or times of day.
	ErrInvalidInput = errors.New("invalid input")
)

// IDGenerator produces ids for new rules and events.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues time-ordered UUIDv7 ids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// EventCache is the read cache consulted by GetEventsByRuleID. Invalidation
// happens through the mutation bus, not through this interface; a fill is
// dropped if the rule was invalidated after Generation was read.
type EventCache interface {
	Get(ruleID string) ([]*storage.Event, bool)
	Generation(ruleID string) uint64
	SetIfCurrent(ruleID string, gen uint64, events []*storage.Event) bool
}

// Config wires a Repository. Store is required; everything else has a
// default.
type Config struct {
	Store     storage.Storage
	Engine    *recurrence.Engine
	Timezones recurrence.TimezoneResolver
	IDs       IDGenerator
	Now       func() time.Time
	Publisher notify.Publisher
	Cache     EventCache
	Logger    *slog.Logger
}

// Repository implements the rule operations on top of a storage backend.
// It holds no locks of its own; concurrent writers to the same rule are
// serialized only as far as the store serializes them.
type Repository struct {
	store     storage.Storage
	engine    *recurrence.Engine
	timezones recurrence.TimezoneResolver
	ids       IDGenerator
	now       func() time.Time
	publisher notify.Publisher
	cache     EventCache
	logger    *slog.Logger
}

// New creates a repository from cfg.
func New(cfg Config) *Repository {
	r := &Repository{
		store:     cfg.Store,
		engine:    cfg.Engine,
		timezones: cfg.Timezones,
		ids:       cfg.IDs,
		now:       cfg.Now,
		publisher: cfg.Publisher,
		cache:     cfg.Cache,
		logger:    cfg.Logger,
	}
	if r.engine == nil {
		r.engine = recurrence.NewEngine()
	}
	if r.timezones == nil {
		r.timezones = recurrence.NewFallbackResolver("UTC")
	}
	if r.ids == nil {
		r.ids = UUIDGenerator{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Repository) publish(ruleID string, kind notify.Kind, at time.Time) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(notify.RuleMutation{RuleID: ruleID, Kind: kind, At: at})
}

// mapStoreErr turns a storage not-found error into ErrNotFound while
// keeping the original in the chain.
func mapStoreErr(err error, id string) error {
	if storage.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, id, err)
	}
	return err
}
