package recurrence

import (
	"iter"
	"time"
)

// Engine expands recurrence rules into bounded sets of occurrences
type Engine struct {
	config EngineConfig
}

// NewEngine creates a new recurrence engine instance with the production bounds
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

// Config returns the effective configuration
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Generation is the result of one generation pass.
type Generation struct {
	Window      Window
	Occurrences []Occurrence
	// Truncated is set when MaxOccurrences cut the pass short
	Truncated bool
}

// Starts returns the occurrence instants in order.
func (g Generation) Starts() []time.Time {
	out := make([]time.Time, len(g.Occurrences))
	for i, o := range g.Occurrences {
		out[i] = o.Start
	}
	return out
}

// Generate runs a full pass for rule as of now: window, enumeration,
// exception filtering and materialization. It is a pure function of its
// inputs.
func (e *Engine) Generate(rule Rule, now time.Time) Generation {
	w := ComputeWindow(rule, now, e.config.HorizonDays)
	dates := FilterExceptions(Enumerate(rule, w), rule.Exceptions)
	occ, truncated := e.config.Materialize(rule, dates, e.config.MaxOccurrences)
	return Generation{Window: w, Occurrences: occ, Truncated: truncated}
}

// Materialize expands dates with the rule's daily times, capped at the
// engine's MaxOccurrences.
func (e *Engine) Materialize(rule Rule, dates iter.Seq[DateKey]) ([]Occurrence, bool) {
	return e.config.Materialize(rule, dates, e.config.MaxOccurrences)
}
