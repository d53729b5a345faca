package recurrence

// EngineConfig holds the safety bounds and defaults of a generation pass
type EngineConfig struct {
	// HorizonDays is how far past the generation start a single pass may reach
	HorizonDays int
	// MaxOccurrences caps the date×time combinations produced per pass
	MaxOccurrences int
	// DefaultTime is used when a rule has neither explicit times nor a per-day count
	DefaultTime ClockTime
	// Spread window for TimesCount rules
	FirstTime ClockTime
	LastTime  ClockTime
	// MaxTimesPerDay clamps TimesCount
	MaxTimesPerDay int
}

// DefaultEngineConfig provides the production bounds
var DefaultEngineConfig = EngineConfig{
	HorizonDays:    180,
	MaxOccurrences: 240,
	DefaultTime:    ClockTime{Hour: 9},
	FirstTime:      ClockTime{Hour: 8},
	LastTime:       ClockTime{Hour: 20},
	MaxTimesPerDay: 24,
}

// normalize fills zero values from DefaultEngineConfig
func (c EngineConfig) normalize() EngineConfig {
	if c.HorizonDays <= 0 {
		c.HorizonDays = DefaultEngineConfig.HorizonDays
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = DefaultEngineConfig.MaxOccurrences
	}
	if c.MaxTimesPerDay <= 0 {
		c.MaxTimesPerDay = DefaultEngineConfig.MaxTimesPerDay
	}
	if c.FirstTime == (ClockTime{}) && c.LastTime == (ClockTime{}) {
		c.FirstTime = DefaultEngineConfig.FirstTime
		c.LastTime = DefaultEngineConfig.LastTime
	}
	return c
}

// NewEngineWithConfig creates a new recurrence engine with custom configuration
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{config: config.normalize()}
}
