package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestNewTimesOfDay(t *testing.T) {
	tests := []struct {
		name        string
		dailyTimes  []string
		timesPerDay *int
		want        TimesOfDay
		wantErr     bool
	}{
		{"explicit wins over count", []string{"20:00", "08:00"}, intPtr(3), ExplicitTimes{{8, 0}, {20, 0}}, false},
		{"explicit deduplicated", []string{"08:00", "08:00"}, nil, ExplicitTimes{{8, 0}}, false},
		{"count", nil, intPtr(3), TimesCount(3), false},
		{"zero count is default", nil, intPtr(0), DefaultTimes{}, false},
		{"nothing is default", nil, nil, DefaultTimes{}, false},
		{"malformed time", []string{"8 o'clock"}, nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTimesOfDay(tt.dailyTimes, tt.timesPerDay)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngineConfig_DailyTimes(t *testing.T) {
	c := DefaultEngineConfig

	assert.Equal(t, []ClockTime{{9, 0}}, c.dailyTimes(DefaultTimes{}))
	assert.Equal(t, []ClockTime{{9, 0}}, c.dailyTimes(TimesCount(1)))
	assert.Equal(t, []ClockTime{{8, 0}, {20, 0}}, c.dailyTimes(TimesCount(2)))
	assert.Equal(t, []ClockTime{{8, 0}, {12, 0}, {16, 0}, {20, 0}}, c.dailyTimes(TimesCount(4)))
	assert.Equal(t, []ClockTime{{7, 30}}, c.dailyTimes(ExplicitTimes{{7, 30}}))
	assert.Len(t, c.dailyTimes(TimesCount(100)), 24)
}

func TestMaterialize_CapsAtMaxOccurrences(t *testing.T) {
	engine := NewEngine()
	rule := Rule{
		Frequency: FrequencyDaily,
		Times:     TimesCount(4),
		StartDate: utcDate(2026, 1, 1),
	}

	gen := engine.Generate(rule, utcDate(2026, 1, 1))
	require.Len(t, gen.Occurrences, 240)
	assert.True(t, gen.Truncated)

	last := gen.Occurrences[239]
	assert.Equal(t, NewDateKey(2026, 1, 1).AddDays(59), last.Date)
	assert.Equal(t, ClockTime{20, 0}, last.Time)
}

func TestMaterialize_TruncatesMidDay(t *testing.T) {
	engine := NewEngine()
	rule := Rule{Frequency: FrequencyDaily, Times: TimesCount(7), StartDate: utcDate(2026, 1, 1)}

	gen := engine.Generate(rule, utcDate(2026, 1, 1))
	require.Len(t, gen.Occurrences, 240)
	assert.True(t, gen.Truncated)

	// 240 = 34 full days of 7 plus two times of the 35th day
	lastDay := NewDateKey(2026, 1, 1).AddDays(34)
	tail := gen.Occurrences[238:]
	assert.Equal(t, lastDay, tail[0].Date)
	assert.Equal(t, ClockTime{8, 0}, tail[0].Time)
	assert.Equal(t, lastDay, tail[1].Date)
	assert.Equal(t, ClockTime{10, 0}, tail[1].Time)
}

func TestMaterialize_ExactlyAtCapIsNotTruncated(t *testing.T) {
	c := DefaultEngineConfig
	rule := Rule{Frequency: FrequencyDaily, Times: ExplicitTimes{{9, 0}, {21, 0}}}
	w := Window{Start: NewDateKey(2026, 1, 1), End: NewDateKey(2026, 1, 5)}

	occ, truncated := c.Materialize(rule, Enumerate(rule, w), 10)
	assert.Len(t, occ, 10)
	assert.False(t, truncated)

	occ, truncated = c.Materialize(rule, Enumerate(rule, w), 9)
	assert.Len(t, occ, 9)
	assert.True(t, truncated)
}

func TestMaterialize_Chronological(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	c := DefaultEngineConfig
	rule := Rule{Frequency: FrequencyDaily, Times: ExplicitTimes{{6, 0}, {18, 30}}, Location: loc}
	// spans the March DST change
	w := Window{Start: NewDateKey(2026, 3, 6), End: NewDateKey(2026, 3, 10)}

	occ, _ := c.Materialize(rule, Enumerate(rule, w), 240)
	require.Len(t, occ, 10)
	for i := 1; i < len(occ); i++ {
		assert.True(t, occ[i-1].Start.Before(occ[i].Start))
	}
	for _, o := range occ {
		local := o.Start.In(loc)
		assert.Equal(t, o.Time.Hour, local.Hour())
		assert.Equal(t, o.Time.Minute, local.Minute())
	}
}
