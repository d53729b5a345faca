package sqlite

// schema is applied on Open. Array fields of a rule live in child tables
// keyed by (rule_id, value); events only reference their rule by id.
const schema = `
CREATE TABLE IF NOT EXISTS recurrence_rules (
	id                  TEXT PRIMARY KEY,
	pet_id              TEXT NOT NULL,
	title               TEXT NOT NULL,
	event_type          TEXT NOT NULL DEFAULT '',
	reminder_enabled    INTEGER NOT NULL DEFAULT 0,
	reminder_preset     TEXT NOT NULL DEFAULT '',
	notes               TEXT NOT NULL DEFAULT '',
	vaccine_name        TEXT NOT NULL DEFAULT '',
	vaccine_batch       TEXT NOT NULL DEFAULT '',
	medication_name     TEXT NOT NULL DEFAULT '',
	dosage              TEXT NOT NULL DEFAULT '',
	frequency           TEXT NOT NULL,
	interval_count      INTEGER NOT NULL DEFAULT 1,
	day_of_month        INTEGER,
	times_per_day       INTEGER,
	timezone            TEXT NOT NULL DEFAULT '',
	start_date          DATETIME NOT NULL,
	end_date            DATETIME,
	is_active           INTEGER NOT NULL DEFAULT 1,
	last_generated_date DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_pet ON recurrence_rules(pet_id);
CREATE INDEX IF NOT EXISTS idx_rules_created ON recurrence_rules(created_at, id);

CREATE TABLE IF NOT EXISTS rule_weekdays (
	rule_id TEXT NOT NULL REFERENCES recurrence_rules(id) ON DELETE CASCADE,
	weekday INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
	PRIMARY KEY (rule_id, weekday)
);

CREATE TABLE IF NOT EXISTS rule_daily_times (
	rule_id     TEXT NOT NULL REFERENCES recurrence_rules(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	time_of_day TEXT NOT NULL,
	PRIMARY KEY (rule_id, position)
);

CREATE TABLE IF NOT EXISTS rule_exception_dates (
	rule_id  TEXT NOT NULL REFERENCES recurrence_rules(id) ON DELETE CASCADE,
	date_key TEXT NOT NULL,
	PRIMARY KEY (rule_id, date_key)
);

CREATE TABLE IF NOT EXISTS events (
	id                 TEXT PRIMARY KEY,
	pet_id             TEXT NOT NULL,
	recurrence_rule_id TEXT NOT NULL,
	series_index       INTEGER NOT NULL,
	title              TEXT NOT NULL,
	event_type         TEXT NOT NULL DEFAULT '',
	reminder_enabled   INTEGER NOT NULL DEFAULT 0,
	reminder_preset    TEXT NOT NULL DEFAULT '',
	notes              TEXT NOT NULL DEFAULT '',
	vaccine_name       TEXT NOT NULL DEFAULT '',
	vaccine_batch      TEXT NOT NULL DEFAULT '',
	medication_name    TEXT NOT NULL DEFAULT '',
	dosage             TEXT NOT NULL DEFAULT '',
	start_time         DATETIME NOT NULL,
	status             TEXT NOT NULL DEFAULT 'upcoming',
	created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_rule ON events(recurrence_rule_id, start_time);
`
