// Package sqlite is a storage.Storage backed by SQLite through sqlx.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cyp0633/recurra/server/storage"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store implements storage.Storage on a SQLite database.
type Store struct {
	db *sqlx.DB
}

var _ storage.Storage = (*Store)(nil)

// Open connects to the database at path and applies the schema. File
// databases run in WAL mode so readers are not blocked by a writer.
func Open(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000"
	if path != MemoryPath {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if path == MemoryPath {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(msg string) error {
	return &storage.Error{Type: storage.ErrNotFound, Message: msg}
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

// Rule operations

func (s *Store) CreateRule(ctx context.Context, rule *storage.RecurrenceRule) error {
	if rule == nil || rule.ID == "" {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "rule id is required"}
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertRuleSQL, toRuleRow(rule)); err != nil {
			if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
				return &storage.Error{Type: storage.ErrAlreadyExists, Message: "rule already exists", Err: err}
			}
			return fmt.Errorf("failed to insert rule %s: %w", rule.ID, err)
		}
		return writeChildren(ctx, tx, rule)
	})
}

func (s *Store) GetRule(ctx context.Context, id string) (*storage.RecurrenceRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+ruleColumns+` FROM recurrence_rules WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("rule not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}

	rules := []*storage.RecurrenceRule{row.rule()}
	if err := loadChildren(ctx, s.db, rules); err != nil {
		return nil, err
	}
	return rules[0], nil
}

func (s *Store) ListRules(ctx context.Context, filter storage.RuleFilter) ([]*storage.RecurrenceRule, int, error) {
	var conds []string
	var args []any
	if filter.IsActive != nil {
		conds = append(conds, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if filter.PetID != "" {
		conds = append(conds, "pet_id = ?")
		args = append(args, filter.PetID)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM recurrence_rules`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}

	query := `SELECT ` + ruleColumns + ` FROM recurrence_rules` + where + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset())
	}
	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list rules: %w", err)
	}

	rules := make([]*storage.RecurrenceRule, len(rows))
	for i, row := range rows {
		rules[i] = row.rule()
	}
	if err := loadChildren(ctx, s.db, rules); err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule *storage.RecurrenceRule) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, updateRuleSQL, toRuleRow(rule))
		if err != nil {
			return fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return notFound("rule not found")
		}
		return writeChildren(ctx, tx, rule)
	})
}

func (s *Store) MarkGenerated(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recurrence_rules SET last_generated_date = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark rule %s generated: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("rule not found")
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recurrence_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("rule not found")
	}
	return nil
}

func (s *Store) AddExceptionDate(ctx context.Context, ruleID, dateKey string) (bool, error) {
	var added bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM recurrence_rules WHERE id = ?`, ruleID); err != nil {
			return fmt.Errorf("failed to look up rule %s: %w", ruleID, err)
		}
		if exists == 0 {
			return notFound("rule not found")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO rule_exception_dates (rule_id, date_key) VALUES (?, ?)`, ruleID, dateKey)
		if err != nil {
			return fmt.Errorf("failed to add exception date: %w", err)
		}
		n, _ := res.RowsAffected()
		added = n > 0
		return nil
	})
	return added, err
}

// writeChildren replaces the child rows of rule.
func writeChildren(ctx context.Context, tx *sqlx.Tx, rule *storage.RecurrenceRule) error {
	for _, table := range []string{"rule_weekdays", "rule_daily_times", "rule_exception_dates"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE rule_id = ?`, rule.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	for _, wd := range rule.DaysOfWeek {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO rule_weekdays (rule_id, weekday) VALUES (?, ?)`, rule.ID, wd); err != nil {
			return fmt.Errorf("failed to store weekday %d: %w", wd, err)
		}
	}
	for i, t := range rule.DailyTimes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rule_daily_times (rule_id, position, time_of_day) VALUES (?, ?, ?)`, rule.ID, i, t); err != nil {
			return fmt.Errorf("failed to store daily time %q: %w", t, err)
		}
	}
	for _, d := range rule.ExceptionDates {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO rule_exception_dates (rule_id, date_key) VALUES (?, ?)`, rule.ID, d); err != nil {
			return fmt.Errorf("failed to store exception date %q: %w", d, err)
		}
	}
	return nil
}

// loadChildren fills the array fields of rules with one query per child table.
func loadChildren(ctx context.Context, q sqlx.QueryerContext, rules []*storage.RecurrenceRule) error {
	if len(rules) == 0 {
		return nil
	}
	byID := make(map[string]*storage.RecurrenceRule, len(rules))
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	var weekdays []struct {
		RuleID  string `db:"rule_id"`
		Weekday int    `db:"weekday"`
	}
	if err := selectIn(ctx, q, &weekdays,
		`SELECT rule_id, weekday FROM rule_weekdays WHERE rule_id IN (?) ORDER BY rule_id, weekday`, ids); err != nil {
		return fmt.Errorf("failed to load weekdays: %w", err)
	}
	for _, w := range weekdays {
		r := byID[w.RuleID]
		r.DaysOfWeek = append(r.DaysOfWeek, w.Weekday)
	}

	var times []struct {
		RuleID    string `db:"rule_id"`
		TimeOfDay string `db:"time_of_day"`
	}
	if err := selectIn(ctx, q, &times,
		`SELECT rule_id, time_of_day FROM rule_daily_times WHERE rule_id IN (?) ORDER BY rule_id, position`, ids); err != nil {
		return fmt.Errorf("failed to load daily times: %w", err)
	}
	for _, t := range times {
		r := byID[t.RuleID]
		r.DailyTimes = append(r.DailyTimes, t.TimeOfDay)
	}

	var exceptions []struct {
		RuleID  string `db:"rule_id"`
		DateKey string `db:"date_key"`
	}
	if err := selectIn(ctx, q, &exceptions,
		`SELECT rule_id, date_key FROM rule_exception_dates WHERE rule_id IN (?) ORDER BY rule_id, date_key`, ids); err != nil {
		return fmt.Errorf("failed to load exception dates: %w", err)
	}
	for _, e := range exceptions {
		r := byID[e.RuleID]
		r.ExceptionDates = append(r.ExceptionDates, e.DateKey)
	}
	return nil
}

func selectIn(ctx context.Context, q sqlx.QueryerContext, dest any, query string, args ...any) error {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q, dest, query, args...)
}

// Event operations

func (s *Store) ListEventsByRule(ctx context.Context, ruleID string) ([]*storage.Event, error) {
	var rows []eventRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+eventColumns+` FROM events WHERE recurrence_rule_id = ? ORDER BY start_time, series_index`, ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of rule %s: %w", ruleID, err)
	}
	events := make([]*storage.Event, len(rows))
	for i, row := range rows {
		events[i] = row.event()
	}
	return events, nil
}

func (s *Store) ReplaceEvents(ctx context.Context, ruleID string, events []*storage.Event) (int, error) {
	var deleted int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		n, err := deleteEventsByRule(ctx, tx, ruleID)
		if err != nil {
			return err
		}
		deleted = n
		if len(events) == 0 {
			return nil
		}

		stmt, err := tx.PrepareNamedContext(ctx, insertEventSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range events {
			if e.ID == "" {
				return &storage.Error{Type: storage.ErrInvalidInput, Message: "event id is required"}
			}
			row := toEventRow(e)
			row.RecurrenceRuleID = ruleID
			if _, err := stmt.ExecContext(ctx, row); err != nil {
				return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *Store) DeleteEventsByRule(ctx context.Context, ruleID string) (int, error) {
	return deleteEventsByRule(ctx, s.db, ruleID)
}

func (s *Store) DeleteEvents(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM events WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func deleteEventsByRule(ctx context.Context, e sqlx.ExecerContext, ruleID string) (int, error) {
	res, err := e.ExecContext(ctx, `DELETE FROM events WHERE recurrence_rule_id = ?`, ruleID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events of rule %s: %w", ruleID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
