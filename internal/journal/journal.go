// Package journal keeps a local SQLite log of reefer events so history
// survives network outages and can be listed by the management API.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sweeney/reefer-sensor/internal/logic"
)

const driverName = "sqlite"

// DefaultLimit caps List results when the filter sets none.
const DefaultLimit = 500

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    occurred_at INTEGER NOT NULL,
    kind TEXT NOT NULL,
    source TEXT,
    severity TEXT NOT NULL,
    message TEXT,
    temperature REAL,
    meta TEXT
);`

const schemaEventsIndex = `CREATE INDEX IF NOT EXISTS events_occurred_at ON events (occurred_at);`

// Entry is one journal row.
type Entry struct {
	ID          string         `json:"id"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Kind        string         `json:"kind"`
	Source      string         `json:"source,omitempty"`
	Severity    string         `json:"severity"`
	Message     string         `json:"message,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Filter selects entries. Zero values mean unbounded.
type Filter struct {
	From  time.Time
	To    time.Time
	Kind  string
	Limit int
}

// Journal stores entries in SQLite.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Journal, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Single writer; SQLite serialises writes anyway
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", strings.TrimSuffix(pragma, ";"), err)
		}
	}

	j := New(db)
	if err := j.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// New wraps an existing handle. The schema is assumed to exist.
func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) ensureSchema() error {
	for i, stmt := range []string{schemaEvents, schemaEventsIndex} {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// FromEvent converts a core event into a journal entry.
func FromEvent(e logic.Event) Entry {
	en := Entry{
		OccurredAt: e.Timestamp,
		Kind:       string(e.Kind),
		Source:     string(e.Source),
		Severity:   string(e.Severity),
		Message:    e.Message,
	}
	if e.TempValid {
		t := e.Temperature
		en.Temperature = &t
	}

	meta := map[string]any{}
	if e.Alarm != logic.AlarmNone {
		meta["alarm"] = string(e.Alarm)
	}
	if e.Kind == logic.EventAlarm {
		meta["limit"] = e.Limit
		meta["notify"] = e.Notify
	}
	if e.Duration > 0 {
		meta["duration_sec"] = int64(e.Duration / time.Second)
	}
	switch e.Kind {
	case logic.EventRelay, logic.EventDoor:
		meta["on"] = e.On
	}
	if e.HeldOpen {
		meta["held_open"] = true
	}
	if e.Kind == logic.EventDoor && !e.On && !e.HeldOpen {
		meta["temp_at_open"] = e.TempAtOpen
	}
	if e.Battery > 0 {
		meta["battery_voltage"] = e.Battery
	}
	if len(meta) > 0 {
		en.Meta = meta
	}
	return en
}

// Append inserts e. Empty ID and zero OccurredAt are filled in.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}

	var meta *string
	if e.Meta != nil {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
		s := string(b)
		meta = &s
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, occurred_at, kind, source, severity, message, temperature, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.OccurredAt.UnixMilli(),
		strings.ToUpper(strings.TrimSpace(e.Kind)),
		e.Source,
		e.Severity,
		e.Message,
		e.Temperature,
		meta,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// List returns entries matching f, oldest first. Without a From bound the
// limit keeps the most recent entries.
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if !f.From.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, f.To.UnixMilli())
	}
	if kind := strings.ToUpper(strings.TrimSpace(f.Kind)); kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := `SELECT id, occurred_at, kind, source, severity, message, temperature, meta FROM events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	recent := f.From.IsZero()
	if recent {
		q += " ORDER BY occurred_at DESC LIMIT ?"
	} else {
		q += " ORDER BY occurred_at ASC LIMIT ?"
	}
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 64)
	for rows.Next() {
		var (
			e       Entry
			ms      int64
			source  sql.NullString
			message sql.NullString
			temp    sql.NullFloat64
			meta    sql.NullString
		)
		if err := rows.Scan(&e.ID, &ms, &e.Kind, &source, &e.Severity, &message, &temp, &meta); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.OccurredAt = time.UnixMilli(ms).UTC()
		e.Source = source.String
		e.Message = message.String
		if temp.Valid {
			v := temp.Float64
			e.Temperature = &v
		}
		if meta.Valid && meta.String != "" {
			// Keep the row even if meta is malformed
			_ = json.Unmarshal([]byte(meta.String), &e.Meta)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if recent {
		slices.Reverse(out)
	}
	return out, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
