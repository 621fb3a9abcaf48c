// Package store persists service records and their append-only history in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"svcforge/internal/logging"
	"svcforge/internal/service"
)

// Store is the narrow persistence interface the pipeline depends on.
type Store interface {
	Save(ctx context.Context, rec *service.Record) error
	Get(ctx context.Context, id string) (*service.Record, error)
	List(ctx context.Context) ([]*service.Record, error)
	AppendEvent(ctx context.Context, id string, ev service.Event) error
	Close() error
}

// SQLite is the file-backed Store implementation.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (or opens) the database at dbPath and ensures the schema.
func Open(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open service store: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("opened service store at %s", dbPath)
	return s, nil
}

func (s *SQLite) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL,
		route        TEXT NOT NULL DEFAULT '',
		http_method  TEXT NOT NULL DEFAULT '',
		code         TEXT NOT NULL,
		params       TEXT NOT NULL DEFAULT '[]',
		dependencies TEXT NOT NULL DEFAULT '[]',
		output       TEXT NOT NULL DEFAULT '{}',
		test_cases   TEXT NOT NULL DEFAULT '[]',
		status       TEXT NOT NULL,
		attempts     INTEGER NOT NULL DEFAULT 0,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_services_status ON services(status);
	CREATE INDEX IF NOT EXISTS idx_services_name ON services(name);

	CREATE TABLE IF NOT EXISTS service_history (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		service_id  TEXT NOT NULL,
		event_time  TIMESTAMP NOT NULL,
		from_status TEXT NOT NULL,
		to_status   TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		note        TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (service_id) REFERENCES services(id)
	);
	CREATE INDEX IF NOT EXISTS idx_history_service ON service_history(service_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return nil
}

// Save upserts the record row and appends any history events not yet
// persisted. History rows are never updated or deleted.
func (s *SQLite) Save(ctx context.Context, rec *service.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer tx.Rollback()

	params, _ := json.Marshal(rec.Spec.Params)
	deps, _ := json.Marshal(rec.Spec.Dependencies)
	output, _ := json.Marshal(rec.Spec.Output)
	testCases, _ := json.Marshal(rec.Spec.TestCases)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO services (id, name, description, route, http_method, code, params, dependencies, output, test_cases, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			route = excluded.route,
			http_method = excluded.http_method,
			code = excluded.code,
			params = excluded.params,
			dependencies = excluded.dependencies,
			output = excluded.output,
			test_cases = excluded.test_cases,
			status = excluded.status,
			attempts = excluded.attempts,
			updated_at = excluded.updated_at`,
		rec.Spec.ID, rec.Spec.Name, rec.Spec.Description,
		rec.Spec.Route, rec.Spec.HTTPMethod, rec.Spec.Code,
		string(params), string(deps), string(output), string(testCases),
		string(rec.Status), rec.Attempts,
		rec.CreatedAt.UTC().Format(timeLayout), rec.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save service %s: %w", rec.Spec.ID, err)
	}

	var persisted int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM service_history WHERE service_id = ?`, rec.Spec.ID).Scan(&persisted); err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}
	for _, ev := range rec.History[persisted:] {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_history (service_id, event_time, from_status, to_status, attempt, note)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Spec.ID, ev.Time.UTC().Format(timeLayout),
			string(ev.From), string(ev.To), ev.Attempt, ev.Note); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}
	logging.Store("saved %s (%s, %d history events)", rec.Spec.Name, rec.Status, len(rec.History))
	return nil
}

// AppendEvent writes a single history event for a service without touching
// its row. Used for out-of-band events such as a retest of a published
// service.
func (s *SQLite) AppendEvent(ctx context.Context, id string, ev service.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO service_history (service_id, event_time, from_status, to_status, attempt, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, ev.Time.UTC().Format(timeLayout),
		string(ev.From), string(ev.To), ev.Attempt, ev.Note); err != nil {
		return fmt.Errorf("failed to append event for %s: %w", id, err)
	}
	logging.Store("appended %s -> %s event for %s", ev.From, ev.To, id)
	return nil
}

// Get loads one record with its full history.
func (s *SQLite) Get(ctx context.Context, id string) (*service.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, route, http_method, code, params, dependencies, output, test_cases, status, attempts, created_at, updated_at
		FROM services WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_time, from_status, to_status, attempt, note
		FROM service_history WHERE service_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev service.Event
		var ts, from, to string
		if err := rows.Scan(&ts, &from, &to, &ev.Attempt, &ev.Note); err != nil {
			return nil, fmt.Errorf("failed to scan history event: %w", err)
		}
		ev.Time, _ = time.Parse(timeLayout, ts)
		ev.From = service.Status(from)
		ev.To = service.Status(to)
		rec.History = append(rec.History, ev)
	}
	return rec, rows.Err()
}

// List returns all records, newest first, without history.
func (s *SQLite) List(ctx context.Context) ([]*service.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, route, http_method, code, params, dependencies, output, test_cases, status, attempts, created_at, updated_at
		FROM services ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var out []*service.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

const timeLayout = "2006-01-02 15:04:05"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*service.Record, error) {
	var (
		spec                            service.Spec
		params, deps, output, testCases string
		status, createdAt, updatedAt    string
		attempts                        int
	)
	err := row.Scan(&spec.ID, &spec.Name, &spec.Description, &spec.Route,
		&spec.HTTPMethod, &spec.Code, &params, &deps, &output, &testCases,
		&status, &attempts, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal([]byte(params), &spec.Params)
	_ = json.Unmarshal([]byte(deps), &spec.Dependencies)
	_ = json.Unmarshal([]byte(output), &spec.Output)
	_ = json.Unmarshal([]byte(testCases), &spec.TestCases)

	rec := &service.Record{
		Spec:     &spec,
		Status:   service.Status(status),
		Attempts: attempts,
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return rec, nil
}
