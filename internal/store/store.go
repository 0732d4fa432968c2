// Package store is the local SQLite database: a RecordStore for offline and
// verification runs, and the history of every pipeline run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AlejoKrz/AutomatedUserCreation/internal/domain"
)

var (
	// ErrUserNotFound is returned when a user ID has no row
	ErrUserNotFound = errors.New("user not found")
	// ErrRunNotFound is returned when a run ID has no row
	ErrRunNotFound = errors.New("run not found")
)

// Store provides SQLite-backed persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection: keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertUser inserts a user or replaces its data, keeping its position
func (s *Store) UpsertUser(ctx context.Context, u domain.UserRecord) error {
	fieldsJSON, err := json.Marshal(u.Fields)
	if err != nil {
		return err
	}
	status := u.Status
	if status == "" {
		status = domain.StatusApproved
	}
	now := s.now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, title, first_names, last_names, status, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			first_names = excluded.first_names,
			last_names = excluded.last_names,
			status = excluded.status,
			fields = excluded.fields,
			updated_at = excluded.updated_at
	`,
		u.ID,
		u.Title,
		u.FirstNames,
		u.LastNames,
		string(status),
		string(fieldsJSON),
		now,
		now,
	)
	return err
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*domain.UserRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, first_names, last_names, status, fields
		FROM users WHERE id = ?
	`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// ListUsers returns users in insertion order, optionally filtered by status
func (s *Store) ListUsers(ctx context.Context, status domain.LifecycleStatus) ([]domain.UserRecord, error) {
	query := `SELECT id, title, first_names, last_names, status, fields FROM users WHERE 1=1`
	var args []interface{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// FetchApproved returns approved users in insertion order
func (s *Store) FetchApproved(ctx context.Context) ([]domain.UserRecord, error) {
	users, err := s.ListUsers(ctx, domain.StatusApproved)
	if err != nil {
		return nil, domain.Transient("fetch approved users", err)
	}
	return users, nil
}

// UpdateStatus sets a user's lifecycle status
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.LifecycleStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), id)
	if err != nil {
		return domain.Transient("update status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Transient("update status", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*domain.UserRecord, error) {
	var u domain.UserRecord
	var title, first, last, fieldsJSON sql.NullString
	var status string

	if err := row.Scan(&u.ID, &title, &first, &last, &status, &fieldsJSON); err != nil {
		return nil, err
	}

	u.Title = title.String
	u.FirstNames = first.String
	u.LastNames = last.String
	u.Status = domain.LifecycleStatus(status)

	if fieldsJSON.Valid && fieldsJSON.String != "" && fieldsJSON.String != "null" {
		if err := json.Unmarshal([]byte(fieldsJSON.String), &u.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of user %s: %w", u.ID, err)
		}
	}
	return &u, nil
}
