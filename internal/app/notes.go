package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"

	"dispatch_engine/internal/security"
)

// Note limits
const (
	MaxTitleLength = 200
	MaxBodyLength  = 10_000
	DefaultListMax = 50
)

var (
	ErrNoteNotFound = errors.New("note not found")
	ErrInvalidNote  = errors.New("invalid note")
)

// Note is one stored note
type Note struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NoteStore is the data-access service behind NotesController
type NoteStore interface {
	List(ctx context.Context, limit int) ([]Note, error)
	Get(ctx context.Context, id string) (Note, error)
	Create(ctx context.Context, title, body string) (Note, error)
	Count(ctx context.Context) (int, error)
}

var (
	titleSanitizer = security.NewSanitizer(nil)
	bodySanitizer  = security.NewSanitizer(&security.SanitizerConfig{
		TrimWhitespace:     true,
		RemoveNullBytes:    true,
		RemoveControlChars: true,
	})
)

// validateNote cleans and checks user input. Titles lose any markup; bodies
// keep it and are escaped when rendered.
func validateNote(title, body string) (string, string, error) {
	title = titleSanitizer.Sanitize(title)
	body = bodySanitizer.Sanitize(body)
	switch {
	case title == "":
		return "", "", pkgerrors.Wrap(ErrInvalidNote, "title is required")
	case len(title) > MaxTitleLength:
		return "", "", pkgerrors.Wrapf(ErrInvalidNote, "title exceeds %d characters", MaxTitleLength)
	case len(body) > MaxBodyLength:
		return "", "", pkgerrors.Wrapf(ErrInvalidNote, "body exceeds %d characters", MaxBodyLength)
	}
	return title, body, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListMax {
		return DefaultListMax
	}
	return limit
}

// MemoryNoteStore keeps notes in process memory
type MemoryNoteStore struct {
	mu    sync.RWMutex
	notes map[string]Note
	now   func() time.Time
}

// NewMemoryNoteStore creates an empty store
func NewMemoryNoteStore() *MemoryNoteStore {
	return &MemoryNoteStore{notes: make(map[string]Note), now: time.Now}
}

// List returns the newest notes first
func (s *MemoryNoteStore) List(_ context.Context, limit int) ([]Note, error) {
	s.mu.RLock()
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryNoteStore) Get(_ context.Context, id string) (Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return Note{}, ErrNoteNotFound
	}
	return n, nil
}

func (s *MemoryNoteStore) Create(_ context.Context, title, body string) (Note, error) {
	title, body, err := validateNote(title, body)
	if err != nil {
		return Note{}, err
	}
	n := Note{ID: uuid.NewString(), Title: title, Body: body, CreatedAt: s.now().UTC()}

	s.mu.Lock()
	s.notes[n.ID] = n
	s.mu.Unlock()
	return n, nil
}

func (s *MemoryNoteStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes), nil
}

const notesSchema = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS notes_created_at_idx ON notes (created_at DESC);`

// PostgresNoteStore keeps notes in PostgreSQL
type PostgresNoteStore struct {
	pool *pgxpool.Pool
}

// NewPostgresNoteStore wraps an open pool
func NewPostgresNoteStore(pool *pgxpool.Pool) *PostgresNoteStore {
	return &PostgresNoteStore{pool: pool}
}

// EnsureSchema creates the notes table when missing
func (s *PostgresNoteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, notesSchema); err != nil {
		return pkgerrors.Wrap(err, "create notes schema")
	}
	return nil
}

func (s *PostgresNoteStore) List(ctx context.Context, limit int) ([]Note, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, body, created_at FROM notes ORDER BY created_at DESC, id LIMIT $1`,
		clampLimit(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list notes")
	}
	notes, err := pgx.CollectRows(rows, pgx.RowToStructByName[Note])
	if err != nil {
		return nil, pkgerrors.Wrap(err, "scan notes")
	}
	return notes, nil
}

func (s *PostgresNoteStore) Get(ctx context.Context, id string) (Note, error) {
	var n Note
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, body, created_at FROM notes WHERE id = $1`, id,
	).Scan(&n.ID, &n.Title, &n.Body, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Note{}, ErrNoteNotFound
	}
	if err != nil {
		return Note{}, pkgerrors.Wrapf(err, "get note %s", id)
	}
	return n, nil
}

func (s *PostgresNoteStore) Create(ctx context.Context, title, body string) (Note, error) {
	title, body, err := validateNote(title, body)
	if err != nil {
		return Note{}, err
	}
	n := Note{ID: uuid.NewString(), Title: title, Body: body}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO notes (id, title, body) VALUES ($1, $2, $3) RETURNING created_at`,
		n.ID, n.Title, n.Body,
	).Scan(&n.CreatedAt)
	if err != nil {
		return Note{}, pkgerrors.Wrap(err, "insert note")
	}
	return n, nil
}

func (s *PostgresNoteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, pkgerrors.Wrap(err, "count notes")
	}
	return n, nil
}

var (
	_ NoteStore = (*MemoryNoteStore)(nil)
	_ NoteStore = (*PostgresNoteStore)(nil)
)
