package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when no run has the requested id.
var ErrNotFound = errors.New("run not found")

type Run struct {
	ID         string     `json:"id"`
	Deck       string     `json:"deck"`
	Output     string     `json:"output"`
	Status     string     `json:"status"`
	Slides     int        `json:"slides"`
	Fallbacks  int        `json:"fallbacks"`
	Bytes      int64      `json:"bytes"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Outcome is what a finished run reports back.
type Outcome struct {
	Slides    int
	Fallbacks int
	Bytes     int64
	Err       error
}

type Repository interface {
	Create(ctx context.Context, run *Run) error
	Finish(ctx context.Context, id string, out Outcome) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *DB) *SQLiteRepository {
	return &SQLiteRepository{db: db.Conn()}
}

// Create inserts a running record, filling ID and CreatedAt when unset.
func (r *SQLiteRepository) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Status = StatusRunning
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, deck, output, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.Deck, run.Output, run.Status, run.CreatedAt.UTC().Format(timeLayout))
	return err
}

func (r *SQLiteRepository) Finish(ctx context.Context, id string, out Outcome) error {
	status, errMsg := StatusDone, sql.NullString{}
	if out.Err != nil {
		status = StatusFailed
		errMsg = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, slides = ?, fallbacks = ?, bytes = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, out.Slides, out.Fallbacks, out.Bytes, errMsg, time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// timeLayout has a fixed width so timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const selectRun = `SELECT id, deck, output, status, slides, fallbacks, bytes, error, created_at, finished_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var errMsg, finishedAt sql.NullString
	var createdAt string
	if err := row.Scan(&run.ID, &run.Deck, &run.Output, &run.Status, &run.Slides, &run.Fallbacks, &run.Bytes, &errMsg, &createdAt, &finishedAt); err != nil {
		return nil, err
	}
	run.Error = errMsg.String
	run.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if finishedAt.Valid {
		if t, err := time.Parse(timeLayout, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns the newest runs first. A non-positive limit means 50.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, selectRun+" ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
