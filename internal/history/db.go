// Package history records render runs in a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ivlev/deck2video/internal/logging"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

// connPragmas are applied by the driver to every new connection.
var connPragmas = []string{"busy_timeout(5000)", "journal_mode(WAL)"}

// DB owns the sqlite handle. The schema version lives in PRAGMA user_version;
// migration NNN_name.sql moves the database to version NNN.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and brings its schema up to
// date. Runs left "running" by a previous process are marked failed.
func Open(path string, logger *slog.Logger) (*DB, error) {
	logger = logging.WithComponent(logging.OrDiscard(logger), "history")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}

	dsn := "file:" + path + "?_pragma=" + strings.Join(connPragmas, "&_pragma=")
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := &DB{conn: conn, logger: logger}
	if err := db.upgrade(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if n, err := db.markInterrupted(ctx, time.Now()); err != nil {
		logger.Warn("interrupted runs left as running", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted runs failed", "count", n)
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

type migration struct {
	version int
	file    string
}

func pendingMigrations(from int) ([]migration, error) {
	entries, err := fs.Glob(schemaFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, e := range entries {
		base := filepath.Base(e)
		prefix, _, _ := strings.Cut(base, "_")
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: no version prefix", base)
		}
		if v > from {
			out = append(out, migration{version: v, file: e})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// SchemaVersion reports the version the database is at.
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := d.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

// upgrade applies each pending migration in its own transaction together
// with the version bump, so a failed step leaves the previous version.
func (d *DB) upgrade(ctx context.Context) error {
	current, err := d.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	steps, err := pendingMigrations(current)
	if err != nil {
		return err
	}
	for _, m := range steps {
		script, err := schemaFS.ReadFile(m.file)
		if err != nil {
			return err
		}
		tx, err := d.conn.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(script)); err != nil {
			tx.Rollback()
			return fmt.Errorf("schema v%d: %w", m.version, err)
		}
		// PRAGMA does not take bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("schema v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("schema v%d: %w", m.version, err)
		}
		d.logger.Info("schema upgraded", "version", m.version)
	}
	return nil
}

func (d *DB) markInterrupted(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE runs SET status = 'failed', error = 'interrupted by restart', finished_at = ? WHERE status = 'running'`,
		now.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
