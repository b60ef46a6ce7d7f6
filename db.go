package platemate

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"
)

//go:embed db/latest_schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// DB is the response cache. Entries are keyed by (image fingerprint, prompt)
// and are never updated or deleted once written.
type DB struct {
	mu sync.Mutex
	db *sql.DB

	filepath string
}

// Entry is one cached model response.
type Entry struct {
	Hash        string // image fingerprint
	Prompt      string
	Description string // filtered model response
	Model       string
	CreatedAt   time.Time
}

// Stats summarizes the contents of the cache.
type Stats struct {
	Entries int
	Images  int // distinct fingerprints
	Oldest  time.Time
	Newest  time.Time
}

func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.db.Close()
}

// Path returns the file the DB was opened from.
func (db *DB) Path() string { return db.filepath }

// NewDB opens the cache at fname, creating the file and schema if they do not
// exist yet. Use ":memory:" for a throwaway DB.
func NewDB(ctx context.Context, fname string) (*DB, error) {
	// Open the DB but flip on the cleaner timestamps from Go. Concurrent
	// requests can write at once, wait for the lock instead of failing.
	sqldb, err := sql.Open("sqlite", fname+"?_time_format=sqlite&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if fname == ":memory:" {
		// Every new connection to :memory: is a different database
		sqldb.SetMaxOpenConns(1)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := schema.Apply(ctx, sqldb); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: sqldb, filepath: fname}, nil
}

// Lookup returns the cached response for the (hash, prompt) pair. The bool is
// false if no entry exists, in which case the error is nil.
func (db *DB) Lookup(ctx context.Context, hash, prompt string) (string, bool, error) {
	row := db.db.QueryRowContext(ctx,
		"SELECT description FROM descriptions WHERE hash=$1 AND prompt=$2",
		hash, prompt)

	var desc string
	if err := row.Scan(&desc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}

	return desc, true, nil
}

// Store inserts a new entry. If an entry for (e.Hash, e.Prompt) already exists
// it is left untouched and Store returns false.
func (db *DB) Store(ctx context.Context, e Entry) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	res, err := db.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO descriptions
		(hash, prompt, description, model, created_at)
		VALUES (?,?,?,?,?)`,
		e.Hash, e.Prompt, e.Description, e.Model, e.CreatedAt,
	)
	if err != nil {
		return false, err
	}

	ra, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return ra == 1, nil
}

// Entries returns every cached entry for an image fingerprint, oldest first.
func (db *DB) Entries(ctx context.Context, hash string) ([]*Entry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT hash, prompt, description, model, created_at
		FROM descriptions
		WHERE hash=?
		ORDER BY created_at, prompt`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}

		var model sql.NullString
		err := rows.Scan(&e.Hash, &e.Prompt, &e.Description, &model, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning descriptions: %w", err)
		}
		if model.Valid {
			e.Model = model.String
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating descriptions: %w", err)
	}

	return entries, nil
}

// Stats returns entry counts and the age range of the cache. Oldest and Newest
// are zero for an empty cache.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	row := db.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT hash) FROM descriptions`)
	if err := row.Scan(&st.Entries, &st.Images); err != nil {
		return Stats{}, err
	}
	if st.Entries == 0 {
		return st, nil
	}

	// Selecting the column directly (rather than MIN/MAX) keeps its declared
	// TIMESTAMP type so the driver hands back a time.Time.
	row = db.db.QueryRowContext(ctx, `
		SELECT created_at FROM descriptions ORDER BY created_at ASC LIMIT 1`)
	if err := row.Scan(&st.Oldest); err != nil {
		return Stats{}, err
	}
	row = db.db.QueryRowContext(ctx, `
		SELECT created_at FROM descriptions ORDER BY created_at DESC LIMIT 1`)
	if err := row.Scan(&st.Newest); err != nil {
		return Stats{}, err
	}

	return st, nil
}
