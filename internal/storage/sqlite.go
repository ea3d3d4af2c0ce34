package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the question/answer history.
//
// Mutations notify watchers registered via Watch, which is how the live
// list/search streams in the history package stay current without polling.
type Store struct {
	db *sql.DB

	mu       sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "snaplearn.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, watchers: make(map[int]chan struct{})}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Question/answer records ---

const qaColumns = "id, question, answer, image_data, created_at, favorited"

// Append inserts a new question/answer record.
func (s *Store) Append(qa QuestionAnswer) error {
	_, err := s.db.Exec(`
		INSERT INTO question_answers (`+qaColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		qa.ID, qa.Question, qa.Answer, qa.ImageData, qa.CreatedAt, qa.Favorited,
	)
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// GetByID returns the record with the given id, or ErrNotFound.
func (s *Store) GetByID(id string) (QuestionAnswer, error) {
	var qa QuestionAnswer
	err := s.db.QueryRow(`
		SELECT `+qaColumns+` FROM question_answers WHERE id = ?`, id,
	).Scan(&qa.ID, &qa.Question, &qa.Answer, &qa.ImageData, &qa.CreatedAt, &qa.Favorited)
	if err == sql.ErrNoRows {
		return QuestionAnswer{}, ErrNotFound
	}
	if err != nil {
		return QuestionAnswer{}, err
	}
	return qa, nil
}

// DeleteByID removes the record with the given id. Deleting an id that does
// not exist is not an error.
func (s *Store) DeleteByID(id string) error {
	res, err := s.db.Exec(`DELETE FROM question_answers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.notify()
	}
	return nil
}

// ListAll returns every record, newest first. Ties on created_at are broken
// by rowid so insertion order is preserved within the same millisecond.
func (s *Store) ListAll() ([]QuestionAnswer, error) {
	return s.queryRecords(`
		SELECT ` + qaColumns + ` FROM question_answers
		ORDER BY created_at DESC, rowid DESC`)
}

// Search returns records whose question or answer contains the given
// substring, newest first. Matching is case-insensitive for ASCII (SQLite
// LIKE semantics). An empty query matches everything, same as ListAll.
func (s *Store) Search(substring string) ([]QuestionAnswer, error) {
	pattern := "%" + escapeLike(substring) + "%"
	return s.queryRecords(`
		SELECT `+qaColumns+` FROM question_answers
		WHERE question LIKE ? ESCAPE '\' OR answer LIKE ? ESCAPE '\'
		ORDER BY created_at DESC, rowid DESC`, pattern, pattern)
}

// SetFavorited updates the favorited flag for the given record.
func (s *Store) SetFavorited(id string, favorited bool) error {
	res, err := s.db.Exec(`UPDATE question_answers SET favorited = ? WHERE id = ?`, favorited, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.notify()
	return nil
}

func (s *Store) queryRecords(query string, args ...any) ([]QuestionAnswer, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QuestionAnswer
	for rows.Next() {
		var qa QuestionAnswer
		if err := rows.Scan(&qa.ID, &qa.Question, &qa.Answer, &qa.ImageData, &qa.CreatedAt, &qa.Favorited); err != nil {
			return nil, err
		}
		results = append(results, qa)
	}
	return results, rows.Err()
}

// escapeLike escapes LIKE wildcards so user input is matched literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// --- Change notification ---

// Watch returns a channel that receives a signal after every mutation
// (append, delete, favorite change). The channel has capacity one and
// coalesces bursts; receivers re-query the store for the fresh snapshot.
// The subscription is removed when ctx is cancelled.
func (s *Store) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Store) notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
