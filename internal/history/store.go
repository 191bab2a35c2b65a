// Package history persists interpreted commands and their outcomes to
// SQLite, so past commands can be reviewed and re-run.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no command matches the given ID.
var ErrNotFound = errors.New("command not found")

// Command is one processed command and its outcome.
type Command struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Text          string    `json:"text"`
	Operation     string    `json:"operation"`
	InputLayer    string    `json:"input_layer"`
	Confidence    float64   `json:"confidence"`
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	TransactionID string    `json:"transaction_id"`
}

// Store wraps a SQLite database holding the command history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database in dataDir and applies
// pending migrations. Pass ":memory:" as dataDir for an in-memory
// database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "mapspeak.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
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

func (s *Store) migrate() error {
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
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
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

// Save inserts a command record.
func (s *Store) Save(c Command) error {
	_, err := s.db.Exec(`
		INSERT INTO commands (id, created_at, text, operation, input_layer, confidence, success, message, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CreatedAt.UTC().Format(time.RFC3339), c.Text, c.Operation,
		c.InputLayer, c.Confidence, c.Success, c.Message, c.TransactionID,
	)
	return err
}

// Get returns a command by ID.
func (s *Store) Get(id string) (Command, error) {
	var c Command
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, created_at, text, operation, input_layer, confidence, success, message, transaction_id
		FROM commands WHERE id = ?`, id,
	).Scan(&c.ID, &createdAt, &c.Text, &c.Operation, &c.InputLayer, &c.Confidence, &c.Success, &c.Message, &c.TransactionID)
	if err == sql.ErrNoRows {
		return Command{}, ErrNotFound
	}
	if err != nil {
		return Command{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Command{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// Recent returns up to limit commands, newest first.
func (s *Store) Recent(limit int) ([]Command, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, text, operation, input_layer, confidence, success, message, transaction_id
		FROM commands ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Command
	for rows.Next() {
		var c Command
		var createdAt string
		if err := rows.Scan(&c.ID, &createdAt, &c.Text, &c.Operation, &c.InputLayer, &c.Confidence, &c.Success, &c.Message, &c.TransactionID); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// ByOperation returns all commands for an operation, newest first.
func (s *Store) ByOperation(operation string) ([]Command, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, text, operation, input_layer, confidence, success, message, transaction_id
		FROM commands WHERE operation = ? ORDER BY created_at DESC`, operation,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Command
	for rows.Next() {
		var c Command
		var createdAt string
		if err := rows.Scan(&c.ID, &createdAt, &c.Text, &c.Operation, &c.InputLayer, &c.Confidence, &c.Success, &c.Message, &c.TransactionID); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		results = append(results, c)
	}
	return results, rows.Err()
}

// SuccessRate returns per-operation success ratios over the whole history.
func (s *Store) SuccessRate() (map[string]float64, error) {
	rows, err := s.db.Query(`
		SELECT operation, AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END)
		FROM commands GROUP BY operation`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make(map[string]float64)
	for rows.Next() {
		var op string
		var rate float64
		if err := rows.Scan(&op, &rate); err != nil {
			return nil, err
		}
		rates[op] = rate
	}
	return rates, rows.Err()
}
