package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	envDBPath         = "FPATTEND_DB_PATH"
	defaultDBDirName  = ".fpattend"
	defaultDBFileName = "attendance.sqlite"
)

var (
	ErrStudentNotFound  = errors.New("storage: student not found")
	ErrDuplicateStudent = errors.New("storage: roll number already exists")
	ErrTemplateInUse    = errors.New("storage: template id already assigned")
)

// Store is the SQLite-backed registry of students, template ids,
// attendance and device events.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (and migrates) the database at path. An empty path resolves
// FPATTEND_DB_PATH, then ~/.fpattend/attendance.sqlite.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		resolved, err := ResolveDatabasePath()
		if err != nil {
			return nil, err
		}
		path = resolved
	} else if err := ensureDirExists(filepath.Dir(path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Msg("storage opened")
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "storage: close sqlite database failed")
	}
	return nil
}

// ResolveDatabasePath returns the default database location, creating its
// directory when needed.
func ResolveDatabasePath() (string, error) {
	if custom := strings.TrimSpace(os.Getenv(envDBPath)); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS students (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			roll_number TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			fingerprint_id INTEGER UNIQUE,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS student_classes (
			student_id INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
			class_code TEXT NOT NULL,
			PRIMARY KEY (student_id, class_code)
		);`,
		`CREATE TABLE IF NOT EXISTS attendance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			student_id INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
			class_code TEXT NOT NULL,
			day TEXT NOT NULL,
			status TEXT NOT NULL,
			marked_by TEXT NOT NULL,
			marked_at INTEGER NOT NULL,
			UNIQUE (student_id, class_code, day)
		);`,
		`CREATE TABLE IF NOT EXISTS device_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			op TEXT NOT NULL DEFAULT '',
			template_id INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_class_day ON attendance(class_code, day);`,
		`CREATE INDEX IF NOT EXISTS idx_device_events_created ON device_events(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "storage: init sqlite schema failed")
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	log.Debug().Str("sql", FormatSQLForLog(query, args...)).Msg("storage exec")
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	log.Debug().Str("sql", FormatSQLForLog(query, args...)).Msg("storage query")
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	log.Debug().Str("sql", FormatSQLForLog(query, args...)).Msg("storage query")
	return s.db.QueryRowContext(ctx, query, args...)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
