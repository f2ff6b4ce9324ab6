package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DBPair holds separate read and write connections for optimal SQLite concurrency.
// With WAL mode, readers don't block writers and vice versa.
// Using separate pools allows concurrent reads while serializing writes.
type DBPair struct {
	reader *sql.DB // Multiple connections for concurrent reads
	writer *sql.DB // Single connection for serialized writes
}

// Reader returns the read-only database connection pool.
func (p *DBPair) Reader() *sql.DB { return p.reader }

// Writer returns the read-write database connection pool.
func (p *DBPair) Writer() *sql.DB { return p.writer }

// Close closes both database connections.
func (p *DBPair) Close() error {
	var errs []error
	if err := p.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Init opens the SQLite database with optimal connection pooling for concurrency.
// Returns a DBPair with separate reader and writer pools.
func Init(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	// Writer: single connection, handles all writes.
	// - _journal=WAL: write-ahead logging for concurrent reads
	// - _busy_timeout=5000: wait up to 5 seconds for locks
	// - cache=shared: share cache between connections for consistency
	// - mode=rwc: read-write-create mode
	writerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=rwc", dbPath)
	writer, err := sql.Open("sqlite3", writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1) // SQLite serializes writes anyway
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	// Reader: multiple connections for concurrent reads.
	readerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=ro", dbPath)
	reader, err := sql.Open("sqlite3", readerConnStr)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec(schemaSQL); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := runMigrations(writer); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}

	return &DBPair{reader: reader, writer: writer}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// runMigrations applies additive column changes for databases created by
// earlier schema versions. Columns are only ever added, never altered.
func runMigrations(db *sql.DB) error {
	deviceColumns, err := tableColumns(db, "devices")
	if err != nil {
		return err
	}

	if !deviceColumns["kiosk_mode"] {
		if _, err := db.Exec("ALTER TABLE devices ADD COLUMN kiosk_mode INTEGER NOT NULL DEFAULT 1"); err != nil {
			return fmt.Errorf("add devices.kiosk_mode: %w", err)
		}
	}

	licenseColumns, err := tableColumns(db, "licenses")
	if err != nil {
		return err
	}

	if !licenseColumns["notes"] {
		if _, err := db.Exec("ALTER TABLE licenses ADD COLUMN notes TEXT"); err != nil {
			return fmt.Errorf("add licenses.notes: %w", err)
		}
	}
	if !licenseColumns["grace_started_at"] {
		if _, err := db.Exec("ALTER TABLE licenses ADD COLUMN grace_started_at TEXT"); err != nil {
			return fmt.Errorf("add licenses.grace_started_at: %w", err)
		}
	}

	itemColumns, err := tableColumns(db, "playlist_items")
	if err != nil {
		return err
	}

	if !itemColumns["days_of_week"] {
		if _, err := db.Exec("ALTER TABLE playlist_items ADD COLUMN days_of_week TEXT"); err != nil {
			return fmt.Errorf("add playlist_items.days_of_week: %w", err)
		}
	}

	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultVal sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return columns, nil
}

// NowISO returns the current UTC time in RFC3339, the format used for every
// timestamp column in the schema.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
