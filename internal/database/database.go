package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"waingest/internal/migrations"
	"waingest/internal/security"

	"github.com/mattn/go-sqlite3"
)

const timeLayout = "2006-01-02 15:04:05"

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		closeAndWrap(db, &err, "failed to ping database")
		return nil, err
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		closeAndWrap(db, &err, "failed to read schema")
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		closeAndWrap(db, &err, "failed to initialize schema")
		return nil, err
	}

	enc, err := NewEncryptor()
	if err != nil {
		closeAndWrap(db, &err, "failed to initialize encryptor")
		return nil, err
	}

	return &Database{db: db, encryptor: enc}, nil
}

func closeAndWrap(db *sql.DB, err *error, msg string) {
	if closeErr := db.Close(); closeErr != nil {
		*err = fmt.Errorf("%s: %w (close error: %v)", msg, *err, closeErr)
		return
	}
	*err = fmt.Errorf("%s: %w", msg, *err)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Tx wraps a single ingestion transaction. All writes for one webhook
// delivery happen through it; either everything commits or nothing does.
type Tx struct {
	tx  *sql.Tx
	enc *encryptor
}

// WithTx runs fn inside a transaction, committing on nil and rolling
// back on error. fn must not retain the Tx after returning.
func (d *Database) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx, enc: d.encryptor}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure. The idempotency ledger and the message dedup
// constraint rely on this mapping.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
