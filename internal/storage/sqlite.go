package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteStorage struct {
	sqlStorage
}

func NewSQLiteStorage(path string, logger *zap.Logger) (*SQLiteStorage, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initializeSchema(db, "migrations/sqlite.sql"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	logger.Info("SQLite registry ready", zap.String("path", path))

	return &SQLiteStorage{sqlStorage{
		db:       db,
		q:        sqliteQueries,
		classify: classifySQLiteError,
	}}, nil
}

var sqliteQueries = queries{
	insertUser: `
		INSERT OR IGNORE INTO users (userid, username, created_at)
		VALUES (?, ?, ?)`,
	getUser: `
		SELECT userid, username, created_at
		FROM users
		WHERE userid = ?`,
	deleteUser: `DELETE FROM users WHERE userid = ?`,
	insertLink: `
		INSERT INTO links (userid, url, taskid, created_at)
		VALUES (?, ?, ?, ?)`,
	deleteLink: `DELETE FROM links WHERE userid = ? AND url = ?`,
	countLinks: `SELECT COUNT(*) FROM links WHERE userid = ?`,
	getLinks:   `SELECT url FROM links WHERE userid = ? ORDER BY id`,
	getTask:    `SELECT taskid FROM links WHERE userid = ? AND url = ?`,
	getTasks:   `SELECT taskid FROM links WHERE userid = ? ORDER BY id`,
	getWatches: `
		SELECT userid, url, taskid, created_at
		FROM links
		WHERE userid = ?
		ORDER BY id`,
	getAllWatches: `
		SELECT userid, url, taskid, created_at
		FROM links
		ORDER BY id`,
	getWatchByTask: `
		SELECT userid, url, taskid, created_at
		FROM links
		WHERE userid = ? AND taskid = ?`,
}

func classifySQLiteError(err error) error {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return nil
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ErrDuplicate
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrNotFound
	}
	return nil
}
