package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the lib/pq connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	sqlStorage
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	return OpenPostgres(config.DSN(), logger)
}

// OpenPostgres connects using a raw lib/pq connection string or URL.
func OpenPostgres(dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := initializeSchema(db, "migrations/postgres.sql"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	logger.Info("PostgreSQL registry ready")

	return &PostgresStorage{sqlStorage{
		db:       db,
		q:        postgresQueries,
		classify: classifyPostgresError,
	}}, nil
}

var postgresQueries = queries{
	insertUser: `
		INSERT INTO users (userid, username, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (userid) DO NOTHING`,
	getUser: `
		SELECT userid, username, created_at
		FROM users
		WHERE userid = $1`,
	deleteUser: `DELETE FROM users WHERE userid = $1`,
	insertLink: `
		INSERT INTO links (userid, url, taskid, created_at)
		VALUES ($1, $2, $3, $4)`,
	deleteLink: `DELETE FROM links WHERE userid = $1 AND url = $2`,
	countLinks: `SELECT COUNT(*) FROM links WHERE userid = $1`,
	getLinks:   `SELECT url FROM links WHERE userid = $1 ORDER BY id`,
	getTask:    `SELECT taskid FROM links WHERE userid = $1 AND url = $2`,
	getTasks:   `SELECT taskid FROM links WHERE userid = $1 ORDER BY id`,
	getWatches: `
		SELECT userid, url, taskid, created_at
		FROM links
		WHERE userid = $1
		ORDER BY id`,
	getAllWatches: `
		SELECT userid, url, taskid, created_at
		FROM links
		ORDER BY id`,
	getWatchByTask: `
		SELECT userid, url, taskid, created_at
		FROM links
		WHERE userid = $1 AND taskid = $2`,
}

func classifyPostgresError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch pqErr.Code.Name() {
	case "unique_violation":
		return ErrDuplicate
	case "foreign_key_violation":
		return ErrNotFound
	}
	return nil
}

func initializeSchema(db *sql.DB, name string) error {
	// Read migrations file
	migrationSQL, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	// Execute migrations
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}
