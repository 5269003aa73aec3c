package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"centsible/internal/models"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("storage: duplicate")
)

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	return path + sep + pragmas
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount TEXT NOT NULL,
			category TEXT NOT NULL,
			date TEXT NOT NULL,
			transaction_type TEXT NOT NULL CHECK (transaction_type IN ('income', 'expense'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token_hash TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			expires_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE"))
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// CreateUser creates a new user with the given username and password hash.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)",
		username, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created); err != nil {
		return nil, notFound(err)
	}
	u.CreatedAt = time.Unix(created, 0)
	return &u, nil
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE id = ?",
		id,
	))
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = ?",
		username,
	))
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CreateTransaction inserts t and sets its ID.
func (db *DB) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO transactions (user_id, amount, category, date, transaction_type) VALUES (?, ?, ?, ?, ?)",
		t.UserID, t.Amount.StringFixed(2), t.Category, t.Date.Format(models.DateLayout), string(t.Type),
	)
	if err != nil {
		return err
	}
	t.ID, err = result.LastInsertId()
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*models.Transaction, error) {
	var t models.Transaction
	var amount, date, typ string
	if err := s.Scan(&t.ID, &t.UserID, &amount, &t.Category, &date, &typ); err != nil {
		return nil, notFound(err)
	}
	var err error
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %d: amount %q: %w", t.ID, amount, err)
	}
	if t.Date, err = time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("transaction %d: date %q: %w", t.ID, date, err)
	}
	t.Type = models.TransactionType(typ)
	return &t, nil
}

// GetTransaction retrieves a single transaction by ID regardless of owner.
func (db *DB) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return scanTransaction(db.conn.QueryRowContext(ctx,
		"SELECT id, user_id, amount, category, date, transaction_type FROM transactions WHERE id = ?",
		id,
	))
}

// ListTransactions retrieves the transactions owned by userID, newest date first.
func (db *DB) ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, amount, category, date, transaction_type
		FROM transactions WHERE user_id = ? ORDER BY date DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}

	return transactions, rows.Err()
}

// UpdateTransaction overwrites the mutable fields of an existing transaction.
func (db *DB) UpdateTransaction(ctx context.Context, t *models.Transaction) error {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE transactions SET amount = ?, category = ?, date = ?, transaction_type = ? WHERE id = ?",
		t.Amount.StringFixed(2), t.Category, t.Date.Format(models.DateLayout), string(t.Type), t.ID,
	)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// DeleteTransaction removes a transaction by ID.
func (db *DB) DeleteTransaction(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

func affectedOne(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSession stores a session keyed by the hash of its token.
func (db *DB) CreateSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO sessions (token_hash, user_id, expires_at, last_activity) VALUES (?, ?, ?, ?)",
		tokenHash, userID, expiresAt.Unix(), time.Now().Unix(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// SessionInfo holds session validation data.
type SessionInfo struct {
	User         *models.User
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ValidateSession returns the session for tokenHash if it has not expired at now.
func (db *DB) ValidateSession(ctx context.Context, tokenHash string, now time.Time) (*SessionInfo, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at, s.last_activity, s.expires_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token_hash = ? AND s.expires_at > ?
	`, tokenHash, now.Unix())

	var u models.User
	var created, lastActivity, expiresAt int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created, &lastActivity, &expiresAt); err != nil {
		return nil, notFound(err)
	}
	u.CreatedAt = time.Unix(created, 0)
	return &SessionInfo{
		User:         &u,
		LastActivity: time.Unix(lastActivity, 0),
		ExpiresAt:    time.Unix(expiresAt, 0),
	}, nil
}

// RenewSession updates the last_activity and expires_at for a session.
func (db *DB) RenewSession(ctx context.Context, tokenHash string, now, newExpiresAt time.Time) error {
	result, err := db.conn.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ?, expires_at = ? WHERE token_hash = ?",
		now.Unix(), newExpiresAt.Unix(), tokenHash,
	)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// DeleteSession removes a session by token hash. Deleting an unknown session is not an error.
func (db *DB) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", tokenHash)
	return err
}

// CleanExpiredSessions removes all sessions expired at now and reports how many.
func (db *DB) CleanExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", now.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
