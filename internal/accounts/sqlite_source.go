// Package accounts reads account snapshots from the application's SQLite
// database. The users table is owned by the web application; this package
// only reads it.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	ierrors "github.com/LaTars4444/laeoutreach/internal/errors"
	"github.com/LaTars4444/laeoutreach/pkg/entitlements"
)

const accountColumns = "id, created_at, subscription_status, subscription_end"

// Stored timestamps are naive UTC. The driver may also hand back values it
// already parsed, which database/sql formats as RFC 3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// SQLiteSource implements gate.AccountSource over the users table.
type SQLiteSource struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens the database at path for reading.
func OpenSQLite(path string) (*SQLiteSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("accounts database path is required")
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"query_only(1)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to accounts database: %w", err)
	}

	log.Debug().Str("path", path).Msg("Opened accounts database")
	return &SQLiteSource{db: db, path: path}, nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

// GetAccount returns the snapshot for id or an error matching
// errors.ErrAccountNotFound.
func (s *SQLiteSource) GetAccount(ctx context.Context, id string) (*entitlements.AccountSnapshot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM users WHERE id = ?", strings.TrimSpace(id))
	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %q: %w", id, ierrors.ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %q: %w", id, err)
	}
	return account, nil
}

// ListAccounts returns every account ordered by id.
func (s *SQLiteSource) ListAccounts(ctx context.Context) ([]*entitlements.AccountSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+accountColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*entitlements.AccountSnapshot
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*entitlements.AccountSnapshot, error) {
	var (
		id        string
		createdAt sql.NullString
		status    sql.NullString
		expiresAt sql.NullString
	)
	if err := row.Scan(&id, &createdAt, &status, &expiresAt); err != nil {
		return nil, err
	}

	account := &entitlements.AccountSnapshot{
		ID:   id,
		Tier: entitlements.ParseTier(status.String),
	}

	if createdAt.Valid {
		t, err := parseTimestamp(createdAt.String)
		if err != nil {
			return nil, fmt.Errorf("account %s created_at: %w", id, err)
		}
		account.CreatedAt = t
	}

	if expiresAt.Valid && strings.TrimSpace(expiresAt.String) != "" {
		t, err := parseTimestamp(expiresAt.String)
		if err != nil {
			// An unreadable expiry cannot extend access.
			log.Warn().Err(err).Str("account_id", id).Msg("Ignoring unparseable subscription_end")
		} else {
			account.SubscriptionExpiresAt = &t
		}
	}

	if !account.Tier.Valid() {
		log.Debug().Str("account_id", id).Str("status", status.String).Msg("Unknown subscription status; treating as free")
	}
	return account, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
