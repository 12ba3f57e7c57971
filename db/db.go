// Package db is the Postgres persistence layer: connection helpers, schema
// migration, the identity store backing rename tracking, and encrypted
// storage for the chat OAuth token.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver registered as 'pgx'

	"github.com/onnwee/chatbot/crypto"
)

var (
	tokenCipher     crypto.Cipher
	tokenCipherOnce sync.Once
	tokenCipherErr  error
)

// getCipher lazily builds the token cipher from ENCRYPTION_KEY. An unset key
// disables encryption and tokens are stored plaintext (encryption_version 0).
func getCipher() (crypto.Cipher, error) {
	tokenCipherOnce.Do(func() {
		key := os.Getenv("ENCRYPTION_KEY")
		if key == "" {
			slog.Warn("ENCRYPTION_KEY not set, stored tokens will be plaintext")
			return
		}
		c, err := crypto.NewAES(key)
		if err != nil {
			tokenCipherErr = fmt.Errorf("token cipher: %w", err)
			return
		}
		tokenCipher = c
		slog.Info("token encryption enabled (AES-256-GCM)")
	})
	return tokenCipher, tokenCipherErr
}

// Connect opens a Postgres pool for the given DSN and verifies it is
// reachable before returning.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Migrate applies idempotent schema changes. Safe to run on every start.
func Migrate(ctx context.Context, pool *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			prior_names TEXT DEFAULT '',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_identities_name ON identities(LOWER(name))`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			encryption_version INTEGER DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS encryption_version INTEGER DEFAULT 0`,
	}
	for i, s := range stmts {
		if _, err := pool.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	return nil
}

// UpsertToken stores the chat credential for a provider, sealed when the
// token cipher is configured.
func UpsertToken(ctx context.Context, pool *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	cipher, err := getCipher()
	if err != nil {
		return err
	}
	version := 0
	if cipher != nil {
		version = 1
		if access, err = crypto.SealString(cipher, access); err != nil {
			return fmt.Errorf("seal access token: %w", err)
		}
		if refresh, err = crypto.SealString(cipher, refresh); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}
	_, err = pool.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		provider, access, refresh, expiry, scope, version)
	return err
}

// GetToken retrieves a stored credential, transparently opening sealed rows.
// A missing row returns zero values with no error; rows written before
// encryption was enabled (version 0) are read as plaintext.
func GetToken(ctx context.Context, pool *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var version int
	row := pool.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, provider)
	if err = row.Scan(&access, &refresh, &expiry, &scope, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", time.Time{}, "", nil
		}
		return "", "", time.Time{}, "", err
	}
	if version == 0 {
		return access, refresh, expiry, scope, nil
	}
	cipher, cerr := getCipher()
	if cerr != nil {
		return "", "", time.Time{}, "", cerr
	}
	if cipher == nil {
		return "", "", time.Time{}, "", fmt.Errorf("token row is sealed but ENCRYPTION_KEY is not set")
	}
	if access, err = crypto.OpenString(cipher, access); err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("open access token: %w", err)
	}
	if refresh, err = crypto.OpenString(cipher, refresh); err != nil {
		return "", "", time.Time{}, "", fmt.Errorf("open refresh token: %w", err)
	}
	return access, refresh, expiry, scope, nil
}
