// Command seal-tokens encrypts stored credentials that were written before
// ENCRYPTION_KEY was configured: every oauth_tokens row with
// encryption_version 0 is sealed in place with AES-256-GCM.
//
// Usage:
//
//	export DB_DSN="postgres://..."
//	export ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	seal-tokens [--dry-run]
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/chatbot/crypto"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report what would be sealed without writing")
	flag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	dsn := os.Getenv("DB_DSN")
	key := os.Getenv("ENCRYPTION_KEY")
	if dsn == "" || key == "" {
		slog.Error("DB_DSN and ENCRYPTION_KEY are required")
		os.Exit(1)
	}
	cipher, err := crypto.NewAES(key)
	if err != nil {
		slog.Error("bad encryption key", slog.Any("err", err))
		os.Exit(1)
	}

	pool, err := sql.Open("pgx", dsn)
	if err != nil {
		slog.Error("open db failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := sealAll(ctx, pool, cipher, *dryRun); err != nil {
		slog.Error("sealing failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func sealAll(ctx context.Context, pool *sql.DB, cipher crypto.Cipher, dryRun bool) error {
	rows, err := pool.QueryContext(ctx,
		`SELECT provider, access_token, refresh_token FROM oauth_tokens WHERE encryption_version = 0 ORDER BY provider`)
	if err != nil {
		return fmt.Errorf("query plaintext rows: %w", err)
	}
	defer rows.Close()

	type row struct{ provider, access, refresh string }
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.provider, &r.access, &r.refresh); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		slog.Info("no plaintext rows found")
		return nil
	}
	slog.Info("plaintext rows found", slog.Int("count", len(pending)), slog.Bool("dry_run", dryRun))
	if dryRun {
		return nil
	}

	for _, r := range pending {
		access, err := crypto.SealString(cipher, r.access)
		if err != nil {
			return fmt.Errorf("seal access for %s: %w", r.provider, err)
		}
		refresh, err := crypto.SealString(cipher, r.refresh)
		if err != nil {
			return fmt.Errorf("seal refresh for %s: %w", r.provider, err)
		}
		res, err := pool.ExecContext(ctx,
			`UPDATE oauth_tokens SET access_token=$1, refresh_token=$2, encryption_version=1, updated_at=NOW()
			 WHERE provider=$3 AND encryption_version=0`,
			access, refresh, r.provider)
		if err != nil {
			return fmt.Errorf("update %s: %w", r.provider, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("update %s touched %d rows, wanted 1", r.provider, n)
		}
		slog.Info("sealed", slog.String("provider", r.provider))
	}
	return nil
}
