package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/onnwee/chatbot/channel"
)

// IdentityStore persists the user-ID to name mapping behind the channel
// registry's rename tracking.
type IdentityStore struct {
	Pool *sql.DB
}

var _ channel.Store = (*IdentityStore)(nil)

// LoadIdentities reads every stored identity. Prior names are kept as one
// comma-joined column; renames are rare enough that normalizing them into a
// child table buys nothing.
func (s *IdentityStore) LoadIdentities(ctx context.Context) ([]channel.Identity, error) {
	rows, err := s.Pool.QueryContext(ctx,
		`SELECT user_id, name, prior_names FROM identities`)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	var out []channel.Identity
	for rows.Next() {
		var id channel.Identity
		var prior string
		if err := rows.Scan(&id.ID, &id.Name, &prior); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		if prior != "" {
			id.PriorNames = strings.Split(prior, ",")
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	return out, nil
}

// SaveIdentities upserts the batch inside one transaction so a flush is
// all-or-nothing.
func (s *IdentityStore) SaveIdentities(ctx context.Context, ids []channel.Identity) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save identities: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO identities(user_id, name, prior_names, updated_at)
			 VALUES($1,$2,$3,NOW())
			 ON CONFLICT(user_id) DO UPDATE SET
			   name=EXCLUDED.name,
			   prior_names=EXCLUDED.prior_names,
			   updated_at=NOW()`,
			id.ID, id.Name, strings.Join(id.PriorNames, ","))
		if err != nil {
			return fmt.Errorf("upsert identity %s: %w", id.ID, err)
		}
	}
	return tx.Commit()
}
