package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"churchmap.org/internal/audit"
)

// AuditStore appends immutable audit rows. There is no update or delete path.
type AuditStore struct {
	db *sql.DB
}

var _ audit.Store = (*AuditStore)(nil)

func (s *AuditStore) Append(ctx context.Context, entry *audit.Entry) error {
	var diff any
	if entry.Diff != nil {
		data, err := json.Marshal(entry.Diff)
		if err != nil {
			return err
		}
		diff = data
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_entries
			(id, actor_id, token_id, session_id, action, entity_kind, record_id, diff, created_at)
		values ($1, $2, nullif($3,''), nullif($4,''), $5, $6, $7, $8, $9)
	`, entry.ID, entry.ActorID, entry.TokenID, entry.SessionID,
		entry.Action, entry.EntityKind, entry.RecordID, diff, entry.CreatedAt)
	return err
}
