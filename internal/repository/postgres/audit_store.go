package postgres

import (
	"context"
	"encoding/json"

	"github.com/finvera/be-ap-workflow/internal/apperr"
	"github.com/finvera/be-ap-workflow/internal/repository"
)

// AuditStore appends and reads immutable audit log entries. Append is the
// only mutation exposed; the table carries a delete-prevention trigger.
type AuditStore struct {
	db *DB
}

func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, e *repository.AuditEntry) error {
	var metadataJSON []byte
	if e.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(e.Metadata)
		if err != nil {
			return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO audit_log (entity_type, entity_id, prev_status, new_status,
		                       action, actor, comment, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, occurred_at
	`
	err := s.db.QueryRow(ctx, query,
		e.EntityType,
		e.EntityID,
		nullStr(e.PrevStatus),
		nullStr(e.NewStatus),
		e.Action,
		e.Actor,
		nullStr(e.Comment),
		metadataJSON,
	).Scan(&e.ID, &e.OccurredAt)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

func (s *AuditStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]*repository.AuditEntry, error) {
	query := `
		SELECT id, entity_type, entity_id, prev_status, new_status,
		       action, actor, comment, metadata, occurred_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.db.Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	entries := make([]*repository.AuditEntry, 0)
	for rows.Next() {
		e := &repository.AuditEntry{}
		var prevStatus, newStatus, comment *string
		var metadataJSON []byte

		err := rows.Scan(
			&e.ID,
			&e.EntityType,
			&e.EntityID,
			&prevStatus,
			&newStatus,
			&e.Action,
			&e.Actor,
			&comment,
			&metadataJSON,
			&e.OccurredAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan audit entry")
		}

		if prevStatus != nil {
			e.PrevStatus = *prevStatus
		}
		if newStatus != nil {
			e.NewStatus = *newStatus
		}
		if comment != nil {
			e.Comment = *comment
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
