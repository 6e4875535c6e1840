package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"subscription-service/internal/domain"
	"subscription-service/internal/domain/ports"
)

// AuditRepository implements ports.AuditRepository on pgx
type AuditRepository struct {
	db ports.DBPort
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db ports.DBPort) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) querier(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Append inserts one audit record. There is no update path.
func (r *AuditRepository) Append(ctx context.Context, tx ports.DBTX, rec *domain.AuditRecord) error {
	oldValues, err := marshalValues(rec.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(rec.NewValues)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_log (id, actor, action, entity_type, entity_id, old_values, new_values, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.querier(tx).Exec(ctx, query,
		rec.ID, rec.Actor, rec.Action, rec.EntityType, rec.EntityID,
		oldValues, newValues, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByEntity returns an entity's audit trail in transition order
func (r *AuditRepository) ListByEntity(ctx context.Context, tx ports.DBTX, entityType, entityID string) ([]*domain.AuditRecord, error) {
	query := `
		SELECT id, actor, action, entity_type, entity_id, old_values, new_values, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC`

	rows, err := r.querier(tx).Query(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var oldValues, newValues []byte

		err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.EntityType, &rec.EntityID,
			&oldValues, &newValues, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		if err := unmarshalValues(oldValues, &rec.OldValues); err != nil {
			return nil, err
		}
		if err := unmarshalValues(newValues, &rec.NewValues); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func marshalValues(values map[string]interface{}) ([]byte, error) {
	if values == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return out, nil
}

func unmarshalValues(data []byte, dst *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal audit values: %w", err)
	}
	return nil
}
