package domain

import "time"

// AuditRecord captures one state transition. The audit log is
// append-only; per subscription, records are in transition order.
type AuditRecord struct {
	CreatedAt  time.Time              `json:"created_at"`
	OldValues  map[string]interface{} `json:"old_values"`
	NewValues  map[string]interface{} `json:"new_values"`
	ID         string                 `json:"id"`
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
}
