package domain

import "time"

// PaymentMethod is a stored payment instrument. ExternalID is the
// gateway-side token; (Gateway, ExternalID) is unique.
type PaymentMethod struct {
	CreatedAt  time.Time  `json:"created_at"`
	LastUsed   *time.Time `json:"last_used"`
	ExpiresAt  *time.Time `json:"expires_at"`
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Gateway    string     `json:"gateway"`
	MethodType string     `json:"method_type"`
	ExternalID string     `json:"external_id"`
	IsDefault  bool       `json:"is_default"`
	IsValid    bool       `json:"is_valid"`
}

// IsExpired reports whether the instrument has passed its expiry
func (m *PaymentMethod) IsExpired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// IsUsable reports whether the method can be charged
func (m *PaymentMethod) IsUsable(now time.Time) bool {
	return m.IsValid && !m.IsExpired(now)
}
