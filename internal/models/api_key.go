package models

import "time"

// ApiKey is a bearer credential for the control-plane API. It has no
// user/session concept — keys authenticate callers of this API, not
// human identities.
type ApiKey struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	KeyHash     string     `json:"-" db:"key_hash"`
	Prefix      string     `json:"prefix" db:"prefix"` // first ~12 chars of plaintext, for display
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty" db:"last_used_at"`
	Revoked     bool       `json:"revoked" db:"revoked"`
}
