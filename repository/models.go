package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserModel is the bun model for directory users
type UserModel struct {
	bun.BaseModel     `bun:"table:users,alias:usr"`
	ID                uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email             string     `bun:"email,notnull" json:"email,omitempty"`
	NormalizedEmail   string     `bun:"normalized_email,notnull,unique" json:"-"`
	EmailConfirmed    bool       `bun:"email_confirmed,notnull" json:"email_confirmed"`
	PasswordHash      string     `bun:"password_hash,notnull" json:"-"`
	AccessFailedCount int        `bun:"access_failed_count,notnull" json:"access_failed_count"`
	LockoutEnd        *time.Time `bun:"lockout_end,nullzero" json:"lockout_end,omitempty"`
	CreatedAt         *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt         *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UserRoleModel assigns a role to a user
type UserRoleModel struct {
	bun.BaseModel `bun:"table:user_roles,alias:urol"`
	UserID        uuid.UUID `bun:"user_id,pk,type:uuid"`
	Role          string    `bun:"role,pk"`
	Position      int       `bun:"position,notnull"`
}

// UserClaimModel stores a custom (type, value) claim
type UserClaimModel struct {
	bun.BaseModel `bun:"table:user_claims,alias:ucl"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid"`
	UserID        uuid.UUID `bun:"user_id,notnull,type:uuid"`
	ClaimType     string    `bun:"claim_type,notnull"`
	ClaimValue    string    `bun:"claim_value,notnull"`
	Position      int       `bun:"position,notnull"`
}

// SigningKeyModel persists signing key material as a PKCS#8 PEM block
type SigningKeyModel struct {
	bun.BaseModel `bun:"table:signing_keys,alias:sk"`
	KeyID         string     `bun:"kid,pk"`
	Algorithm     string     `bun:"algorithm,notnull"`
	PrivateKey    string     `bun:"private_key,notnull"`
	IsCurrent     bool       `bun:"is_current,notnull"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	NotAfter      *time.Time `bun:"not_after,nullzero"`
}
