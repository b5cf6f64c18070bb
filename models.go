package accounts

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Gender is the self-reported gender on the account profile
type Gender = string

const (
	GenderUnspecified Gender = "unspecified"
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
	GenderNonBinary   Gender = "non_binary"
)

// AccountState is the derived lifecycle state of an account
type AccountState = string

const (
	// StateUnverified is the state at sign-up, before email confirmation
	StateUnverified AccountState = "unverified"
	// StateActive is a verified account in good standing
	StateActive AccountState = "active"
	// StateDeleted is a soft-deleted account inside the grace period
	StateDeleted AccountState = "deleted"
	// StateDeactivated is terminal; the sweep promotes deleted accounts here
	StateDeactivated AccountState = "deactivated"
)

// Account is the authoritative identity record. Verification, soft-deletion,
// and deactivation are independent flags; AccountState is derived from them.
//
// deleted_at deliberately does NOT carry bun's soft_delete tag: soft-deleted
// rows must stay visible to the recovery flow and the deactivation sweep.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID          uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Handle      string     `bun:"handle,notnull,unique" json:"handle,omitempty"`
	Email       string     `bun:"email,notnull,unique" json:"email,omitempty"`
	DisplayName string     `bun:"display_name" json:"display_name,omitempty"`
	Gender      Gender     `bun:"gender" json:"gender,omitempty"`
	DateOfBirth *time.Time `bun:"date_of_birth,nullzero" json:"date_of_birth,omitempty"`

	PasswordHash string `bun:"password_hash" json:"-"`

	IsVerified    bool       `bun:"is_verified" json:"is_verified"`
	IsDeleted     bool       `bun:"is_deleted" json:"is_deleted"`
	DeletedAt     *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
	IsDeactivated bool       `bun:"is_deactivated" json:"is_deactivated"`

	// At most one valid refresh token per account: a new login or rotation
	// overwrites the hash, invalidating the previous session.
	RefreshTokenHash string `bun:"refresh_token_hash" json:"-"`

	ResetPasswordTokenHash string     `bun:"reset_password_token_hash" json:"-"`
	ResetPasswordExpiresAt *time.Time `bun:"reset_password_expires_at,nullzero" json:"-"`

	VerificationTokenHash string     `bun:"verification_token_hash" json:"-"`
	VerificationExpiresAt *time.Time `bun:"verification_expires_at,nullzero" json:"-"`

	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// State derives the lifecycle state from the persisted flags. Deactivation is
// absorbing and supersedes the other flags once reached.
func (a *Account) State() AccountState {
	switch {
	case a.IsDeactivated:
		return StateDeactivated
	case a.IsDeleted:
		return StateDeleted
	case !a.IsVerified:
		return StateUnverified
	default:
		return StateActive
	}
}

// HasPendingReset reports whether a password reset token is outstanding.
// Expired-but-present tokens still count as pending; they are only cleared
// when consumed or superseded.
func (a *Account) HasPendingReset() bool {
	return a.ResetPasswordTokenHash != ""
}

// Profile returns the sanitized projection handed back to clients. Credential
// and token-hash fields are excluded.
func (a *Account) Profile() *AccountProfile {
	if a == nil {
		return nil
	}
	return &AccountProfile{
		ID:          a.ID,
		Handle:      a.Handle,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Gender:      a.Gender,
		DateOfBirth: a.DateOfBirth,
		IsVerified:  a.IsVerified,
		State:       a.State(),
		CreatedAt:   a.CreatedAt,
	}
}

// AccountProfile is the client-safe account projection
type AccountProfile struct {
	ID          uuid.UUID    `json:"id"`
	Handle      string       `json:"handle"`
	Email       string       `json:"email"`
	DisplayName string       `json:"display_name,omitempty"`
	Gender      Gender       `json:"gender,omitempty"`
	DateOfBirth *time.Time   `json:"date_of_birth,omitempty"`
	IsVerified  bool         `json:"is_verified"`
	State       AccountState `json:"state"`
	CreatedAt   *time.Time   `json:"created_at,omitempty"`
}
