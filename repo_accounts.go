package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Session and lifecycle writes go through raw conditional UPDATEs rather than
// the ORM: the ORM update path skips zero-valued columns, so it cannot clear
// token hashes or reset flags, and the token statements need their compare-and
// -swap semantics to run inside a single statement.

var RotateRefreshHashSQL = `UPDATE "accounts" AS "acc"
SET
	"refresh_token_hash" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
AND "acc"."refresh_token_hash" = ?
AND "acc"."refresh_token_hash" <> ''
RETURNING *;`

var ConsumeResetTokenSQL = `UPDATE "accounts" AS "acc"
SET
	"password_hash" = ?,
	"reset_password_token_hash" = '',
	"reset_password_expires_at" = NULL,
	"refresh_token_hash" = '',
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
AND "acc"."reset_password_token_hash" = ?
AND "acc"."reset_password_token_hash" <> ''
RETURNING *;`

var SweepDeactivateSQL = `UPDATE "accounts" AS "acc"
SET
	"is_deactivated" = TRUE,
	"refresh_token_hash" = '',
	"reset_password_token_hash" = '',
	"reset_password_expires_at" = NULL,
	"verification_token_hash" = '',
	"verification_expires_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."is_deleted" = TRUE
AND "acc"."is_deactivated" = FALSE
AND "acc"."deleted_at" <= ?
RETURNING *;`

var MarkVerifiedSQL = `UPDATE "accounts" AS "acc"
SET
	"is_verified" = TRUE,
	"verification_token_hash" = '',
	"verification_expires_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
RETURNING *;`

var MarkDeletedSQL = `UPDATE "accounts" AS "acc"
SET
	"is_deleted" = TRUE,
	"deleted_at" = ?,
	"refresh_token_hash" = '',
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
AND "acc"."is_deactivated" = FALSE
RETURNING *;`

var MarkRecoveredSQL = `UPDATE "accounts" AS "acc"
SET
	"is_deleted" = FALSE,
	"deleted_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
AND "acc"."is_deactivated" = FALSE
RETURNING *;`

var MarkDeactivatedSQL = `UPDATE "accounts" AS "acc"
SET
	"is_deactivated" = TRUE,
	"refresh_token_hash" = '',
	"reset_password_token_hash" = '',
	"reset_password_expires_at" = NULL,
	"verification_token_hash" = '',
	"verification_expires_at" = NULL,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
RETURNING *;`

var StoreRefreshHashSQL = `UPDATE "accounts" AS "acc"
SET
	"refresh_token_hash" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
RETURNING *;`

var ClearSessionSQL = `UPDATE "accounts" AS "acc"
SET
	"refresh_token_hash" = '',
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
RETURNING *;`

var SetResetTokenSQL = `UPDATE "accounts" AS "acc"
SET
	"reset_password_token_hash" = ?,
	"reset_password_expires_at" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
RETURNING *;`

var SetVerificationTokenSQL = `UPDATE "accounts" AS "acc"
SET
	"verification_token_hash" = ?,
	"verification_expires_at" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"acc"."id" = ?
RETURNING *;`

// Accounts is the persistence surface consumed by the authenticator, state
// machine, and command handlers. It is intentionally narrower than the
// underlying generic repository so alternative stores stay easy to provide.
type Accounts interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByResetTokenHash(ctx context.Context, hash string) (*Account, error)
	GetByVerificationTokenHash(ctx context.Context, hash string) (*Account, error)

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)

	StoreRefreshHash(ctx context.Context, id uuid.UUID, hash string) error
	RotateRefreshHash(ctx context.Context, id uuid.UUID, oldHash, newHash string) (*Account, error)
	ClearSession(ctx context.Context, id uuid.UUID) error

	SetResetToken(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string) (*Account, error)

	SetVerificationToken(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error
	SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string, expiresAt time.Time) error

	MarkVerified(ctx context.Context, id uuid.UUID) (*Account, error)
	MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) (*Account, error)
	MarkRecovered(ctx context.Context, id uuid.UUID) (*Account, error)
	MarkDeactivated(ctx context.Context, id uuid.UUID) (*Account, error)

	SweepDeactivate(ctx context.Context, cutoff time.Time) (int64, error)
}

type accountsRepo struct {
	repository.Repository[*Account]
	db *bun.DB
}

var _ Accounts = (*accountsRepo)(nil)

// NewAccountsRepository wires the bun-backed implementation of Accounts.
func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &accountsRepo{
		Repository: repo,
		db:         db,
	}
}

func (a *accountsRepo) GetByID(ctx context.Context, id string) (*Account, error) {
	return a.Repository.GetByID(ctx, id)
}

func (a *accountsRepo) GetByEmail(ctx context.Context, email string) (*Account, error) {
	return a.getByColumn(ctx, "email", email)
}

func (a *accountsRepo) GetByResetTokenHash(ctx context.Context, hash string) (*Account, error) {
	return a.getByColumn(ctx, "reset_password_token_hash", hash)
}

func (a *accountsRepo) GetByVerificationTokenHash(ctx context.Context, hash string) (*Account, error) {
	return a.getByColumn(ctx, "verification_token_hash", hash)
}

func (a *accountsRepo) getByColumn(ctx context.Context, column, value string) (*Account, error) {
	if value == "" {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"column": column,
			})
	}

	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"column": column,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *accountsRepo) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

func (a *accountsRepo) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	prepareAccountDefaults(account)
	return a.Repository.CreateTx(ctx, tx, account)
}

func (a *accountsRepo) StoreRefreshHash(ctx context.Context, id uuid.UUID, hash string) error {
	_, err := a.execExpectingRow(ctx, StoreRefreshHashSQL, []any{hash, id.String()}, id)
	return err
}

// RotateRefreshHash swaps the stored hash only if the presented one still
// matches. Zero rows means the token was already rotated away (or never
// existed), which the session layer reports as a replay.
func (a *accountsRepo) RotateRefreshHash(ctx context.Context, id uuid.UUID, oldHash, newHash string) (*Account, error) {
	res, err := a.Repository.RawTx(ctx, a.db, RotateRefreshHashSQL, newHash, id.String(), oldHash)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, ErrRefreshTokenInvalid
	}

	return res[0], nil
}

func (a *accountsRepo) ClearSession(ctx context.Context, id uuid.UUID) error {
	_, err := a.execExpectingRow(ctx, ClearSessionSQL, []any{id.String()}, id)
	return err
}

func (a *accountsRepo) SetResetToken(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	_, err := a.execExpectingRow(ctx, SetResetTokenSQL, []any{hash, expiresAt, id.String()}, id)
	return err
}

// ConsumeResetToken applies the new password hash and clears the pending
// reset in one conditional statement, so a token can only ever be redeemed
// once. The active session is revoked in the same write.
func (a *accountsRepo) ConsumeResetToken(ctx context.Context, id uuid.UUID, tokenHash, passwordHash string) (*Account, error) {
	res, err := a.Repository.RawTx(ctx, a.db, ConsumeResetTokenSQL, passwordHash, id.String(), tokenHash)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, ErrResetTokenInvalid
	}

	return res[0], nil
}

func (a *accountsRepo) SetVerificationToken(ctx context.Context, id uuid.UUID, hash string, expiresAt time.Time) error {
	return a.SetVerificationTokenTx(ctx, a.db, id, hash, expiresAt)
}

func (a *accountsRepo) SetVerificationTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, hash string, expiresAt time.Time) error {
	res, err := a.Repository.RawTx(ctx, tx, SetVerificationTokenSQL, hash, expiresAt, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

func (a *accountsRepo) MarkVerified(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.execExpectingRow(ctx, MarkVerifiedSQL, []any{id.String()}, id)
}

func (a *accountsRepo) MarkDeleted(ctx context.Context, id uuid.UUID, at time.Time) (*Account, error) {
	return a.execExpectingRow(ctx, MarkDeletedSQL, []any{at, id.String()}, id)
}

func (a *accountsRepo) MarkRecovered(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.execExpectingRow(ctx, MarkRecoveredSQL, []any{id.String()}, id)
}

func (a *accountsRepo) MarkDeactivated(ctx context.Context, id uuid.UUID) (*Account, error) {
	return a.execExpectingRow(ctx, MarkDeactivatedSQL, []any{id.String()}, id)
}

// SweepDeactivate promotes every account whose grace period has fully elapsed
// at the cutoff. The boundary is inclusive on the deletion timestamp.
func (a *accountsRepo) SweepDeactivate(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.Repository.RawTx(ctx, a.db, SweepDeactivateSQL, cutoff)
	if err != nil {
		return 0, err
	}

	return int64(len(res)), nil
}

func (a *accountsRepo) execExpectingRow(ctx context.Context, sql string, args []any, id uuid.UUID) (*Account, error) {
	res, err := a.Repository.RawTx(ctx, a.db, sql, args...)
	if err != nil {
		return nil, err
	}

	if len(res) == 0 {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return res[0], nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	if record.Gender == "" {
		record.Gender = GenderUnspecified
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
