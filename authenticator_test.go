package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	accounts "github.com/habitloop/go-accounts"
)

func TestLoginSuccess(t *testing.T) {
	repo := newMemRepoManager()
	account := seedAccount(repo)
	sink := &recordingSink{}

	auther := accounts.NewAuthenticator(repo, testConfig{}).WithActivitySink(sink)

	result, err := auther.Login(context.Background(), account.Email, "super-secret-password")
	assert.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, account.ID, result.Account.ID)
	assert.Equal(t, account.Handle, result.Account.Handle)

	session, err := auther.SessionFromToken(result.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, account.ID.String(), session.GetAccountID())
	assert.Equal(t, account.Handle, session.GetHandle())

	stored, err := repo.Accounts().GetByID(context.Background(), account.ID.String())
	assert.NoError(t, err)
	assert.NotEmpty(t, stored.RefreshTokenHash)

	assert.True(t, sink.HasEvent(accounts.ActivityEventLoginSuccess))
}

func TestLoginMissingCredentials(t *testing.T) {
	repo := newMemRepoManager()
	auther := accounts.NewAuthenticator(repo, testConfig{})

	_, err := auther.Login(context.Background(), "", "")
	assert.Equal(t, accounts.ErrMissingCredentials, err)

	_, err = auther.Login(context.Background(), "pepe.rone@example.com", "")
	assert.Equal(t, accounts.ErrMissingCredentials, err)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	repo := newMemRepoManager()
	account := seedAccount(repo)
	sink := &recordingSink{}

	auther := accounts.NewAuthenticator(repo, testConfig{}).WithActivitySink(sink)

	// unknown email and wrong password produce the same error, so the
	// endpoint cannot be used to enumerate registered addresses
	_, err := auther.Login(context.Background(), "nobody@example.com", "super-secret-password")
	assert.Equal(t, accounts.ErrMismatchedHashAndPassword, err)

	_, err = auther.Login(context.Background(), account.Email, "wrong-password")
	assert.Equal(t, accounts.ErrMismatchedHashAndPassword, err)

	assert.True(t, sink.HasEvent(accounts.ActivityEventLoginFailure))
}

func TestLoginStateGuards(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		mutate  func(*accounts.Account)
		wantErr error
	}{
		{
			name: "unverified",
			mutate: func(a *accounts.Account) {
				a.IsVerified = false
			},
			wantErr: accounts.ErrAccountNotVerified,
		},
		{
			name: "scheduled for deletion",
			mutate: func(a *accounts.Account) {
				a.IsDeleted = true
				a.DeletedAt = &now
			},
			wantErr: accounts.ErrAccountDeleted,
		},
		{
			name: "deactivated",
			mutate: func(a *accounts.Account) {
				a.IsDeleted = true
				a.DeletedAt = &now
				a.IsDeactivated = true
			},
			wantErr: accounts.ErrAccountDeactivated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepoManager()
			account := seedAccount(repo, tt.mutate)

			auther := accounts.NewAuthenticator(repo, testConfig{})

			_, err := auther.Login(context.Background(), account.Email, "super-secret-password")
			assert.Equal(t, tt.wantErr, err)
		})
	}
}

func TestLoginReplacesExistingSession(t *testing.T) {
	repo := newMemRepoManager()
	account := seedAccount(repo)

	auther := accounts.NewAuthenticator(repo, testConfig{})
	ctx := context.Background()

	first, err := auther.Login(ctx, account.Email, "super-secret-password")
	assert.NoError(t, err)

	second, err := auther.Login(ctx, account.Email, "super-secret-password")
	assert.NoError(t, err)

	// only the most recent session survives
	_, err = auther.Refresh(ctx, first.RefreshToken)
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)

	_, err = auther.Refresh(ctx, second.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshRotation(t *testing.T) {
	repo := newMemRepoManager()
	account := seedAccount(repo)
	sink := &recordingSink{}

	auther := accounts.NewAuthenticator(repo, testConfig{}).WithActivitySink(sink)
	ctx := context.Background()

	result, err := auther.Login(ctx, account.Email, "super-secret-password")
	assert.NoError(t, err)

	pair, err := auther.Refresh(ctx, result.RefreshToken)
	assert.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, result.RefreshToken, pair.RefreshToken)

	// the pre-rotation token is dead; replaying it fails like a forgery
	_, err = auther.Refresh(ctx, result.RefreshToken)
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)

	// the rotated token still works
	_, err = auther.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)

	assert.True(t, sink.HasEvent(accounts.ActivityEventTokenRotated))
	assert.True(t, sink.HasEvent(accounts.ActivityEventTokenReplayed))
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	repo := newMemRepoManager()
	seedAccount(repo)

	auther := accounts.NewAuthenticator(repo, testConfig{})
	ctx := context.Background()

	_, err := auther.Refresh(ctx, "")
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)

	_, err = auther.Refresh(ctx, "garbage-token")
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)

	// structurally valid token for an account that does not exist
	plaintext, _, err := accounts.NewRefreshToken(uuid.New())
	assert.NoError(t, err)

	_, err = auther.Refresh(ctx, plaintext)
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)
}

func TestRefreshBlockedForDeletedAccount(t *testing.T) {
	repo := newMemRepoManager()
	account := seedAccount(repo)

	auther := accounts.NewAuthenticator(repo, testConfig{})
	ctx := context.Background()

	result, err := auther.Login(ctx, account.Email, "super-secret-password")
	assert.NoError(t, err)

	_, err = repo.Accounts().MarkDeleted(ctx, account.ID, time.Now())
	assert.NoError(t, err)

	// the state guard reports the explicit forbidden error, not a generic
	// token failure
	_, err = auther.Refresh(ctx, result.RefreshToken)
	assert.Equal(t, accounts.ErrAccountDeleted, err)
}

func TestLogout(t *testing.T) {
	repo := newMemRepoManager()
	account := seedAccount(repo)
	sink := &recordingSink{}

	auther := accounts.NewAuthenticator(repo, testConfig{}).WithActivitySink(sink)
	ctx := context.Background()

	result, err := auther.Login(ctx, account.Email, "super-secret-password")
	assert.NoError(t, err)

	assert.NoError(t, auther.Logout(ctx, account.ID))

	_, err = auther.Refresh(ctx, result.RefreshToken)
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)

	// logout is idempotent, even for unknown accounts
	assert.NoError(t, auther.Logout(ctx, account.ID))
	assert.NoError(t, auther.Logout(ctx, uuid.New()))

	assert.True(t, sink.HasEvent(accounts.ActivityEventLogout))
}

func TestSessionFromTokenRejectsGarbage(t *testing.T) {
	repo := newMemRepoManager()
	auther := accounts.NewAuthenticator(repo, testConfig{})

	_, err := auther.SessionFromToken("not-a-token")
	assert.Error(t, err)
	assert.True(t, accounts.IsMalformedError(err))
}
