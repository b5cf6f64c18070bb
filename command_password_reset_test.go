package accounts_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	accounts "github.com/habitloop/go-accounts"
)

func TestInitializePasswordReset(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}
	sink := &recordingSink{}

	account := seedAccount(repo)

	handler := accounts.NewInitializePasswordResetHandler(repo).
		WithMailer(mailer).
		WithActivitySink(sink)

	var response *accounts.InitializePasswordResetResponse
	err := handler.Execute(context.Background(), accounts.InitializePasswordResetMessage{
		Email: account.Email,
		OnResponse: func(resp *accounts.InitializePasswordResetResponse) {
			response = resp
		},
	})
	assert.NoError(t, err)
	assert.NotNil(t, response)
	assert.True(t, response.Success)

	stored, err := repo.Accounts().GetByID(context.Background(), account.ID.String())
	assert.NoError(t, err)
	assert.NotEmpty(t, stored.ResetPasswordTokenHash)
	assert.NotNil(t, stored.ResetPasswordExpiresAt)
	assert.True(t, stored.HasPendingReset())

	token := mailer.LastToken(accounts.MailPasswordReset)
	assert.NotEmpty(t, token)
	assert.Equal(t, stored.ResetPasswordTokenHash, accounts.HashOpaqueToken(token))

	assert.True(t, sink.HasEvent(accounts.ActivityEventResetRequested))
}

func TestInitializePasswordResetUnknownEmail(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}
	sink := &recordingSink{}

	handler := accounts.NewInitializePasswordResetHandler(repo).
		WithMailer(mailer).
		WithActivitySink(sink)

	var response *accounts.InitializePasswordResetResponse
	err := handler.Execute(context.Background(), accounts.InitializePasswordResetMessage{
		Email: "nobody@example.com",
		OnResponse: func(resp *accounts.InitializePasswordResetResponse) {
			response = resp
		},
	})

	// identical outcome to the known-email case: success, no mail, no event
	assert.NoError(t, err)
	assert.NotNil(t, response)
	assert.True(t, response.Success)
	assert.Empty(t, mailer.Deliveries())
	assert.Empty(t, sink.Events())
}

func TestInitializePasswordResetDeactivatedAccount(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}

	now := time.Now()
	account := seedAccount(repo, func(a *accounts.Account) {
		a.IsDeleted = true
		a.DeletedAt = &now
		a.IsDeactivated = true
	})

	handler := accounts.NewInitializePasswordResetHandler(repo).WithMailer(mailer)

	err := handler.Execute(context.Background(), accounts.InitializePasswordResetMessage{
		Email: account.Email,
	})
	assert.NoError(t, err)
	assert.Empty(t, mailer.Deliveries())

	stored, err := repo.Accounts().GetByID(context.Background(), account.ID.String())
	assert.NoError(t, err)
	assert.Empty(t, stored.ResetPasswordTokenHash)
	assert.False(t, stored.HasPendingReset())
}

func TestInitializePasswordResetSupersedesPendingToken(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}

	account := seedAccount(repo)

	handler := accounts.NewInitializePasswordResetHandler(repo).WithMailer(mailer)
	ctx := context.Background()

	message := accounts.InitializePasswordResetMessage{Email: account.Email}
	assert.NoError(t, handler.Execute(ctx, message))
	firstToken := mailer.LastToken(accounts.MailPasswordReset)

	assert.NoError(t, handler.Execute(ctx, message))

	deliveries := mailer.Deliveries()
	assert.Len(t, deliveries, 2)
	secondToken, _ := deliveries[1].Payload["token"].(string)
	assert.NotEqual(t, firstToken, secondToken)

	// only the latest token matches the stored hash
	stored, err := repo.Accounts().GetByID(ctx, account.ID.String())
	assert.NoError(t, err)
	assert.Equal(t, stored.ResetPasswordTokenHash, accounts.HashOpaqueToken(secondToken))
	assert.NotEqual(t, stored.ResetPasswordTokenHash, accounts.HashOpaqueToken(firstToken))
}

func TestFinalizePasswordReset(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}
	sink := &recordingSink{}

	account := seedAccount(repo)
	auther := accounts.NewAuthenticator(repo, testConfig{})
	ctx := context.Background()

	// an active session that must die with the old password
	login, err := auther.Login(ctx, account.Email, "super-secret-password")
	assert.NoError(t, err)

	initialize := accounts.NewInitializePasswordResetHandler(repo).WithMailer(mailer)
	assert.NoError(t, initialize.Execute(ctx, accounts.InitializePasswordResetMessage{Email: account.Email}))
	token := mailer.LastToken(accounts.MailPasswordReset)

	finalize := accounts.NewFinalizePasswordResetHandler(repo).WithActivitySink(sink)
	err = finalize.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "brand-new-password",
		ConfirmPassword: "brand-new-password",
	})
	assert.NoError(t, err)
	assert.True(t, sink.HasEvent(accounts.ActivityEventResetCompleted))

	// consumption clears the outstanding reset
	stored, err := repo.Accounts().GetByID(ctx, account.ID.String())
	assert.NoError(t, err)
	assert.False(t, stored.HasPendingReset())

	// old password is dead, new one works
	_, err = auther.Login(ctx, account.Email, "super-secret-password")
	assert.Equal(t, accounts.ErrMismatchedHashAndPassword, err)

	_, err = auther.Login(ctx, account.Email, "brand-new-password")
	assert.NoError(t, err)

	// the pre-reset refresh token was revoked alongside the credential
	_, err = auther.Refresh(ctx, login.RefreshToken)
	assert.Equal(t, accounts.ErrRefreshTokenInvalid, err)
}

func TestFinalizePasswordResetTokenIsSingleUse(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}

	account := seedAccount(repo)
	ctx := context.Background()

	initialize := accounts.NewInitializePasswordResetHandler(repo).WithMailer(mailer)
	assert.NoError(t, initialize.Execute(ctx, accounts.InitializePasswordResetMessage{Email: account.Email}))
	token := mailer.LastToken(accounts.MailPasswordReset)

	finalize := accounts.NewFinalizePasswordResetHandler(repo)

	message := accounts.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "brand-new-password",
		ConfirmPassword: "brand-new-password",
	}
	assert.NoError(t, finalize.Execute(ctx, message))

	err := finalize.Execute(ctx, message)
	assert.Equal(t, accounts.ErrResetTokenInvalid, err)
}

func TestFinalizePasswordResetRejectsBadInput(t *testing.T) {
	repo := newMemRepoManager()
	finalize := accounts.NewFinalizePasswordResetHandler(repo)
	ctx := context.Background()

	err := finalize.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:           "",
		Password:        "brand-new-password",
		ConfirmPassword: "brand-new-password",
	})
	assert.Equal(t, accounts.ErrResetTokenInvalid, err)

	err = finalize.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:           "some-token",
		Password:        "brand-new-password",
		ConfirmPassword: "different-password",
	})
	assert.Equal(t, accounts.ErrPasswordMismatch, err)

	err = finalize.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:           "unknown-token",
		Password:        "brand-new-password",
		ConfirmPassword: "brand-new-password",
	})
	assert.Equal(t, accounts.ErrResetTokenInvalid, err)
}

func TestFinalizePasswordResetExpiredToken(t *testing.T) {
	repo := newMemRepoManager()
	mailer := &recordingMailer{}

	account := seedAccount(repo)
	ctx := context.Background()

	frozen := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	initialize := accounts.NewInitializePasswordResetHandler(repo).
		WithMailer(mailer).
		WithClock(func() time.Time { return frozen })
	assert.NoError(t, initialize.Execute(ctx, accounts.InitializePasswordResetMessage{Email: account.Email}))
	token := mailer.LastToken(accounts.MailPasswordReset)

	// exactly at expiry counts as expired
	finalize := accounts.NewFinalizePasswordResetHandler(repo).
		WithClock(func() time.Time { return frozen.Add(accounts.ResetTokenTTL) })

	err := finalize.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "brand-new-password",
		ConfirmPassword: "brand-new-password",
	})
	assert.Equal(t, accounts.ErrResetTokenExpired, err)

	// one second earlier the same token still redeems
	finalize = accounts.NewFinalizePasswordResetHandler(repo).
		WithClock(func() time.Time { return frozen.Add(accounts.ResetTokenTTL).Add(-time.Second) })

	err = finalize.Execute(ctx, accounts.FinalizePasswordResetMessage{
		Token:           token,
		Password:        "brand-new-password",
		ConfirmPassword: "brand-new-password",
	})
	assert.NoError(t, err)
}
