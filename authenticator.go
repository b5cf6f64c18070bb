package accounts

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Auther implements Authenticator on top of the accounts repository. It owns
// the full session lifecycle: credential verification, access token issuance,
// refresh rotation, and logout.
type Auther struct {
	repo         RepositoryManager
	config       Config
	machine      AccountStateMachine
	tokenService TokenService
	activitySink ActivitySink
	logger       Logger
	now          func() time.Time
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(repo RepositoryManager, config Config) *Auther {
	tokenService := NewTokenService(
		[]byte(config.GetSigningKey()),
		config.GetAccessTokenTTL(),
		config.GetIssuer(),
		config.GetAudience(),
		defLogger{},
	)

	return &Auther{
		repo:         repo,
		config:       config,
		machine:      NewAccountStateMachine(repo.Accounts()),
		tokenService: tokenService,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithClock injects a custom clock, useful for tests.
func (s *Auther) WithClock(clock func() time.Time) *Auther {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithStateMachine overrides the lifecycle guard consulted before issuing
// credentials.
func (s *Auther) WithStateMachine(machine AccountStateMachine) *Auther {
	if machine != nil {
		s.machine = machine
	}
	return s
}

// WithTokenService overrides the access token signer/validator.
func (s *Auther) WithTokenService(ts TokenService) *Auther {
	if ts != nil {
		s.tokenService = ts
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies the credentials and state of the account identified by email
// and, on success, issues a fresh access/refresh pair. A new login replaces
// any previous session: the stored refresh hash is overwritten, so at most
// one refresh token is ever redeemable per account.
//
// An unknown email and a wrong password produce the same
// ErrMismatchedHashAndPassword, so the endpoint cannot be used to probe for
// registered addresses.
func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if email == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	account, err := s.repo.Accounts().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// burn a compare anyway so unknown emails cost the same
			_ = ComparePasswordAndHash(password, RandomPasswordHash())
			s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
				"email": email,
				"error": ErrMismatchedHashAndPassword.Error(),
			})
			return nil, ErrMismatchedHashAndPassword
		}
		s.logger.Error("Login account lookup error", "error", err)
		return nil, err
	}

	if err := ComparePasswordAndHash(password, account.PasswordHash); err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	if err := s.machine.CanAuthenticate(account); err != nil {
		s.logger.Warn("Login blocked due to account state", "state", account.State(), "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), map[string]any{
			"email": email,
			"error": err.Error(),
			"state": account.State(),
		})
		return nil, err
	}

	pair, err := s.issueSession(ctx, account)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, s.actorFromAccount(account), account.ID.String(), map[string]any{
			"email": email,
			"error": err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, s.actorFromAccount(account), account.ID.String(), map[string]any{
		"email": email,
	})

	return &LoginResult{
		TokenPair: *pair,
		Account:   account.Profile(),
	}, nil
}

// Refresh redeems a refresh token for a new access/refresh pair. Rotation is
// atomic: the stored hash is swapped only if the presented token still
// matches, so a replayed (already rotated) token fails the same way a forged
// one does and the concurrent winner keeps the only valid session.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrRefreshTokenInvalid
	}

	accountID, secret, err := DecodeRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := s.repo.Accounts().GetByID(ctx, accountID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrRefreshTokenInvalid
		}
		s.logger.Error("Refresh account lookup error", "error", err)
		return nil, err
	}

	// state guards run before the hash compare so a deleted or deactivated
	// account gets the explicit forbidden error, not a generic token failure
	if err := s.machine.CanAuthenticate(account); err != nil {
		s.logger.Warn("Refresh blocked due to account state", "state", account.State(), "error", err)
		return nil, err
	}

	newPlaintext, newHash, err := NewRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}

	presented := HashOpaqueToken(secret)
	updated, err := s.repo.Accounts().RotateRefreshHash(ctx, account.ID, presented, newHash)
	if err != nil {
		if IsRefreshTokenInvalid(err) {
			s.emitAuthEvent(ctx, ActivityEventTokenReplayed, s.actorFromAccount(account), account.ID.String(), nil)
		}
		return nil, err
	}

	access, err := s.tokenService.Generate(updated)
	if err != nil {
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventTokenRotated, s.actorFromAccount(account), account.ID.String(), nil)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newPlaintext,
	}, nil
}

// Logout revokes the account's active session. It is idempotent: logging out
// an account with no session, or one that no longer exists, succeeds.
func (s *Auther) Logout(ctx context.Context, accountID uuid.UUID) error {
	if err := s.repo.Accounts().ClearSession(ctx, accountID); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil
		}
		s.logger.Error("Logout clear session error", "error", err)
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: accountID.String(), Type: "account"}, accountID.String(), nil)

	return nil
}

// SessionFromToken validates a raw access token and projects its claims into
// a Session. Validation is purely cryptographic; no store access happens here.
func (s *Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.tokenService.Validate(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session, err := sessionFromAccessClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims", "error", err)
		return nil, err
	}

	return session, nil
}

func (s *Auther) issueSession(ctx context.Context, account *Account) (*TokenPair, error) {
	access, err := s.tokenService.Generate(account)
	if err != nil {
		return nil, err
	}

	plaintext, hash, err := NewRefreshToken(account.ID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Accounts().StoreRefreshHash(ctx, account.ID, hash); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: plaintext,
	}, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, accountID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		AccountID: accountID,
		Metadata:  metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func (s *Auther) actorFromAccount(account *Account) ActorRef {
	if account == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   account.ID.String(),
		Type: "account",
	}
}
