package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type VerifyAccountMessage struct {
	Token      string `json:"token"`
	OnResponse func(resp *VerifyAccountResponse)
}

func (e VerifyAccountMessage) Type() string { return "account.verify" }

type VerifyAccountResponse struct {
	Account *AccountProfile
	Success bool
}

// VerifyAccountHandler redeems a verification token and flips the one-way
// verified flag. The stored token hash is cleared in the same write, so a
// token can only be redeemed once.
type VerifyAccountHandler struct {
	repo     RepositoryManager
	machine  AccountStateMachine
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewVerifyAccountHandler creates a handler with sane defaults.
func NewVerifyAccountHandler(repo RepositoryManager) *VerifyAccountHandler {
	return &VerifyAccountHandler{
		repo:     repo,
		machine:  NewAccountStateMachine(repo.Accounts()),
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithStateMachine overrides the lifecycle machine used for the transition.
func (h *VerifyAccountHandler) WithStateMachine(machine AccountStateMachine) *VerifyAccountHandler {
	if machine != nil {
		h.machine = machine
	}
	return h
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyAccountHandler) WithActivitySink(sink ActivitySink) *VerifyAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyAccountHandler) WithLogger(logger Logger) *VerifyAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *VerifyAccountHandler) WithClock(clock func() time.Time) *VerifyAccountHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *VerifyAccountHandler) Execute(ctx context.Context, event VerifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyAccountHandler) execute(ctx context.Context, event VerifyAccountMessage) error {
	if event.Token == "" {
		return ErrVerificationTokenInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account, err := h.repo.Accounts().GetByVerificationTokenHash(ctx, HashOpaqueToken(event.Token))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrVerificationTokenInvalid
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for verification")
	}

	// a deleted or deactivated account cannot verify; the same opaque error
	// keeps the token from probing lifecycle state
	if account.IsDeleted || account.IsDeactivated {
		return ErrVerificationTokenInvalid
	}

	if TokenDeadlinePassed(account.VerificationExpiresAt, h.now()) {
		return ErrVerificationTokenExpired
	}

	if _, err := h.machine.Verify(ctx, h.actor(account), account); err != nil {
		return err
	}

	h.recordActivity(ctx, account)

	if event.OnResponse != nil {
		event.OnResponse(&VerifyAccountResponse{
			Account: account.Profile(),
			Success: true,
		})
	}

	return nil
}

func (h *VerifyAccountHandler) actor(account *Account) ActorRef {
	return ActorRef{
		ID:   account.ID.String(),
		Type: "account",
	}
}

func (h *VerifyAccountHandler) recordActivity(ctx context.Context, account *Account) {
	event := ActivityEvent{
		EventType:  ActivityEventAccountVerified,
		Actor:      h.actor(account),
		AccountID:  account.ID.String(),
		ToState:    account.State(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during verification: %v", err)
	}
}
