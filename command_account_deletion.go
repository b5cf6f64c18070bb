package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

type RequestAccountDeletionMessage struct {
	AccountID  uuid.UUID `json:"account_id"`
	Reason     string    `json:"reason"`
	OnResponse func(resp *AccountDeletionResponse)
}

func (e RequestAccountDeletionMessage) Type() string { return "account.deletion_request" }

type RecoverAccountMessage struct {
	AccountID  uuid.UUID `json:"account_id"`
	OnResponse func(resp *AccountDeletionResponse)
}

func (e RecoverAccountMessage) Type() string { return "account.recover" }

type AccountDeletionResponse struct {
	Account   *AccountProfile
	DeletedAt *time.Time
	Success   bool
}

// AccountDeletionHandler owns the soft-delete side of the lifecycle: a
// deletion request starts the grace period, a recovery cancels it. Both
// operations are idempotent, and neither can touch a deactivated account.
type AccountDeletionHandler struct {
	repo     RepositoryManager
	machine  AccountStateMachine
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewAccountDeletionHandler creates a handler with sane defaults.
func NewAccountDeletionHandler(repo RepositoryManager) *AccountDeletionHandler {
	return &AccountDeletionHandler{
		repo:     repo,
		machine:  NewAccountStateMachine(repo.Accounts()),
		mailer:   logMailer{logger: defLogger{}},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithStateMachine overrides the lifecycle machine used for transitions.
func (h *AccountDeletionHandler) WithStateMachine(machine AccountStateMachine) *AccountDeletionHandler {
	if machine != nil {
		h.machine = machine
	}
	return h
}

// WithMailer sets the notification delivery collaborator.
func (h *AccountDeletionHandler) WithMailer(mailer Mailer) *AccountDeletionHandler {
	h.mailer = normalizeMailer(mailer, h.logger)
	return h
}

// WithActivitySink sets the sink used to emit deletion events.
func (h *AccountDeletionHandler) WithActivitySink(sink ActivitySink) *AccountDeletionHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *AccountDeletionHandler) WithLogger(logger Logger) *AccountDeletionHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *AccountDeletionHandler) WithClock(clock func() time.Time) *AccountDeletionHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *AccountDeletionHandler) Execute(ctx context.Context, event RequestAccountDeletionMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account deletion request",
		)
	default:
		return h.executeDeletion(ctx, event)
	}
}

func (h *AccountDeletionHandler) ExecuteRecovery(ctx context.Context, event RecoverAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account recovery",
		)
	default:
		return h.executeRecovery(ctx, event)
	}
}

func (h *AccountDeletionHandler) executeDeletion(ctx context.Context, event RequestAccountDeletionMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account, err := h.getAccount(ctx, event.AccountID)
	if err != nil {
		return err
	}

	if account.IsDeactivated {
		return ErrAccountDeactivated
	}

	// an account already in the grace period stays where it is
	if !account.IsDeleted {
		opts := []TransitionOption{}
		if event.Reason != "" {
			opts = append(opts, WithTransitionReason(event.Reason))
		}

		if _, err := h.machine.RequestDeletion(ctx, h.actor(account), account, opts...); err != nil {
			return err
		}

		h.notify(ctx, account, MailDeletionScheduled)
		h.recordActivity(ctx, ActivityEventDeletionRequested, account, event.Reason)
	}

	if event.OnResponse != nil {
		event.OnResponse(&AccountDeletionResponse{
			Account:   account.Profile(),
			DeletedAt: account.DeletedAt,
			Success:   true,
		})
	}

	return nil
}

func (h *AccountDeletionHandler) executeRecovery(ctx context.Context, event RecoverAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account, err := h.getAccount(ctx, event.AccountID)
	if err != nil {
		return err
	}

	if account.IsDeactivated {
		return ErrAccountDeactivated
	}

	if account.IsDeleted {
		if _, err := h.machine.Recover(ctx, h.actor(account), account); err != nil {
			return err
		}

		h.notify(ctx, account, MailAccountRecovered)
		h.recordActivity(ctx, ActivityEventAccountRecovered, account, "")
	}

	if event.OnResponse != nil {
		event.OnResponse(&AccountDeletionResponse{
			Account: account.Profile(),
			Success: true,
		})
	}

	return nil
}

func (h *AccountDeletionHandler) getAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	account, err := h.repo.Accounts().GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account")
	}
	return account, nil
}

func (h *AccountDeletionHandler) actor(account *Account) ActorRef {
	return ActorRef{
		ID:   account.ID.String(),
		Type: "account",
	}
}

func (h *AccountDeletionHandler) notify(ctx context.Context, account *Account, template MailTemplate) {
	payload := map[string]any{
		"handle": account.Handle,
	}

	if template == MailDeletionScheduled && account.DeletedAt != nil {
		payload["deactivation_after"] = account.DeletedAt.Add(DeletionGracePeriod)
	}

	mailer := normalizeMailer(h.mailer, h.logger)
	if err := mailer.Send(ctx, account.Email, template, payload); err != nil {
		h.logger.Warn("deletion lifecycle mail delivery failed: %v", err)
	}
}

func (h *AccountDeletionHandler) recordActivity(ctx context.Context, eventType ActivityEventType, account *Account, reason string) {
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      h.actor(account),
		AccountID:  account.ID.String(),
		ToState:    account.State(),
		OccurredAt: h.now(),
	}

	if reason != "" {
		event.Metadata = map[string]any{"reason": reason}
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during deletion lifecycle: %v", err)
	}
}
