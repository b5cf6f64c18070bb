package accounts

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "account.password_reset" }

func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
	)
}

type InitializePasswordResetResponse struct {
	Success bool
}

// InitializePasswordResetHandler starts the reset flow. The response is
// deliberately identical for known and unknown addresses: only the account
// owner, via their inbox, learns whether a reset was actually created.
//
// A new request supersedes any pending one; the previous token stops working
// the moment the new hash is stored.
type InitializePasswordResetHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo:     repo,
		mailer:   logMailer{logger: defLogger{}},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithMailer sets the notification delivery collaborator.
func (h *InitializePasswordResetHandler) WithMailer(mailer Mailer) *InitializePasswordResetHandler {
	h.mailer = normalizeMailer(mailer, h.logger)
	return h
}

// WithActivitySink sets the sink used to emit reset events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *InitializePasswordResetHandler) WithClock(clock func() time.Time) *InitializePasswordResetHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload").
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	account, err := h.repo.Accounts().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// uniform response, no write, no mail
			h.respond(event)
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve account for password reset")
	}

	// deactivated accounts are gone for good; keep the response uniform
	if account.IsDeactivated {
		h.respond(event)
		return nil
	}

	if account.HasPendingReset() {
		h.logger.Info("superseding outstanding password reset token for account %s", account.ID)
	}

	token, hash, err := NewOpaqueToken()
	if err != nil {
		return err
	}

	expiresAt := h.now().Add(ResetTokenTTL)
	if err := h.repo.Accounts().SetResetToken(ctx, account.ID, hash, expiresAt); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store password reset token")
	}

	h.notify(ctx, account, token)
	h.recordActivity(ctx, account)
	h.respond(event)

	return nil
}

func (h *InitializePasswordResetHandler) respond(event InitializePasswordResetMessage) {
	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{Success: true})
	}
}

func (h *InitializePasswordResetHandler) notify(ctx context.Context, account *Account, token string) {
	mailer := normalizeMailer(h.mailer, h.logger)
	err := mailer.Send(ctx, account.Email, MailPasswordReset, map[string]any{
		"handle": account.Handle,
		"token":  token,
	})
	if err != nil {
		h.logger.Warn("password reset mail delivery failed: %v", err)
	}
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, account *Account) {
	event := ActivityEvent{
		EventType: ActivityEventResetRequested,
		Actor: ActorRef{
			ID:   account.ID.String(),
			Type: "account",
		},
		AccountID:  account.ID.String(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset request: %v", err)
	}
}
