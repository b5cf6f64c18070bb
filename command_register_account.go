package accounts

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

type RegisterAccountMessage struct {
	Handle      string     `json:"handle"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Gender      Gender     `json:"gender"`
	DateOfBirth *time.Time `json:"date_of_birth"`
	Password    string     `json:"password"`
	UseHashid   bool       `json:"-"`
	OnResponse  func(resp *RegisterAccountResponse)
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

func (e RegisterAccountMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&e.Handle, validation.Length(0, 64)),
		validation.Field(&e.Gender, validation.In(
			GenderUnspecified,
			GenderFemale,
			GenderMale,
			GenderNonBinary,
		)),
	)
}

type RegisterAccountResponse struct {
	Account *AccountProfile
	Success bool
}

// RegisterAccountHandler creates an account in the unverified state and mints
// its verification token. Both writes happen in one transaction; the
// verification mail goes out only after the commit.
type RegisterAccountHandler struct {
	repo     RepositoryManager
	mailer   Mailer
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewRegisterAccountHandler creates a handler with sane defaults.
func NewRegisterAccountHandler(repo RepositoryManager) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		repo:     repo,
		mailer:   logMailer{logger: defLogger{}},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithMailer sets the notification delivery collaborator.
func (h *RegisterAccountHandler) WithMailer(mailer Mailer) *RegisterAccountHandler {
	h.mailer = normalizeMailer(mailer, h.logger)
	return h
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterAccountHandler) WithActivitySink(sink ActivitySink) *RegisterAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *RegisterAccountHandler) WithClock(clock func() time.Time) *RegisterAccountHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload").
			WithCode(goerrors.CodeBadRequest)
	}

	account := &Account{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	verifyToken, verifyHash, err := NewOpaqueToken()
	if err != nil {
		return err
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		account.PasswordHash = hash
		account.Email = event.Email
		account.DisplayName = event.DisplayName
		account.Gender = event.Gender
		account.DateOfBirth = event.DateOfBirth
		account.Handle = getHandle(event.Handle, event.Email)
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				account.ID = id
			}
		}

		if account, err = h.repo.Accounts().RegisterTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		expiresAt := h.now().Add(VerificationTokenTTL)
		if err := h.repo.Accounts().SetVerificationTokenTx(ctx, tx, account.ID, verifyHash, expiresAt); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not store verification token")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	h.notify(ctx, account, verifyToken)
	h.recordActivity(ctx, account)

	if event.OnResponse != nil {
		event.OnResponse(&RegisterAccountResponse{
			Account: account.Profile(),
			Success: true,
		})
	}

	return nil
}

func (h *RegisterAccountHandler) notify(ctx context.Context, account *Account, token string) {
	mailer := normalizeMailer(h.mailer, h.logger)
	err := mailer.Send(ctx, account.Email, MailAccountVerification, map[string]any{
		"handle": account.Handle,
		"token":  token,
	})
	if err != nil {
		h.logger.Warn("verification mail delivery failed: %v", err)
	}
}

func (h *RegisterAccountHandler) recordActivity(ctx context.Context, account *Account) {
	event := ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor: ActorRef{
			ID:   account.ID.String(),
			Type: "account",
		},
		AccountID:  account.ID.String(),
		ToState:    account.State(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration: %v", err)
	}
}

func getHandle(handle, email string) string {
	if handle != "" {
		return handle
	}

	if strings.Contains(email, "@") {
		handle = strings.Split(email, "@")[0]
	}

	return handle
}
