package accounts

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAccountRoutes mounts the JSON endpoints for the account and session
// lifecycle on the given router.
func RegisterAccountRoutes[T any](app router.Router[T], opts ...AccountsControllerOption) {
	controller := NewAccountsController(opts...)

	protected := controller.HTTP.ProtectedRoute(
		controller.Config,
		controller.HTTP.MakeAuthErrorHandler(false),
	)

	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("session.login.post")

	app.Post(controller.Routes.Logout, protected(controller.LogoutPost)).
		SetName("session.logout.post")

	app.Post(controller.Routes.Refresh, controller.RefreshPost).
		SetName("session.refresh.post")

	app.Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("accounts.register.post")

	app.Post(controller.Routes.Verify, controller.VerifyPost).
		SetName("accounts.verify.post")

	app.Post(controller.Routes.PasswordResetRequest, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Patch(controller.Routes.PasswordReset, controller.PasswordResetExecute).
		SetName("pwd-reset.patch")

	app.Post(controller.Routes.DeletionRequest, protected(controller.DeletionRequestPost)).
		SetName("accounts.deletion.post")

	app.Post(controller.Routes.Recover, controller.RecoverPost).
		SetName("accounts.recover.post")

	app.Post(controller.Routes.Sweep, controller.SweepPost).
		SetName("accounts.sweep.post")
}

type AccountsControllerRoutes struct {
	Login                string
	Logout               string
	Refresh              string
	Register             string
	Verify               string
	PasswordResetRequest string
	PasswordReset        string
	DeletionRequest      string
	Recover              string
	Sweep                string
}

type AccountsController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Config       Config
	Auth         Authenticator
	HTTP         *RouteAccounts
	Mailer       Mailer
	ActivitySink ActivitySink
	Routes       *AccountsControllerRoutes
	ErrorHandler router.ErrorHandler
}

type AccountsControllerOption func(*AccountsController) *AccountsController

func NewAccountsController(opts ...AccountsControllerOption) *AccountsController {
	c := &AccountsController{
		Logger:       defLogger{},
		ActivitySink: noopActivitySink{},
		Routes: &AccountsControllerRoutes{
			Login:                "/auth/login",
			Logout:               "/auth/logout",
			Refresh:              "/auth/refresh",
			Register:             "/accounts",
			Verify:               "/accounts/verify",
			PasswordResetRequest: "/password-reset/request",
			PasswordReset:        "/password-reset",
			DeletionRequest:      "/accounts/deletion-request",
			Recover:              "/accounts/recover",
			Sweep:                "/internal/deactivation-sweep",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in accounts controller...")
	}

	if c.Config == nil {
		panic("Missing Config in accounts controller...")
	}

	if c.Auth == nil {
		c.Auth = NewAuthenticator(c.Repo, c.Config).
			WithLogger(c.Logger).
			WithActivitySink(c.ActivitySink)
	}

	if c.HTTP == nil {
		h, err := NewHTTPAccounts(c.Auth, c.Config)
		if err != nil {
			panic("Failed to build HTTP accounts adapter: " + err.Error())
		}
		h.Logger = c.Logger
		c.HTTP = h
	}

	if c.Mailer == nil {
		c.Mailer = logMailer{logger: c.Logger}
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = func(ctx router.Context, err error) error {
			return renderError(ctx, c.Logger, err)
		}
	}

	return c
}

func WithControllerRepo(repo RepositoryManager) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Repo = repo
		return c
	}
}

func WithControllerConfig(cfg Config) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Config = cfg
		return c
	}
}

func WithControllerAuthenticator(auth Authenticator) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Auth = auth
		return c
	}
}

func WithControllerLogger(logger Logger) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerMailer(mailer Mailer) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Mailer = mailer
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.ActivitySink = normalizeActivitySink(sink)
		return c
	}
}

func WithControllerDebug(debug bool) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Debug = debug
		return c
	}
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AccountsController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid login payload").
			WithCode(goerrors.CodeBadRequest))
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	result, err := a.Auth.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		a.Logger.Error("Login error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	a.HTTP.SetRefreshCookie(ctx, result.RefreshToken)

	return ctx.JSON(router.StatusOK, result)
}

func (a *AccountsController) LogoutPost(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.Config.GetContextKey())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	accountID, err := session.GetAccountUUID()
	if err != nil {
		return a.ErrorHandler(ctx, ErrUnableToMapClaims)
	}

	if err := a.Auth.Logout(ctx.Context(), accountID); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	a.HTTP.ClearRefreshCookie(ctx)

	return ctx.JSON(router.StatusOK, map[string]any{"success": true})
}

// RefreshRequest carries the refresh token for clients that do not use the
// cookie transport
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (a *AccountsController) RefreshPost(ctx router.Context) error {
	payload := new(RefreshRequest)
	_ = ctx.Bind(payload)

	token := ctx.Cookies(RefreshCookieName, payload.RefreshToken)
	if token == "" {
		return a.ErrorHandler(ctx, ErrRefreshTokenInvalid)
	}

	pair, err := a.Auth.Refresh(ctx.Context(), token)
	if err != nil {
		a.HTTP.ClearRefreshCookie(ctx)
		return a.ErrorHandler(ctx, err)
	}

	a.HTTP.SetRefreshCookie(ctx, pair.RefreshToken)

	return ctx.JSON(router.StatusOK, pair)
}

// RegistrationCreatePayload is the sign-up payload
type RegistrationCreatePayload struct {
	Handle          string `form:"handle" json:"handle"`
	Email           string `form:"email" json:"email"`
	DisplayName     string `form:"display_name" json:"display_name"`
	Gender          string `form:"gender" json:"gender"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Handle, validation.Length(0, 64)),
		validation.Field(&r.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AccountsController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register account parse payload", "error", err)
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register account validate payload", "error", err)
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload").
			WithCode(goerrors.CodeBadRequest))
	}

	var res *RegisterAccountResponse

	req := RegisterAccountMessage{
		Handle:      payload.Handle,
		Email:       payload.Email,
		DisplayName: payload.DisplayName,
		Gender:      payload.Gender,
		Password:    payload.Password,
		OnResponse: func(resp *RegisterAccountResponse) {
			res = resp
		},
	}

	registerAccount := NewRegisterAccountHandler(a.Repo).
		WithMailer(a.Mailer).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := registerAccount.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("register account error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	if a.Debug {
		fmt.Println("======= REGISTRATION ======")
		fmt.Println(print.MaybePrettyJSON(res))
		fmt.Println("===========================")
	}

	return ctx.JSON(router.StatusCreated, res.Account)
}

// VerifyPayload carries the emailed verification token
type VerifyPayload struct {
	Token string `form:"token" json:"token"`
}

func (a *AccountsController) VerifyPost(ctx router.Context) error {
	payload := new(VerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	var res *VerifyAccountResponse

	req := VerifyAccountMessage{
		Token: payload.Token,
		OnResponse: func(resp *VerifyAccountResponse) {
			res = resp
		},
	}

	verifyAccount := NewVerifyAccountHandler(a.Repo).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := verifyAccount.Execute(ctx.Context(), req); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, res.Account)
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AccountsController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset parse payload", "error", err)
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password reset validate payload", "error", err)
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload").
			WithCode(goerrors.CodeBadRequest))
	}

	req := InitializePasswordResetMessage{
		Email:      payload.Email,
		OnResponse: func(resp *InitializePasswordResetResponse) {},
	}

	initPwdReset := NewInitializePasswordResetHandler(a.Repo).
		WithMailer(a.Mailer).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := initPwdReset.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("password reset init error", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	// same body whether or not the address was known
	return ctx.JSON(router.StatusAccepted, map[string]any{"success": true})
}

// PasswordResetVerifyPayload holds values for completing a password reset
type PasswordResetVerifyPayload struct {
	Token           string `form:"token" json:"token"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetVerifyPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Token,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(8, 128),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AccountsController) PasswordResetExecute(ctx router.Context) error {
	payload := new(PasswordResetVerifyPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password reset payload").
			WithCode(goerrors.CodeBadRequest))
	}

	input := FinalizePasswordResetMessage{
		Token:           payload.Token,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
	}

	finalizePwdReset := NewFinalizePasswordResetHandler(a.Repo).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := finalizePwdReset.Execute(ctx.Context(), input); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{"success": true})
}

// DeletionRequestPayload carries an optional reason for leaving
type DeletionRequestPayload struct {
	Reason string `form:"reason" json:"reason"`
}

func (a *AccountsController) DeletionRequestPost(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.Config.GetContextKey())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	accountID, err := session.GetAccountUUID()
	if err != nil {
		return a.ErrorHandler(ctx, ErrUnableToMapClaims)
	}

	payload := new(DeletionRequestPayload)
	_ = ctx.Bind(payload)

	var res *AccountDeletionResponse

	req := RequestAccountDeletionMessage{
		AccountID: accountID,
		Reason:    payload.Reason,
		OnResponse: func(resp *AccountDeletionResponse) {
			res = resp
		},
	}

	deletion := NewAccountDeletionHandler(a.Repo).
		WithMailer(a.Mailer).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := deletion.Execute(ctx.Context(), req); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	a.HTTP.ClearRefreshCookie(ctx)

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":    true,
		"deleted_at": res.DeletedAt,
	})
}

// RecoverPayload re-authenticates the owner of a soft-deleted account, since
// a deleted account cannot log in to obtain a session
type RecoverPayload struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r RecoverPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AccountsController) RecoverPost(ctx router.Context) error {
	payload := new(RecoverPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid recovery payload").
			WithCode(goerrors.CodeBadRequest))
	}

	account, err := a.Repo.Accounts().GetByEmail(ctx.Context(), payload.Email)
	if err != nil {
		return a.ErrorHandler(ctx, ErrMismatchedHashAndPassword)
	}

	if err := ComparePasswordAndHash(payload.Password, account.PasswordHash); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	var res *AccountDeletionResponse

	req := RecoverAccountMessage{
		AccountID: account.ID,
		OnResponse: func(resp *AccountDeletionResponse) {
			res = resp
		},
	}

	recovery := NewAccountDeletionHandler(a.Repo).
		WithMailer(a.Mailer).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := recovery.ExecuteRecovery(ctx.Context(), req); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, res.Account)
}

// SweepHeaderName carries the scheduler secret for the deactivation sweep.
const SweepHeaderName = "X-Sweep-Secret"

func (a *AccountsController) SweepPost(ctx router.Context) error {
	secret := ctx.Header(SweepHeaderName)

	var res *DeactivationSweepResponse

	req := DeactivationSweepMessage{
		Secret: secret,
		OnResponse: func(resp *DeactivationSweepResponse) {
			res = resp
		},
	}

	sweep := NewDeactivationSweepHandler(a.Repo, a.Config.GetSweepSecret()).
		WithActivitySink(a.ActivitySink).
		WithLogger(a.Logger)

	if err := sweep.Execute(ctx.Context(), req); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"accounts_deactivated": res.AccountsDeactivated,
		"cutoff":               res.Cutoff,
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return ErrPasswordMismatch
		}
		return nil
	}
}
