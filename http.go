package accounts

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/habitloop/go-accounts/middleware/tokenware"
)

// RefreshCookieName is the cookie carrying the opaque refresh token.
const RefreshCookieName = "refresh_token"

// RouteAccounts adapts the Authenticator to HTTP. Access tokens travel in the
// Authorization header; the refresh token rides an HTTP-only cookie so
// browser scripts never see it.
type RouteAccounts struct {
	auth         Authenticator
	cfg          Config
	Logger       Logger
	ErrorHandler func(c router.Context, err error) error
}

func NewHTTPAccounts(auther Authenticator, cfg Config) (*RouteAccounts, error) {
	a := &RouteAccounts{
		cfg:    cfg,
		auth:   auther,
		Logger: defLogger{},
	}

	a.ErrorHandler = a.defaultErrHandler

	return a, nil
}

// ProtectedRoute guards a route group with access token validation.
func (a *RouteAccounts) ProtectedRoute(cfg Config, errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	return tokenware.New(tokenware.Config{
		ErrorHandler: errorHandler,
		SigningKey: tokenware.SigningKey{
			Key:    []byte(cfg.GetSigningKey()),
			JWTAlg: cfg.GetSigningMethod(),
		},
		AuthScheme:  cfg.GetAuthScheme(),
		ContextKey:  cfg.GetContextKey(),
		TokenLookup: cfg.GetTokenLookup(),
	})
}

// MakeAuthErrorHandler normalizes middleware failures into the rich error
// vocabulary. With optional set, an anonymous request proceeds instead of
// being rejected.
func (a *RouteAccounts) MakeAuthErrorHandler(optional bool) func(router.Context, error) error {
	return func(ctx router.Context, err error) error {
		var richErr *errors.Error

		if IsTokenExpiredError(err) {
			richErr = ErrTokenExpired
		} else if IsMalformedError(err) {
			richErr = ErrTokenMalformed
		} else {
			richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
				WithCode(errors.CodeUnauthorized)
		}

		if optional {
			a.Logger.Info("Optional auth failed, proceeding", "error", richErr.Message)
			return ctx.Next()
		}

		return a.ErrorHandler(ctx, richErr)
	}
}

// SetRefreshCookie stores the refresh token in an HTTP-only cookie scoped to
// the refresh endpoint.
func (a *RouteAccounts) SetRefreshCookie(c router.Context, token string) {
	c.Cookie(&router.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Expires:  time.Now().Add(DeletionGracePeriod),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}

// ClearRefreshCookie expires the refresh cookie.
func (a *RouteAccounts) ClearRefreshCookie(c router.Context) {
	c.Cookie(&router.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
}

func (a *RouteAccounts) defaultErrHandler(c router.Context, err error) error {
	return renderError(c, a.Logger, err)
}

// GetRouterSession extracts the session stored by the token middleware.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	stored := c.Locals(key)
	if stored == nil {
		return nil, ErrUnableToFindSession
	}

	token, ok := stored.(*jwt.Token)
	if token == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if claims == nil || !ok {
		return nil, ErrUnableToMapClaims
	}

	return sessionFromMapClaims(claims)
}

func sessionFromMapClaims(claims jwt.MapClaims) (*SessionObject, error) {
	session := &SessionObject{Data: map[string]any{}}

	if sub, err := claims.GetSubject(); err == nil {
		session.AccountID = sub
	}

	if uid, ok := claims["uid"].(string); ok && uid != "" {
		session.AccountID = uid
	}

	if handle, ok := claims["handle"].(string); ok {
		session.Handle = handle
		session.Data["handle"] = handle
	}

	if iss, err := claims.GetIssuer(); err == nil {
		session.Issuer = iss
	}

	if aud, err := claims.GetAudience(); err == nil {
		session.Audience = aud
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		session.IssuedAt = &iat.Time
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		session.ExpirationDate = &exp.Time
	}

	if session.AccountID == "" {
		return nil, ErrUnableToMapClaims
	}

	return session, nil
}

// renderError maps rich errors to a JSON problem payload. Anything that is
// not a rich error reports as an opaque 500; internals never leak.
func renderError(c router.Context, logger Logger, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	status := richErr.Code
	if status < 400 || status > 599 {
		status = router.StatusInternalServerError
	}

	if logger != nil {
		logger.Info(
			"request error",
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
	}

	body := map[string]any{
		"error": richErr.Message,
	}

	if richErr.TextCode != "" {
		body["text_code"] = richErr.TextCode
	}

	return c.JSON(status, body)
}
