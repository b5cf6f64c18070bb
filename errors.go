package accounts

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeNotVerified        = "ACCOUNT_NOT_VERIFIED"
	TextCodeAccountDeleted     = "ACCOUNT_SCHEDULED_FOR_DELETION"
	TextCodeAccountDeactivated = "ACCOUNT_DEACTIVATED"
	TextCodeRefreshInvalid     = "REFRESH_TOKEN_INVALID"
	TextCodeResetInvalid       = "RESET_TOKEN_INVALID"
	TextCodeResetExpired       = "RESET_TOKEN_EXPIRED"
	TextCodeVerifyInvalid      = "VERIFICATION_TOKEN_INVALID"
	TextCodeVerifyExpired      = "VERIFICATION_TOKEN_EXPIRED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
	TextCodeEmptyPassword      = "EMPTY_PASSWORD"
	TextCodePasswordMismatch   = "PASSWORD_CONFIRMATION_MISMATCH"
	TextCodeSweepSecret        = "SWEEP_SECRET_MISMATCH"
)

// ErrAccountNotFound is returned where enumeration safety does not apply
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrMissingCredentials is returned when the login payload is incomplete
var ErrMissingCredentials = goerrors.New("email and password are required", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrMismatchedHashAndPassword is the single generic rejection for unknown
// email or wrong password, so callers cannot enumerate registered addresses
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountNotVerified gates login until the email has been confirmed
var ErrAccountNotVerified = goerrors.New("account has not been verified", goerrors.CategoryAuthz).
	WithTextCode(TextCodeNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrAccountDeleted gates login while the account sits in the deletion grace period
var ErrAccountDeleted = goerrors.New("account is scheduled for deletion", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountDeleted).
	WithCode(goerrors.CodeForbidden)

// ErrAccountDeactivated is the terminal rejection once the sweep has run
var ErrAccountDeactivated = goerrors.New("account has been permanently deactivated", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountDeactivated).
	WithCode(goerrors.CodeForbidden)

// ErrRefreshTokenInvalid covers expired, forged, and replayed refresh tokens
// alike; a rotated-away token is indistinguishable from a forged one
var ErrRefreshTokenInvalid = goerrors.New("refresh token is expired or already used", goerrors.CategoryAuth).
	WithTextCode(TextCodeRefreshInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrResetTokenInvalid is returned when no pending reset matches the token
var ErrResetTokenInvalid = goerrors.New("invalid password reset token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeResetInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrResetTokenExpired is returned for a pending but stale reset token
var ErrResetTokenExpired = goerrors.New("password reset token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeResetExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrVerificationTokenInvalid is returned when no pending verification matches
var ErrVerificationTokenInvalid = goerrors.New("invalid verification token", goerrors.CategoryBadInput).
	WithTextCode(TextCodeVerifyInvalid).
	WithCode(goerrors.CodeBadRequest)

// ErrVerificationTokenExpired is returned for a stale verification token
var ErrVerificationTokenExpired = goerrors.New("verification token has expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeVerifyExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrPasswordMismatch is returned when password and confirmation differ
var ErrPasswordMismatch = goerrors.New("password confirmation does not match", goerrors.CategoryValidation).
	WithTextCode(TextCodePasswordMismatch).
	WithCode(goerrors.CodeBadRequest)

// ErrSweepUnauthorized rejects sweep triggers without the scheduler secret
var ErrSweepUnauthorized = goerrors.New("invalid sweep trigger secret", goerrors.CategoryAuth).
	WithTextCode(TextCodeSweepSecret).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned for expired access tokens
var ErrTokenExpired = goerrors.New("authentication token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for access tokens that fail signature or
// structural validation
var ErrTokenMalformed = goerrors.New("authentication token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(goerrors.CodeBadRequest)

// ErrUnableToParseData is a generic decode failure
var ErrUnableToParseData = goerrors.New("unable to parse data", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest)

// ErrUnableToFindSession means no token was stored under the context key
var ErrUnableToFindSession = goerrors.New("unable to find session in context", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession means the stored value was not a JWT token
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToMapClaims means the token claims had an unexpected shape
var ErrUnableToMapClaims = goerrors.New("unable to map session claims", goerrors.CategoryAuth).
	WithCode(goerrors.CodeUnauthorized)

// IsRefreshTokenInvalid reports whether err is the refresh rejection shared
// by forged, expired, and replayed tokens
func IsRefreshTokenInvalid(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeRefreshInvalid
	}

	return false
}

// IsTokenExpiredError will check for expired tokens, including legacy
// string-matched errors coming out of the JWT middleware
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.TextCode == TextCodeTokenExpired {
			return true
		}
	}

	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for malformed token errors
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.TextCode == TextCodeTokenMalformed {
			return true
		}
	}

	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
