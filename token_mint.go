package accounts

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Opaque tokens (refresh, password reset, verification) are high-entropy
// random values handed to the client. Only a one-way sha256 hash is persisted,
// so a compromised store does not yield usable tokens, and the hash can be
// equality-matched inside a single conditional UPDATE.

const opaqueSecretBytes = 32

// NewRefreshToken mints an opaque refresh token for the given account. The
// plaintext encodes the account id alongside the secret so the rotator can
// locate the stored hash without extra claims from the caller; the returned
// hash covers the secret only.
func NewRefreshToken(accountID uuid.UUID) (plaintext, hash string, err error) {
	secret, err := randomSecret(opaqueSecretBytes)
	if err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint refresh token")
	}

	raw := accountID.String() + ":" + secret
	plaintext = base64.RawURLEncoding.EncodeToString([]byte(raw))
	hash = HashOpaqueToken(secret)

	return plaintext, hash, nil
}

// DecodeRefreshToken splits a refresh token plaintext back into the account
// id and the secret. Any structural failure maps to ErrRefreshTokenInvalid;
// callers never learn which part was wrong.
func DecodeRefreshToken(plaintext string) (uuid.UUID, string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(plaintext)
	if err != nil {
		return uuid.Nil, "", ErrRefreshTokenInvalid
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return uuid.Nil, "", ErrRefreshTokenInvalid
	}

	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", ErrRefreshTokenInvalid
	}

	return id, parts[1], nil
}

// NewOpaqueToken mints a bare secret plus its storable hash. Used for the
// password reset and verification flows, where the account is located by the
// hash itself.
func NewOpaqueToken() (plaintext, hash string, err error) {
	secret, err := randomSecret(opaqueSecretBytes)
	if err != nil {
		return "", "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mint token")
	}
	return secret, HashOpaqueToken(secret), nil
}

// HashOpaqueToken derives the storable one-way hash of an opaque token secret
func HashOpaqueToken(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func randomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
