package accounts

import "time"

// DeletionGracePeriod is how long a soft-deleted account survives before the
// sweep promotes it to permanent deactivation.
var DeletionGracePeriod = 30 * 24 * time.Hour

// ResetTokenTTL bounds the password reset window.
var ResetTokenTTL = 30 * time.Minute

// VerificationTokenTTL bounds the account verification window.
var VerificationTokenTTL = 24 * time.Hour

// TokenDeadlinePassed reports whether an expiring token is still redeemable
// at the given instant. A missing deadline counts as passed, and so does the
// deadline itself: the token must have strictly-future time on the clock.
func TokenDeadlinePassed(expiresAt *time.Time, now time.Time) bool {
	return expiresAt == nil || !expiresAt.After(now)
}
