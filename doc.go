// Package accounts implements the account and session lifecycle core of the
// habit-tracking application: credential verification, access/refresh token
// issuance and rotation, the account state machine, the password reset flow,
// and the scheduled deactivation sweep.
//
// Account lifecycle:
//   - Accounts carry verification, soft-deletion, and deactivation flags that
//     are persisted via Bun. AccountStateMachine centralizes the transition
//     graph, timestamps, and persistence; CanAuthenticate is the single guard
//     consulted before any token is issued.
//   - Soft-deleted accounts keep their data for a 30 day grace period. The
//     DeactivationSweepHandler promotes them to the terminal deactivated state
//     in one idempotent batch statement.
//
// Sessions:
//   - Access tokens are self-contained JWTs verified without a store round
//     trip. Refresh tokens are opaque, store-backed, and single-use: every
//     successful refresh rotates the stored hash, so a replayed token is
//     rejected exactly like an expired or forged one.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the authenticator,
//     the state machine, and the sweep. Sinks run best-effort (errors are
//     logged) so they never block authentication.
package accounts
