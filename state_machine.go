package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_ACCOUNT_STATE"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from the
// deactivated state, which is absorbing.
var ErrTerminalState = goerrors.New("account state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithForceTransition bypasses validation rules (use sparingly).
func WithForceTransition() TransitionOption {
	return func(opts *transitionOptions) {
		opts.force = true
	}
}

// WithDeletionTime overrides the timestamp recorded when entering the deleted state.
func WithDeletionTime(t time.Time) TransitionOption {
	return func(opts *transitionOptions) {
		opts.deletionTime = &t
	}
}

// AccountStateMachine defines lifecycle operations for accounts.
type AccountStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, account *Account, target AccountState, opts ...TransitionOption) (*Account, error)
	Verify(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
	RequestDeletion(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
	Recover(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error)
	CurrentState(account *Account) AccountState
	CanAuthenticate(account *Account) error
	SweepEligible(account *Account, now time.Time) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*accountStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *accountStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *accountStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *accountStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewAccountStateMachine returns the default implementation backed by the
// provided repository.
//
// The graph encodes the lifecycle rules:
//   - verify is one-way: there is no edge back to unverified
//   - deletion can be requested before or after verification
//   - deleted accounts can be recovered until the sweep deactivates them
//   - deactivated is absorbing
func NewAccountStateMachine(accounts Accounts, opts ...StateMachineOption) AccountStateMachine {
	sm := &accountStateMachine{
		accounts: accounts,
		transitions: map[AccountState]map[AccountState]struct{}{
			StateUnverified: {
				StateActive:  {},
				StateDeleted: {},
			},
			StateActive: {
				StateDeleted: {},
			},
			StateDeleted: {
				StateActive:      {},
				StateDeactivated: {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type accountStateMachine struct {
	accounts     Accounts
	transitions  map[AccountState]map[AccountState]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

type transitionOptions struct {
	metadata     TransitionMetadata
	force        bool
	deletionTime *time.Time
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

func (sm *accountStateMachine) Transition(ctx context.Context, actor ActorRef, account *Account, target AccountState, opts ...TransitionOption) (*Account, error) {
	if account == nil {
		return nil, ErrInvalidTransition
	}

	from := account.State()
	if target == "" {
		return nil, ErrInvalidTransition
	}

	if from == target {
		return account, nil
	}

	options := sm.buildTransitionOptions(opts...)

	if from == StateDeactivated && !options.force {
		return nil, ErrTerminalState
	}

	if !options.force && !sm.canTransition(from, target) {
		return nil, ErrInvalidTransition
	}

	updated, err := sm.persist(ctx, account, from, target, options)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(account, updated, from, target, options)

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountStateChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		FromState: from,
		ToState:   account.State(),
		Metadata:  sm.transitionMetadata(options.cloneMetadata()),
	})

	return account, nil
}

// Verify flips the one-way verification flag.
func (sm *accountStateMachine) Verify(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return sm.Transition(ctx, actor, account, StateActive, opts...)
}

// RequestDeletion soft-deletes the account and stamps the grace period start.
func (sm *accountStateMachine) RequestDeletion(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	return sm.Transition(ctx, actor, account, StateDeleted, opts...)
}

// Recover undoes a soft-deletion. The account returns to its pre-deletion
// state: a never-verified account comes back as unverified, not active.
func (sm *accountStateMachine) Recover(ctx context.Context, actor ActorRef, account *Account, opts ...TransitionOption) (*Account, error) {
	if account != nil && account.IsDeactivated {
		return nil, ErrTerminalState
	}
	return sm.Transition(ctx, actor, account, StateActive, opts...)
}

func (sm *accountStateMachine) CurrentState(account *Account) AccountState {
	if account == nil {
		return ""
	}
	return account.State()
}

// CanAuthenticate is the guard consulted before any login-granting operation.
// Check order matters: verification first, then the terminal deactivated
// state (which supersedes the deletion flag it implies), then soft-deletion.
func (sm *accountStateMachine) CanAuthenticate(account *Account) error {
	if account == nil {
		return ErrAccountNotFound
	}

	if !account.IsVerified {
		return ErrAccountNotVerified
	}

	if account.IsDeactivated {
		return ErrAccountDeactivated
	}

	if account.IsDeleted {
		return ErrAccountDeleted
	}

	return nil
}

// SweepEligible reports whether the deactivation sweep should promote the
// account. The grace-period boundary is inclusive: an account deleted exactly
// DeletionGracePeriod ago qualifies.
func (sm *accountStateMachine) SweepEligible(account *Account, now time.Time) bool {
	if account == nil || !account.IsDeleted || account.IsDeactivated || account.DeletedAt == nil {
		return false
	}

	cutoff := now.Add(-DeletionGracePeriod)
	return !account.DeletedAt.After(cutoff)
}

func (sm *accountStateMachine) canTransition(from, to AccountState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *accountStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *accountStateMachine) persist(ctx context.Context, account *Account, from, target AccountState, options *transitionOptions) (*Account, error) {
	switch target {
	case StateActive:
		if from == StateDeleted {
			return sm.accounts.MarkRecovered(ctx, account.ID)
		}
		return sm.accounts.MarkVerified(ctx, account.ID)
	case StateDeleted:
		at := sm.deletionTime(account, options)
		return sm.accounts.MarkDeleted(ctx, account.ID, at)
	case StateDeactivated:
		return sm.accounts.MarkDeactivated(ctx, account.ID)
	default:
		return nil, ErrInvalidTransition
	}
}

func (sm *accountStateMachine) deletionTime(account *Account, options *transitionOptions) time.Time {
	switch {
	case options.deletionTime != nil:
		return *options.deletionTime
	case account.DeletedAt != nil:
		return *account.DeletedAt
	default:
		return sm.now()
	}
}

func (sm *accountStateMachine) applyUpdates(account, updated *Account, from, target AccountState, options *transitionOptions) {
	if updated != nil {
		account.IsVerified = updated.IsVerified
		account.IsDeleted = updated.IsDeleted
		account.DeletedAt = updated.DeletedAt
		account.IsDeactivated = updated.IsDeactivated
		account.RefreshTokenHash = updated.RefreshTokenHash
		account.ResetPasswordTokenHash = updated.ResetPasswordTokenHash
		account.ResetPasswordExpiresAt = updated.ResetPasswordExpiresAt
		account.VerificationTokenHash = updated.VerificationTokenHash
		account.VerificationExpiresAt = updated.VerificationExpiresAt
		return
	}

	switch target {
	case StateActive:
		if from == StateDeleted {
			account.IsDeleted = false
			account.DeletedAt = nil
		} else {
			account.IsVerified = true
		}
	case StateDeleted:
		at := sm.deletionTime(account, options)
		account.IsDeleted = true
		account.DeletedAt = &at
	case StateDeactivated:
		account.IsDeactivated = true
		account.RefreshTokenHash = ""
		account.ResetPasswordTokenHash = ""
		account.ResetPasswordExpiresAt = nil
		account.VerificationTokenHash = ""
		account.VerificationExpiresAt = nil
	}
}

func (sm *accountStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *accountStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
