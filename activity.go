package accounts

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventAccountStateChanged ActivityEventType = "account.state.changed"
	ActivityEventAccountRegistered   ActivityEventType = "account.registered"
	ActivityEventAccountVerified     ActivityEventType = "account.verified"
	ActivityEventDeletionRequested   ActivityEventType = "account.deletion.requested"
	ActivityEventAccountRecovered    ActivityEventType = "account.recovered"
	ActivityEventSweepCompleted      ActivityEventType = "account.sweep.completed"
	ActivityEventLoginSuccess        ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure        ActivityEventType = "auth.login.failure"
	ActivityEventTokenRotated        ActivityEventType = "auth.token.rotated"
	ActivityEventTokenReplayed       ActivityEventType = "auth.token.replayed"
	ActivityEventLogout              ActivityEventType = "auth.logout"
	ActivityEventResetRequested      ActivityEventType = "auth.password.reset.requested"
	ActivityEventResetCompleted      ActivityEventType = "auth.password.reset.completed"
)

// ActorRef identifies who/what triggered an action.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  string
	FromState  AccountState
	ToState    AccountState
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
