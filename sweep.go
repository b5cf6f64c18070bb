package accounts

import (
	"context"
	"crypto/subtle"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type DeactivationSweepMessage struct {
	Secret     string `json:"secret"`
	OnResponse func(resp *DeactivationSweepResponse)
}

func (e DeactivationSweepMessage) Type() string { return "account.deactivation_sweep" }

type DeactivationSweepResponse struct {
	AccountsDeactivated int64
	Cutoff              time.Time
}

// DeactivationSweepHandler promotes soft-deleted accounts whose grace period
// has fully elapsed to the terminal deactivated state. It is meant to run on
// a schedule; triggering it requires a shared secret so only the scheduler
// can reach it. Finding nothing to deactivate is a normal, successful run.
type DeactivationSweepHandler struct {
	repo     RepositoryManager
	secret   string
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewDeactivationSweepHandler creates a handler with sane defaults.
func NewDeactivationSweepHandler(repo RepositoryManager, secret string) *DeactivationSweepHandler {
	return &DeactivationSweepHandler{
		repo:     repo,
		secret:   secret,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit sweep events.
func (h *DeactivationSweepHandler) WithActivitySink(sink ActivitySink) *DeactivationSweepHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *DeactivationSweepHandler) WithLogger(logger Logger) *DeactivationSweepHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithClock injects a custom clock, useful for tests.
func (h *DeactivationSweepHandler) WithClock(clock func() time.Time) *DeactivationSweepHandler {
	if clock != nil {
		h.now = clock
	}
	return h
}

func (h *DeactivationSweepHandler) Execute(ctx context.Context, event DeactivationSweepMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during deactivation sweep",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeactivationSweepHandler) execute(ctx context.Context, event DeactivationSweepMessage) error {
	if h.secret == "" ||
		subtle.ConstantTimeCompare([]byte(event.Secret), []byte(h.secret)) != 1 {
		return ErrSweepUnauthorized
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	now := h.now()
	cutoff := now.Add(-DeletionGracePeriod)

	count, err := h.repo.Accounts().SweepDeactivate(ctx, cutoff)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "deactivation sweep failed")
	}

	h.logger.Info("deactivation sweep deactivated %d accounts, cutoff %s", count, cutoff)
	h.recordActivity(ctx, count, cutoff, now)

	if event.OnResponse != nil {
		event.OnResponse(&DeactivationSweepResponse{
			AccountsDeactivated: count,
			Cutoff:              cutoff,
		})
	}

	return nil
}

func (h *DeactivationSweepHandler) recordActivity(ctx context.Context, count int64, cutoff, now time.Time) {
	event := ActivityEvent{
		EventType: ActivityEventSweepCompleted,
		Actor:     ActorRef{Type: "system"},
		Metadata: map[string]any{
			"deactivated": count,
			"cutoff":      cutoff,
		},
		OccurredAt: now,
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during sweep: %v", err)
	}
}
