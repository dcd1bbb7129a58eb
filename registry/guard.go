package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrGuardSpent is returned by Guard.Admit when the guard already moved past
// its unadmitted state. It signals a handler bug (guards are single-use),
// never a registry inconsistency: the registry is untouched when it fires.
var ErrGuardSpent = errors.New("lifecycle guard already used")

type guardState int

const (
	guardUnadmitted guardState = iota
	guardAdmitted
	guardRetired
)

// Guard walks one connection handler through the admit/retire lifecycle.
// Each guard owns exactly one freshly minted identity and one pass through
// unadmitted -> admitted -> retired; it is never reused or shared between
// connections.
//
// The intended shape in a handler:
//
//	g := registry.NewGuard(reg)
//	if err := g.Admit(ctx, callerRef, registry.ChannelTelephony); err != nil {
//		// close the connection; nothing was admitted, nothing to retire
//		return err
//	}
//	defer g.Retire(ctx)
//	// ... run the session ...
//
// The deferred Retire runs on every exit path, including panics, so the
// registry can never retain a record for a session that has ended.
type Guard struct {
	reg Registry
	log *slog.Logger
	id  string

	mu    sync.Mutex
	state guardState
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardLogger sets the logger used for admission and retirement events.
// If not provided, logs are discarded.
func WithGuardLogger(log *slog.Logger) GuardOption {
	return func(g *Guard) { g.log = log }
}

// NewGuard mints a fresh identity and binds it to reg.
func NewGuard(reg Registry, opts ...GuardOption) *Guard {
	g := &Guard{
		reg: reg,
		log: slog.New(slog.DiscardHandler),
		id:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Identity returns the identity this guard admits and retires under. Stable
// for the life of the guard; use it to correlate logs for one call.
func (g *Guard) Identity() string { return g.id }

// Admit reserves a concurrency slot for this guard's identity. On a
// *CapacityError the guard stays unadmitted and the caller must terminate
// the connection without calling Retire. Calling Admit on a guard that has
// already admitted or retired returns ErrGuardSpent without touching the
// registry.
func (g *Guard) Admit(ctx context.Context, callerRef string, kind ChannelKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != guardUnadmitted {
		return ErrGuardSpent
	}
	if callerRef == "" {
		callerRef = CallerUnknown
	}
	if err := g.reg.Admit(ctx, g.id, callerRef, kind); err != nil {
		return err
	}
	g.state = guardAdmitted
	g.log.InfoContext(ctx, "call.admit.ok",
		slog.String("call_id", g.id),
		slog.String("caller", callerRef),
		slog.String("channel", string(kind)))
	return nil
}

// Retire releases the slot. Safe to call any number of times and safe to
// call on a guard that never admitted; only the first call after a
// successful Admit reaches the registry. Retirement proceeds even when ctx
// is already canceled so that abnormal session teardown still frees the
// slot.
func (g *Guard) Retire(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != guardAdmitted {
		g.state = guardRetired
		return
	}
	g.state = guardRetired

	ctx = context.WithoutCancel(ctx)
	rec, err := g.reg.Retire(ctx, g.id)
	if err != nil {
		g.log.ErrorContext(ctx, "call.retire.fail",
			slog.String("call_id", g.id),
			slog.String("err", err.Error()))
		return
	}
	if rec == nil {
		// Admitted but already gone: another cleanup path won the race.
		return
	}
	g.log.InfoContext(ctx, "call.retire.ok",
		slog.String("call_id", g.id),
		slog.String("caller", rec.CallerRef),
		slog.Duration("dur", time.Since(rec.AdmittedAt)))
}
