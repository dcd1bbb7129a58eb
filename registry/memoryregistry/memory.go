package memoryregistry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/callgrid/voicegate/registry"
)

// DefaultMaxCalls is the admission ceiling used when New is given a
// non-positive value.
const DefaultMaxCalls = 100

// Registry is an in-memory registry.Registry. The zero value is not usable;
// construct with New.
type Registry struct {
	log *slog.Logger

	mu      sync.Mutex
	records map[string]registry.Record
	order   []string // identities in admission order, for stable List output
	max     int
}

var _ registry.Registry = (*Registry)(nil)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for admission and capacity events. If not
// provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// New constructs a Registry with the given admission ceiling.
func New(maxCalls int, opts ...Option) *Registry {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	r := &Registry{
		log:     slog.New(slog.DiscardHandler),
		records: make(map[string]registry.Record),
		max:     maxCalls,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Admit(ctx context.Context, identity, callerRef string, kind registry.ChannelKind) error {
	if callerRef == "" {
		callerRef = registry.CallerUnknown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.max {
		r.log.WarnContext(ctx, "call.capacity.reject",
			slog.String("call_id", identity),
			slog.Int("active", len(r.records)),
			slog.Int("max", r.max))
		return &registry.CapacityError{Active: len(r.records), Max: r.max}
	}

	r.records[identity] = registry.Record{
		Identity:   identity,
		CallerRef:  callerRef,
		Channel:    kind,
		AdmittedAt: time.Now().UTC(),
		Status:     registry.StatusConnected,
	}
	r.order = append(r.order, identity)

	r.log.InfoContext(ctx, "call.admit.registered",
		slog.String("call_id", identity),
		slog.String("caller", callerRef),
		slog.String("channel", string(kind)),
		slog.Int("active", len(r.records)),
		slog.Int("max", r.max))
	return nil
}

func (r *Registry) Retire(ctx context.Context, identity string) (*registry.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[identity]
	if !ok {
		return nil, nil
	}
	delete(r.records, identity)
	for i, id := range r.order {
		if id == identity {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.log.InfoContext(ctx, "call.retire.removed",
		slog.String("call_id", identity),
		slog.Duration("dur", time.Since(rec.AdmittedAt)),
		slog.Int("active", len(r.records)),
		slog.Int("max", r.max))
	return &rec, nil
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), nil
}

func (r *Registry) List(ctx context.Context) ([]registry.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]registry.Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id])
	}
	return out, nil
}

func (r *Registry) Capacity(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max, nil
}

func (r *Registry) SetCapacity(ctx context.Context, max int) error {
	if max <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", max)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.max = max
	r.log.InfoContext(ctx, "call.capacity.set",
		slog.Int("max", max),
		slog.Int("active", len(r.records)))
	return nil
}
