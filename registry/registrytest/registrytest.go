// Package registrytest provides a conformance suite run against every
// registry.Registry implementation.
package registrytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/callgrid/voicegate/registry"
)

// Factory creates a fresh, empty Registry with the given admission ceiling.
type Factory func(t *testing.T, capacity int) registry.Registry

// Run executes the complete Registry conformance suite against the factory.
func Run(t *testing.T, factory Factory) {
	t.Run("AdmitWithinCapacity", func(t *testing.T) { testAdmitWithinCapacity(t, factory) })
	t.Run("AdmitAtCapacityRejects", func(t *testing.T) { testAdmitAtCapacityRejects(t, factory) })
	t.Run("ConcurrentAdmitNeverOverAdmits", func(t *testing.T) { testConcurrentAdmit(t, factory) })
	t.Run("RetireFreesSlot", func(t *testing.T) { testRetireFreesSlot(t, factory) })
	t.Run("RetireIsIdempotent", func(t *testing.T) { testRetireIsIdempotent(t, factory) })
	t.Run("RetireUnknownIsNoop", func(t *testing.T) { testRetireUnknownIsNoop(t, factory) })
	t.Run("ListReturnsDefensiveCopies", func(t *testing.T) { testListReturnsDefensiveCopies(t, factory) })
	t.Run("ShrinkCapacityIsNotRetroactive", func(t *testing.T) { testShrinkNotRetroactive(t, factory) })
	t.Run("CallerRefDefaultsToUnknown", func(t *testing.T) { testCallerRefDefault(t, factory) })
}

func mustAdmit(t *testing.T, r registry.Registry, identity, caller string, kind registry.ChannelKind) {
	t.Helper()
	if err := r.Admit(context.Background(), identity, caller, kind); err != nil {
		t.Fatalf("Admit(%s): %v", identity, err)
	}
}

func mustCount(t *testing.T, r registry.Registry, want int) {
	t.Helper()
	got, err := r.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if got != want {
		t.Fatalf("Count = %d, want %d", got, want)
	}
}

func testAdmitWithinCapacity(t *testing.T, factory Factory) {
	r := factory(t, 2)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "+15550001111", registry.ChannelTelephony)
	mustCount(t, r, 1)
	mustAdmit(t, r, "call-b", "client-7", registry.ChannelGeneric)
	mustCount(t, r, 2)

	recs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("List returned %d records, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.Status != registry.StatusConnected {
			t.Errorf("record %s status = %q, want %q", rec.Identity, rec.Status, registry.StatusConnected)
		}
		if rec.AdmittedAt.IsZero() {
			t.Errorf("record %s has zero AdmittedAt", rec.Identity)
		}
	}
}

func testAdmitAtCapacityRejects(t *testing.T, factory Factory) {
	r := factory(t, 2)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "caller-a", registry.ChannelTelephony)
	mustAdmit(t, r, "call-b", "caller-b", registry.ChannelTelephony)

	err := r.Admit(ctx, "call-c", "caller-c", registry.ChannelTelephony)
	var capErr *registry.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Admit over capacity returned %v, want *registry.CapacityError", err)
	}
	if capErr.Active != 2 || capErr.Max != 2 {
		t.Errorf("CapacityError = %d/%d, want 2/2", capErr.Active, capErr.Max)
	}
	mustCount(t, r, 2)

	// Retiring one call frees the slot; the rejected identity can try again
	// under a fresh attempt.
	if _, err := r.Retire(ctx, "call-a"); err != nil {
		t.Fatalf("Retire: %v", err)
	}
	mustCount(t, r, 1)
	mustAdmit(t, r, "call-c", "caller-c", registry.ChannelTelephony)
	mustCount(t, r, 2)

	recs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := map[string]bool{}
	for _, rec := range recs {
		got[rec.Identity] = true
	}
	if !got["call-b"] || !got["call-c"] || got["call-a"] {
		t.Errorf("List after slot reuse = %v, want exactly call-b and call-c", got)
	}
}

func testConcurrentAdmit(t *testing.T, factory Factory) {
	const capacity = 8
	const attempts = 64

	r := factory(t, capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted, rejected int

	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			err := r.Admit(ctx, fmt.Sprintf("call-%d", i), "race", registry.ChannelGeneric)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			default:
				var capErr *registry.CapacityError
				if !errors.As(err, &capErr) {
					t.Errorf("Admit returned unexpected error: %v", err)
					return
				}
				rejected++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	if admitted != capacity {
		t.Errorf("admitted = %d, want exactly %d", admitted, capacity)
	}
	if rejected != attempts-capacity {
		t.Errorf("rejected = %d, want %d", rejected, attempts-capacity)
	}
	mustCount(t, r, capacity)
}

func testRetireFreesSlot(t *testing.T, factory Factory) {
	r := factory(t, 4)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "caller-a", registry.ChannelTelephony)
	before := time.Now().UTC()

	rec, err := r.Retire(ctx, "call-a")
	if err != nil {
		t.Fatalf("Retire: %v", err)
	}
	if rec == nil {
		t.Fatal("Retire returned nil record for a live call")
	}
	if rec.Identity != "call-a" || rec.CallerRef != "caller-a" {
		t.Errorf("Retire returned record %+v", rec)
	}
	if rec.AdmittedAt.After(before.Add(time.Second)) {
		t.Errorf("AdmittedAt %v not near admission time", rec.AdmittedAt)
	}
	mustCount(t, r, 0)
}

func testRetireIsIdempotent(t *testing.T, factory Factory) {
	r := factory(t, 4)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "caller-a", registry.ChannelTelephony)
	mustAdmit(t, r, "call-b", "caller-b", registry.ChannelGeneric)

	if _, err := r.Retire(ctx, "call-a"); err != nil {
		t.Fatalf("first Retire: %v", err)
	}
	rec, err := r.Retire(ctx, "call-a")
	if err != nil {
		t.Fatalf("second Retire errored: %v", err)
	}
	if rec != nil {
		t.Errorf("second Retire returned record %+v, want nil", rec)
	}
	mustCount(t, r, 1)
}

func testRetireUnknownIsNoop(t *testing.T, factory Factory) {
	r := factory(t, 4)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "caller-a", registry.ChannelTelephony)

	rec, err := r.Retire(ctx, "never-admitted")
	if err != nil {
		t.Fatalf("Retire(unknown) errored: %v", err)
	}
	if rec != nil {
		t.Errorf("Retire(unknown) returned record %+v, want nil", rec)
	}
	mustCount(t, r, 1)
}

func testListReturnsDefensiveCopies(t *testing.T, factory Factory) {
	r := factory(t, 4)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "caller-a", registry.ChannelTelephony)

	recs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	recs[0].CallerRef = "mutated"
	recs[0].Status = "broken"

	again, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if again[0].CallerRef != "caller-a" || again[0].Status != registry.StatusConnected {
		t.Errorf("mutating a List copy leaked into the registry: %+v", again[0])
	}
}

func testShrinkNotRetroactive(t *testing.T, factory Factory) {
	r := factory(t, 3)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "caller-a", registry.ChannelTelephony)
	mustAdmit(t, r, "call-b", "caller-b", registry.ChannelTelephony)
	mustAdmit(t, r, "call-c", "caller-c", registry.ChannelTelephony)

	if err := r.SetCapacity(ctx, 1); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	// Existing calls survive the shrink.
	mustCount(t, r, 3)

	// New admissions are blocked until the live count dips below the new
	// ceiling.
	err := r.Admit(ctx, "call-d", "caller-d", registry.ChannelTelephony)
	var capErr *registry.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Admit after shrink returned %v, want *registry.CapacityError", err)
	}
	if capErr.Max != 1 {
		t.Errorf("CapacityError.Max = %d, want 1", capErr.Max)
	}

	if max, err := r.Capacity(ctx); err != nil || max != 1 {
		t.Errorf("Capacity = %d, %v, want 1, nil", max, err)
	}
	if err := r.SetCapacity(ctx, 0); err == nil {
		t.Error("SetCapacity(0) did not error")
	}
}

func testCallerRefDefault(t *testing.T, factory Factory) {
	r := factory(t, 1)
	ctx := context.Background()

	mustAdmit(t, r, "call-a", "", registry.ChannelGeneric)
	recs, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if recs[0].CallerRef != registry.CallerUnknown {
		t.Errorf("CallerRef = %q, want %q", recs[0].CallerRef, registry.CallerUnknown)
	}
}
