package registry

import (
	"context"
	"fmt"
	"time"
)

// ChannelKind classifies the transport a call arrived on. It is carried for
// reporting and statistics only; no registry behavior branches on it.
type ChannelKind string

const (
	// ChannelTelephony marks calls bridged from a telephony media stream.
	ChannelTelephony ChannelKind = "telephony"
	// ChannelGeneric marks calls from generic clients (e.g. a browser
	// streaming raw PCM audio).
	ChannelGeneric ChannelKind = "generic"
)

// Status is the lifecycle state stored on a Record. A record only ever
// exists while its call is connected; retirement deletes the record rather
// than flipping it to a terminal state.
type Status string

// StatusConnected is the only status a live record can carry.
const StatusConnected Status = "connected"

// CallerUnknown is the caller reference recorded when the transport could
// not identify the remote party.
const CallerUnknown = "unknown"

// Record is the metadata held for one admitted call. Records are inserted
// whole at admission and removed whole at retirement; no field is ever
// updated in place.
type Record struct {
	// Identity is the registry key: an opaque token minted once per
	// connection attempt, globally unique in practice (uuid).
	Identity string `json:"identity"`
	// CallerRef identifies the remote party (phone number, client id, or
	// CallerUnknown). Opaque to the registry.
	CallerRef string `json:"caller_ref"`
	// Channel tags the transport class the call arrived on.
	Channel ChannelKind `json:"channel"`
	// AdmittedAt is set once when the slot is reserved.
	AdmittedAt time.Time `json:"admitted_at"`
	// Status is always StatusConnected for a live record.
	Status Status `json:"status"`
}

// CapacityError is returned by Admit when every slot is taken. It is an
// expected condition under load, not a fault; callers decide whether to
// reject or shed the connection.
type CapacityError struct {
	// Active is the admitted count observed at the rejection instant.
	Active int
	// Max is the ceiling that was in force.
	Max int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("call capacity exceeded (%d/%d)", e.Active, e.Max)
}

// Registry tracks live call sessions and enforces the admission ceiling.
// All methods are safe for unboundedly many concurrent callers with no
// external synchronization.
type Registry interface {
	// Admit atomically checks the live count against the ceiling and, if a
	// slot is free, inserts a Record for identity with AdmittedAt set to
	// the current time. When the ceiling is reached it mutates nothing and
	// returns a *CapacityError. The check and insert are a single atomic
	// unit: two racing admits for the last slot yield exactly one success.
	//
	// The caller guarantees identity has never been admitted before; fresh
	// uuid generation makes collisions a non-event in practice.
	Admit(ctx context.Context, identity, callerRef string, kind ChannelKind) error

	// Retire removes the record for identity and returns it so the caller
	// can log session duration. Retiring an unknown identity is a no-op
	// returning (nil, nil); overlapping cleanup paths may race harmlessly.
	Retire(ctx context.Context, identity string) (*Record, error)

	// Count reports the number of admitted records as of some instant
	// during the call.
	Count(ctx context.Context) (int, error)

	// List returns a point-in-time copy of every live record. Mutating the
	// returned slice never affects registry state.
	List(ctx context.Context) ([]Record, error)

	// Capacity reports the admission ceiling currently in force.
	Capacity(ctx context.Context) (int, error)

	// SetCapacity replaces the ceiling for subsequent Admit calls. It never
	// evicts admitted calls: shrinking below the live count only blocks new
	// admissions until enough calls retire. Non-positive values are
	// rejected.
	SetCapacity(ctx context.Context, max int) error
}
