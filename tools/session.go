package tools

import (
	"github.com/callgrid/voicegate/internal/emailer"
)

// Deps carries the shared collaborators session tool registries are built
// from. Zero fields fall back to demo implementations so a development
// server works with no wiring.
type Deps struct {
	Email        emailer.Sender
	Orders       OrderLookup
	Knowledge    *KnowledgeBase
	Appointments *AppointmentBook
}

// NewSessionRegistry builds the tool registry for one call session. Adding
// a tool to the platform means constructing it here and registering it.
func NewSessionRegistry(deps Deps, callID string, opts ...RegistryOption) (*Registry, error) {
	if deps.Email == nil {
		deps.Email = &emailer.LogSender{}
	}
	if deps.Orders == nil {
		deps.Orders = DemoOrderLookup()
	}
	if deps.Knowledge == nil {
		kb, err := NewKnowledgeBase(nil)
		if err != nil {
			return nil, err
		}
		deps.Knowledge = kb
	}
	if deps.Appointments == nil {
		deps.Appointments = &AppointmentBook{}
	}

	return NewRegistry([]Tool{
		NewEmailSummary(deps.Email, callID),
		NewAppointmentBooking(deps.Appointments),
		NewKnowledgeLookup(deps.Knowledge),
		NewOrderStatus(deps.Orders),
	}, opts...), nil
}
