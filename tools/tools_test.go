package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func dispatch(t *testing.T, r *Registry, name, args string) any {
	t.Helper()
	res, err := r.Dispatch(context.Background(), name, json.RawMessage(args))
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", name, err)
	}
	return res
}

func newSessionRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewSessionRegistry(Deps{}, "call-test")
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}
	return r
}

func TestSessionRegistryDeclarations(t *testing.T) {
	r := newSessionRegistry(t)

	decls := r.Declarations()
	if len(decls) != 4 {
		t.Fatalf("got %d declarations, want 4", len(decls))
	}
	want := []string{"send_email_summary", "book_appointment", "lookup_information", "check_order_status"}
	for i, name := range want {
		if decls[i].Name != name {
			t.Errorf("declaration[%d] = %s, want %s", i, decls[i].Name, name)
		}
		if decls[i].Type != "function" {
			t.Errorf("declaration[%d].Type = %s, want function", i, decls[i].Type)
		}
		if decls[i].Parameters == nil {
			t.Errorf("declaration[%d] has nil parameters schema", i)
		}
	}
}

func TestDeclarationSchemaShape(t *testing.T) {
	r := newSessionRegistry(t)

	var decl *Declaration
	for i := range r.Declarations() {
		d := r.Declarations()[i]
		if d.Name == "book_appointment" {
			decl = &d
			break
		}
	}
	if decl == nil {
		t.Fatal("book_appointment not declared")
	}

	raw, err := json.Marshal(decl.Parameters)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("schema type = %q, want object", schema.Type)
	}
	for _, field := range []string{"customer_name", "date", "time", "service_type", "phone"} {
		if _, ok := schema.Properties[field]; !ok {
			t.Errorf("schema missing property %s", field)
		}
	}
	required := strings.Join(schema.Required, ",")
	for _, field := range []string{"customer_name", "date", "time", "service_type"} {
		if !strings.Contains(required, field) {
			t.Errorf("schema required %v missing %s", schema.Required, field)
		}
	}
	if strings.Contains(required, "phone") {
		t.Errorf("optional field phone marked required: %v", schema.Required)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r := newSessionRegistry(t)

	_, err := r.Dispatch(context.Background(), "no_such_tool", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("Dispatch(no_such_tool) = %v, want ErrToolNotFound", err)
	}
}

func TestDispatchRejectsUnknownArguments(t *testing.T) {
	r := newSessionRegistry(t)

	_, err := r.Dispatch(context.Background(), "check_order_status",
		json.RawMessage(`{"order_id":"ORD-12345","bogus":true}`))
	if err == nil {
		t.Fatal("expected decode error for unknown argument field")
	}
}

func TestOrderStatus(t *testing.T) {
	r := newSessionRegistry(t)

	res := dispatch(t, r, "check_order_status", `{"order_id":"ord-12345"}`)
	got, ok := res.(OrderStatusResult)
	if !ok {
		t.Fatalf("result type %T", res)
	}
	if !got.Success {
		t.Fatalf("lookup failed: %s", got.Message)
	}
	if got.Order == nil || got.Order.OrderStatus != "shipped" {
		t.Errorf("order = %+v, want shipped ORD-12345", got.Order)
	}
	if !strings.Contains(got.Message, "1Z999AA10123456784") {
		t.Errorf("message %q missing tracking number", got.Message)
	}

	res = dispatch(t, r, "check_order_status", `{"order_id":"ORD-00000"}`)
	if res.(OrderStatusResult).Success {
		t.Error("unknown order reported success")
	}
}

func TestAppointmentBooking(t *testing.T) {
	book := &AppointmentBook{}
	r, err := NewSessionRegistry(Deps{Appointments: book}, "call-test")
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}

	res := dispatch(t, r, "book_appointment",
		`{"customer_name":"Ada Lovelace","date":"2026-09-10","time":"14:30","service_type":"consultation"}`)
	got := res.(AppointmentResult)
	if !got.Success {
		t.Fatalf("booking failed: %s", got.Message)
	}
	if got.AppointmentID == "" || got.Details == nil {
		t.Fatalf("result missing confirmation: %+v", got)
	}
	if got.Details.Phone != "Not provided" {
		t.Errorf("phone default = %q", got.Details.Phone)
	}
	if len(book.Booked()) != 1 {
		t.Errorf("book holds %d appointments, want 1", len(book.Booked()))
	}

	for _, bad := range []string{
		`{"customer_name":"Ada","date":"09/10/2026","time":"14:30","service_type":"demo"}`,
		`{"customer_name":"Ada","date":"2026-09-10","time":"2pm","service_type":"demo"}`,
		`{"customer_name":"","date":"2026-09-10","time":"14:30","service_type":"demo"}`,
	} {
		res := dispatch(t, r, "book_appointment", bad)
		if res.(AppointmentResult).Success {
			t.Errorf("invalid booking accepted: %s", bad)
		}
	}
	if len(book.Booked()) != 1 {
		t.Errorf("invalid bookings were recorded: %d", len(book.Booked()))
	}
}

func TestKnowledgeLookup(t *testing.T) {
	r := newSessionRegistry(t)

	res := dispatch(t, r, "lookup_information", `{"topic":"return_policy"}`)
	got := res.(KnowledgeResult)
	if !got.Success || !strings.Contains(got.Information, "30-day") {
		t.Errorf("exact lookup = %+v", got)
	}

	// Fuzzy match: "returns" is a substring neighbor of "return_policy".
	res = dispatch(t, r, "lookup_information", `{"topic":"return"}`)
	got = res.(KnowledgeResult)
	if !got.Success || got.Topic != "return_policy" {
		t.Errorf("fuzzy lookup = %+v", got)
	}

	res = dispatch(t, r, "lookup_information", `{"topic":"quantum_billing"}`)
	got = res.(KnowledgeResult)
	if got.Success {
		t.Errorf("unknown topic reported success: %+v", got)
	}
	if got.AvailableTopics == "" {
		t.Error("miss did not list available topics")
	}
}

func TestKnowledgeLookupCachesFuzzyMatches(t *testing.T) {
	kb, err := NewKnowledgeBase(nil)
	if err != nil {
		t.Fatalf("NewKnowledgeBase: %v", err)
	}
	if _, _, ok := kb.Lookup("ship"); !ok {
		t.Fatal("fuzzy lookup missed")
	}
	if _, ok := kb.cache.Get("ship"); !ok {
		t.Error("fuzzy resolution was not cached")
	}
}

type failSender struct{}

func (failSender) SendSummary(ctx context.Context, to, subject, summary, callID string) error {
	return errors.New("provider down")
}

type captureSender struct {
	to, subject, summary, callID string
}

func (c *captureSender) SendSummary(ctx context.Context, to, subject, summary, callID string) error {
	c.to, c.subject, c.summary, c.callID = to, subject, summary, callID
	return nil
}

func TestEmailSummary(t *testing.T) {
	capture := &captureSender{}
	r, err := NewSessionRegistry(Deps{Email: capture}, "call-42")
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}

	res := dispatch(t, r, "send_email_summary",
		`{"email":"ada@example.com","summary":"Discussed order ORD-12345."}`)
	if got := res.(EmailSummaryResult); !got.Success {
		t.Fatalf("send failed: %s", got.Message)
	}
	if capture.to != "ada@example.com" || capture.callID != "call-42" || capture.subject != "Call Summary" {
		t.Errorf("sender received %+v", capture)
	}

	res = dispatch(t, r, "send_email_summary", `{"email":"","summary":""}`)
	if res.(EmailSummaryResult).Success {
		t.Error("empty arguments reported success")
	}
}

func TestEmailSummaryProviderFailure(t *testing.T) {
	r, err := NewSessionRegistry(Deps{Email: failSender{}}, "call-42")
	if err != nil {
		t.Fatalf("NewSessionRegistry: %v", err)
	}
	res := dispatch(t, r, "send_email_summary",
		`{"email":"ada@example.com","summary":"hi"}`)
	got := res.(EmailSummaryResult)
	if got.Success {
		t.Error("provider failure reported success")
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	r := NewRegistry(nil, WithLogger(slog.New(slog.DiscardHandler)))
	r.Register(New("echo", "first", func(ctx context.Context, args struct{}) (any, error) {
		return "first", nil
	}))
	r.Register(New("echo", "second", func(ctx context.Context, args struct{}) (any, error) {
		return "second", nil
	}))

	if names := r.Names(); len(names) != 1 || names[0] != "echo" {
		t.Fatalf("Names = %v", names)
	}
	if res := dispatch(t, r, "echo", `{}`); res != "second" {
		t.Errorf("dispatch hit stale tool: %v", res)
	}
}
