package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/websocket"

	"github.com/callgrid/voicegate/bridge"
	"github.com/callgrid/voicegate/registry"
	"github.com/callgrid/voicegate/registry/memoryregistry"
)

// newUpstream runs a scripted stand-in for the realtime voice API that
// accepts any connection and swallows session setup traffic.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		for {
			var msg string
			if err := websocket.Message.Receive(ws, &msg); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, reg registry.Registry, opts ...Option) *httptest.Server {
	t.Helper()
	up := newUpstream(t)
	cfg := bridge.Config{Endpoint: up.URL, Model: "test-model", APIKey: "test-key"}
	srv := httptest.NewServer(New(reg, cfg, opts...))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, srv *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	res, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	if out != nil && res.StatusCode == http.StatusOK {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return res
}

func waitForCount(t *testing.T, reg registry.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := reg.Count(context.Background())
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	n, _ := reg.Count(context.Background())
	t.Fatalf("count = %d, want %d", n, want)
}

func TestHealthz(t *testing.T) {
	reg := memoryregistry.New(3)
	srv := newTestHandler(t, reg)

	var body struct {
		Status string `json:"status"`
		Active int    `json:"active"`
		Max    int    `json:"max"`
	}
	res := getJSON(t, srv, "/healthz", &body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if body.Status != "ok" || body.Active != 0 || body.Max != 3 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestStatsGroupsByChannel(t *testing.T) {
	reg := memoryregistry.New(5)
	ctx := t.Context()
	if err := reg.Admit(ctx, "call-a", "+15550100", registry.ChannelTelephony); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := reg.Admit(ctx, "call-b", "browser-7", registry.ChannelGeneric); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	srv := newTestHandler(t, reg)

	var body struct {
		Active   int `json:"active"`
		Max      int `json:"max"`
		Channels map[string][]struct {
			CallID    string `json:"call_id"`
			CallerRef string `json:"caller_ref"`
		} `json:"channels"`
	}
	res := getJSON(t, srv, "/stats", &body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if body.Active != 2 || body.Max != 5 {
		t.Fatalf("active/max = %d/%d, want 2/5", body.Active, body.Max)
	}
	tel := body.Channels[string(registry.ChannelTelephony)]
	if len(tel) != 1 || tel[0].CallID != "call-a" || tel[0].CallerRef != "+15550100" {
		t.Fatalf("unexpected telephony entries: %+v", tel)
	}
	gen := body.Channels[string(registry.ChannelGeneric)]
	if len(gen) != 1 || gen[0].CallID != "call-b" {
		t.Fatalf("unexpected generic entries: %+v", gen)
	}
}

func TestStatsRejectsUnacceptableAccept(t *testing.T) {
	srv := newTestHandler(t, memoryregistry.New(1))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/stats", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Accept", "text/xml")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", res.StatusCode)
	}
}

func TestClientMediaAdmitsAndRetires(t *testing.T) {
	reg := memoryregistry.New(2)
	srv := newTestHandler(t, reg)

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/media/client?client_id=browser-1"
	ws, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial client media: %v", err)
	}
	waitForCount(t, reg, 1)

	recs, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if recs[0].CallerRef != "browser-1" || recs[0].Channel != registry.ChannelGeneric {
		t.Fatalf("unexpected record: %+v", recs[0])
	}

	_ = ws.Close()
	waitForCount(t, reg, 0)
}

func TestTelephonyRejectsMissingToken(t *testing.T) {
	srv := newTestHandler(t, memoryregistry.New(1), WithTelephonySecret([]byte("shh")))

	res, err := srv.Client().Get(srv.URL + "/media/telephony")
	if err != nil {
		t.Fatalf("GET /media/telephony: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
	if got := res.Header.Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q, want Bearer", got)
	}
}

func TestTelephonyRejectsBadSignature(t *testing.T) {
	srv := newTestHandler(t, memoryregistry.New(1), WithTelephonySecret([]byte("real-secret")))

	token := signStreamToken(t, []byte("wrong-secret"), "+15550100")
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/media/telephony", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /media/telephony: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestTelephonyUnconfiguredReturnsUnavailable(t *testing.T) {
	srv := newTestHandler(t, memoryregistry.New(1))

	res, err := srv.Client().Get(srv.URL + "/media/telephony")
	if err != nil {
		t.Fatalf("GET /media/telephony: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.StatusCode)
	}
}

func TestTelephonyValidTokenAdmitsCall(t *testing.T) {
	reg := memoryregistry.New(2)
	secret := []byte("stream-secret")
	srv := newTestHandler(t, reg, WithTelephonySecret(secret))

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/media/telephony"
	cfg, err := websocket.NewConfig(url, "http://localhost/")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	cfg.Header = http.Header{}
	cfg.Header.Set("Authorization", "Bearer "+signStreamToken(t, secret, "+15550123"))
	ws, err := websocket.DialConfig(cfg)
	if err != nil {
		t.Fatalf("dial telephony media: %v", err)
	}
	waitForCount(t, reg, 1)

	recs, err := reg.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if recs[0].CallerRef != "+15550123" || recs[0].Channel != registry.ChannelTelephony {
		t.Fatalf("unexpected record: %+v", recs[0])
	}

	_ = ws.Close()
	waitForCount(t, reg, 0)
}

func TestCapacityRejectionSendsErrorAndCloses(t *testing.T) {
	reg := memoryregistry.New(1)
	if err := reg.Admit(t.Context(), "occupied", "someone", registry.ChannelGeneric); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	srv := newTestHandler(t, reg)

	url := strings.Replace(srv.URL, "http://", "ws://", 1) + "/media/client?client_id=late"
	ws, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial client media: %v", err)
	}
	defer ws.Close()

	var msg struct {
		Error string `json:"error"`
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := websocket.JSON.Receive(ws, &msg); err != nil {
		t.Fatalf("receive rejection: %v", err)
	}
	if !strings.Contains(msg.Error, "capacity") {
		t.Fatalf("rejection message %q does not mention capacity", msg.Error)
	}

	n, err := reg.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1 (rejected call must not register)", n)
	}
}

func signStreamToken(t *testing.T, secret []byte, callerID string) string {
	t.Helper()
	claims := TelephonyClaims{
		CallerID: callerID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
