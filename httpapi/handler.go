// Package httpapi exposes the gateway's HTTP surface: health and statistics
// probes over the call registry, and the websocket endpoints callers stream
// media through.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/websocket"

	"github.com/callgrid/voicegate/bridge"
	"github.com/callgrid/voicegate/internal/logctx"
	"github.com/callgrid/voicegate/registry"
	"github.com/callgrid/voicegate/tools"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

// TelephonyClaims is the token payload the telephony provider signs when it
// opens a media stream.
type TelephonyClaims struct {
	CallerID string `json:"caller_id"`
	jwt.RegisteredClaims
}

// Handler is the gateway's http.Handler.
type Handler struct {
	log       *slog.Logger
	reg       registry.Registry
	bridgeCfg bridge.Config
	toolDeps  tools.Deps
	jwtSecret []byte
	mux       *http.ServeMux
}

var _ http.Handler = (*Handler)(nil)

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) { h.log = log }
}

// WithToolDeps overrides the collaborators per-call tool registries are
// built from.
func WithToolDeps(deps tools.Deps) Option {
	return func(h *Handler) { h.toolDeps = deps }
}

// WithTelephonySecret sets the HMAC secret used to verify provider-signed
// stream tokens. Without it the telephony endpoint rejects every request.
func WithTelephonySecret(secret []byte) Option {
	return func(h *Handler) { h.jwtSecret = secret }
}

// New builds the Handler over reg, dialing the upstream voice API per
// bridgeCfg for each admitted call.
func New(reg registry.Registry, bridgeCfg bridge.Config, opts ...Option) *Handler {
	h := &Handler{
		log:       slog.New(slog.DiscardHandler),
		reg:       reg,
		bridgeCfg: bridgeCfg,
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /stats", h.handleStats)
	mux.Handle("/media/client", websocket.Handler(h.handleClientMedia))
	mux.Handle("/media/telephony", h.telephonyAuth(websocket.Handler(h.handleTelephonyMedia)))
	h.mux = mux
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// negotiateJSON enforces that the client accepts JSON. Absent or wildcard
// Accept headers pass.
func negotiateJSON(w http.ResponseWriter, r *http.Request) bool {
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		w.WriteHeader(http.StatusNotAcceptable)
		return false
	}
	return true
}

type healthResponse struct {
	HealthStatus string `json:"status"`
	Active       int    `json:"active"`
	Max          int    `json:"max"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !negotiateJSON(w, r) {
		return
	}
	active, err := h.reg.Count(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "health.count.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{HealthStatus: "degraded"})
		return
	}
	max, err := h.reg.Capacity(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "health.capacity.fail", slog.String("err", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{HealthStatus: "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{HealthStatus: "ok", Active: active, Max: max})
}

type statsResponse struct {
	Active   int                                  `json:"active"`
	Max      int                                  `json:"max"`
	Channels map[registry.ChannelKind][]callEntry `json:"channels"`
}

type callEntry struct {
	CallID     string    `json:"call_id"`
	CallerRef  string    `json:"caller_ref"`
	AdmittedAt time.Time `json:"admitted_at"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !negotiateJSON(w, r) {
		return
	}
	recs, err := h.reg.List(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "stats.list.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	max, err := h.reg.Capacity(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "stats.capacity.fail", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	res := statsResponse{
		Active:   len(recs),
		Max:      max,
		Channels: make(map[registry.ChannelKind][]callEntry),
	}
	for _, rec := range recs {
		res.Channels[rec.Channel] = append(res.Channels[rec.Channel], callEntry{
			CallID:     rec.Identity,
			CallerRef:  rec.CallerRef,
			AdmittedAt: rec.AdmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

// handleClientMedia serves browser and app clients streaming raw PCM.
func (h *Handler) handleClientMedia(ws *websocket.Conn) {
	callerRef := ws.Request().URL.Query().Get("client_id")
	h.runCall(ws, callerRef, registry.ChannelGeneric)
}

// handleTelephonyMedia serves provider media streams; telephonyAuth has
// already verified the token and stashed the caller id.
func (h *Handler) handleTelephonyMedia(ws *websocket.Conn) {
	callerRef := ws.Request().Header.Get(callerRefHeader)
	h.runCall(ws, callerRef, registry.ChannelTelephony)
}

func (h *Handler) runCall(ws *websocket.Conn, callerRef string, kind registry.ChannelKind) {
	ctx := ws.Request().Context()
	b := bridge.New(h.bridgeCfg, h.reg,
		bridge.WithLogger(h.log),
		bridge.WithToolDeps(h.toolDeps))

	err := b.Run(ctx, ws, callerRef, kind)
	var capErr *registry.CapacityError
	if errors.As(err, &capErr) {
		// Reject promptly: tell the remote party why, then drop the socket
		// so no half-open stream lingers.
		_ = websocket.JSON.Send(ws, map[string]any{
			"error": fmt.Sprintf("call capacity reached (%d/%d), try again later", capErr.Active, capErr.Max),
		})
		_ = ws.Close()
		return
	}
	if err != nil {
		h.log.ErrorContext(ctx, "media.session.fail",
			slog.String("call_id", b.CallID()),
			slog.String("err", err.Error()))
	}
	_ = ws.Close()
}

// callerRefHeader carries the verified caller id from the auth middleware
// to the websocket handler.
const callerRefHeader = "X-Voicegate-Caller-Ref"

// telephonyAuth verifies the provider's bearer token before the websocket
// upgrade happens, so unauthenticated streams are refused with a plain 401.
func (h *Handler) telephonyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if len(h.jwtSecret) == 0 {
			h.log.WarnContext(ctx, "telephony.auth.unconfigured")
			http.Error(w, "telephony endpoint not configured", http.StatusServiceUnavailable)
			return
		}

		token := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims := &TelephonyClaims{}
		_, err := jwt.ParseWithClaims(token[len(prefix):], claims,
			func(t *jwt.Token) (any, error) { return h.jwtSecret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithLeeway(30*time.Second),
		)
		if err != nil {
			h.log.WarnContext(ctx, "telephony.auth.reject", slog.String("err", err.Error()))
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Set(callerRefHeader, claims.CallerID)
		next.ServeHTTP(w, r)
	})
}
