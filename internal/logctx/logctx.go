// Package logctx enriches slog records with call-scoped attributes carried
// on the context, so every log line emitted while serving a call carries
// the call id without threading attrs through each call site.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context-carried groups.
type Handler struct {
	slog.Handler
}

// NewHandler wraps inner so records pick up call and request attributes
// from the context.
func NewHandler(inner slog.Handler) Handler {
	return Handler{Handler: inner}
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(callDataKey{}).(*CallData); ok {
		r.AddAttrs(slog.Group("call",
			slog.String("id", cd.CallID),
			slog.String("caller", cd.CallerRef),
			slog.String("channel", cd.Channel),
		))
	}

	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("method", rd.Method),
			slog.String("path", rd.Path),
			slog.String("remote_addr", rd.RemoteAddr),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type callDataKey struct{}

// CallData identifies one live call session.
type CallData struct {
	CallID    string
	CallerRef string
	Channel   string
}

// WithCallData stamps the context with the call's identity.
func WithCallData(ctx context.Context, data *CallData) context.Context {
	return context.WithValue(ctx, callDataKey{}, data)
}

type requestDataKey struct{}

// RequestData identifies one inbound HTTP request.
type RequestData struct {
	Method     string
	Path       string
	RemoteAddr string
}

// WithRequestData stamps the context with request metadata.
func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}
