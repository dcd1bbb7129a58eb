// Package bridge relays audio between one inbound caller connection and
// the upstream realtime voice API, dispatching the model's tool calls along
// the way. Every bridge runs under a registry.Guard so a call only streams
// while it holds an admission slot, and the slot is released on every exit
// path.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/callgrid/voicegate/internal/logctx"
	"github.com/callgrid/voicegate/registry"
	"github.com/callgrid/voicegate/tools"
)

// Config locates the upstream realtime voice API.
type Config struct {
	// Endpoint is the https base URL of the voice API; it is rewritten to
	// wss when dialing.
	Endpoint string
	// Model selects the realtime model for the session.
	Model string
	// APIKey authenticates the upstream connection.
	APIKey string
}

// Turn is one utterance in the accumulated conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Bridge serves exactly one call. Construct with New and use once; the
// guard it owns is single-use.
type Bridge struct {
	cfg      Config
	log      *slog.Logger
	guard    *registry.Guard
	toolDeps tools.Deps

	out   *sendQueue
	tools *tools.Registry

	mu                sync.Mutex
	transcript        []Turn
	upstreamSessionID string

	rawAudio bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bridge) { b.log = log }
}

// WithToolDeps overrides the collaborators the per-call tool registry is
// built from.
func WithToolDeps(deps tools.Deps) Option {
	return func(b *Bridge) { b.toolDeps = deps }
}

// New builds a bridge for one inbound connection against reg.
func New(cfg Config, reg registry.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		cfg: cfg,
		log: slog.New(slog.DiscardHandler),
		out: newSendQueue(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.guard = registry.NewGuard(reg, registry.WithGuardLogger(b.log))
	return b
}

// CallID returns the identity this bridge's call is tracked under.
func (b *Bridge) CallID() string { return b.guard.Identity() }

// Transcript returns a copy of the conversation so far.
func (b *Bridge) Transcript() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Turn(nil), b.transcript...)
}

// Run admits the call, connects upstream, and relays media until the
// caller hangs up, the upstream closes, or ctx is canceled. It returns a
// *registry.CapacityError (wrapped) without dialing upstream when no slot
// is free; the caller then closes the client connection. Retirement is
// guaranteed on every other path.
func (b *Bridge) Run(ctx context.Context, client *websocket.Conn, callerRef string, kind registry.ChannelKind) error {
	if callerRef == "" {
		callerRef = registry.CallerUnknown
	}
	b.rawAudio = kind == registry.ChannelGeneric
	ctx = logctx.WithCallData(ctx, &logctx.CallData{
		CallID:    b.guard.Identity(),
		CallerRef: callerRef,
		Channel:   string(kind),
	})

	if err := b.guard.Admit(ctx, callerRef, kind); err != nil {
		return fmt.Errorf("admit call: %w", err)
	}
	defer b.guard.Retire(ctx)

	treg, err := tools.NewSessionRegistry(b.toolDeps, b.guard.Identity(), tools.WithLogger(b.log))
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	b.tools = treg

	up, err := b.dialUpstream(ctx)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}
	defer up.Close()
	b.log.InfoContext(ctx, "upstream.connect.ok")

	if err := websocket.JSON.Send(up, sessionUpdate(treg)); err != nil {
		return fmt.Errorf("send session config: %w", err)
	}
	if err := websocket.JSON.Send(up, map[string]any{"type": "response.create"}); err != nil {
		return fmt.Errorf("request first response: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 3)
	go func() { done <- b.senderLoop(up) }()
	go func() { done <- b.upstreamLoop(ctx, up, client) }()
	go func() { done <- b.clientLoop(ctx, client, kind) }()

	var first error
	select {
	case first = <-done:
	case <-ctx.Done():
		first = ctx.Err()
	}

	// Unblock the remaining loops so their goroutines exit.
	b.out.Close()
	_ = up.Close()
	_ = client.Close()

	if first != nil && !errors.Is(first, io.EOF) && !errors.Is(first, context.Canceled) {
		b.log.WarnContext(ctx, "call.end.abnormal", slog.String("err", first.Error()))
		return first
	}
	b.log.InfoContext(ctx, "call.end.ok")
	return nil
}

func (b *Bridge) dialUpstream(ctx context.Context) (*websocket.Conn, error) {
	endpoint := strings.TrimRight(b.cfg.Endpoint, "/")
	url := endpoint + "/voice-live/realtime?api-version=2025-05-01-preview&model=" + strings.TrimSpace(b.cfg.Model)
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)

	wsCfg, err := websocket.NewConfig(url, "http://localhost/")
	if err != nil {
		return nil, fmt.Errorf("upstream config: %w", err)
	}
	wsCfg.Header = http.Header{}
	wsCfg.Header.Set("x-client-request-id", uuid.NewString())
	wsCfg.Header.Set("api-key", b.cfg.APIKey)

	conn, err := websocket.DialConfig(wsCfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// senderLoop drains the outbound queue into the upstream socket.
func (b *Bridge) senderLoop(up *websocket.Conn) error {
	for {
		msg, ok := b.out.Get()
		if !ok {
			return nil
		}
		if err := websocket.Message.Send(up, string(msg)); err != nil {
			return fmt.Errorf("send upstream: %w", err)
		}
	}
}

// clientLoop forwards caller audio to the upstream queue. Generic clients
// stream raw PCM frames; telephony streams JSON envelopes with base64
// audio and a silence flag.
func (b *Bridge) clientLoop(ctx context.Context, client *websocket.Conn, kind registry.ChannelKind) error {
	for {
		var data []byte
		if err := websocket.Message.Receive(client, &data); err != nil {
			if errors.Is(err, io.EOF) {
				b.log.InfoContext(ctx, "client.hangup")
				return io.EOF
			}
			return fmt.Errorf("receive client: %w", err)
		}

		switch kind {
		case registry.ChannelGeneric:
			b.out.Put(newAudioAppend(base64.StdEncoding.EncodeToString(data)))
		case registry.ChannelTelephony:
			var frame telephonyInbound
			if err := json.Unmarshal(data, &frame); err != nil {
				b.log.WarnContext(ctx, "client.frame.invalid", slog.String("err", err.Error()))
				continue
			}
			if frame.Kind == "AudioData" && frame.AudioData != nil && !frame.AudioData.Silent {
				b.out.Put(newAudioAppend(frame.AudioData.Data))
			}
		}
	}
}

// upstreamLoop dispatches events from the voice API.
func (b *Bridge) upstreamLoop(ctx context.Context, up, client *websocket.Conn) error {
	for {
		var raw []byte
		if err := websocket.Message.Receive(up, &raw); err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("receive upstream: %w", err)
		}
		var ev upstreamEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			b.log.WarnContext(ctx, "upstream.event.invalid", slog.String("err", err.Error()))
			continue
		}

		switch ev.Type {
		case "session.created":
			if ev.Session != nil {
				b.mu.Lock()
				b.upstreamSessionID = ev.Session.ID
				b.mu.Unlock()
				b.log.InfoContext(ctx, "upstream.session.created", slog.String("upstream_session_id", ev.Session.ID))
			}

		case "input_audio_buffer.speech_started":
			// Caller barge-in: tell the client to stop playback.
			b.log.InfoContext(ctx, "upstream.speech.start", slog.Int64("audio_start_ms", ev.AudioStartMS))
			if err := websocket.JSON.Send(client, newStopAudioFrame()); err != nil {
				b.log.WarnContext(ctx, "client.send.fail", slog.String("err", err.Error()))
			}

		case "input_audio_buffer.speech_stopped":
			b.log.DebugContext(ctx, "upstream.speech.stop")

		case "conversation.item.input_audio_transcription.completed":
			b.appendTurn("user", ev.Transcript)
			b.log.InfoContext(ctx, "transcript.user", slog.String("text", ev.Transcript))

		case "conversation.item.input_audio_transcription.failed":
			b.log.WarnContext(ctx, "transcript.fail", slog.String("err", string(ev.Error)))

		case "response.function_call_arguments.done":
			b.handleFunctionCall(ctx, ev)

		case "response.audio_transcript.done":
			b.appendTurn("assistant", ev.Transcript)
			b.log.InfoContext(ctx, "transcript.assistant", slog.String("text", ev.Transcript))
			if err := websocket.JSON.Send(client, newTranscriptionFrame(ev.Transcript)); err != nil {
				b.log.WarnContext(ctx, "client.send.fail", slog.String("err", err.Error()))
			}

		case "response.audio.delta":
			if err := b.forwardAudio(client, ev.Delta); err != nil {
				b.log.WarnContext(ctx, "client.send.fail", slog.String("err", err.Error()))
			}

		case "response.done":
			if ev.Response != nil {
				b.log.InfoContext(ctx, "upstream.response.done", slog.String("response_id", ev.Response.ID))
			}

		case "error":
			b.log.ErrorContext(ctx, "upstream.error", slog.String("err", string(ev.Error)))

		default:
			b.log.DebugContext(ctx, "upstream.event.other", slog.String("event_type", ev.Type))
		}
	}
}

// forwardAudio sends one audio delta to the client in its channel's
// framing: decoded bytes for generic clients, a JSON envelope for
// telephony.
func (b *Bridge) forwardAudio(client *websocket.Conn, deltaB64 string) error {
	if b.rawAudio {
		audio, err := base64.StdEncoding.DecodeString(deltaB64)
		if err != nil {
			return fmt.Errorf("decode audio delta: %w", err)
		}
		return websocket.Message.Send(client, audio)
	}
	return websocket.JSON.Send(client, newAudioDataFrame(deltaB64))
}

// handleFunctionCall dispatches one tool call and reports the outcome back
// to the model. Unknown tools and tool failures are surfaced as failed
// outputs so the model can recover in conversation.
func (b *Bridge) handleFunctionCall(ctx context.Context, ev upstreamEvent) {
	b.log.InfoContext(ctx, "tool.call",
		slog.String("tool", ev.Name),
		slog.String("upstream_call_id", ev.CallID))

	result, err := b.tools.Dispatch(ctx, ev.Name, json.RawMessage(ev.Arguments))
	if err != nil {
		result = map[string]any{
			"success": false,
			"message": fmt.Sprintf("Tool failed: %v", err),
		}
	}
	output, err := json.Marshal(result)
	if err != nil {
		b.log.ErrorContext(ctx, "tool.result.marshal.fail", slog.String("err", err.Error()))
		output = []byte(`{"success":false,"message":"internal error"}`)
	}

	b.sendJSON(ctx, newFunctionCallOutput(ev.CallID, string(output)))
	b.sendJSON(ctx, map[string]any{"type": "response.create"})
}

func (b *Bridge) sendJSON(ctx context.Context, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		b.log.ErrorContext(ctx, "upstream.marshal.fail", slog.String("err", err.Error()))
		return
	}
	b.out.Put(msg)
}

func (b *Bridge) appendTurn(role, content string) {
	if content == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcript = append(b.transcript, Turn{Role: role, Content: content})
}
