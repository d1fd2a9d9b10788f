// Package router implements §4.5: it parses each inbound transport
// frame and publishes exactly one event onto the shared bus, or
// updates session state directly for frames that carry no event
// (iot descriptors). Grounded on the reference gateway's
// internal/ws/handler.go handleOneMessage/handleTextFrame dispatch,
// generalized from its talk/snippet/text modes to the hello/listen/
// abort/iot/mcp/server/plain-text vocabulary.
package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"

	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/session"
	"github.com/voicegate/gateway/internal/transport"
)

// MCPForwarder receives the raw payload of a {"type":"mcp",...} frame.
// Implemented by the per-session MCP client once it exists.
type MCPForwarder interface {
	Forward(ctx context.Context, sc *session.Context, payload string) error
}

// ServerController handles an authenticated {"type":"server",...}
// config-reload/restart request.
type ServerController interface {
	Handle(ctx context.Context, action string, content gjson.Result) error
}

// Router dispatches frames for one session onto the shared event bus.
type Router struct {
	bus    *eventbus.Bus
	mcp    MCPForwarder
	server ServerController
	logger *slog.Logger
}

// New builds a Router. mcp and server may be nil if those frame types
// are not supported by the deployment.
func New(bus *eventbus.Bus, mcp MCPForwarder, server ServerController, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{bus: bus, mcp: mcp, server: server, logger: logger}
}

// Dispatch parses one frame in the context of sc and publishes the
// event(s) it implies, per the table in §4.5.
func (r *Router) Dispatch(ctx context.Context, sc *session.Context, f transport.Frame) error {
	if f.Kind == transport.BinaryFrame {
		r.bus.Publish(ctx, eventbus.AudioDataReceived{Base: eventbus.NewBase(sc.SessionID), Payload: f.Binary})
		return nil
	}

	sc.UpdateActivity()

	if !gjson.Valid(f.Text) {
		r.bus.Publish(ctx, eventbus.TranscriptReady{Base: eventbus.NewBase(sc.SessionID), Final: true, Text: f.Text})
		return nil
	}

	parsed := gjson.Parse(f.Text)
	msgType := parsed.Get("type").String()

	switch msgType {
	case "hello":
		return r.handleHello(ctx, sc, f.Text, parsed)
	case "listen":
		return r.handleListen(ctx, sc, parsed)
	case "abort":
		r.bus.Publish(ctx, eventbus.ClientAbort{Base: eventbus.NewBase(sc.SessionID), Reason: "client_request"})
		return nil
	case "iot":
		return r.handleIoT(sc, parsed)
	case "mcp":
		if r.mcp == nil {
			return fmt.Errorf("router: mcp frame received but no forwarder configured")
		}
		return r.mcp.Forward(ctx, sc, parsed.Get("payload").Raw)
	case "server":
		if r.server == nil {
			return fmt.Errorf("router: server frame received but no controller configured")
		}
		return r.server.Handle(ctx, parsed.Get("action").String(), parsed.Get("content"))
	default:
		r.bus.Publish(ctx, eventbus.TranscriptReady{Base: eventbus.NewBase(sc.SessionID), Final: true, Text: f.Text})
		return nil
	}
}

// handleHello sets the session's audio format from audio_params.format
// and still publishes TextMessageReceived so interested handlers can
// observe connect-time data, per §4.5.
func (r *Router) handleHello(ctx context.Context, sc *session.Context, raw string, parsed gjson.Result) error {
	if fmt := parsed.Get("audio_params.format"); fmt.Exists() {
		switch fmt.String() {
		case "opus":
			sc.SetAudioFormat(session.FormatOpus)
		case "pcm":
			sc.SetAudioFormat(session.FormatPCM)
		}
	}
	r.bus.Publish(ctx, eventbus.TextMessageReceived{Base: eventbus.NewBase(sc.SessionID), Raw: raw})
	return nil
}

// handleListen updates have_voice/voice_stopped/listen_mode and, for
// state="detect" with inline text, synthesizes a final transcript.
func (r *Router) handleListen(ctx context.Context, sc *session.Context, parsed gjson.Result) error {
	if mode := parsed.Get("mode"); mode.Exists() {
		switch mode.String() {
		case "manual":
			sc.SetListenMode(session.ListenManual)
		case "realtime":
			sc.SetListenMode(session.ListenRealtime)
		default:
			sc.SetListenMode(session.ListenAuto)
		}
	}

	switch parsed.Get("state").String() {
	case "start":
		sc.SetHaveVoice(true)
		sc.SetVoiceStopped(false)
		r.bus.Publish(ctx, eventbus.VADSpeechStart{Base: eventbus.NewBase(sc.SessionID)})
	case "stop":
		sc.SetVoiceStopped(true)
		r.bus.Publish(ctx, eventbus.VADSpeechEnd{Base: eventbus.NewBase(sc.SessionID)})
	case "detect":
		text := parsed.Get("text").String()
		if text != "" {
			r.bus.Publish(ctx, eventbus.TranscriptReady{Base: eventbus.NewBase(sc.SessionID), Final: true, Text: text})
		}
	}
	return nil
}

// handleIoT merges descriptors/states into session state. No event is
// published; the next LLM turn picks up the merged descriptors.
func (r *Router) handleIoT(sc *session.Context, parsed gjson.Result) error {
	merged := map[string]any{}
	if d := parsed.Get("descriptors"); d.Exists() {
		merged["descriptors"] = d.Value()
	}
	if s := parsed.Get("states"); s.Exists() {
		merged["states"] = s.Value()
	}
	if len(merged) > 0 {
		sc.SetIoTDescriptors(merged)
	}
	return nil
}
