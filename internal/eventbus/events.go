package eventbus

import "time"

// Event is the common shape every typed event carries: a session id and
// a monotonic-enough timestamp, per §3 ("Every event carries session_id
// and a monotonic timestamp").
type Event interface {
	SessionID() string
	OccurredAt() time.Time
}

// Base embeds into concrete event structs to satisfy Event.
type Base struct {
	Session string
	At      time.Time
}

func (b Base) SessionID() string     { return b.Session }
func (b Base) OccurredAt() time.Time { return b.At }

func newBase(sessionID string) Base {
	return Base{Session: sessionID, At: time.Now()}
}

// SessionCreated fires once a SessionContext has been allocated.
type SessionCreated struct {
	Base
	DeviceID string
}

// SessionDestroying fires before teardown of a session's resources.
type SessionDestroying struct {
	Base
	Reason string
}

// TextMessageReceived carries a raw JSON control message or plain text
// frame, after the router has classified it.
type TextMessageReceived struct {
	Base
	Raw string
}

// AudioDataReceived carries one binary audio frame as received from the
// transport, prior to VAD classification.
type AudioDataReceived struct {
	Base
	Payload []byte
}

// VADSpeechStart fires when the sliding-window classifier flips
// have_voice to true.
type VADSpeechStart struct{ Base }

// VADSpeechEnd fires when voice_stopped is set.
type VADSpeechEnd struct{ Base }

// TranscriptReady carries a recognition result, final or partial.
type TranscriptReady struct {
	Base
	Final      bool
	Text       string
	Confidence float64
}

// LLMRequest marks the start of a dialogue-service call to the LLM.
type LLMRequest struct {
	Base
	Text string
}

// LLMResponse carries the final accumulated text of an LLM turn.
type LLMResponse struct {
	Base
	Text string
}

// LLMError carries a provider failure for the current turn.
type LLMError struct {
	Base
	Err error
}

// TTSRequest asks the TTS orchestrator to synthesize text outside the
// normal dialogue stream (e.g. a canned reply).
type TTSRequest struct {
	Base
	Text string
}

// TTSAudioReady fires once a sentence's audio frames have been enqueued.
type TTSAudioReady struct {
	Base
	SentenceID string
}

// TTSError carries a synthesis failure.
type TTSError struct {
	Base
	Err error
}

// IntentRecognized fires when the intent service or intent classifier
// resolves a structured function call.
type IntentRecognized struct {
	Base
	Intent     string
	Entities   map[string]any
	Confidence float64
}

// ToolCallRequest fires immediately before a tool/function is invoked.
type ToolCallRequest struct {
	Base
	ToolName   string
	Parameters map[string]any
	ToolCallID string
}

// ToolCallResponse fires after a tool/function returns.
type ToolCallResponse struct {
	Base
	ToolCallID string
	Action     string
	Result     string
}

// ClientAbort fires on barge-in or explicit abort request.
type ClientAbort struct {
	Base
	Reason string
}

// ClientSpeakingState fires when is_speaking flips.
type ClientSpeakingState struct {
	Base
	Speaking bool
}

// Error is a catch-all for pipeline errors that should be logged but
// don't warrant a more specific event type.
type Error struct {
	Base
	Stage string
	Err   error
}
