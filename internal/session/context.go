// Package session implements the per-connection SessionContext and the
// SessionManager that creates/destroys them, per §3 and §4.3/§4.7 of
// the component design. This reconciles the two overlapping Python
// session-context definitions flagged as an open question in the
// design notes; see DESIGN.md for the reconciliation rationale.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/lifecycle"
	"github.com/voicegate/gateway/internal/prompts"
)

// AudioFormat is the negotiated upstream/downstream audio codec.
type AudioFormat string

const (
	FormatOpus AudioFormat = "opus"
	FormatPCM  AudioFormat = "pcm"
)

// ListenMode controls how voice activity gates ASR submission.
type ListenMode string

const (
	ListenAuto     ListenMode = "auto"
	ListenManual   ListenMode = "manual"
	ListenRealtime ListenMode = "realtime"
)

// Context is one live device connection's complete state, per §3. Only
// an opaque SessionID is ever handed to the container or event bus; no
// component stores a back-pointer to Context, avoiding the source's
// cyclic SessionContext<->container references (see DESIGN.md, §9
// re-architecture notes).
type Context struct {
	// Identity — immutable after creation (invariant 1).
	SessionID string
	DeviceID  string
	ClientID  string
	ClientIP  string

	// Effective config — copy-on-create (invariant 6).
	Config *config.Tree

	// Dialogue state.
	Dialogue       *Dialogue
	FuncHandler    ToolInvoker

	// Lifecycle.
	Lifecycle *lifecycle.Manager

	mu sync.Mutex

	audioFormat    AudioFormat
	listenMode     ListenMode
	isSpeaking     bool
	haveVoice      bool
	voiceStopped   bool
	justWokenUp    bool
	clientAbort    bool
	needBind       bool
	bindCode       string
	closeAfterChat bool

	sentenceID     string
	llmFinishTask  bool
	ttsMessageText string
	currentSpeaker string
	intentType     string

	iotDescriptors map[string]any
	mcpClient      any

	lastActivityMs int64
	createdAt      time.Time
}

// ToolInvoker is the capability a per-session func handler exposes to
// the dialogue and intent services; see internal/tools.
type ToolInvoker interface {
	Functions() []any
	Invoke(ctx *Context, name, rawArgs, toolCallID string) (ActionResponse, error)
}

// ActionResponse mirrors the tool-dispatcher result shape from §4.12's
// glossary entry "Action".
type ActionResponse struct {
	Action   string // RESPONSE | REQLLM | NOTFOUND | ERROR | NONE
	Result   string
	Response string
}

// New allocates a fresh Context. cfg should already be the
// per-session merged tree (server defaults + device override); New
// does not itself merge configuration.
func New(deviceID, clientID, clientIP string, cfg *config.Tree, logger any) *Context {
	_ = logger
	now := time.Now()
	return &Context{
		SessionID:      uuid.NewString(),
		DeviceID:       deviceID,
		ClientID:       clientID,
		ClientIP:       clientIP,
		Config:         cfg,
		Dialogue:       NewDialogue(prompts.ForSession(cfg.String("llm_system_prompt", ""))),
		Lifecycle:      lifecycle.New(nil),
		audioFormat:    FormatOpus,
		listenMode:     ListenAuto,
		llmFinishTask:  true,
		intentType:     cfg.String("intent_type", "nointent"),
		iotDescriptors: make(map[string]any),
		lastActivityMs: now.UnixMilli(),
		createdAt:      now,
	}
}

// UpdateActivity refreshes last_activity_time_ms per invariant 5.
func (c *Context) UpdateActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityMs = time.Now().UnixMilli()
}

// LastActivityMs returns the last recorded activity timestamp.
func (c *Context) LastActivityMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivityMs
}

// IsTimedOut reports whether the session has been idle longer than
// timeoutSeconds, per §8 invariant 8.
func (c *Context) IsTimedOut(timeoutSeconds int) bool {
	nowMs := time.Now().UnixMilli()
	return nowMs-c.LastActivityMs() > int64(timeoutSeconds)*1000
}

func (c *Context) AudioFormat() AudioFormat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioFormat
}

func (c *Context) SetAudioFormat(f AudioFormat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioFormat = f
}

func (c *Context) ListenMode() ListenMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenMode
}

func (c *Context) SetListenMode(m ListenMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listenMode = m
}

func (c *Context) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSpeaking
}

func (c *Context) SetSpeaking(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSpeaking = v
}

func (c *Context) HaveVoice() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveVoice
}

func (c *Context) SetHaveVoice(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haveVoice = v
}

func (c *Context) VoiceStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceStopped
}

func (c *Context) SetVoiceStopped(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voiceStopped = v
}

func (c *Context) JustWokenUp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.justWokenUp
}

func (c *Context) SetJustWokenUp(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.justWokenUp = v
}

// ClientAbort reports whether an abort has been requested for the
// in-flight turn.
func (c *Context) ClientAbort() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientAbort
}

func (c *Context) SetClientAbort(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientAbort = v
}

func (c *Context) NeedBind() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needBind
}

func (c *Context) SetNeedBind(v bool, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.needBind = v
	c.bindCode = code
}

func (c *Context) BindCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bindCode
}

func (c *Context) CloseAfterChat() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeAfterChat
}

func (c *Context) SetCloseAfterChat(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeAfterChat = v
}

// SentenceID returns the current assistant turn id, per invariant 4.
func (c *Context) SentenceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sentenceID
}

// NewTurn mints a fresh sentence id and marks the turn in-flight. It is
// the only place a new sentence_id is produced (invariant 4).
func (c *Context) NewTurn() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentenceID = uuid.NewString()
	c.llmFinishTask = false
	return c.sentenceID
}

func (c *Context) LLMFinishTask() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.llmFinishTask
}

func (c *Context) SetLLMFinishTask(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.llmFinishTask = v
}

func (c *Context) SetTTSMessageText(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttsMessageText = s
}

func (c *Context) TTSMessageText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttsMessageText
}

func (c *Context) SetCurrentSpeaker(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentSpeaker = s
}

func (c *Context) CurrentSpeaker() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSpeaker
}

func (c *Context) IntentType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentType
}

func (c *Context) SetIoTDescriptors(d map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range d {
		c.iotDescriptors[k] = v
	}
}

func (c *Context) MCPClient() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mcpClient
}

func (c *Context) SetMCPClient(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mcpClient = v
}
