package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/voicegate/gateway/internal/asr"
	"github.com/voicegate/gateway/internal/asrpool"
	"github.com/voicegate/gateway/internal/audio"
	"github.com/voicegate/gateway/internal/auth"
	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/container"
	"github.com/voicegate/gateway/internal/dialogue"
	"github.com/voicegate/gateway/internal/eventbus"
	"github.com/voicegate/gateway/internal/intent"
	"github.com/voicegate/gateway/internal/pipeline"
	"github.com/voicegate/gateway/internal/router"
	"github.com/voicegate/gateway/internal/session"
	"github.com/voicegate/gateway/internal/tools"
	"github.com/voicegate/gateway/internal/trace"
	"github.com/voicegate/gateway/internal/transport"
	"github.com/voicegate/gateway/internal/tts"
)

// app bundles every process-wide singleton this gateway's per-session
// wiring needs, grounded on the reference gateway's main.go construct-
// then-inject sequence, generalized from its ws.Handler/pipeline
// routers to this spec's session/eventbus/container architecture.
type app struct {
	cfg       deploymentConfig
	logger    *slog.Logger
	bus       *eventbus.Bus
	container *container.Container
	authMW    *auth.Middleware
	sessions  *session.Manager
	toolsReg  *tools.Registry
	router    *router.Router
	traceStore *trace.Store

	asrAdapter *asr.Adapter
	llm        pipeline.TurnStreamer
	classifier intent.Classifier
	synth      tts.Synthesizer
	files      tts.FileLoader
	quota      *dialogue.DailyQuota
	greetings  *intent.SharedCache

	orchestrators sync.Map // sessionID -> *tts.Orchestrator
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	logger := slog.Default()

	cfg := loadDeploymentConfig("gateway.json")
	a := newApp(cfg, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, a)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}

	var brokerListener net.Listener
	var udpConn *net.UDPConn
	if cfg.TransportVariant == "broker" {
		var err error
		brokerListener, err = net.Listen("tcp", cfg.BrokerAddr)
		if err != nil {
			logger.Error("broker listen failed", "error", err)
			os.Exit(1)
		}
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.BrokerUDPAddr)
		if err != nil {
			logger.Error("broker udp resolve failed", "error", err)
			os.Exit(1)
		}
		udpConn, err = net.ListenUDP("udp", udpAddr)
		if err != nil {
			logger.Error("broker udp listen failed", "error", err)
			os.Exit(1)
		}
		go a.acceptBrokerLoop(brokerListener, udpConn)
	}

	go a.awaitShutdown(srv, brokerListener, udpConn)

	logger.Info("gateway starting", "addr", srv.Addr, "transport", cfg.TransportVariant)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

// newApp constructs every process-wide singleton and registers the
// builtin tool set once.
func newApp(cfg deploymentConfig, logger *slog.Logger) *app {
	bus := eventbus.New(logger)
	c := container.New()

	authCfg := auth.NewConfig(cfg.AuthEnabled, cfg.AllowedDevices, cfg.StaticTokens, cfg.HMACSecret, cfg.TokenExpireSeconds)
	authMW := auth.New(authCfg)

	toolsReg := tools.NewRegistry()
	tools.RegisterBuiltins(toolsReg, nil)

	sessions := session.NewManager(bus, c, logger)

	ttsClient := pipeline.NewTTSClient(cfg.TTSBaseURL, 8)
	synth := tts.NewPiperSynthesizer(ttsClient, "fast")
	files := tts.NewClipFileLoader()

	openaiStreamer := pipeline.NewOpenAIToolClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)

	agentLLM := pipeline.NewAgentLLM("ollama", 2048)
	agentLLM.RegisterRaw("ollama", &streamerChatAdapter{streamer: openaiStreamer}, cfg.LLMModel)
	classifier := intent.NewLLMClassifier(&engineChatAdapter{agent: agentLLM, engine: "ollama"}, cfg.LLMModel)

	asrClient := pipeline.NewASRClient(cfg.WhisperServerURL, 8)
	var asrAdapter *asr.Adapter
	a := &app{}
	busyFn := func(ctx context.Context, sc *session.Context) { a.notifyBusy(ctx, sc) }

	switch cfg.ASRBackend {
	case "local":
		pool := asrpool.New(&poolRecognizerAdapter{client: asrClient}, cfg.ASRPoolSize, logger)
		pool.Start()
		asrAdapter = asr.New(asr.NewLocalPoolRecognizer(pool), nil, bus, busyFn, logger)
	default:
		asrAdapter = asr.New(asr.NewRemoteRecognizer(asrClient), nil, bus, busyFn, logger)
	}

	var traceStore *trace.Store
	if dsn := os.Getenv("POSTGRES_URL"); dsn != "" {
		var err error
		traceStore, err = trace.Open(dsn)
		if err != nil {
			logger.Warn("trace store open failed, tracing disabled", "error", err)
			traceStore = nil
		}
	}

	a.cfg = cfg
	a.logger = logger
	a.bus = bus
	a.container = c
	a.authMW = authMW
	a.sessions = sessions
	a.toolsReg = toolsReg
	a.router = router.New(bus, nil, nil, logger)
	a.traceStore = traceStore
	a.asrAdapter = asrAdapter
	a.llm = openaiStreamer
	a.classifier = classifier
	a.synth = synth
	a.files = files
	a.quota = dialogue.NewDailyQuota()
	a.greetings = intent.NewSharedCache()

	return a
}

// notifyBusy synthesizes the §7 backpressure fallback reply into the
// calling session's own orchestrator, if it is still live.
func (a *app) notifyBusy(ctx context.Context, sc *session.Context) {
	v, ok := a.orchestrators.Load(sc.SessionID)
	if !ok {
		return
	}
	orch := v.(*tts.Orchestrator)
	orch.SynthesizeOneSentence(sc.NewTurn(), sc.Config.String("busy_text", "服务繁忙，请稍后再试。"))
}

// wireSession builds one session's pipeline (orchestrator, sender,
// dialogue, intent gate) and its event-bus subscriptions, then starts
// its lifecycle.
func (a *app) wireSession(sc *session.Context, tr transport.Transport) {
	orch := tts.New(sc.SessionID, a.synth, a.files, a.bus, a.logger)
	a.orchestrators.Store(sc.SessionID, orch)

	invoker := tools.NewSessionInvoker(a.toolsReg, a.container, a.bus)
	sc.FuncHandler = invoker

	destroyer := func(ctx context.Context, sessionID, reason string) error {
		return a.sessions.Destroy(ctx, sessionID, reason)
	}
	intentSvc := intent.New(sc, orch, a.synth, a.classifier, a.bus, destroyer, a.greetings, a.logger)
	dialogueSvc := dialogue.New(sc, tr, orch, intentSvc, a.llm, a.bus, a.quota, a.logger)
	if a.traceStore != nil {
		dialogueSvc.SetTracer(trace.NewTracer(a.traceStore, sc.SessionID))
	}

	sender := tts.NewSender(sc, tr, orch.AudioQueue(), tts.SenderConfig{}, a.bus, a.logger, func() {
		go a.sessions.Destroy(context.Background(), sc.SessionID, "close_after_chat")
	})

	vad := audio.NewVAD(a.cfg.VAD)

	subTranscript := eventbus.Subscribe(a.bus, eventbus.Async, func(ctx context.Context, e eventbus.TranscriptReady) {
		if e.SessionID() != sc.SessionID || !e.Final {
			return
		}
		dialogueSvc.HandleTranscript(ctx, e.Text)
	})

	subAudio := eventbus.Subscribe(a.bus, eventbus.Async, func(ctx context.Context, e eventbus.AudioDataReceived) {
		if e.SessionID() != sc.SessionID {
			return
		}
		samples, _, err := audio.Decode(e.Payload, audio.CodecPCM, 16000)
		if err != nil {
			return
		}
		a.asrAdapter.Feed(ctx, sc, vad, samples)
	})

	subAbort := eventbus.Subscribe(a.bus, eventbus.Sync, func(ctx context.Context, e eventbus.ClientAbort) {
		if e.SessionID() != sc.SessionID {
			return
		}
		orch.Abort()
		sc.SetSpeaking(false)
		_ = tr.SendText(`{"type":"tts","state":"stop"}`)
	})

	sc.Lifecycle.OnStart(func() error {
		stopSignal := sc.Lifecycle.StopSignal()
		go orch.Run(context.Background())
		go sender.Run(context.Background(), stopSignal)
		return nil
	})
	sc.Lifecycle.OnStop(func() error {
		subTranscript.Unsubscribe()
		subAudio.Unsubscribe()
		subAbort.Unsubscribe()
		a.asrAdapter.Drop(sc.SessionID)
		a.orchestrators.Delete(sc.SessionID)
		return tr.Close()
	})
	sc.Lifecycle.Start()
}

// readLoop drains tr until the connection drops, dispatching every
// frame through the shared Router, then tears the session down.
func (a *app) readLoop(sc *session.Context, tr transport.Transport) {
	for f := range tr.Receive() {
		if err := a.router.Dispatch(context.Background(), sc, f); err != nil {
			a.logger.Error("dispatch failed", "session_id", sc.SessionID, "error", err)
		}
	}
	_ = a.sessions.Destroy(context.Background(), sc.SessionID, "connection_closed")
}

func (a *app) acceptBrokerLoop(ln net.Listener, udpConn *net.UDPConn) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			a.logger.Error("broker accept failed", "error", err)
			return
		}
		go a.handleBrokerConn(conn, udpConn)
	}
}

func (a *app) handleBrokerConn(conn net.Conn, udpConn *net.UDPConn) {
	br, err := transport.AcceptBroker(conn, udpConn, func(deviceID, clientID, password string) error {
		return a.authMW.Authenticate(deviceID, clientID, password)
	})
	if err != nil {
		a.logger.Warn("broker handshake failed", "error", err)
		return
	}
	defaults := config.New(a.cfg.SessionDefaults)
	sc := a.sessions.Create(context.Background(), br.DeviceID, br.ClientID, "", defaults, nil)
	a.wireSession(sc, br)
	a.readLoop(sc, br)
}

// awaitShutdown blocks until SIGINT/SIGTERM, then tears every live
// session down and stops the HTTP/broker listeners.
func (a *app) awaitShutdown(srv *http.Server, ln net.Listener, udpConn *net.UDPConn) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.logger.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ids []string
	a.sessions.Each(func(sc *session.Context) { ids = append(ids, sc.SessionID) })
	for _, id := range ids {
		_ = a.sessions.Destroy(ctx, id, "shutdown")
	}

	if ln != nil {
		ln.Close()
	}
	if udpConn != nil {
		udpConn.Close()
	}
	srv.Shutdown(ctx)
}

// streamerChatAdapter exposes a TurnStreamer through the simpler
// single-shot LLMChatClient interface AgentLLM.RegisterRaw expects, for
// deployments that want ollama routed through AgentLLM's engine
// selection rather than called directly.
type streamerChatAdapter struct {
	streamer pipeline.TurnStreamer
}

func (s *streamerChatAdapter) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken pipeline.TokenCallback) (*pipeline.LLMResult, error) {
	req := pipeline.TurnRequest{
		Model: model,
		Messages: []pipeline.TurnMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
	}
	return s.streamer.StreamTurn(ctx, req, func(chunk pipeline.TurnChunk) {
		if chunk.Text != "" && onToken != nil {
			onToken(chunk.Text)
		}
	})
}

// engineChatAdapter pins one of AgentLLM's registered engines behind
// the plain LLMChatClient shape the intent classifier wants.
type engineChatAdapter struct {
	agent  *pipeline.AgentLLM
	engine string
}

func (e *engineChatAdapter) Chat(ctx context.Context, userMessage, systemPrompt, model string, onToken pipeline.TokenCallback) (*pipeline.LLMResult, error) {
	return e.agent.Chat(ctx, userMessage, systemPrompt, model, e.engine, onToken)
}

// poolRecognizerAdapter adapts the whisper.cpp HTTP client to
// asrpool.Recognizer, so the "local" ASR backend still serializes
// calls through the single-worker shared pool even though the model
// itself is served remotely — there is no in-process local model
// integration in this deployment.
type poolRecognizerAdapter struct {
	client *pipeline.ASRClient
}

func (p *poolRecognizerAdapter) Recognize(ctx context.Context, audioSamples []float32, format string) (string, string, error) {
	res, err := p.client.Transcribe(ctx, audioSamples)
	if err != nil {
		return "", "", err
	}
	return res.Text, "", nil
}
