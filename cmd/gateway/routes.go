package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicegate/gateway/internal/config"
	"github.com/voicegate/gateway/internal/trace"
	"github.com/voicegate/gateway/internal/transport"
)

// defaultTraceSessionLimit is how many trace sessions are returned when
// the caller omits the ?limit= query parameter.
const defaultTraceSessionLimit = 20

// registerRoutes wires the gateway's whole HTTP surface: the WS
// transport upgrade, health/metrics for operators, and (when a trace
// store is configured) the read-only call-history API.
func registerRoutes(mux *http.ServeMux, a *app) {
	if a.cfg.TransportVariant == "ws" {
		mux.HandleFunc("/ws", a.handleWS)
	}
	mux.HandleFunc("/healthz", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	registerTraceRoutes(mux, a.traceStore)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleWS authenticates the device per §4.13 before upgrading, then
// creates and wires the session exactly as the broker accept path does.
func (a *app) handleWS(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get("Device-Id")
	clientID := r.Header.Get("Client-Id")
	token := bearerToken(r)

	if err := a.authMW.Authenticate(deviceID, clientID, token); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := transport.Upgrade(w, r)
	if err != nil {
		a.logger.Error("ws upgrade failed", "error", err)
		return
	}

	defaults := config.New(a.cfg.SessionDefaults)
	sc := a.sessions.Create(r.Context(), deviceID, clientID, clientIP(r), defaults, nil)
	a.wireSession(sc, conn)
	go a.readLoop(sc, conn)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func registerTraceRoutes(mux *http.ServeMux, store *trace.Store) {
	mux.HandleFunc("GET /api/traces/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit := queryInt(r, "limit", defaultTraceSessionLimit)
		offset := queryInt(r, "offset", 0)
		sessions, total, err := store.ListSessions(limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, runs, err := store.GetSession(r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"session": sess, "runs": runs})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}/runs/{runId}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		run, spans, err := store.GetRun(r.PathValue("id"), r.PathValue("runId"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"run": run, "spans": spans})
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
