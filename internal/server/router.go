package server

import (
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentdeck/agentdeck/internal/metrics"
	"github.com/agentdeck/agentdeck/internal/stream"
	"github.com/agentdeck/agentdeck/internal/supervisor"
)

// Router provides embeddable HTTP handlers over a set of supervisors, one per
// worker kind ("agent", "app", ...).
// Endpoints, all under {basePath}:
//   POST   /api/{kind}/workers                 body: key + launch spec JSON
//   GET    /api/{kind}/workers                 list tracked workers
//   GET    /api/{kind}/workers/{key}           one worker snapshot
//   DELETE /api/{kind}/workers/{key}           request stop (idempotent)
//   GET    /api/{kind}/workers/{key}/logs      buffered log snapshot
//   GET    /api/{kind}/workers/{key}/logs/stream   SSE, replay then live
//   GET    /api/{kind}/workers/{key}/logs/ws       WebSocket, replay then live
//   ANY    /app/{key}/*path                    reverse proxy to the app worker
//   GET    /healthz
//   GET    /metrics
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	basePath string
	supers   map[string]*supervisor.Supervisor
	log      *slog.Logger
}

// NewRouter builds a Router over the given supervisors, keyed by their names.
func NewRouter(basePath string, log *slog.Logger, supers ...*supervisor.Supervisor) *Router {
	if log == nil {
		log = slog.Default()
	}
	m := make(map[string]*supervisor.Supervisor, len(supers))
	for _, s := range supers {
		m[s.Name()] = s
	}
	return &Router{basePath: sanitizeBase(basePath), supers: m, log: log}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestID())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := group.Group("/api/:kind/workers")
	api.POST("", r.handleStart)
	api.GET("", r.handleList)
	api.GET("/:key", r.handleGet)
	api.DELETE("/:key", r.handleStop)
	api.GET("/:key/logs", r.handleLogs)
	api.GET("/:key/logs/stream", r.handleLogStream)
	api.GET("/:key/logs/ws", r.handleLogWS)

	group.Any("/app/:key/*path", r.handleProxy)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. Shut
// it down via the returned http.Server.
func NewServer(addr, basePath string, log *slog.Logger, supers ...*supervisor.Supervisor) *http.Server {
	r := NewRouter(basePath, log, supers...)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) supervisorFor(c *gin.Context) (*supervisor.Supervisor, bool) {
	kind := c.Param("kind")
	s, ok := r.supers[kind]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown worker kind: " + kind})
		return nil, false
	}
	return s, true
}

type startRequest struct {
	Key string `json:"key"`
	supervisor.LaunchSpec
}

func (r *Router) handleStart(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Key == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "key required"})
		return
	}
	if err := s.Start(c.Request.Context(), req.Key, req.LaunchSpec); err != nil {
		switch {
		case supervisor.IsCapacityExceeded(err):
			writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		case supervisor.IsInvalidTarget(err), supervisor.IsInvalidKey(err):
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		default:
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		}
		return
	}
	inf, _ := s.Lookup(req.Key)
	writeJSON(c, http.StatusOK, inf)
}

func (r *Router) handleList(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, s.List())
}

func (r *Router) handleGet(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	inf, ok := s.Lookup(c.Param("key"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such worker: " + c.Param("key")})
		return
	}
	writeJSON(c, http.StatusOK, inf)
}

// handleStop requests termination and returns immediately. Stopping an absent
// key succeeds, mirroring the supervisor's idempotent semantics.
func (r *Router) handleStop(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	s.Stop(c.Param("key"))
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	lines := s.Logs(c.Param("key"))
	if lines == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such worker: " + c.Param("key")})
		return
	}
	writeJSON(c, http.StatusOK, lines)
}

func (r *Router) handleLogStream(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	buf, ok := s.Buffer(c.Param("key"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such worker: " + c.Param("key")})
		return
	}
	stream.ServeSSE(c, buf)
}

func (r *Router) handleLogWS(c *gin.Context) {
	s, ok := r.supervisorFor(c)
	if !ok {
		return
	}
	buf, ok := s.Buffer(c.Param("key"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no such worker: " + c.Param("key")})
		return
	}
	stream.ServeWS(c.Writer, c.Request, buf, r.log)
}

func (r *Router) handleHealth(c *gin.Context) {
	counts := make(map[string]int, len(r.supers))
	for name, s := range r.supers {
		counts[name] = s.Count()
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok", "workers": counts})
}

// handleProxy forwards the request to a running app worker's HTTP port,
// stripping the /app/{key} prefix. An absent worker or one without a port
// yields 502, matching what a dead upstream would.
func (r *Router) handleProxy(c *gin.Context) {
	s, ok := r.supers["app"]
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "app workers not configured"})
		return
	}
	key := c.Param("key")
	inf, ok := s.Lookup(key)
	if !ok || inf.Port == 0 {
		writeJSON(c, http.StatusBadGateway, errorResp{Error: "no running app worker: " + key})
		return
	}

	target := &url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(inf.Port)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		r.log.Warn("proxy upstream error", "key", key, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"app worker unreachable"}`))
	}

	req := c.Request
	req.URL.Path = c.Param("path")
	if req.URL.Path == "" {
		req.URL.Path = "/"
	}
	proxy.ServeHTTP(c.Writer, req)
}
