package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playwarden/playwarden/internal/metrics"
	"github.com/playwarden/playwarden/internal/store"
)

// Router exposes the persistence port over HTTP.
// Endpoints:
//
//	GET  /healthz                         liveness probe (any 2xx counts)
//	GET  /metrics                         prometheus
//	CRUD /api/processes[...]              managed processes
//	POST /api/sessions                    open a session
//	POST /api/sessions/:id/end            close a session
//	GET  /api/sessions/open               open sessions
//	GET/PUT /api/settings                 global settings singleton
//	CRUD /api/shortcuts                   web shortcuts
//	POST /api/checkpoint                  force a WAL checkpoint
type Router struct {
	st  store.Store
	log *slog.Logger
	met *metrics.Metrics
}

func NewRouter(st store.Store, log *slog.Logger, met *metrics.Metrics) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{st: st, log: log, met: met}
}

// Handler returns the gin-powered http.Handler.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	if r.met != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.met.Registry, promhttp.HandlerOpts{})))
	}

	api := g.Group("/api")
	api.GET("/processes", r.listProcesses)
	api.POST("/processes", r.createProcess)
	api.GET("/processes/:id", r.getProcess)
	api.PUT("/processes/:id", r.updateProcess)
	api.DELETE("/processes/:id", r.deleteProcess)
	api.POST("/processes/:id/last-played", r.updateLastPlayed)
	api.GET("/processes/:id/sessions", r.listSessions)
	api.GET("/processes/:id/sessions/overlapping", r.sessionsOverlapping)
	api.POST("/sessions", r.createSession)
	api.POST("/sessions/:id/end", r.endSession)
	api.GET("/sessions/open", r.openSessions)
	api.GET("/settings", r.getSettings)
	api.PUT("/settings", r.updateSettings)
	api.GET("/shortcuts", r.listShortcuts)
	api.POST("/shortcuts", r.createShortcut)
	api.DELETE("/shortcuts/:id", r.deleteShortcut)
	api.POST("/checkpoint", r.checkpoint)
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
	case store.IsTransient(err):
		// Retry budget already exhausted below us; tell the caller it was
		// contention, not a permanent failure.
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid id"})
		return 0, false
	}
	return id, true
}

func (r *Router) listProcesses(c *gin.Context) {
	procs, err := r.st.GetManagedProcesses(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, procs)
}

func (r *Router) createProcess(c *gin.Context) {
	var p store.ManagedProcess
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if p.Name == "" || p.MonitorPath == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name and monitor_path required"})
		return
	}
	if err := r.st.CreateProcess(c.Request.Context(), &p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) getProcess(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := r.st.GetProcess(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (r *Router) updateProcess(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var p store.ManagedProcess
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	p.ID = id
	if err := r.st.UpdateProcess(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) deleteProcess(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := r.st.DeleteProcess(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

type lastPlayedReq struct {
	Timestamp time.Time `json:"timestamp"`
}

func (r *Router) updateLastPlayed(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req lastPlayedReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Timestamp.IsZero() {
		c.JSON(http.StatusBadRequest, errorResp{Error: "timestamp required"})
		return
	}
	if err := r.st.UpdateLastPlayed(c.Request.Context(), id, req.Timestamp); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) listSessions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := r.st.ListSessions(c.Request.Context(), id, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (r *Router) sessionsOverlapping(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil || !to.After(from) {
		c.JSON(http.StatusBadRequest, errorResp{Error: "from/to must be RFC3339 with from < to"})
		return
	}
	sessions, err := r.st.SessionsOverlapping(c.Request.Context(), id, from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

type createSessionReq struct {
	ProcessID   int64     `json:"process_id"`
	ProcessName string    `json:"process_name"`
	StartedAt   time.Time `json:"started_at"`
}

type createSessionResp struct {
	ID int64 `json:"id"`
}

func (r *Router) createSession(c *gin.Context) {
	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.ProcessID <= 0 || req.StartedAt.IsZero() {
		c.JSON(http.StatusBadRequest, errorResp{Error: "process_id and started_at required"})
		return
	}
	id, err := r.st.CreateSession(c.Request.Context(), req.ProcessID, req.ProcessName, req.StartedAt)
	if err != nil {
		fail(c, err)
		return
	}
	if r.met != nil {
		r.met.SessionsOpened.Inc()
	}
	c.JSON(http.StatusOK, createSessionResp{ID: id})
}

type endSessionReq struct {
	EndedAt time.Time `json:"ended_at"`
}

type endSessionResp struct {
	DurationMS int64 `json:"duration_ms"`
}

func (r *Router) endSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req endSessionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.EndedAt.IsZero() {
		c.JSON(http.StatusBadRequest, errorResp{Error: "ended_at required"})
		return
	}
	dur, err := r.st.EndSession(c.Request.Context(), id, req.EndedAt)
	if err != nil {
		fail(c, err)
		return
	}
	if r.met != nil {
		r.met.SessionsClosed.Inc()
	}
	c.JSON(http.StatusOK, endSessionResp{DurationMS: dur.Milliseconds()})
}

func (r *Router) openSessions(c *gin.Context) {
	sessions, err := r.st.OpenSessions(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (r *Router) getSettings(c *gin.Context) {
	g, err := r.st.GetGlobalSettings(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (r *Router) updateSettings(c *gin.Context) {
	var g store.GlobalSettings
	if err := c.ShouldBindJSON(&g); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if err := r.st.UpdateGlobalSettings(c.Request.Context(), g); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) listShortcuts(c *gin.Context) {
	out, err := r.st.ListShortcuts(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) createShortcut(c *gin.Context) {
	var w store.WebShortcut
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if w.Name == "" || w.URL == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name and url required"})
		return
	}
	if err := r.st.CreateShortcut(c.Request.Context(), &w); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (r *Router) deleteShortcut(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := r.st.DeleteShortcut(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) checkpoint(c *gin.Context) {
	mode := store.CheckpointMode(c.DefaultQuery("mode", string(store.CheckpointPassive)))
	if err := r.st.Checkpoint(c.Request.Context(), mode); err != nil {
		fail(c, err)
		return
	}
	if r.met != nil {
		r.met.CheckpointsRun.Inc()
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}
