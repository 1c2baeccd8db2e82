// Package api exposes the REST and websocket surface of the service: the
// dashboard endpoints, the unauthenticated origination endpoint used by
// integrators, and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ligai-voice/ligai/src/logger"
	"github.com/ligai-voice/ligai/src/store"
)

// CallControl is the slice of the call manager the API drives.
type CallControl interface {
	OriginateCall(ctx context.Context, meta store.CallMeta) error
	EndCall(id string) error
	ActiveCalls() []store.Call
}

// SwitchStatus reports the state of the AMI link for health checks.
type SwitchStatus interface {
	Connected() bool
}

// Server is the HTTP front of the service.
type Server struct {
	auth    *Auth
	hub     *Hub
	store   store.Store
	calls   CallControl
	ami     SwitchStatus
	log     *logger.Logger
	httpSrv *http.Server
}

// NewServer assembles the router. Call Start to begin serving.
func NewServer(port int, auth *Auth, hub *Hub, st store.Store, calls CallControl, ami SwitchStatus) *Server {
	s := &Server{
		auth:  auth,
		hub:   hub,
		store: st,
		calls: calls,
		ami:   ami,
		log:   logger.WithPrefix("API"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware())

	router.GET("/api/health", s.handleHealth)
	router.POST("/api/auth/login", s.handleLogin)
	// Integrators originate without a dashboard session.
	router.POST("/api/calls/originate", s.handleOriginate)
	router.GET("/ws", hub.HandleWS)

	authed := router.Group("/api", auth.Middleware())
	{
		authed.GET("/auth/me", s.handleMe)
		authed.GET("/calls/active", s.handleActiveCalls)
		authed.GET("/calls/history", s.handleHistory)
		authed.DELETE("/calls/history", s.handleClearHistory)
		authed.GET("/calls/:id", s.handleGetCall)
		authed.GET("/calls/:id/audio", s.handleCallAudio)
		authed.POST("/calls/start", s.handleStartCall)
		authed.POST("/calls/:id/end", s.handleEndCall)
		authed.GET("/stats", s.handleStats)
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called. It blocks.
func (s *Server) Start() error {
	s.log.Info("listening on %s", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"ami":         s.ami.Connected(),
		"activeCalls": len(s.calls.ActiveCalls()),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  gin.H{"username": req.Username},
	})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"username": c.GetString("username")})
}

func (s *Server) handleActiveCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": s.calls.ActiveCalls()})
}

func (s *Server) handleHistory(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	calls, total, err := s.store.CallHistory(c.Request.Context(), page, limit)
	if err != nil {
		s.log.Error("load history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": calls,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) handleClearHistory(c *gin.Context) {
	if err := s.store.ClearHistory(c.Request.Context()); err != nil {
		s.log.Error("clear history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

func (s *Server) handleGetCall(c *gin.Context) {
	id := c.Param("id")
	call, err := s.store.GetCall(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	if err != nil {
		s.log.Error("load call %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
		return
	}
	transcripts, err := s.store.GetTranscripts(c.Request.Context(), id)
	if err != nil {
		s.log.Error("load transcripts %s: %v", id, err)
	} else {
		call.Transcripts = transcripts
	}
	c.JSON(http.StatusOK, call)
}

func (s *Server) handleCallAudio(c *gin.Context) {
	id := c.Param("id")
	call, err := s.store.GetCall(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && call.AudioPath == "") {
		c.JSON(http.StatusNotFound, gin.H{"error": "no recording for call"})
		return
	}
	if err != nil {
		s.log.Error("load call %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load call"})
		return
	}
	c.Header("Content-Type", "audio/wav")
	c.File(call.AudioPath)
}

func (s *Server) handleStartCall(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phoneNumber is required"})
		return
	}

	if err := s.calls.OriginateCall(c.Request.Context(), store.CallMeta{Phone: req.PhoneNumber}); err != nil {
		s.log.Error("start call: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"originated": true, "phoneNumber": req.PhoneNumber})
}

func (s *Server) handleOriginate(c *gin.Context) {
	var req struct {
		PhoneNumber string `json:"phoneNumber"`
		Phone       string `json:"phone"`
		LeadID      string `json:"leadId"`
		Step        string `json:"step"`
		WebhookURL  string `json:"webhookUrl"`
		Context     string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	phone := req.PhoneNumber
	if phone == "" {
		phone = req.Phone
	}
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phoneNumber is required"})
		return
	}

	meta := store.CallMeta{
		Phone:      phone,
		LeadID:     req.LeadID,
		Step:       req.Step,
		WebhookURL: req.WebhookURL,
		Context:    req.Context,
	}
	if err := s.calls.OriginateCall(c.Request.Context(), meta); err != nil {
		s.log.Error("originate: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"originated": true, "phoneNumber": phone, "leadId": req.LeadID})
}

func (s *Server) handleEndCall(c *gin.Context) {
	id := c.Param("id")
	if err := s.calls.EndCall(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": true, "callId": id})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.log.Error("load stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
