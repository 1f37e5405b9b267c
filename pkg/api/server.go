// Package api is the HTTP/WebSocket glue over the control plane: gin
// routes, token auth, service-error mapping and the WebSocket upgrade
// endpoints feeding the streaming fabric.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/deepily/cosa/pkg/database"
	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/idgen"
	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/queue"
	"github.com/deepily/cosa/pkg/services"
)

// Server owns the HTTP surface. All queue and notification semantics live
// in the services it fronts; handlers only translate requests and errors.
type Server struct {
	scheduler     *queue.Scheduler
	notifications *events.NotificationService
	manager       *events.ConnectionManager
	verifier      *HMACVerifier
	db            *database.Client
	logger        *slog.Logger
}

// NewServer wires the HTTP surface. db may be nil (health reports degraded).
func NewServer(scheduler *queue.Scheduler, notifications *events.NotificationService,
	manager *events.ConnectionManager, verifier *HMACVerifier, db *database.Client,
	logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		scheduler:     scheduler,
		notifications: notifications,
		manager:       manager,
		verifier:      verifier,
		db:            db,
		logger:        logger,
	}
}

// Routes registers every endpoint on the engine.
func (s *Server) Routes(r *gin.Engine) {
	r.GET("/healthz", s.Health)

	authed := r.Group("/api", s.authRequired())
	authed.GET("/init-session", s.InitSession)
	authed.POST("/push", s.Push)
	authed.GET("/get-queue/:name", s.GetQueue)
	authed.POST("/reset-queues", s.ResetQueues)
	authed.GET("/get-job-interactions/:job_id", s.GetJobInteractions)
	authed.POST("/jobs/:job_id/message", s.MessageJob)

	r.GET("/ws/audio/:session_id", s.wsHandler(events.ConnectionKindAudio))
	r.GET("/ws/queue/:session_id", s.wsHandler(events.ConnectionKindQueue))
}

// Health reports process and database liveness.
func (s *Server) Health(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy", "database": "unreachable", "error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "database": "ok"})
}

// InitSession mints a WebSocket session id and pre-binds it to the caller.
func (s *Server) InitSession(c *gin.Context) {
	ident := identity(c)
	sessionID := idgen.TwoWordTag()
	if err := s.manager.RegisterUser(sessionID, ident.UserID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "user_id": ident.UserID})
}

// PushRequest is the body of POST /api/push.
type PushRequest struct {
	Question    string `json:"question"`
	WebsocketID string `json:"websocket_id"`
}

// Push enqueues a job for the authenticated caller.
func (s *Server) Push(c *gin.Context) {
	var req PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, services.NewValidationError("body", err.Error()))
		return
	}
	ident := identity(c)
	job, err := s.scheduler.Enqueue(c.Request.Context(), queue.EnqueueRequest{
		Question:    req.Question,
		WebsocketID: req.WebsocketID,
		UserID:      ident.UserID,
		UserEmail:   ident.Email,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "queued",
		"job_id":       job.IDHash,
		"websocket_id": req.WebsocketID,
		"user_id":      ident.UserID,
	})
}

// GetQueue returns metadata projections from one queue. The user_filter
// query is self (default), "*" for everything, or a specific user id; the
// latter two are admin-only and enforced by the queue layer.
func (s *Server) GetQueue(c *gin.Context) {
	name := c.Param("name")
	ident := identity(c)

	filter := queue.FilterSelf
	target := ""
	switch userFilter := c.Query("user_filter"); userFilter {
	case "", "self":
	case "*":
		filter = queue.FilterAll
	default:
		filter = queue.FilterSpecificUser
		target = userFilter
	}

	jobs, err := s.scheduler.Queues().GetQueue(name,
		queue.Requester{UserID: ident.UserID, IsAdmin: ident.IsAdmin}, filter, target)
	if err != nil {
		abortWithError(c, err)
		return
	}

	filteredBy := ident.UserID
	switch filter {
	case queue.FilterAll:
		filteredBy = "*"
	case queue.FilterSpecificUser:
		filteredBy = target
	}
	c.JSON(http.StatusOK, gin.H{
		fmt.Sprintf("%s_jobs_metadata", name): jobs,
		"filtered_by":                         filteredBy,
		"is_admin_view":                       ident.IsAdmin,
		"total_jobs":                          len(jobs),
	})
}

// ResetQueues clears every queue. Admin-only.
func (s *Server) ResetQueues(c *gin.Context) {
	if !identity(c).IsAdmin {
		abortWithError(c, services.ErrForbidden)
		return
	}
	counts := s.scheduler.Queues().Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset", "cleared": counts})
}

// GetJobInteractions returns a finished job's metadata plus its notification
// history. Dead jobs answer with their stored code-generation failure.
func (s *Server) GetJobInteractions(c *gin.Context) {
	ident := identity(c)
	metadata, notifications, err := s.notifications.Interactions(
		c.Request.Context(), c.Param("job_id"), ident.UserID, ident.IsAdmin)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"job": metadata, "notifications": notifications})
}

// MessageJobRequest is the body of POST /api/jobs/:job_id/message.
type MessageJobRequest struct {
	Message  string `json:"message"`
	Priority string `json:"priority"`
}

// MessageJob delivers a user-initiated message to a running job.
func (s *Server) MessageJob(c *gin.Context) {
	var req MessageJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, services.NewValidationError("body", err.Error()))
		return
	}

	var priority models.NotificationPriority
	switch req.Priority {
	case "", "normal":
		priority = models.NotificationPriorityMedium
	case "urgent":
		priority = models.NotificationPriorityUrgent
	default:
		abortWithError(c, services.NewValidationError("priority", "must be normal or urgent"))
		return
	}

	ident := identity(c)
	id, err := s.notifications.MessageRunningJob(c.Request.Context(),
		c.Param("job_id"), req.Message, priority, ident.UserID, ident.IsAdmin)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "notification_id": id})
}

// wsHandler upgrades the connection and hands it to the fabric. Session ids
// must be two lowercase words; anything else is closed with policy code
// 1008 after the upgrade so the client sees a proper close frame.
func (s *Server) wsHandler(kind events.ConnectionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")

		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			s.logger.Warn("websocket accept failed", "error", err)
			return
		}
		if !idgen.ValidTwoWord(sessionID) {
			_ = conn.Close(websocket.StatusPolicyViolation, "invalid session id")
			return
		}
		s.manager.HandleConnection(c.Request.Context(), conn, sessionID, kind)
	}
}
