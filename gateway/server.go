package gateway

import (
	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/services"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Server exposes the websocket gateway and the conversation management endpoints.
// Long-lived sessions are bound to ctx, not to the request: a hijacked
// connection outlives http.Server.Shutdown otherwise.
type Server struct {
	ctx      context.Context
	log      *slog.Logger
	service  services.IChatService
	config   Config
	upgrader websocket.Upgrader
	engine   *gin.Engine
}

type openDirectRequest struct {
	Peer domain.Identity `json:"peer" binding:"required"`
}

type createGroupRequest struct {
	Title        string            `json:"title"`
	Participants []domain.Identity `json:"participants" binding:"required,min=1"`
}

type addParticipantRequest struct {
	Identity domain.Identity `json:"identity" binding:"required"`
}

func NewServer(ctx context.Context, log *slog.Logger, service services.IChatService, verifier *auth.Verifier, config Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		ctx:     ctx,
		log:     log,
		service: service,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.health)

	api := s.engine.Group("/", auth.Middleware(verifier))
	api.GET("/ws", s.handleWS)
	api.GET("/messages", s.messages)
	api.GET("/conversations", s.listConversations)
	api.POST("/conversations/direct", s.openDirect)
	api.POST("/conversations/group", s.createGroup)
	api.POST("/conversations/:id/participants", s.addParticipant)
	api.POST("/conversations/:id/hide", s.hide)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleWS(c *gin.Context) {
	identity := auth.IdentityFrom(c)
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the client
		s.log.Debug("Websocket upgrade failed", "identity", identity, "error", err)
		return
	}
	session := s.service.NewSession(identity)
	newConnection(s.log, s.service, ws, session, s.config).run(s.ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "stats": s.service.Stats()})
}

func (s *Server) messages(c *gin.Context) {
	sinceID, err := queryUint(c, "sinceId")
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := queryUint(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}
	conversationID := domain.ConversationID(c.Query("conversationId"))
	result, err := s.service.Reconcile(auth.IdentityFrom(c), conversationID, sinceID, int(limit))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listConversations(c *gin.Context) {
	conversations, err := s.service.ListConversations(auth.IdentityFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

func (s *Server) openDirect(c *gin.Context) {
	var req openDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err))
		return
	}
	conv, created, err := s.service.OpenDirect(auth.IdentityFrom(c), req.Peer)
	if err != nil {
		fail(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

func (s *Server) createGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err))
		return
	}
	conv, err := s.service.CreateGroup(auth.IdentityFrom(c), req.Title, req.Participants)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) addParticipant(c *gin.Context) {
	var req addParticipantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errors.ErrInvalidCommand, err))
		return
	}
	conv, err := s.service.AddParticipant(auth.IdentityFrom(c), domain.ConversationID(c.Param("id")), req.Identity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) hide(c *gin.Context) {
	if err := s.service.Hide(auth.IdentityFrom(c), domain.ConversationID(c.Param("id"))); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryUint(c *gin.Context, key string) (uint64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errors.ErrInvalidCommand, key)
	}
	return v, nil
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(errors.MapToHTTPStatus(err), gin.H{"code": errors.Code(err), "error": err.Error()})
}
