package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"convo-llm/internal/domain"
	"convo-llm/internal/gateway"
	"convo-llm/internal/repository"
	"convo-llm/internal/service"
)

// ChatHandler expone sesiones y mensajes a una capa de presentacion
// remota. Es la superficie sincrona del servidor; el state machine
// embebido vive en los clientes (ver cmd/cli_chat).
type ChatHandler struct {
	logger    *zap.Logger
	lifecycle *service.LifecycleManager
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	search    repository.SearchRepository
	gw        gateway.Gateway
	exporter  service.Exporter
	limiter   service.SendRateLimiter
}

func NewChatHandler(
	logger *zap.Logger,
	lifecycle *service.LifecycleManager,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	search repository.SearchRepository,
	gw gateway.Gateway,
	exporter service.Exporter,
	limiter service.SendRateLimiter,
) *ChatHandler {
	return &ChatHandler{
		logger:    logger,
		lifecycle: lifecycle,
		sessions:  sessions,
		messages:  messages,
		search:    search,
		gw:        gw,
		exporter:  exporter,
		limiter:   limiter,
	}
}

// CreateSession maneja POST /sessions: el camino eager de "nueva
// conversacion".
func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create session request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	session, err := h.lifecycle.CreateExplicitly(c.Request.Context(), req.Title)
	if err != nil {
		h.logger.Error("create session failed", zap.Error(err))
		c.JSON(statusForFailure(err), gin.H{"error": "could not create session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"session": session})
}

// ListSessions maneja GET /sessions.
func (h *ChatHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	sessions, err := h.sessions.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// ListMessages maneja GET /sessions/:id/messages con paginado por cursor.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	sessionID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		before = &t
	}

	messages, err := h.messages.FetchPage(c.Request.Context(), sessionID, limit, before)
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list messages"})
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// PostMessage maneja POST /sessions/:id/messages. Con id "new" aplica la
// regla de creacion perezosa: el send del gateway emite la sesion.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	sessionID := c.Param("id")
	if sessionID == "new" {
		sessionID = ""
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid post message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if h.limiter != nil && !h.limiter.Allow(sessionID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return
	}

	now := time.Now().UTC()
	result, err := h.gw.Send(c.Request.Context(), sessionID, req.Text, domain.UserContext{})
	if err != nil {
		h.logger.Error("assistant send failed", zap.Error(err))
		c.JSON(statusForFailure(err), gin.H{"error": "could not send message"})
		return
	}

	if sessionID == "" {
		h.lifecycle.AdoptSession(c.Request.Context(), domain.Session{
			ID:             result.SessionID,
			CreatedAt:      now,
			LastActivityAt: now,
		})
	}

	userMsg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: result.SessionID,
		Text:      req.Text,
		Sender:    domain.SenderUser,
		Timestamp: now,
		Status:    domain.StatusSent,
	}
	userMsg = h.persist(c, userMsg)

	reply := result.AssistantReply
	reply.SessionID = result.SessionID
	reply = h.persist(c, reply)

	c.JSON(http.StatusCreated, gin.H{
		"session_id":        result.SessionID,
		"user_message":      userMsg,
		"assistant_message": reply,
		"suggestions":       result.Suggestions,
	})
}

func (h *ChatHandler) persist(c *gin.Context, msg domain.Message) domain.Message {
	confirmed, err := h.messages.Append(c.Request.Context(), msg)
	if err != nil {
		h.logger.Warn("persist message failed", zap.Error(err), zap.String("message_id", msg.ID))
		return msg
	}
	h.lifecycle.RecordActivity(c.Request.Context(), msg.SessionID, confirmed.Timestamp)
	return confirmed
}

// SearchMessages maneja GET /sessions/:id/search. Con semantic=true usa
// el indice de embeddings; si no, filtrado por texto.
func (h *ChatHandler) SearchMessages(c *gin.Context) {
	sessionID := c.Param("id")
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var (
		results []domain.Message
		err     error
	)
	if c.Query("semantic") == "true" && h.search != nil {
		var embedding []float32
		embedding, err = h.gw.Embed(c.Request.Context(), query)
		if err == nil {
			results, err = h.search.SemanticSearch(c.Request.Context(), sessionID, embedding, limit)
		}
	} else {
		results, err = h.messages.Search(c.Request.Context(), sessionID, query, limit)
	}
	if err != nil {
		h.logger.Error("search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not search messages"})
		return
	}
	if results == nil {
		results = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// GetSuggestions maneja GET /sessions/:id/suggestions.
func (h *ChatHandler) GetSuggestions(c *gin.Context) {
	sugg, err := h.gw.GetSuggestions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Warn("get suggestions failed", zap.Error(err))
		c.JSON(statusForFailure(err), gin.H{"error": "could not get suggestions"})
		return
	}
	c.JSON(http.StatusOK, sugg)
}

// ExportSession maneja POST /sessions/:id/export.
func (h *ChatHandler) ExportSession(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(statusForFailure(err), gin.H{"error": "session not found"})
		return
	}
	messages, err := h.fetchAllMessages(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("fetch messages for export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not export session"})
		return
	}

	path, err := h.exporter.Export(c.Request.Context(), session, messages)
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not export session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

// fetchAllMessages pagina por cursor hasta agotar el historial y lo
// devuelve en orden cronologico; el repo entrega mas-reciente-primero.
func (h *ChatHandler) fetchAllMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	const pageSize = 200
	var all []domain.Message
	var before *time.Time
	for {
		page, err := h.messages.FetchPage(ctx, sessionID, pageSize, before)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		t := page[len(page)-1].Timestamp
		before = &t
	}
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// ClearSession maneja POST /sessions/:id/clear: limpia local y pide el
// clear remoto best-effort.
func (h *ChatHandler) ClearSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.gw.ClearSession(c.Request.Context(), sessionID); err != nil {
		h.logger.Warn("backend clear failed", zap.Error(err), zap.String("session_id", sessionID))
	}
	if err := h.messages.DeleteBySession(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("local clear failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not clear session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// SetFavorite maneja POST /messages/:id/favorite.
func (h *ChatHandler) SetFavorite(c *gin.Context) {
	var req struct {
		Favorite bool `json:"favorite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.messages.SetFavorite(c.Request.Context(), c.Param("id"), req.Favorite); err != nil {
		h.logger.Error("set favorite failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": req.Favorite})
}

// SaveAsFaq maneja POST /messages/:id/faq.
func (h *ChatHandler) SaveAsFaq(c *gin.Context) {
	if err := h.messages.SetFaq(c.Request.Context(), c.Param("id"), true); err != nil {
		h.logger.Error("save as faq failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved_as_faq": true})
}

func statusForFailure(err error) int {
	switch domain.KindOf(err) {
	case domain.FailureNotFound:
		return http.StatusNotFound
	case domain.FailureAuth:
		return http.StatusUnauthorized
	case domain.FailureNetwork:
		return http.StatusBadGateway
	case domain.FailureValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
