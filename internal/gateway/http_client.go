package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"convo-llm/internal/domain"
)

// HTTPGateway implementa Gateway contra la API HTTP del asistente.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPGateway construye un gateway apuntando a la API del asistente.
func NewHTTPGateway(baseURL, apiKey string, logger *zap.Logger) *HTTPGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type sendRequest struct {
	SessionID string             `json:"session_id,omitempty"`
	Text      string             `json:"text"`
	Context   domain.UserContext `json:"context"`
}

type sendResponse struct {
	SessionID string         `json:"session_id"`
	Reply     domain.Message `json:"reply"`
	Sugg      []string       `json:"suggestions,omitempty"`
}

func (g *HTTPGateway) Send(ctx context.Context, sessionID, text string, userCtx domain.UserContext) (SendResult, error) {
	var out sendResponse
	err := g.post(ctx, "/v1/chat/send", sendRequest{SessionID: sessionID, Text: text, Context: userCtx}, &out)
	if err != nil {
		return SendResult{}, err
	}
	if out.Reply.Sender == "" {
		out.Reply.Sender = domain.SenderAssistant
	}
	out.Reply.Status = domain.StatusSent
	out.Reply.SessionID = out.SessionID
	return SendResult{SessionID: out.SessionID, AssistantReply: out.Reply, Suggestions: out.Sugg}, nil
}

func (g *HTTPGateway) CreateSession(ctx context.Context, title string) (domain.Session, error) {
	var out domain.Session
	err := g.post(ctx, "/v1/sessions", map[string]string{"title": title}, &out)
	return out, err
}

func (g *HTTPGateway) GetSession(ctx context.Context, id string) (domain.Session, error) {
	var out domain.Session
	err := g.get(ctx, "/v1/sessions/"+id, &out)
	return out, err
}

func (g *HTTPGateway) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var out struct {
		Sessions []domain.Session `json:"sessions"`
	}
	err := g.get(ctx, "/v1/sessions?limit="+strconv.Itoa(limit), &out)
	return out.Sessions, err
}

func (g *HTTPGateway) GetSuggestions(ctx context.Context, sessionID string) (domain.PersonalizedSuggestions, error) {
	var out domain.PersonalizedSuggestions
	err := g.get(ctx, "/v1/sessions/"+sessionID+"/suggestions", &out)
	return out, err
}

func (g *HTTPGateway) ClearSession(ctx context.Context, sessionID string) error {
	return g.post(ctx, "/v1/sessions/"+sessionID+"/clear", struct{}{}, nil)
}

func (g *HTTPGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	err := g.post(ctx, "/v1/embeddings", map[string]string{"input": text}, &out)
	return out.Embedding, err
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return domain.NewFailure(domain.FailureServerRejected, fmt.Errorf("marshal request: %w", err))
	}
	return g.do(ctx, http.MethodPost, path, bytes.NewReader(bodyBytes), out)
}

func (g *HTTPGateway) get(ctx context.Context, path string, out interface{}) error {
	return g.do(ctx, http.MethodGet, path, nil, out)
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return domain.NewFailure(domain.FailureServerRejected, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// Errores de transporte (DNS, conexion, timeout) son de red.
		return domain.NewFailure(domain.FailureNetwork, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewFailure(domain.FailureNetwork, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		g.logger.Warn("assistant api error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return domain.NewFailure(classifyStatus(resp.StatusCode), fmt.Errorf("assistant http error: status=%d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return domain.NewFailure(domain.FailureServerRejected, fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

func classifyStatus(status int) domain.FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.FailureAuth
	case status == http.StatusNotFound:
		return domain.FailureNotFound
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return domain.FailureNetwork
	default:
		return domain.FailureServerRejected
	}
}
