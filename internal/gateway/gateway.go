package gateway

import (
	"context"

	"convo-llm/internal/domain"
)

// SendResult es la respuesta del backend a un envio. Si el envio creo la
// sesion de forma perezosa, SessionID trae el id recien emitido.
type SendResult struct {
	SessionID      string
	AssistantReply domain.Message
	Suggestions    []string
}

// Gateway es la frontera RPC hacia el servicio de asistente. Todas las
// operaciones son falibles con una domain.Failure clasificada.
type Gateway interface {
	Send(ctx context.Context, sessionID string, text string, userCtx domain.UserContext) (SendResult, error)
	CreateSession(ctx context.Context, title string) (domain.Session, error)
	GetSession(ctx context.Context, id string) (domain.Session, error)
	ListSessions(ctx context.Context, limit int) ([]domain.Session, error)
	GetSuggestions(ctx context.Context, sessionID string) (domain.PersonalizedSuggestions, error)
	ClearSession(ctx context.Context, sessionID string) error
	Embed(ctx context.Context, text string) ([]float32, error)
}
