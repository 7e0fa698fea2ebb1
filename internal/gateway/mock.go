package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"convo-llm/internal/domain"
)

// MockGateway permite tests y corridas locales sin backend real. Los
// campos Err* fuerzan fallas; SendFn permite control fino por llamada.
type MockGateway struct {
	mu sync.Mutex

	Reply       string
	Sugg        []string
	ErrSend     error
	ErrCreate   error
	ErrGet      error
	ErrList     error
	ErrClear    error
	SendFn      func(sessionID, text string) (SendResult, error)
	SendDelay   time.Duration
	Sessions    map[string]domain.Session
	SendCalls   int
	CreateCalls int
	ClearCalls  int
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		Reply:    "ok",
		Sessions: make(map[string]domain.Session),
	}
}

func (m *MockGateway) Send(_ context.Context, sessionID, text string, _ domain.UserContext) (SendResult, error) {
	m.mu.Lock()
	m.SendCalls++
	fn := m.SendFn
	errSend := m.ErrSend
	reply := m.Reply
	sugg := m.Sugg
	delay := m.SendDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(sessionID, text)
	}
	if errSend != nil {
		return SendResult{}, errSend
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" {
		sessionID = uuid.NewString()
		m.Sessions[sessionID] = domain.Session{ID: sessionID, CreatedAt: time.Now().UTC()}
	}
	return SendResult{
		SessionID: sessionID,
		AssistantReply: domain.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Text:      reply,
			Sender:    domain.SenderAssistant,
			Timestamp: time.Now().UTC(),
			Status:    domain.StatusSent,
		},
		Suggestions: sugg,
	}, nil
}

func (m *MockGateway) CreateSession(_ context.Context, title string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.ErrCreate != nil {
		return domain.Session{}, m.ErrCreate
	}
	s := domain.Session{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	m.Sessions[s.ID] = s
	return s, nil
}

func (m *MockGateway) GetSession(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrGet != nil {
		return domain.Session{}, m.ErrGet
	}
	s, ok := m.Sessions[id]
	if !ok {
		return domain.Session{}, domain.NewFailure(domain.FailureNotFound, nil)
	}
	return s, nil
}

func (m *MockGateway) ListSessions(_ context.Context, limit int) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ErrList != nil {
		return nil, m.ErrList
	}
	out := make([]domain.Session, 0, len(m.Sessions))
	for _, s := range m.Sessions {
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MockGateway) GetSuggestions(_ context.Context, sessionID string) (domain.PersonalizedSuggestions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.PersonalizedSuggestions{SessionID: sessionID, Suggestions: m.Sugg}, nil
}

func (m *MockGateway) ClearSession(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCalls++
	return m.ErrClear
}

func (m *MockGateway) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}
