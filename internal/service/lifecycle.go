package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"convo-llm/internal/domain"
	"convo-llm/internal/gateway"
	"convo-llm/internal/repository"
)

const lastSessionKey = "last_session_id"

var (
	ErrLifecycleNotConfigured = errors.New("lifecycle manager not configured")
	ErrSessionNotFound        = errors.New("session not found")
	ErrCreationInProgress     = errors.New("session creation in progress")
	ErrNoCurrentSession       = errors.New("no current session")
)

// LifecycleManager es el unico dueño del puntero "sesion actual" y de la
// regla de creacion perezosa: ninguna sesion existe en el backend hasta
// que el primer envio la crea, salvo creacion explicita.
type LifecycleManager struct {
	mu       sync.Mutex
	current  string
	creating bool

	gw       gateway.Gateway
	sessions repository.SessionRepository
	messages repository.MessageRepository
	store    KVStore
	queue    OfflineQueue
	logger   *zap.Logger
}

func NewLifecycleManager(
	gw gateway.Gateway,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	store KVStore,
	queue OfflineQueue,
	logger *zap.Logger,
) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryKVStore()
	}
	if queue == nil {
		queue = NewMemoryOfflineQueue()
	}
	return &LifecycleManager{
		gw:       gw,
		sessions: sessions,
		messages: messages,
		store:    store,
		queue:    queue,
		logger:   logger,
	}
}

// CurrentSessionID devuelve el id actual, o vacio si no hay sesion.
func (m *LifecycleManager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Queue expone la cola offline, que pertenece al lifecycle hasta que cada
// entrada se envia o se abandona.
func (m *LifecycleManager) Queue() OfflineQueue {
	return m.queue
}

// AcquireForSend resuelve la sesion para un envio. Si hay sesion actual la
// devuelve sin tocar el backend. Si no hay, habilita la creacion perezosa:
// el propio send del gateway emite el id nuevo. Un segundo envio mientras
// la creacion esta en vuelo se rechaza: la primera llamada gana.
func (m *LifecycleManager) AcquireForSend() (sessionID string, lazyCreate bool, err error) {
	if m == nil {
		return "", false, ErrLifecycleNotConfigured
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != "" {
		return m.current, false, nil
	}
	if m.creating {
		return "", false, ErrCreationInProgress
	}
	m.creating = true
	return "", true, nil
}

// AdoptSession registra la sesion emitida por el backend, la hace actual
// y persiste el puntero de conveniencia.
func (m *LifecycleManager) AdoptSession(ctx context.Context, session domain.Session) {
	m.mu.Lock()
	m.current = session.ID
	m.creating = false
	m.mu.Unlock()

	m.persistAdopted(ctx, session)
	m.PersistLastSession(ctx, session.ID)
}

// AdoptLazySession confirma una creacion perezosa solo si el guard sigue
// tomado: si un CommitSwitch gano mientras el envio estaba en vuelo, el
// switch conserva la sesion actual y la adopcion se reduce a persistir la
// metadata emitida por el backend.
func (m *LifecycleManager) AdoptLazySession(ctx context.Context, session domain.Session) bool {
	m.mu.Lock()
	adopted := m.creating
	if adopted {
		m.current = session.ID
		m.creating = false
	}
	m.mu.Unlock()

	m.persistAdopted(ctx, session)
	if adopted {
		m.PersistLastSession(ctx, session.ID)
	}
	return adopted
}

func (m *LifecycleManager) persistAdopted(ctx context.Context, session domain.Session) {
	if session.LastActivityAt.IsZero() {
		session.LastActivityAt = session.CreatedAt
	}
	if m.sessions != nil {
		if err := m.sessions.Create(ctx, session); err != nil {
			m.logger.Warn("persist adopted session failed", zap.Error(err), zap.String("session_id", session.ID))
		}
	}
}

// AbortCreation libera el guard de creacion perezosa tras un envio fallido.
func (m *LifecycleManager) AbortCreation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creating = false
}

// PrepareSwitch trae metadata y mensajes de la sesion destino sin mutar
// nada: si algo falla, la sesion actual sigue activa. El commit queda en
// manos del state machine, que descarta cargas obsoletas.
func (m *LifecycleManager) PrepareSwitch(ctx context.Context, sessionID string, pageSize int) (domain.Session, []domain.Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Session{}, nil, ErrSessionNotFound
	}

	session, err := m.gw.GetSession(ctx, sessionID)
	if err != nil {
		if domain.KindOf(err) == domain.FailureNotFound {
			return domain.Session{}, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return domain.Session{}, nil, fmt.Errorf("fetch session: %w", err)
	}

	var messages []domain.Message
	if m.sessions != nil {
		// La sesion puede no existir localmente si se creo en otro dispositivo.
		if _, localErr := m.sessions.GetByID(ctx, sessionID); localErr != nil {
			if err := m.sessions.Create(ctx, session); err != nil {
				m.logger.Warn("persist switched session failed", zap.Error(err))
			}
		}
	}
	if m.messages != nil {
		messages, err = m.messages.FetchPage(ctx, sessionID, pageSize, nil)
		if err != nil {
			return domain.Session{}, nil, fmt.Errorf("load messages: %w", err)
		}
	}
	return session, messages, nil
}

// CommitSwitch hace actual la sesion preparada y persiste el puntero.
func (m *LifecycleManager) CommitSwitch(ctx context.Context, sessionID string) {
	m.mu.Lock()
	m.current = sessionID
	m.creating = false
	m.mu.Unlock()
	m.PersistLastSession(ctx, sessionID)
}

// CreateExplicitly crea una sesion en el backend de forma inmediata (el
// camino eager de la accion "nueva conversacion"). No reintenta.
func (m *LifecycleManager) CreateExplicitly(ctx context.Context, title string) (domain.Session, error) {
	if m == nil || m.gw == nil {
		return domain.Session{}, ErrLifecycleNotConfigured
	}
	session, err := m.gw.CreateSession(ctx, title)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	m.AdoptSession(ctx, session)
	return session, nil
}

// RecordActivity registra un mensaje persistido: incrementa el contador y
// actualiza la marca de ultima actividad. Best-effort.
func (m *LifecycleManager) RecordActivity(ctx context.Context, sessionID string, at time.Time) {
	if m.sessions == nil || sessionID == "" {
		return
	}
	if err := m.sessions.Touch(ctx, sessionID, at); err != nil {
		m.logger.Warn("touch session failed", zap.Error(err), zap.String("session_id", sessionID))
	}
}

// PersistLastSession es best-effort: recordar la ultima sesion es una
// conveniencia, no un requisito de correctitud.
func (m *LifecycleManager) PersistLastSession(ctx context.Context, sessionID string) {
	if m.store == nil || sessionID == "" {
		return
	}
	if err := m.store.Set(ctx, lastSessionKey, sessionID); err != nil {
		m.logger.Warn("persist last session failed", zap.Error(err))
	}
}

// LoadLastSession devuelve el puntero guardado, o vacio si no hay o fallo.
func (m *LifecycleManager) LoadLastSession(ctx context.Context) string {
	if m.store == nil {
		return ""
	}
	value, ok, err := m.store.Get(ctx, lastSessionKey)
	if err != nil {
		m.logger.Warn("load last session failed", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return value
}

// Reset limpia el puntero actual, por ejemplo tras un clear explicito.
func (m *LifecycleManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
	m.creating = false
}
