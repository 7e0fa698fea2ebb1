package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"convo-llm/internal/audio"
	"convo-llm/internal/domain"
	"convo-llm/internal/gateway"
	"convo-llm/internal/repository"
)

type machineMode int

const (
	modeUninitialized machineMode = iota
	modeLoading
	modeReady
	modeRecording
	modeFailed
)

var (
	ErrMachineNotConfigured = errors.New("conversation machine not configured")
	ErrEmptyMessage         = errors.New("empty message")
	ErrRecordingInProgress  = errors.New("recording in progress")
	ErrNotRecording         = errors.New("not recording")
	ErrNotReady             = errors.New("conversation not ready")
	ErrQueueFlushInProgress = errors.New("offline queue flush in progress")
	ErrMessageNotFound      = errors.New("message not in current session")
)

const defaultPageSize = 50

// Machine es el state machine de la conversacion: recibe intents de la
// capa de presentacion, valida precondiciones, dispara efectos en los
// colaboradores y emite el ConversationState vigente.
//
// Disciplina single-writer: toda mutacion pasa por mu. Las operaciones
// asincronicas corren fuera del lock y sus completions re-entran como
// eventos bajo el mismo lock.
type Machine struct {
	mu sync.Mutex

	lifecycle *LifecycleManager
	messages  repository.MessageRepository
	gw        gateway.Gateway
	recorder  audio.Recorder
	player    audio.Player
	exporter  Exporter
	logger    *zap.Logger

	mode           machineMode
	session        domain.Session
	msgs           []domain.Message
	inflight       int
	flushing       bool
	isPlayingVoice bool
	isPlayingTTS   bool
	quickSugg      []string
	searchResults  []domain.Message
	language       string
	userCtx        domain.UserContext
	recStart       time.Time
	waveform       []float32
	failMsg        string
	failRetryable  bool
	pendingLoad    string
	loadSeq        uint64
	epoch          uint64

	onState func(domain.ConversationState)
	signals chan domain.Signal
}

func NewMachine(
	lifecycle *LifecycleManager,
	messages repository.MessageRepository,
	gw gateway.Gateway,
	recorder audio.Recorder,
	player audio.Player,
	exporter Exporter,
	logger *zap.Logger,
	language string,
) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = audio.NewDisabledRecorder("")
	}
	if player == nil {
		player = audio.NewNoopPlayer()
	}
	if language == "" {
		language = "en"
	}
	return &Machine{
		lifecycle: lifecycle,
		messages:  messages,
		gw:        gw,
		recorder:  recorder,
		player:    player,
		exporter:  exporter,
		logger:    logger,
		language:  language,
		userCtx:   domain.UserContext{Language: language},
		signals:   make(chan domain.Signal, 16),
	}
}

// SetListener registra el callback de estados. Se invoca fuera del lock
// interno, asi que el listener puede despachar nuevos intents.
func (m *Machine) SetListener(fn func(domain.ConversationState)) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// Signals entrega las notificaciones one-shot; cada una llega a lo sumo
// una vez y no se repite al re-renderizar estado.
func (m *Machine) Signals() <-chan domain.Signal {
	return m.signals
}

// State devuelve la variante activa.
func (m *Machine) State() domain.ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Machine) stateLocked() domain.ConversationState {
	switch m.mode {
	case modeLoading:
		return domain.Loading{SessionID: m.pendingLoad}
	case modeReady:
		return domain.Ready{
			Messages:         snapshotMessages(m.msgs),
			IsTyping:         m.inflight > 0,
			IsRecording:      false,
			IsPlayingVoice:   m.isPlayingVoice,
			IsPlayingTTS:     m.isPlayingTTS,
			QuickSuggestions: append([]string(nil), m.quickSugg...),
			SearchResults:    snapshotMessages(m.searchResults),
			Language:         m.language,
		}
	case modeRecording:
		return domain.Recording{
			IsRecording: true,
			Elapsed:     time.Since(m.recStart),
			Waveform:    append([]float32(nil), m.waveform...),
		}
	case modeFailed:
		return domain.Failed{Message: m.failMsg, Retryable: m.failRetryable}
	default:
		return domain.Uninitialized{}
	}
}

func snapshotMessages(in []domain.Message) []domain.Message {
	if in == nil {
		return nil
	}
	out := make([]domain.Message, len(in))
	copy(out, in)
	return out
}

// publish emite el estado actual al listener, fuera del lock.
func (m *Machine) publish() {
	m.mu.Lock()
	fn := m.onState
	st := m.stateLocked()
	m.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (m *Machine) signal(sig domain.Signal) {
	select {
	case m.signals <- sig:
	default:
		m.logger.Warn("signal dropped", zap.Any("signal", sig))
	}
}

// LoadSession cambia a la sesion indicada. El switch es atomico: o entra
// completo (id nuevo + mensajes cargados) o la sesion previa sigue activa.
// Ante cargas concurrentes gana el ultimo LoadSession; los arribos de
// cargas anteriores se descartan.
func (m *Machine) LoadSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	m.loadSeq++
	seq := m.loadSeq
	m.mode = modeLoading
	m.pendingLoad = sessionID
	m.mu.Unlock()
	m.publish()

	go func() {
		session, msgs, err := m.lifecycle.PrepareSwitch(ctx, sessionID, defaultPageSize)

		m.mu.Lock()
		if seq != m.loadSeq {
			// Otra carga gano mientras tanto; este resultado es obsoleto.
			m.mu.Unlock()
			m.logger.Info("stale session load discarded", zap.String("session_id", sessionID))
			return
		}
		if err != nil {
			m.mode = modeFailed
			m.failMsg = err.Error()
			m.failRetryable = errors.Is(err, ErrSessionNotFound) || domain.IsRetryable(err)
			m.mu.Unlock()
			m.logger.Warn("session load failed", zap.Error(err), zap.String("session_id", sessionID))
			m.publish()
			return
		}
		m.lifecycle.CommitSwitch(ctx, session.ID)
		m.session = session
		// FetchPage devuelve mas-reciente-primero; se renderiza ascendente.
		m.msgs = reverseMessages(msgs)
		m.searchResults = nil
		m.quickSugg = nil
		m.userCtx = domain.UserContext{Language: m.language}
		// La lista previa queda invalidada: completions de envios viejos
		// se descartan al llegar y el indicador de typing se resetea.
		m.epoch++
		m.inflight = 0
		m.mode = modeReady
		m.mu.Unlock()
		m.publish()

		m.refreshSuggestions(ctx, session.ID, seq)
	}()
}

// LoadLastSession retoma la ultima sesion recordada, si existe.
func (m *Machine) LoadLastSession(ctx context.Context) bool {
	last := m.lifecycle.LoadLastSession(ctx)
	if last == "" {
		return false
	}
	m.LoadSession(ctx, last)
	return true
}

// Retry reintenta la carga que dejo al machine en Failed.
func (m *Machine) Retry(ctx context.Context) {
	m.mu.Lock()
	if m.mode != modeFailed || m.pendingLoad == "" {
		m.mu.Unlock()
		return
	}
	sessionID := m.pendingLoad
	m.mu.Unlock()
	m.LoadSession(ctx, sessionID)
}

func reverseMessages(in []domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, msg := range in {
		out[len(in)-1-i] = msg
	}
	return out
}

func (m *Machine) refreshSuggestions(ctx context.Context, sessionID string, seq uint64) {
	sugg, err := m.gw.GetSuggestions(ctx, sessionID)
	if err != nil {
		m.logger.Warn("get suggestions failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	if seq != m.loadSeq || m.session.ID != sessionID {
		m.mu.Unlock()
		return
	}
	m.quickSugg = sugg.Suggestions
	m.mu.Unlock()
	m.publish()
}

// SendMessage agrega el mensaje del usuario de forma optimista (status
// pending) y dispara el envio asincronico. El texto vacio y el envio
// durante grabacion o flush de cola se rechazan sin efectos.
func (m *Machine) SendMessage(ctx context.Context, text string) (domain.Message, error) {
	return m.send(ctx, strings.TrimSpace(text), "")
}

func (m *Machine) send(ctx context.Context, text, audioPath string) (domain.Message, error) {
	if m == nil || m.lifecycle == nil || m.gw == nil {
		return domain.Message{}, ErrMachineNotConfigured
	}
	if text == "" && audioPath == "" {
		return domain.Message{}, domain.NewFailure(domain.FailureValidation, ErrEmptyMessage)
	}

	m.mu.Lock()
	if m.mode == modeRecording {
		m.mu.Unlock()
		return domain.Message{}, domain.NewFailure(domain.FailureValidation, ErrRecordingInProgress)
	}
	if m.flushing {
		m.mu.Unlock()
		return domain.Message{}, domain.NewFailure(domain.FailureValidation, ErrQueueFlushInProgress)
	}

	sessionID, lazy, err := m.lifecycle.AcquireForSend()
	if err != nil {
		m.mu.Unlock()
		return domain.Message{}, domain.NewFailure(domain.FailureValidation, err)
	}

	userMsg := domain.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		Sender:    domain.SenderUser,
		Timestamp: time.Now().UTC(),
		Status:    domain.StatusPending,
		AudioPath: audioPath,
	}
	m.msgs = append(m.msgs, userMsg)
	m.inflight++
	m.mode = modeReady
	userCtx := m.userCtx
	epoch := m.epoch
	m.mu.Unlock()
	m.publish()

	go m.completeSend(userMsg, sessionID, lazy, userCtx, epoch)

	return userMsg, nil
}

// completeSend es el evento de completacion del envio: reconcilia la
// entrada optimista con la confirmacion (o falla) del backend.
func (m *Machine) completeSend(userMsg domain.Message, sessionID string, lazy bool, userCtx domain.UserContext, epoch uint64) {
	// El envio no se cancela; una falla solo degrada ese mensaje.
	ctx := context.Background()

	result, err := m.gw.Send(ctx, sessionID, userMsg.Text, userCtx)
	if err != nil {
		m.applySendFailure(ctx, userMsg, lazy, err, epoch)
		return
	}

	if lazy {
		created := domain.Session{
			ID:             result.SessionID,
			CreatedAt:      userMsg.Timestamp,
			LastActivityAt: userMsg.Timestamp,
		}
		// Si un switch explicito gano mientras el envio estaba en vuelo,
		// la sesion comprometida sigue vigente y la adopcion se omite.
		if m.lifecycle.AdoptLazySession(ctx, created) {
			m.mu.Lock()
			if m.epoch == epoch && m.session.ID == "" {
				m.session = created
			}
			m.mu.Unlock()
		}
	}

	userMsg.SessionID = result.SessionID
	userMsg.Status = domain.StatusSent
	confirmed := m.persist(ctx, userMsg)
	reply := result.AssistantReply
	reply.SessionID = result.SessionID
	reply = m.persist(ctx, reply)

	m.mu.Lock()
	if m.epoch != epoch {
		// La lista fue invalidada por un switch; el intercambio quedo
		// persistido pero no toca la vista de la sesion nueva.
		m.mu.Unlock()
		m.logger.Info("stale send completion discarded", zap.String("message_id", userMsg.ID))
		return
	}
	if idx := indexOfMessage(m.msgs, userMsg.ID); idx >= 0 {
		m.msgs[idx] = confirmed
	}
	m.msgs = append(m.msgs, reply)
	if len(result.Suggestions) > 0 {
		m.quickSugg = result.Suggestions
	}
	m.inflight--
	m.mu.Unlock()
	m.publish()
}

func (m *Machine) applySendFailure(ctx context.Context, userMsg domain.Message, lazy bool, sendErr error, epoch uint64) {
	if lazy {
		m.lifecycle.AbortCreation()
	}
	userMsg.Status = domain.StatusFailed

	queued := false
	if domain.IsRetryable(sendErr) {
		entry := domain.OfflineQueueEntry{
			Message:   userMsg,
			Attempts:  1,
			LastError: sendErr.Error(),
		}
		if err := m.lifecycle.Queue().Enqueue(ctx, entry); err != nil {
			m.logger.Warn("offline enqueue failed", zap.Error(err))
		} else {
			queued = true
		}
	}
	m.logger.Warn("send failed",
		zap.Error(sendErr),
		zap.String("message_id", userMsg.ID),
		zap.Bool("queued", queued),
	)

	m.mu.Lock()
	if m.epoch != epoch {
		// La vista ya pertenece a otra sesion; el mensaje siguio a la
		// cola offline si era reintentable, la lista no se toca.
		m.mu.Unlock()
		return
	}
	if idx := indexOfMessage(m.msgs, userMsg.ID); idx >= 0 {
		// El mensaje fallido queda en la lista con su status degradado;
		// nunca se remueve en silencio.
		m.msgs[idx].Status = domain.StatusFailed
	}
	m.inflight--
	m.mu.Unlock()
	m.publish()
}

// persist escribe write-through y devuelve el mensaje confirmado. Una
// falla local de persistencia no es fatal: se loguea y se sigue con la
// version optimista.
func (m *Machine) persist(ctx context.Context, msg domain.Message) domain.Message {
	if m.messages == nil {
		return msg
	}
	confirmed, err := m.messages.Append(ctx, msg)
	if err != nil {
		m.logger.Warn("persist message failed", zap.Error(err), zap.String("message_id", msg.ID))
		return msg
	}
	m.lifecycle.RecordActivity(ctx, msg.SessionID, confirmed.Timestamp)
	return confirmed
}

func indexOfMessage(msgs []domain.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// StartRecording inicia captura de voz; excluye la entrada de texto.
func (m *Machine) StartRecording(ctx context.Context) error {
	m.mu.Lock()
	if m.mode != modeReady {
		m.mu.Unlock()
		return domain.NewFailure(domain.FailureValidation, ErrNotReady)
	}
	m.mu.Unlock()

	if err := m.recorder.StartRecording(ctx); err != nil {
		m.logger.Warn("start recording failed", zap.Error(err))
		return err
	}

	m.mu.Lock()
	m.mode = modeRecording
	m.recStart = time.Now()
	m.waveform = nil
	m.mu.Unlock()
	m.publish()
	return nil
}

// StopRecording finaliza la captura. El handle del microfono se libera en
// todos los caminos de salida: el machine vuelve a Ready aunque el
// recorder falle. Con autoSend, el audio sale como mensaje de voz.
func (m *Machine) StopRecording(ctx context.Context, autoSend bool) (audio.Handle, error) {
	m.mu.Lock()
	if m.mode != modeRecording {
		m.mu.Unlock()
		return audio.Handle{}, domain.NewFailure(domain.FailureValidation, ErrNotRecording)
	}
	m.mode = modeReady
	m.waveform = nil
	m.mu.Unlock()

	handle, err := m.recorder.StopRecording(ctx)
	if err != nil {
		m.logger.Warn("stop recording failed", zap.Error(err))
		m.publish()
		return audio.Handle{}, err
	}
	m.publish()

	if autoSend && handle.Path != "" {
		if _, err := m.send(ctx, "", handle.Path); err != nil {
			return handle, err
		}
	}
	return handle, nil
}

// AppendWaveform agrega metadata de forma de onda durante la grabacion.
func (m *Machine) AppendWaveform(samples []float32) {
	m.mu.Lock()
	if m.mode != modeRecording {
		m.mu.Unlock()
		return
	}
	m.waveform = append(m.waveform, samples...)
	m.mu.Unlock()
	m.publish()
}

// PlayVoice reproduce el audio de un mensaje de voz.
func (m *Machine) PlayVoice(ctx context.Context, path string) error {
	if err := m.player.Play(ctx, path); err != nil {
		return err
	}
	m.mu.Lock()
	m.isPlayingVoice = true
	m.mu.Unlock()
	m.publish()
	return nil
}

// PlayTTS lee un texto con el motor de sintesis en el idioma actual.
func (m *Machine) PlayTTS(ctx context.Context, text string) error {
	m.mu.Lock()
	language := m.language
	m.mu.Unlock()
	if err := m.player.PlayText(ctx, text, language); err != nil {
		return err
	}
	m.mu.Lock()
	m.isPlayingTTS = true
	m.mu.Unlock()
	m.publish()
	return nil
}

// StopPlayback detiene voz y TTS.
func (m *Machine) StopPlayback(ctx context.Context) error {
	err := m.player.Stop(ctx)
	m.mu.Lock()
	m.isPlayingVoice = false
	m.isPlayingTTS = false
	m.mu.Unlock()
	m.publish()
	return err
}

// SearchMessages filtra mensajes de la sesion actual y puebla
// searchResults en Ready. Si hay gateway de embeddings y repo semantico
// disponibles el caller puede preferir SemanticSearch por fuera.
func (m *Machine) SearchMessages(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	m.mu.Lock()
	if m.mode != modeReady {
		m.mu.Unlock()
		return domain.NewFailure(domain.FailureValidation, ErrNotReady)
	}
	sessionID := m.session.ID
	m.mu.Unlock()

	if query == "" {
		m.ClearSearch()
		return nil
	}

	var (
		results []domain.Message
		err     error
	)
	if m.messages != nil && sessionID != "" {
		results, err = m.messages.Search(ctx, sessionID, query, defaultPageSize)
		if err != nil {
			m.logger.Warn("message search failed", zap.Error(err))
			return err
		}
	} else {
		// Sesion sin persistir: filtrado local.
		m.mu.Lock()
		for _, msg := range m.msgs {
			if strings.Contains(strings.ToLower(msg.Text), strings.ToLower(query)) {
				results = append(results, msg)
			}
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	if m.mode == modeReady {
		m.searchResults = results
	}
	m.mu.Unlock()
	m.publish()
	return nil
}

// ClearSearch descarta los resultados de busqueda.
func (m *Machine) ClearSearch() {
	m.mu.Lock()
	m.searchResults = nil
	m.mu.Unlock()
	m.publish()
}

// ToggleFavorite invierte la marca de favorito de un mensaje existente.
func (m *Machine) ToggleFavorite(ctx context.Context, messageID string) error {
	return m.setFlag(ctx, messageID, func(msg *domain.Message) (bool, func(context.Context, string, bool) error) {
		msg.Favorite = !msg.Favorite
		if m.messages == nil {
			return msg.Favorite, nil
		}
		return msg.Favorite, m.messages.SetFavorite
	})
}

// SaveAsFaq marca un mensaje como guardado en FAQ.
func (m *Machine) SaveAsFaq(ctx context.Context, messageID string) error {
	return m.setFlag(ctx, messageID, func(msg *domain.Message) (bool, func(context.Context, string, bool) error) {
		msg.SavedAsFaq = true
		if m.messages == nil {
			return true, nil
		}
		return true, m.messages.SetFaq
	})
}

func (m *Machine) setFlag(ctx context.Context, messageID string, mutate func(*domain.Message) (bool, func(context.Context, string, bool) error)) error {
	m.mu.Lock()
	idx := indexOfMessage(m.msgs, messageID)
	if idx < 0 {
		m.mu.Unlock()
		return domain.NewFailure(domain.FailureNotFound, ErrMessageNotFound)
	}
	value, persistFn := mutate(&m.msgs[idx])
	m.mu.Unlock()

	if persistFn != nil {
		if err := persistFn(ctx, messageID, value); err != nil {
			m.logger.Warn("persist message flag failed", zap.Error(err), zap.String("message_id", messageID))
		}
	}
	m.publish()
	return nil
}

// ExportHistory serializa la sesion actual. El estado no cambia; el
// resultado llega como signal ExportSuccess one-shot.
func (m *Machine) ExportHistory(ctx context.Context) error {
	if m.exporter == nil {
		return ErrExporterNotConfigured
	}
	m.mu.Lock()
	if m.mode != modeReady {
		m.mu.Unlock()
		return domain.NewFailure(domain.FailureValidation, ErrNotReady)
	}
	session := m.session
	msgs := snapshotMessages(m.msgs)
	m.mu.Unlock()

	path, err := m.exporter.Export(ctx, session, msgs)
	if err != nil {
		m.logger.Error("export failed", zap.Error(err))
		return err
	}
	m.signal(domain.ExportSuccess{Path: path})
	return nil
}

// ProcessOfflineQueue reenvia los envios encolados en orden FIFO, de a
// uno, y corta en la primera entrada que sigue fallando para no reordenar
// el historial visible por el backend. Durante el flush los envios nuevos
// se rechazan.
func (m *Machine) ProcessOfflineQueue(ctx context.Context) (int, error) {
	m.mu.Lock()
	if m.flushing {
		m.mu.Unlock()
		return 0, ErrQueueFlushInProgress
	}
	m.flushing = true
	userCtx := m.userCtx
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.flushing = false
		m.mu.Unlock()
		m.publish()
	}()

	queue := m.lifecycle.Queue()
	processed := 0
	for {
		entry, err := queue.Peek(ctx)
		if errors.Is(err, ErrQueueEmpty) {
			break
		}
		if err != nil {
			m.signal(domain.OfflineQueueProcessed{Count: processed})
			return processed, fmt.Errorf("peek offline queue: %w", err)
		}

		sessionID := entry.Message.SessionID
		if sessionID == "" {
			sessionID = m.lifecycle.CurrentSessionID()
		}
		result, err := m.gw.Send(ctx, sessionID, entry.Message.Text, userCtx)
		if err != nil {
			// Head-of-line: no se saltea; la cabeza conserva su turno.
			entry.Attempts++
			entry.LastError = err.Error()
			if uerr := queue.UpdateHead(ctx, entry); uerr != nil {
				m.logger.Warn("update queue head failed", zap.Error(uerr))
			}
			m.logger.Warn("offline flush stopped",
				zap.Error(err),
				zap.String("message_id", entry.Message.ID),
				zap.Int("attempts", entry.Attempts),
			)
			break
		}

		if m.lifecycle.CurrentSessionID() == "" {
			m.lifecycle.AdoptSession(ctx, domain.Session{
				ID:             result.SessionID,
				CreatedAt:      entry.Message.Timestamp,
				LastActivityAt: entry.Message.Timestamp,
			})
		}
		if err := queue.Dequeue(ctx); err != nil {
			m.logger.Warn("dequeue offline entry failed", zap.Error(err))
			break
		}

		sent := entry.Message
		sent.SessionID = result.SessionID
		sent.Status = domain.StatusSent
		sent = m.persist(ctx, sent)
		reply := result.AssistantReply
		reply.SessionID = result.SessionID
		reply = m.persist(ctx, reply)

		m.mu.Lock()
		if idx := indexOfMessage(m.msgs, entry.Message.ID); idx >= 0 {
			m.msgs[idx] = sent
		}
		if m.session.ID == result.SessionID || m.session.ID == "" {
			m.msgs = append(m.msgs, reply)
		}
		m.mu.Unlock()
		processed++
	}

	m.signal(domain.OfflineQueueProcessed{Count: processed})
	return processed, nil
}

// ClearChat vacia los mensajes en memoria y pide el clear al backend de
// forma best-effort; la politica de borrado del historial remoto es del
// contrato del gateway.
func (m *Machine) ClearChat(ctx context.Context) error {
	m.mu.Lock()
	if m.mode != modeReady {
		m.mu.Unlock()
		return domain.NewFailure(domain.FailureValidation, ErrNotReady)
	}
	sessionID := m.session.ID
	m.msgs = nil
	m.searchResults = nil
	m.quickSugg = nil
	// Completions de envios anteriores ya no tienen lista que actualizar.
	m.epoch++
	m.inflight = 0
	m.mu.Unlock()

	if sessionID != "" {
		if err := m.gw.ClearSession(ctx, sessionID); err != nil {
			m.logger.Warn("backend clear failed", zap.Error(err), zap.String("session_id", sessionID))
		}
		if m.messages != nil {
			if err := m.messages.DeleteBySession(ctx, sessionID); err != nil {
				m.logger.Warn("local clear failed", zap.Error(err), zap.String("session_id", sessionID))
			}
		}
	}
	m.publish()
	return nil
}
