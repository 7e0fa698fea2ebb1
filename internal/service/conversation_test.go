package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"convo-llm/internal/audio"
	"convo-llm/internal/domain"
	"convo-llm/internal/gateway"
)

// stubGateway permite controlar cada operacion por test.
type stubGateway struct {
	mu           sync.Mutex
	sendFn       func(sessionID, text string) (gateway.SendResult, error)
	getSessionFn func(id string) (domain.Session, error)
	suggestions  []string
	sendCalls    int
	clearCalls   int
}

func okSend(sessionID, text string) (gateway.SendResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return gateway.SendResult{
		SessionID: sessionID,
		AssistantReply: domain.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Text:      "reply to " + text,
			Sender:    domain.SenderAssistant,
			Timestamp: time.Now().UTC(),
			Status:    domain.StatusSent,
		},
	}, nil
}

func (g *stubGateway) Send(_ context.Context, sessionID, text string, _ domain.UserContext) (gateway.SendResult, error) {
	g.mu.Lock()
	g.sendCalls++
	fn := g.sendFn
	g.mu.Unlock()
	if fn != nil {
		return fn(sessionID, text)
	}
	return okSend(sessionID, text)
}

func (g *stubGateway) CreateSession(_ context.Context, title string) (domain.Session, error) {
	return domain.Session{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}, nil
}

func (g *stubGateway) GetSession(_ context.Context, id string) (domain.Session, error) {
	g.mu.Lock()
	fn := g.getSessionFn
	g.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return domain.Session{ID: id, CreatedAt: time.Now().UTC()}, nil
}

func (g *stubGateway) ListSessions(_ context.Context, _ int) ([]domain.Session, error) {
	return nil, nil
}

func (g *stubGateway) GetSuggestions(_ context.Context, sessionID string) (domain.PersonalizedSuggestions, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.PersonalizedSuggestions{SessionID: sessionID, Suggestions: g.suggestions}, nil
}

func (g *stubGateway) ClearSession(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearCalls++
	return nil
}

func (g *stubGateway) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

type fakeRecorder struct {
	startErr   error
	stopErr    error
	stopHandle audio.Handle
	stopCalls  int
}

func (r *fakeRecorder) StartRecording(_ context.Context) error { return r.startErr }

func (r *fakeRecorder) StopRecording(_ context.Context) (audio.Handle, error) {
	r.stopCalls++
	return r.stopHandle, r.stopErr
}

type fakeExporter struct {
	path string
	err  error
}

func (e *fakeExporter) Export(_ context.Context, _ domain.Session, _ []domain.Message) (string, error) {
	return e.path, e.err
}

func newTestMachine(gw gateway.Gateway) (*Machine, *LifecycleManager) {
	lifecycle := NewLifecycleManager(gw, nil, nil, NewMemoryKVStore(), NewMemoryOfflineQueue(), nil)
	machine := NewMachine(lifecycle, nil, gw, &fakeRecorder{}, nil, &fakeExporter{path: "/tmp/out.json"}, nil, "en")
	return machine, lifecycle
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func readyState(t *testing.T, m *Machine) domain.Ready {
	t.Helper()
	st, ok := m.State().(domain.Ready)
	if !ok {
		t.Fatalf("expected Ready state, got %T", m.State())
	}
	return st
}

func netFailure() error {
	return domain.NewFailure(domain.FailureNetwork, errors.New("connection refused"))
}

func TestSendMessage_OptimisticThenConfirmed(t *testing.T) {
	gw := &stubGateway{}
	machine, lifecycle := newTestMachine(gw)

	msg, err := machine.SendMessage(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	st := readyState(t, machine)
	if len(st.Messages) != 1 {
		t.Fatalf("expected 1 optimistic message, got %d", len(st.Messages))
	}
	if st.Messages[0].Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", st.Messages[0].Status)
	}
	if st.Messages[0].ID != msg.ID {
		t.Fatalf("expected returned message in state")
	}

	waitFor(t, time.Second, func() bool {
		st := readyState(t, machine)
		return len(st.Messages) == 2 && st.Messages[0].Status == domain.StatusSent
	})

	st = readyState(t, machine)
	if st.Messages[0].Sender != domain.SenderUser || st.Messages[1].Sender != domain.SenderAssistant {
		t.Fatalf("expected user then assistant, got %s then %s", st.Messages[0].Sender, st.Messages[1].Sender)
	}
	if lifecycle.CurrentSessionID() == "" {
		t.Fatalf("expected lazy-created session id")
	}
	if st.IsTyping {
		t.Fatalf("expected typing cleared after completion")
	}
}

func TestSendMessage_PreservesIssuanceOrder(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		if text == "first" {
			<-release
		}
		return okSend(sessionID, text)
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")

	if _, err := machine.SendMessage(context.Background(), "first"); err != nil {
		t.Fatalf("send first: %v", err)
	}
	if _, err := machine.SendMessage(context.Background(), "second"); err != nil {
		t.Fatalf("send second: %v", err)
	}

	// El segundo envio completa antes que el primero.
	waitFor(t, time.Second, func() bool {
		st := readyState(t, machine)
		return len(st.Messages) == 3
	})
	close(release)
	waitFor(t, time.Second, func() bool {
		st := readyState(t, machine)
		return len(st.Messages) == 4
	})

	st := readyState(t, machine)
	var userTexts []string
	for _, msg := range st.Messages {
		if msg.Sender == domain.SenderUser {
			userTexts = append(userTexts, msg.Text)
		}
	}
	if len(userTexts) != 2 || userTexts[0] != "first" || userTexts[1] != "second" {
		t.Fatalf("issuance order not preserved: %v", userTexts)
	}
}

func TestSendMessage_LazyCreationFirstCallWins(t *testing.T) {
	release := make(chan struct{})
	created := make(map[string]bool)
	var mu sync.Mutex
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		<-release
		result, err := okSend(sessionID, text)
		mu.Lock()
		created[result.SessionID] = true
		mu.Unlock()
		return result, err
	}
	machine, lifecycle := newTestMachine(gw)

	if _, err := machine.SendMessage(context.Background(), "uno"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err := machine.SendMessage(context.Background(), "dos")
	if err == nil {
		t.Fatalf("expected second send rejected while creation in progress")
	}
	if !errors.Is(err, ErrCreationInProgress) {
		t.Fatalf("expected ErrCreationInProgress, got %v", err)
	}

	close(release)
	waitFor(t, time.Second, func() bool { return lifecycle.CurrentSessionID() != "" })

	mu.Lock()
	defer mu.Unlock()
	if len(created) != 1 {
		t.Fatalf("expected exactly one backend session creation, got %d", len(created))
	}

	// El mensaje rechazado no quedo en la lista.
	st := readyState(t, machine)
	for _, msg := range st.Messages {
		if msg.Text == "dos" {
			t.Fatalf("rejected message must not be appended")
		}
	}
}

func TestSendMessage_RejectedWhileRecording(t *testing.T) {
	gw := &stubGateway{}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")
	machine.LoadSession(context.Background(), "s1")
	waitFor(t, time.Second, func() bool {
		_, ok := machine.State().(domain.Ready)
		return ok
	})

	if err := machine.StartRecording(context.Background()); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if _, ok := machine.State().(domain.Recording); !ok {
		t.Fatalf("expected Recording state")
	}

	_, err := machine.SendMessage(context.Background(), "hola")
	if err == nil {
		t.Fatalf("expected send rejected while recording")
	}
	if !errors.Is(err, ErrRecordingInProgress) {
		t.Fatalf("expected ErrRecordingInProgress, got %v", err)
	}
	if _, ok := machine.State().(domain.Recording); !ok {
		t.Fatalf("state must not change on rejected intent")
	}
	if gw.sendCalls != 0 {
		t.Fatalf("expected no gateway call, got %d", gw.sendCalls)
	}
}

func TestSendMessage_EmptyRejected(t *testing.T) {
	machine, _ := newTestMachine(&stubGateway{})
	if _, err := machine.SendMessage(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSendMessage_NetworkFailureDegradesAndEnqueues(t *testing.T) {
	gw := &stubGateway{}
	gw.sendFn = func(_, _ string) (gateway.SendResult, error) {
		return gateway.SendResult{}, netFailure()
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")

	if _, err := machine.SendMessage(context.Background(), "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		st := readyState(t, machine)
		return len(st.Messages) == 1 && st.Messages[0].Status == domain.StatusFailed
	})

	// Degrada el mensaje, no el machine entero.
	if _, ok := machine.State().(domain.Ready); !ok {
		t.Fatalf("expected machine to stay Ready on send failure")
	}
	n, err := lifecycle.Queue().Len(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 queued entry, got %d (err %v)", n, err)
	}
	entry, err := lifecycle.Queue().Peek(context.Background())
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if entry.Attempts != 1 || entry.Message.Text != "hola" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestSendMessage_TerminalFailureNotQueued(t *testing.T) {
	gw := &stubGateway{}
	gw.sendFn = func(_, _ string) (gateway.SendResult, error) {
		return gateway.SendResult{}, domain.NewFailure(domain.FailureAuth, errors.New("expired token"))
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")

	if _, err := machine.SendMessage(context.Background(), "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		st := readyState(t, machine)
		return len(st.Messages) == 1 && st.Messages[0].Status == domain.StatusFailed
	})

	if n, _ := lifecycle.Queue().Len(context.Background()); n != 0 {
		t.Fatalf("auth failures must not be queued, got %d entries", n)
	}
}

func TestProcessOfflineQueue_HeadOfLineBlocking(t *testing.T) {
	var sent []string
	var mu sync.Mutex
	failA := true
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		if text == "A" && failA {
			return gateway.SendResult{}, netFailure()
		}
		mu.Lock()
		sent = append(sent, text)
		mu.Unlock()
		return okSend(sessionID, text)
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")

	queue := lifecycle.Queue()
	for _, text := range []string{"A", "B"} {
		err := queue.Enqueue(context.Background(), domain.OfflineQueueEntry{
			Message: domain.Message{ID: uuid.NewString(), SessionID: "s1", Text: text, Sender: domain.SenderUser, Status: domain.StatusFailed},
		})
		if err != nil {
			t.Fatalf("enqueue %s: %v", text, err)
		}
	}

	processed, err := machine.ProcessOfflineQueue(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed while head fails, got %d", processed)
	}
	mu.Lock()
	if len(sent) != 0 {
		t.Fatalf("B must not be sent while A fails: %v", sent)
	}
	mu.Unlock()

	head, err := queue.Peek(context.Background())
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if head.Message.Text != "A" || head.Attempts != 1 {
		t.Fatalf("head must keep its turn with attempts bumped: %+v", head)
	}

	// Arreglada la causa, el reproceso respeta el orden original.
	failA = false
	processed, err = machine.ProcessOfflineQueue(context.Background())
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected 2 processed, got %d", processed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 2 || sent[0] != "A" || sent[1] != "B" {
		t.Fatalf("expected [A B] in order, got %v", sent)
	}
	if n, _ := queue.Len(context.Background()); n != 0 {
		t.Fatalf("queue must be empty, got %d", n)
	}
}

func TestProcessOfflineQueue_EmitsOneShotSignal(t *testing.T) {
	gw := &stubGateway{}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")

	err := lifecycle.Queue().Enqueue(context.Background(), domain.OfflineQueueEntry{
		Message: domain.Message{ID: "m1", SessionID: "s1", Text: "A", Sender: domain.SenderUser},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if _, err := machine.ProcessOfflineQueue(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}

	select {
	case sig := <-machine.Signals():
		done, ok := sig.(domain.OfflineQueueProcessed)
		if !ok {
			t.Fatalf("expected OfflineQueueProcessed, got %T", sig)
		}
		if done.Count != 1 {
			t.Fatalf("expected count 1, got %d", done.Count)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected signal")
	}

	// One-shot: no se re-entrega.
	select {
	case sig := <-machine.Signals():
		t.Fatalf("unexpected second signal %v", sig)
	default:
	}
}

func TestSendMessage_RejectedDuringQueueFlush(t *testing.T) {
	gate := make(chan struct{})
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		<-gate
		return okSend(sessionID, text)
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "s1")

	err := lifecycle.Queue().Enqueue(context.Background(), domain.OfflineQueueEntry{
		Message: domain.Message{ID: "m1", SessionID: "s1", Text: "queued", Sender: domain.SenderUser},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = machine.ProcessOfflineQueue(context.Background())
	}()

	waitFor(t, time.Second, func() bool {
		_, err := machine.SendMessage(context.Background(), "nuevo")
		return errors.Is(err, ErrQueueFlushInProgress)
	})

	close(gate)
	<-done
}

func TestLoadSession_LastSwitchWins(t *testing.T) {
	releaseFirst := make(chan struct{})
	gw := &stubGateway{}
	gw.getSessionFn = func(id string) (domain.Session, error) {
		if id == "slow" {
			<-releaseFirst
		}
		return domain.Session{ID: id, Title: id, CreatedAt: time.Now().UTC()}, nil
	}
	machine, lifecycle := newTestMachine(gw)

	machine.LoadSession(context.Background(), "slow")
	machine.LoadSession(context.Background(), "fast")

	waitFor(t, time.Second, func() bool {
		return lifecycle.CurrentSessionID() == "fast"
	})
	close(releaseFirst)

	// El arribo tardio de "slow" se descarta: fast sigue siendo la actual.
	time.Sleep(50 * time.Millisecond)
	if got := lifecycle.CurrentSessionID(); got != "fast" {
		t.Fatalf("stale load overwrote current session: %s", got)
	}
	st := readyState(t, machine)
	if len(st.Messages) != 0 {
		t.Fatalf("message lists must not merge, got %d messages", len(st.Messages))
	}
}

func TestLoadSession_InvalidatesInFlightSend(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		<-release
		return okSend(sessionID, text)
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "A")

	if _, err := machine.SendMessage(context.Background(), "hola desde A"); err != nil {
		t.Fatalf("send: %v", err)
	}
	machine.LoadSession(context.Background(), "B")
	waitFor(t, time.Second, func() bool {
		return lifecycle.CurrentSessionID() == "B"
	})
	close(release)

	// El arribo tardio del envio hecho en A no toca la lista de B.
	time.Sleep(50 * time.Millisecond)
	st := readyState(t, machine)
	if len(st.Messages) != 0 {
		t.Fatalf("reply from previous session leaked into new list: %d messages", len(st.Messages))
	}
	if st.IsTyping {
		t.Fatalf("typing indicator must reset on session switch")
	}
	if got := lifecycle.CurrentSessionID(); got != "B" {
		t.Fatalf("expected session B current, got %q", got)
	}
}

func TestLazyCreation_CommittedSwitchWins(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		<-release
		return okSend(sessionID, text)
	}
	machine, lifecycle := newTestMachine(gw)

	if _, err := machine.SendMessage(context.Background(), "primer mensaje"); err != nil {
		t.Fatalf("send: %v", err)
	}
	machine.LoadSession(context.Background(), "B")
	waitFor(t, time.Second, func() bool {
		return lifecycle.CurrentSessionID() == "B"
	})
	close(release)

	// La creacion perezosa completa despues del switch y no lo pisa.
	time.Sleep(50 * time.Millisecond)
	if got := lifecycle.CurrentSessionID(); got != "B" {
		t.Fatalf("lazy creation overwrote committed switch: %q", got)
	}
	if got := lifecycle.LoadLastSession(context.Background()); got != "B" {
		t.Fatalf("last-session pointer overwrote committed switch: %q", got)
	}
}

func TestLoadSession_NotFoundFails(t *testing.T) {
	gw := &stubGateway{}
	gw.getSessionFn = func(id string) (domain.Session, error) {
		return domain.Session{}, domain.NewFailure(domain.FailureNotFound, errors.New("no such session"))
	}
	machine, lifecycle := newTestMachine(gw)
	lifecycle.CommitSwitch(context.Background(), "prev")

	machine.LoadSession(context.Background(), "ghost")
	waitFor(t, time.Second, func() bool {
		_, ok := machine.State().(domain.Failed)
		return ok
	})

	failed := machine.State().(domain.Failed)
	if !failed.Retryable {
		t.Fatalf("session-not-found load should offer retry")
	}
	if lifecycle.CurrentSessionID() != "prev" {
		t.Fatalf("failed switch must keep previous session, got %q", lifecycle.CurrentSessionID())
	}
}

func TestStopRecording_ReleasesHandleOnEveryPath(t *testing.T) {
	recorder := &fakeRecorder{stopErr: errors.New("mic already closed")}
	lifecycle := NewLifecycleManager(&stubGateway{}, nil, nil, NewMemoryKVStore(), NewMemoryOfflineQueue(), nil)
	machine := NewMachine(lifecycle, nil, &stubGateway{}, recorder, nil, nil, nil, "en")
	lifecycle.CommitSwitch(context.Background(), "s1")
	machine.LoadSession(context.Background(), "s1")
	waitFor(t, time.Second, func() bool {
		_, ok := machine.State().(domain.Ready)
		return ok
	})

	if err := machine.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := machine.StopRecording(context.Background(), false); err == nil {
		t.Fatalf("expected stop error surfaced")
	}
	if recorder.stopCalls != 1 {
		t.Fatalf("recorder must be stopped exactly once, got %d", recorder.stopCalls)
	}
	if _, ok := machine.State().(domain.Ready); !ok {
		t.Fatalf("machine must return to Ready even when stop fails")
	}
}

func TestStopRecording_AutoSendsVoiceMessage(t *testing.T) {
	recorder := &fakeRecorder{stopHandle: audio.Handle{Path: "/tmp/rec.ogg", Duration: 2 * time.Second}}
	gw := &stubGateway{}
	lifecycle := NewLifecycleManager(gw, nil, nil, NewMemoryKVStore(), NewMemoryOfflineQueue(), nil)
	machine := NewMachine(lifecycle, nil, gw, recorder, nil, nil, nil, "en")
	lifecycle.CommitSwitch(context.Background(), "s1")
	machine.LoadSession(context.Background(), "s1")
	waitFor(t, time.Second, func() bool {
		_, ok := machine.State().(domain.Ready)
		return ok
	})

	if err := machine.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := machine.StopRecording(context.Background(), true); err != nil {
		t.Fatalf("stop: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		st := readyState(t, machine)
		return len(st.Messages) == 2
	})
	st := readyState(t, machine)
	if st.Messages[0].AudioPath != "/tmp/rec.ogg" {
		t.Fatalf("expected voice message with audio path, got %+v", st.Messages[0])
	}
}

func TestSearchMessages_PopulatesResults(t *testing.T) {
	gw := &stubGateway{}
	gw.sendFn = func(sessionID, text string) (gateway.SendResult, error) {
		result, err := okSend(sessionID, text)
		result.AssistantReply.Text = "ok"
		return result, err
	}
	machine, _ := newTestMachine(gw)

	if _, err := machine.SendMessage(context.Background(), "el gato duerme"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(readyState(t, machine).Messages) == 2
	})
	if _, err := machine.SendMessage(context.Background(), "sin relacion"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(readyState(t, machine).Messages) == 4
	})

	if err := machine.SearchMessages(context.Background(), "gato"); err != nil {
		t.Fatalf("search: %v", err)
	}
	st := readyState(t, machine)
	if len(st.SearchResults) != 1 || !strings.Contains(st.SearchResults[0].Text, "gato") {
		t.Fatalf("unexpected search results: %+v", st.SearchResults)
	}

	machine.ClearSearch()
	if got := readyState(t, machine).SearchResults; got != nil {
		t.Fatalf("expected cleared results, got %+v", got)
	}
}

func TestToggleFavorite_UnknownMessageRejected(t *testing.T) {
	machine, _ := newTestMachine(&stubGateway{})
	err := machine.ToggleFavorite(context.Background(), "nope")
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestToggleFavorite_FlipsFlag(t *testing.T) {
	machine, _ := newTestMachine(&stubGateway{})
	msg, err := machine.SendMessage(context.Background(), "hola")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(readyState(t, machine).Messages) == 2
	})

	if err := machine.ToggleFavorite(context.Background(), msg.ID); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	st := readyState(t, machine)
	if !st.Messages[0].Favorite {
		t.Fatalf("expected favorite set")
	}
	if err := machine.ToggleFavorite(context.Background(), msg.ID); err != nil {
		t.Fatalf("toggle back: %v", err)
	}
	if readyState(t, machine).Messages[0].Favorite {
		t.Fatalf("expected favorite cleared")
	}
}

func TestExportHistory_OneShotSignal(t *testing.T) {
	gw := &stubGateway{}
	machine, _ := newTestMachine(gw)
	if _, err := machine.SendMessage(context.Background(), "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(readyState(t, machine).Messages) == 2
	})

	if err := machine.ExportHistory(context.Background()); err != nil {
		t.Fatalf("export: %v", err)
	}
	select {
	case sig := <-machine.Signals():
		exported, ok := sig.(domain.ExportSuccess)
		if !ok || exported.Path != "/tmp/out.json" {
			t.Fatalf("unexpected signal: %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected ExportSuccess signal")
	}

	if _, ok := machine.State().(domain.Ready); !ok {
		t.Fatalf("export must not change state")
	}
}

func TestClearChat_EmptiesMessages(t *testing.T) {
	gw := &stubGateway{}
	machine, _ := newTestMachine(gw)
	if _, err := machine.SendMessage(context.Background(), "hola"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		return len(readyState(t, machine).Messages) == 2
	})

	if err := machine.ClearChat(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	st := readyState(t, machine)
	if len(st.Messages) != 0 {
		t.Fatalf("expected empty messages, got %d", len(st.Messages))
	}
	if gw.clearCalls != 1 {
		t.Fatalf("expected backend clear requested once, got %d", gw.clearCalls)
	}
}
