package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"convo-llm/internal/domain"
)

func TestHTTPGateway_SendOK(t *testing.T) {
	var gotAuth string
	var gotReq map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": "s-42",
			"reply": map[string]interface{}{
				"id":   "m-2",
				"text": "hola!",
			},
			"suggestions": []string{"seguime contando"},
		})
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "test-key", nil)
	result, err := gw.Send(context.Background(), "", "hola", domain.UserContext{Language: "es"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	if gotReq["text"] != "hola" {
		t.Fatalf("unexpected request body: %v", gotReq)
	}
	if result.SessionID != "s-42" {
		t.Fatalf("expected backend-issued session id, got %q", result.SessionID)
	}
	if result.AssistantReply.Sender != domain.SenderAssistant || result.AssistantReply.Status != domain.StatusSent {
		t.Fatalf("reply must be normalized, got %+v", result.AssistantReply)
	}
	if result.AssistantReply.SessionID != "s-42" {
		t.Fatalf("reply must carry session id, got %q", result.AssistantReply.SessionID)
	}
	if len(result.Suggestions) != 1 {
		t.Fatalf("expected suggestions passthrough, got %v", result.Suggestions)
	}
}

func TestHTTPGateway_StatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		kind   domain.FailureKind
	}{
		{"unauthorized", http.StatusUnauthorized, domain.FailureAuth},
		{"forbidden", http.StatusForbidden, domain.FailureAuth},
		{"not found", http.StatusNotFound, domain.FailureNotFound},
		{"server error", http.StatusInternalServerError, domain.FailureNetwork},
		{"too many requests", http.StatusTooManyRequests, domain.FailureNetwork},
		{"bad request", http.StatusBadRequest, domain.FailureServerRejected},
		{"unprocessable", http.StatusUnprocessableEntity, domain.FailureServerRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			gw := NewHTTPGateway(server.URL, "", nil)
			_, err := gw.Send(context.Background(), "s1", "hola", domain.UserContext{})
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if got := domain.KindOf(err); got != tc.kind {
				t.Fatalf("status %d: expected kind %s, got %s", tc.status, tc.kind, got)
			}
		})
	}
}

func TestHTTPGateway_TransportErrorIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // conexion rechazada

	gw := NewHTTPGateway(server.URL, "", nil)
	_, err := gw.Send(context.Background(), "s1", "hola", domain.UserContext{})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if got := domain.KindOf(err); got != domain.FailureNetwork {
		t.Fatalf("expected FailureNetwork, got %s", got)
	}
	if !domain.IsRetryable(err) {
		t.Fatalf("transport errors must be retryable")
	}
}

func TestHTTPGateway_GetSessionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "", nil)
	_, err := gw.GetSession(context.Background(), "ghost")
	if got := domain.KindOf(err); got != domain.FailureNotFound {
		t.Fatalf("expected FailureNotFound, got %s", got)
	}
}

func TestHTTPGateway_MalformedResponseRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	gw := NewHTTPGateway(server.URL, "", nil)
	_, err := gw.Send(context.Background(), "s1", "hola", domain.UserContext{})
	if got := domain.KindOf(err); got != domain.FailureServerRejected {
		t.Fatalf("expected FailureServerRejected, got %s", got)
	}
	if domain.IsRetryable(err) {
		t.Fatalf("malformed responses must not be queued for retry")
	}
}
