package rtm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newSilentServer accepts the upgrade and never writes a frame.
func newSilentServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketReceiveReturnsWhenContextIsCancelled(t *testing.T) {
	transport, err := DialWebSocket(context.Background(), newSilentServer(t), nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	started := time.Now()
	_, err = transport.Receive(ctx)
	if !IsErrorCode(err, TimedOutError) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled TimedOutError, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("receive returned %v after cancel", elapsed)
	}

	if err = transport.Send(ctx, []byte(`{}`)); !IsErrorCode(err, TimedOutError) {
		t.Fatalf("expected TimedOutError for a cancelled send, got %v", err)
	}
}

func TestClientConnectStopsAuthenticatingWhenCancelled(t *testing.T) {
	client := NewClient(newSilentServer(t), "key").
		SetLogger(NopLogger()).
		SetAutoReconnect(false).
		SetAuthenticator(NewRoleSecretAuthenticator("reader", "secret"))
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	done := make(chan error, 1)
	go func() { done <- client.Connect(ctx) }()

	select {
	case err := <-done:
		if !IsErrorCode(err, AuthenticationError) || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled authentication, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("connect still blocked after cancel")
	}
	if client.IsConnected() {
		t.Fatalf("client should not be connected")
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		endpoint string
		appKey   string
		want     string
	}{
		{endpoint: "wss://rtm.example.com", appKey: "key", want: "wss://rtm.example.com/v2?appkey=key"},
		{endpoint: "wss://rtm.example.com/", appKey: "key", want: "wss://rtm.example.com/v2?appkey=key"},
		{endpoint: "ws://localhost:8080/v2", appKey: "key", want: "ws://localhost:8080/v2?appkey=key"},
		{endpoint: "ws://localhost:8080/base", appKey: "a b", want: "ws://localhost:8080/base/v2?appkey=a+b"},
		{endpoint: "ws://localhost:8080", appKey: "", want: "ws://localhost:8080/v2"},
	}
	for _, test := range tests {
		got, err := endpointURL(test.endpoint, test.appKey)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", test.endpoint, err)
		}
		if got != test.want {
			t.Fatalf("unexpected url: got %q want %q", got, test.want)
		}
	}
}

func TestEndpointURLRejectsInvalid(t *testing.T) {
	for _, endpoint := range []string{"http://rtm.example.com", "wss://", "::bad", "rtm.example.com"} {
		if _, err := endpointURL(endpoint, "key"); !IsErrorCode(err, InvalidURIError) {
			t.Fatalf("expected InvalidURIError for %q, got %v", endpoint, err)
		}
	}
}
