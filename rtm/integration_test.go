package rtm

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thejuampi/rtm-client-go/internal/fakertm"
	"github.com/Thejuampi/rtm-client-go/rtm/internal/testutil"
)

func startFakeRTM(t *testing.T, config fakertm.Config) (*fakertm.Server, string) {
	t.Helper()
	server := fakertm.NewServer(config)
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func newIntegrationClient(t *testing.T, endpoint string, appKey string) *Client {
	t.Helper()
	client := NewClient(endpoint, appKey).
		SetLogger(NopLogger()).
		SetReconnectDelayStrategy(NewFixedDelayStrategy(5 * time.Millisecond))
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("unexpected close error: %v", err)
		}
	})
	return client
}

func TestIntegrationSubscribePublishUnsubscribe(t *testing.T) {
	_, endpoint := startFakeRTM(t, fakertm.Config{AppKey: "key"})
	client := newIntegrationClient(t, endpoint, "key")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	handler, events := recordingHandler()
	if _, err := client.Subscribe(ctx, "animals", handler, nil); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	waitEvents(t, events, 1)

	position, err := client.PublishAck(ctx, "animals", map[string]any{"who": "zebra"})
	if err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if position != "1:1" {
		t.Fatalf("unexpected publish position: %q", position)
	}

	received := waitEvents(t, events, 2)
	data, ok := received[1].(DataEvent)
	if !ok || data.Position != "1:1" || len(data.Messages) != 1 {
		t.Fatalf("unexpected data event: %+v", received[1])
	}
	if message, _ := data.Messages[0].(map[string]any); message["who"] != "zebra" {
		t.Fatalf("unexpected message: %+v", data.Messages[0])
	}

	if err = client.Unsubscribe(ctx, "animals"); err != nil {
		t.Fatalf("unexpected unsubscribe error: %v", err)
	}
	received = waitEvents(t, events, 3)
	if unsubscribed, ok := received[2].(UnsubscribedEvent); !ok || unsubscribed.Cause != CauseRequested {
		t.Fatalf("unexpected final event: %+v", received[2])
	}
}

func TestIntegrationWrongAppKeyFailsToConnect(t *testing.T) {
	_, endpoint := startFakeRTM(t, fakertm.Config{AppKey: "key"})
	client := newIntegrationClient(t, endpoint, "other")
	if err := client.Connect(context.Background()); !IsErrorCode(err, ConnectionError) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestIntegrationRoleSecretAuthentication(t *testing.T) {
	_, endpoint := startFakeRTM(t, fakertm.Config{Roles: map[string]string{"reader": "s3cret"}})

	denied := newIntegrationClient(t, endpoint, "key").SetAuthenticator(NewRoleSecretAuthenticator("reader", "wrong"))
	if err := denied.Connect(context.Background()); !IsErrorCode(err, AuthenticationError) {
		t.Fatalf("expected AuthenticationError, got %v", err)
	}

	client := newIntegrationClient(t, endpoint, "key").SetAuthenticator(NewRoleSecretAuthenticator("reader", "s3cret"))
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	handler, events := recordingHandler()
	if _, err := client.Subscribe(context.Background(), "animals", handler, nil); err != nil {
		t.Fatalf("unexpected subscribe error: %v", err)
	}
	if received := waitEvents(t, events, 1); received[0].Type() != EventSubscribed {
		t.Fatalf("unexpected event after authentication: %+v", received[0])
	}
}

func TestIntegrationServerTerminationAndInfo(t *testing.T) {
	server, endpoint := startFakeRTM(t, fakertm.Config{})
	client := newIntegrationClient(t, endpoint, "")
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	handler, events := recordingHandler()
	_, _ = client.Subscribe(context.Background(), "animals", handler, nil)
	waitEvents(t, events, 1)

	if affected := server.SendInfo("animals", "fast_forward", "skipped"); affected != 1 {
		t.Fatalf("unexpected info fan-out: %d", affected)
	}
	if affected := server.TerminateSubscription("animals", "out_of_sync", "too slow"); affected != 1 {
		t.Fatalf("unexpected termination fan-out: %d", affected)
	}

	received := waitEvents(t, events, 4)
	if info, ok := received[1].(InfoEvent); !ok || info.Info != "fast_forward" {
		t.Fatalf("unexpected info event: %+v", received[1])
	}
	if errorEvent, ok := received[2].(ErrorEvent); !ok || errorEvent.Error != "out_of_sync" {
		t.Fatalf("unexpected error event: %+v", received[2])
	}
	if unsubscribed, ok := received[3].(UnsubscribedEvent); !ok || unsubscribed.Cause != CauseServerError || unsubscribed.Reason != "too slow" {
		t.Fatalf("unexpected unsubscribed event: %+v", received[3])
	}
}

func TestIntegrationReconnectResumesFromPosition(t *testing.T) {
	server, endpoint := startFakeRTM(t, fakertm.Config{})
	client := newIntegrationClient(t, endpoint, "")
	connected := testutil.NewRecorder[int]()
	client.SetConnectedHandler(func(*Client) { connected.Record(1) })
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	handler, events := recordingHandler()
	_, _ = client.Subscribe(context.Background(), "animals", handler, nil)
	waitEvents(t, events, 1)
	server.Publish("animals", "first")
	waitEvents(t, events, 2)

	server.DropConnections()
	received := waitEvents(t, events, 3)
	if unsubscribed, ok := received[2].(UnsubscribedEvent); !ok || !unsubscribed.Lost() || unsubscribed.Position != "1:1" {
		t.Fatalf("expected lost event at 1:1, got %+v", received[2])
	}

	if _, ok := connected.WaitFor(2, 5*time.Second); !ok {
		t.Fatalf("client did not reconnect")
	}
	received = waitEvents(t, events, 4)
	if _, ok := received[3].(SubscribedEvent); !ok {
		t.Fatalf("expected resubscribe, got %+v", received[3])
	}

	server.Publish("animals", "second")
	received = waitEvents(t, events, 5)
	if data, ok := received[4].(DataEvent); !ok || data.Messages[0] != "second" || data.Position != "1:2" {
		t.Fatalf("unexpected data after reconnect: %+v", received[4])
	}

	resubscribes := server.Requests("rtm/subscribe")
	if len(resubscribes) != 2 || resubscribes[1].Body["position"] != "1:1" {
		t.Fatalf("expected resubscribe from 1:1, got %+v", resubscribes)
	}
}

func TestIntegrationReplayMissedMessagesOnResubscribe(t *testing.T) {
	server, endpoint := startFakeRTM(t, fakertm.Config{})
	client := newIntegrationClient(t, endpoint, "").SetAutoReconnect(false)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	handler, events := recordingHandler()
	_, _ = client.Subscribe(context.Background(), "animals", handler, nil)
	waitEvents(t, events, 1)
	server.Publish("animals", "seen")
	waitEvents(t, events, 2)

	if err := client.Disconnect(); err != nil {
		t.Fatalf("unexpected disconnect error: %v", err)
	}
	waitEvents(t, events, 3)
	server.Publish("animals", "missed-1")
	server.Publish("animals", "missed-2")

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("unexpected reconnect error: %v", err)
	}
	received := waitEvents(t, events, 5)
	data, ok := received[4].(DataEvent)
	if !ok || len(data.Messages) != 2 || data.Messages[0] != "missed-1" || data.Messages[1] != "missed-2" {
		t.Fatalf("unexpected replay: %+v", received[4])
	}
}
