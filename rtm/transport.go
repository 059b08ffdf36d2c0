package rtm

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	protocolVersionPath   = "v2"
	defaultHandshakeWait  = 30 * time.Second
	defaultCloseFrameWait = time.Second
)

// Transport is the duplex message channel under the client. Receive blocks
// until a frame arrives or the transport fails; Close unblocks it.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a Transport to url.
type Dialer func(ctx context.Context, url string, tlsConfig *tls.Config) (Transport, error)

type websocketTransport struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket is the default Dialer.
func DialWebSocket(ctx context.Context, url string, tlsConfig *tls.Config) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: defaultHandshakeWait,
		TLSClientConfig:  tlsConfig,
	}
	conn, response, err := dialer.DialContext(ctx, url, nil)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, NewError(ConnectionError, err)
	}
	return &websocketTransport{conn: conn}, nil
}

// Send writes frame. A context cancelled before the write returns
// TimedOutError and leaves the connection usable; cancellation during the
// write fails it with ConnectionError.
func (transport *websocketTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return NewError(TimedOutError, err)
	}
	transport.writeLock.Lock()
	defer transport.writeLock.Unlock()

	deadline, _ := ctx.Deadline()
	if err := transport.conn.SetWriteDeadline(deadline); err != nil {
		return NewError(ConnectionError, err)
	}
	defer interruptOnDone(ctx, transport.conn.SetWriteDeadline)()
	if err := transport.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return NewError(ConnectionError, ctxErr)
		}
		return NewError(ConnectionError, err)
	}
	return nil
}

// Receive blocks for the next data frame. Cancelling ctx unblocks it with
// TimedOutError.
func (transport *websocketTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewError(TimedOutError, err)
	}
	deadline, _ := ctx.Deadline()
	if err := transport.conn.SetReadDeadline(deadline); err != nil {
		return nil, NewError(ConnectionError, err)
	}
	defer interruptOnDone(ctx, transport.conn.SetReadDeadline)()
	for {
		messageType, frame, err := transport.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, NewError(TimedOutError, ctxErr)
			}
			return nil, NewError(ConnectionError, err)
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return frame, nil
		}
	}
}

// interruptOnDone moves the socket deadline to now when ctx is done. The
// returned stop waits for a running interrupt so it cannot outlive the call.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = setDeadline(time.Now())
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}

func (transport *websocketTransport) Close() error {
	transport.closeOnce.Do(func() {
		_ = transport.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(defaultCloseFrameWait),
		)
		transport.closeErr = transport.conn.Close()
	})
	return transport.closeErr
}

// endpointURL joins endpoint, the protocol version path and the appkey
// query parameter.
func endpointURL(endpoint string, appKey string) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", NewError(InvalidURIError, err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", NewError(InvalidURIError, "endpoint scheme must be ws or wss, got '"+parsed.Scheme+"'")
	}
	if parsed.Host == "" {
		return "", NewError(InvalidURIError, "endpoint has no host")
	}

	path := strings.TrimRight(parsed.Path, "/")
	if !strings.HasSuffix(path, "/"+protocolVersionPath) {
		path += "/" + protocolVersionPath
	}
	parsed.Path = path

	query := parsed.Query()
	if appKey != "" {
		query.Set("appkey", appKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
