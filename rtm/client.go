package rtm

import (
	"context"
	"crypto/tls"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ClientVersion and related constants.
const (
	ClientVersion    = "0.1.0"
	DefaultQueueSize = 1024
)

type trackedSubscription struct {
	channel string
	handler Handler
	options Options
	current *Subscription
	sentOn  *connection
}

type pendingRequest struct {
	subscriptionID string
	reply          chan PDU
}

// connection is one transport session with its receive and dispatch
// goroutines. receiveErr is written before queue is closed.
type connection struct {
	transport  Transport
	queue      chan PDU
	cancel     context.CancelFunc
	group      *errgroup.Group
	receiveErr error
}

// Client manages one RTM connection, its subscriptions and the routing of
// inbound PDUs. Exported methods are safe for concurrent use. Handlers run
// on the dispatch goroutine, one PDU at a time, in arrival order.
type Client struct {
	clientID string
	appKey   string

	lock        sync.Mutex
	connectLock sync.Mutex
	manager     *SubscriptionManager
	tracked     map[string]*trackedSubscription
	pending     map[string]pendingRequest
	nextID      uint64
	conn        *connection

	manualDisconnect bool
	closed           bool
	reconnecting     bool
	lifetime         context.Context
	lifetimeCancel   context.CancelFunc
	reconnectGroup   sync.WaitGroup

	chooser           EndpointChooser
	dialer            Dialer
	tlsConfig         *tls.Config
	authenticator     Authenticator
	logger            Logger
	metrics           *Metrics
	queueSize         int
	reconnectStrategy ReconnectDelayStrategy
	autoReconnect     bool
	positionStore     PositionStore
	errorHandler      func(err error)
	connectedHandler  func(client *Client)
	disconnectHandler func(client *Client, err error)
}

// NewClient returns a disconnected client for endpoint (ws:// or wss://)
// and appKey.
func NewClient(endpoint string, appKey string) *Client {
	lifetime, cancel := context.WithCancel(context.Background())
	logger := defaultLogger()
	return &Client{
		clientID:          uuid.NewString(),
		chooser:           NewRoundRobinChooser(endpoint),
		appKey:            appKey,
		manager:           NewSubscriptionManager().SetLogger(logger),
		tracked:           make(map[string]*trackedSubscription),
		pending:           make(map[string]pendingRequest),
		nextID:            1,
		lifetime:          lifetime,
		lifetimeCancel:    cancel,
		dialer:            DialWebSocket,
		logger:            logger,
		queueSize:         DefaultQueueSize,
		reconnectStrategy: NewExponentialDelayStrategy(100*time.Millisecond, 10*time.Second, 2),
		autoReconnect:     true,
	}
}

// ClientID returns the random id used to tag this client's log records.
func (client *Client) ClientID() string { return client.clientID }

// Endpoint returns the endpoint the next connect attempt uses.
func (client *Client) Endpoint() string {
	client.lock.Lock()
	chooser := client.chooser
	client.lock.Unlock()
	return chooser.CurrentEndpoint()
}

// SetEndpointChooser replaces the single endpoint given to NewClient with
// chooser, which is consulted before every connect attempt. A nil chooser
// is ignored.
func (client *Client) SetEndpointChooser(chooser EndpointChooser) *Client {
	if chooser == nil {
		return client
	}
	client.lock.Lock()
	client.chooser = chooser
	client.lock.Unlock()
	return client
}

// SetAuthenticator sets the authenticator run after each connect.
func (client *Client) SetAuthenticator(authenticator Authenticator) *Client {
	client.lock.Lock()
	client.authenticator = authenticator
	client.lock.Unlock()
	return client
}

// SetLogger sets the logger. Nil selects NopLogger.
func (client *Client) SetLogger(logger Logger) *Client {
	if logger == nil {
		logger = NopLogger()
	}
	client.lock.Lock()
	client.logger = logger
	client.lock.Unlock()
	client.manager.SetLogger(logger)
	return client
}

// SetMetrics sets the metrics sink.
func (client *Client) SetMetrics(metrics *Metrics) *Client {
	client.lock.Lock()
	client.metrics = metrics
	client.lock.Unlock()
	client.manager.SetMetrics(metrics)
	return client
}

// SetDialer replaces the WebSocket dialer.
func (client *Client) SetDialer(dialer Dialer) *Client {
	client.lock.Lock()
	if dialer == nil {
		dialer = DialWebSocket
	}
	client.dialer = dialer
	client.lock.Unlock()
	return client
}

// SetTLSConfig sets the TLS configuration passed to the dialer.
func (client *Client) SetTLSConfig(config *tls.Config) *Client {
	client.lock.Lock()
	client.tlsConfig = config
	client.lock.Unlock()
	return client
}

// SetQueueSize sets the capacity of the inbound PDU queue used by the next
// connection.
func (client *Client) SetQueueSize(size int) *Client {
	if size <= 0 {
		size = DefaultQueueSize
	}
	client.lock.Lock()
	client.queueSize = size
	client.lock.Unlock()
	return client
}

// SetReconnectDelayStrategy sets the reconnect timing.
func (client *Client) SetReconnectDelayStrategy(strategy ReconnectDelayStrategy) *Client {
	client.lock.Lock()
	if strategy == nil {
		strategy = NewFixedDelayStrategy(time.Second)
	}
	client.reconnectStrategy = strategy
	client.lock.Unlock()
	return client
}

// SetAutoReconnect enables or disables reconnecting after a lost
// connection. It is enabled by default.
func (client *Client) SetAutoReconnect(enabled bool) *Client {
	client.lock.Lock()
	client.autoReconnect = enabled
	client.lock.Unlock()
	return client
}

// SetPositionStore sets where subscription positions are recorded.
func (client *Client) SetPositionStore(store PositionStore) *Client {
	client.lock.Lock()
	client.positionStore = store
	client.lock.Unlock()
	return client
}

// SetErrorHandler sets the handler for connection-level errors.
func (client *Client) SetErrorHandler(errorHandler func(err error)) *Client {
	client.lock.Lock()
	client.errorHandler = errorHandler
	client.lock.Unlock()
	return client
}

// SetConnectedHandler sets the handler called after every successful
// connect and authentication.
func (client *Client) SetConnectedHandler(connectedHandler func(client *Client)) *Client {
	client.lock.Lock()
	client.connectedHandler = connectedHandler
	client.lock.Unlock()
	return client
}

// SetDisconnectHandler sets the handler called after a connection ends,
// once every subscription has received its UNSUBSCRIBED event.
func (client *Client) SetDisconnectHandler(disconnectHandler func(client *Client, err error)) *Client {
	client.lock.Lock()
	client.disconnectHandler = disconnectHandler
	client.lock.Unlock()
	return client
}

// IsConnected reports whether a transport session is active.
func (client *Client) IsConnected() bool {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.conn != nil
}

// Subscription returns the live subscription registered as subscriptionID.
func (client *Client) Subscription(subscriptionID string) (*Subscription, bool) {
	return client.manager.Lookup(subscriptionID)
}

// Subscriptions returns the registered subscription ids in sorted order.
func (client *Client) Subscriptions() []string {
	return client.manager.IDs()
}

// Connect dials the endpoint, authenticates, starts the receive and
// dispatch goroutines and resubscribes every tracked subscription.
func (client *Client) Connect(ctx context.Context) error {
	client.connectLock.Lock()
	defer client.connectLock.Unlock()

	client.lock.Lock()
	if client.closed {
		client.lock.Unlock()
		return NewError(DisconnectedError, "client is closed")
	}
	if client.conn != nil {
		client.lock.Unlock()
		return NewError(AlreadyConnectedError)
	}
	chooser := client.chooser
	dialer := client.dialer
	tlsConfig := client.tlsConfig
	authenticator := client.authenticator
	logger := client.logger
	client.lock.Unlock()

	endpoint := chooser.CurrentEndpoint()
	url, err := endpointURL(endpoint, client.appKey)
	if err != nil {
		chooser.ReportFailure(endpoint, err)
		return err
	}

	transport, err := dialer(ctx, url, tlsConfig)
	if err != nil {
		err = NewError(ConnectionError, err)
		chooser.ReportFailure(endpoint, err)
		return err
	}

	if authenticator != nil {
		if err = authenticator.Authenticate(ctx, &syncRequester{client: client, transport: transport}); err != nil {
			_ = transport.Close()
			if !IsErrorCode(err, AuthenticationError) {
				err = NewError(AuthenticationError, err)
			}
			chooser.ReportFailure(endpoint, err)
			return err
		}
	}

	conn, err := client.start(transport)
	if err != nil {
		_ = transport.Close()
		return err
	}
	chooser.ReportSuccess(endpoint)
	logger.Info("connected", "client_id", client.clientID, "endpoint", endpoint)

	client.resubscribe(ctx, conn)

	client.lock.Lock()
	connectedHandler := client.connectedHandler
	client.lock.Unlock()
	if connectedHandler != nil {
		connectedHandler(client)
	}
	return nil
}

func (client *Client) start(transport Transport) (*connection, error) {
	client.lock.Lock()
	defer client.lock.Unlock()
	if client.closed {
		return nil, NewError(DisconnectedError, "client is closed")
	}

	connectionCtx, cancel := context.WithCancel(client.lifetime)
	group, groupCtx := errgroup.WithContext(connectionCtx)
	conn := &connection{
		transport: transport,
		queue:     make(chan PDU, client.queueSize),
		cancel:    cancel,
		group:     group,
	}
	client.conn = conn
	client.manualDisconnect = false

	group.Go(func() error {
		client.receiveLoop(groupCtx, conn)
		return nil
	})
	group.Go(func() error {
		client.dispatchLoop(conn)
		return nil
	})
	return conn, nil
}

// receiveLoop decodes frames in arrival order onto the queue. It closes the
// queue when the transport fails.
func (client *Client) receiveLoop(ctx context.Context, conn *connection) {
	defer close(conn.queue)
	for {
		frame, err := conn.transport.Receive(ctx)
		if err != nil {
			conn.receiveErr = err
			return
		}
		pdu, err := DecodePDU(frame)
		if err != nil {
			client.metricsSink().dropped(DropUndecodable)
			client.loggerSink().Warn("dropping undecodable frame", "error", err, "size", len(frame))
			continue
		}
		client.metricsSink().received(pdu.Action)
		conn.queue <- pdu
	}
}

// dispatchLoop routes queued PDUs one at a time and then runs the
// connection-lost path.
func (client *Client) dispatchLoop(conn *connection) {
	for pdu := range conn.queue {
		client.route(pdu)
	}
	client.onConnectionLost(conn, conn.receiveErr)
}

func (client *Client) route(pdu PDU) {
	var request pendingRequest
	var hasRequest bool
	if pdu.ID != "" {
		client.lock.Lock()
		request, hasRequest = client.pending[pdu.ID]
		if hasRequest {
			delete(client.pending, pdu.ID)
		}
		client.lock.Unlock()
	}

	if hasRequest && request.reply != nil {
		request.reply <- pdu
		return
	}

	if pdu.Action == ActionGenericError {
		body, _ := ParseBody(pdu).(ErrorBody)
		client.onError(NewError(ProtocolError, body.Error+": "+body.Reason))
		return
	}

	if subscriptionID, ok := pdu.String(fieldSubscriptionID); ok && subscriptionID != "" {
		client.manager.Dispatch(pdu)
		return
	}
	if hasRequest && request.subscriptionID != "" {
		client.manager.DispatchTo(request.subscriptionID, pdu)
		return
	}
	client.manager.Dispatch(pdu)
}

func (client *Client) onConnectionLost(conn *connection, err error) {
	client.lock.Lock()
	if client.conn != conn {
		client.lock.Unlock()
		return
	}
	client.conn = nil
	manual := client.manualDisconnect
	pending := client.pending
	client.pending = make(map[string]pendingRequest)
	startReconnect := client.autoReconnect && !manual && !client.closed && !client.reconnecting
	if startReconnect {
		client.reconnecting = true
		client.reconnectGroup.Add(1)
	}
	disconnectHandler := client.disconnectHandler
	logger := client.logger
	client.lock.Unlock()

	conn.cancel()
	_ = conn.transport.Close()
	for _, request := range pending {
		if request.reply != nil {
			close(request.reply)
		}
	}

	client.manager.BroadcastDisconnect()

	if manual {
		logger.Info("disconnected", "client_id", client.clientID)
	} else {
		logger.Warn("connection lost", "client_id", client.clientID, "error", err)
		client.onError(NewError(ConnectionError, err))
	}
	if disconnectHandler != nil {
		disconnectHandler(client, err)
	}

	if startReconnect {
		go client.reconnectLoop()
	}
}

func (client *Client) reconnectLoop() {
	defer func() {
		client.lock.Lock()
		client.reconnecting = false
		client.lock.Unlock()
		client.reconnectGroup.Done()
	}()

	client.lock.Lock()
	strategy := client.reconnectStrategy
	logger := client.logger
	client.lock.Unlock()

	for {
		delay, err := strategy.ConnectWaitDuration(client.Endpoint())
		if err != nil {
			client.onError(err)
			return
		}
		timer := time.NewTimer(delay)
		select {
		case <-client.lifetime.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err = client.Connect(client.lifetime)
		if err == nil {
			strategy.Reset()
			client.metricsSink().reconnected()
			return
		}
		if IsErrorCode(err, AlreadyConnectedError) || IsErrorCode(err, DisconnectedError) {
			return
		}
		logger.Warn("reconnect attempt failed", "client_id", client.clientID, "error", err)
	}
}

// Disconnect closes the active connection and waits for its goroutines.
// Every subscription receives an UNSUBSCRIBED event with CauseDisconnect and
// stays tracked for the next Connect. It must not be called from a Handler.
func (client *Client) Disconnect() error {
	client.lock.Lock()
	conn := client.conn
	if conn == nil {
		client.lock.Unlock()
		return NewError(DisconnectedError, "Client is not Connected")
	}
	client.manualDisconnect = true
	client.lock.Unlock()

	conn.cancel()
	err := conn.transport.Close()
	_ = conn.group.Wait()
	if err != nil {
		return NewError(ConnectionError, err)
	}
	return nil
}

// Close disconnects, stops reconnecting and flushes the position store. The
// client cannot be reconnected afterwards. It must not be called from a
// Handler.
func (client *Client) Close() error {
	client.lock.Lock()
	client.closed = true
	store := client.positionStore
	client.lock.Unlock()

	client.lifetimeCancel()
	client.reconnectGroup.Wait()

	if err := client.Disconnect(); err != nil && !IsErrorCode(err, DisconnectedError) {
		return err
	}
	if store != nil {
		return store.Flush()
	}
	return nil
}

// Subscribe registers a subscription to channel and sends its subscribe
// request. While disconnected the request is sent on the next Connect. The
// subscription is tracked and recreated after reconnects until it is
// unsubscribed or terminated by the server.
func (client *Client) Subscribe(ctx context.Context, channel string, handler Handler, options Options) (*Subscription, error) {
	entry := &trackedSubscription{
		channel: channel,
		handler: handler,
		options: options.Clone(),
	}
	subscription := client.newSubscription(entry, options)
	if err := client.manager.Register(subscription); err != nil {
		return nil, err
	}

	client.lock.Lock()
	entry.current = subscription
	client.tracked[subscription.SubscriptionID()] = entry
	conn := client.conn
	if conn != nil {
		entry.sentOn = conn
	}
	client.lock.Unlock()

	if conn == nil {
		return subscription, nil
	}
	if err := client.sendTracked(ctx, conn, subscription.SubscriptionID(), subscription.SubscribePDU()); err != nil {
		return subscription, err
	}
	return subscription, nil
}

// Unsubscribe sends the unsubscribe request for subscriptionID and stops
// tracking it. The subscription ends when the reply or a disconnect
// arrives. While disconnected the subscription ends immediately. A
// subscription already ended by a lost connection is only untracked, so it
// is not resubscribed.
func (client *Client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	client.lock.Lock()
	_, tracked := client.tracked[subscriptionID]
	delete(client.tracked, subscriptionID)
	conn := client.conn
	client.lock.Unlock()

	subscription, exists := client.manager.Lookup(subscriptionID)
	if !exists {
		if tracked {
			return nil
		}
		return NewError(SubscriptionNotFoundError, "no subscription with ID '"+subscriptionID+"'")
	}

	if conn == nil {
		client.manager.Unregister(subscriptionID)
		subscription.ProcessDisconnect()
		return nil
	}
	return client.sendTracked(ctx, conn, subscriptionID, subscription.UnsubscribePDU())
}

// RetrySubscribe resends the subscribe request of a registered
// subscription that has not been acknowledged, such as after an
// rtm/subscribe/error.
func (client *Client) RetrySubscribe(ctx context.Context, subscriptionID string) error {
	subscription, exists := client.manager.Lookup(subscriptionID)
	if !exists {
		return NewError(SubscriptionNotFoundError, "no subscription with ID '"+subscriptionID+"'")
	}
	if state := subscription.State(); state != StatePending {
		return NewError(DuplicateSubscriptionError, "subscription '"+subscriptionID+"' is "+state.String())
	}

	client.lock.Lock()
	conn := client.conn
	client.lock.Unlock()
	if conn == nil {
		return NewError(NotConnectedError)
	}
	return client.sendTracked(ctx, conn, subscriptionID, subscription.SubscribePDU())
}

// Publish sends message to channel without waiting for an acknowledgement.
func (client *Client) Publish(ctx context.Context, channel string, message any) error {
	conn, err := client.activeConnection()
	if err != nil {
		return err
	}
	return client.send(ctx, conn, publishPDU(channel, message))
}

// PublishAck sends message to channel and waits for the server reply. It
// returns the position assigned to the message.
func (client *Client) PublishAck(ctx context.Context, channel string, message any) (string, error) {
	conn, err := client.activeConnection()
	if err != nil {
		return "", err
	}

	reply := make(chan PDU, 1)
	pdu := publishPDU(channel, message)

	client.lock.Lock()
	pdu.ID = client.makeRequestID()
	client.pending[pdu.ID] = pendingRequest{reply: reply}
	client.lock.Unlock()

	if err = client.send(ctx, conn, pdu); err != nil {
		client.forgetRequest(pdu.ID)
		return "", err
	}

	select {
	case response, ok := <-reply:
		if !ok {
			return "", NewError(DisconnectedError, "connection lost before publish reply")
		}
		if response.Action != ActionPublishOK {
			body, _ := ParseBody(response).(ErrorBody)
			return "", NewError(PublishError, body.Error+": "+body.Reason)
		}
		position, _ := response.Position()
		return position, nil
	case <-ctx.Done():
		client.forgetRequest(pdu.ID)
		return "", NewError(TimedOutError, ctx.Err())
	}
}

func publishPDU(channel string, message any) PDU {
	return NewPDU(ActionPublish, map[string]any{
		fieldChannel: channel,
		fieldMessage: message,
	})
}

func (client *Client) activeConnection() (*connection, error) {
	client.lock.Lock()
	defer client.lock.Unlock()
	if client.conn == nil {
		return nil, NewError(NotConnectedError)
	}
	return client.conn, nil
}

// newSubscription builds a subscription whose handler records positions,
// metrics and tracking state before calling the application handler.
func (client *Client) newSubscription(entry *trackedSubscription, options Options) *Subscription {
	observer := HandlerFunc(func(target *Subscription, event Event) {
		client.observe(entry, target, event)
		if entry.handler != nil {
			entry.handler.HandleEvent(target, event)
		}
	})
	return NewSubscription(entry.channel, observer, options)
}

func (client *Client) observe(entry *trackedSubscription, subscription *Subscription, event Event) {
	client.lock.Lock()
	store := client.positionStore
	metrics := client.metrics
	client.lock.Unlock()

	metrics.event(event.Type())

	save := func(subscriptionID, position string) {
		if store != nil && position != "" {
			store.Save(subscriptionID, position)
		}
	}
	switch typed := event.(type) {
	case SubscribedEvent:
		save(typed.SubscriptionID, typed.Position)
	case DataEvent:
		save(typed.SubscriptionID, typed.Position)
	case UnsubscribedEvent:
		save(typed.SubscriptionID, typed.Position)
		if typed.Cause == CauseServerError {
			client.lock.Lock()
			if current := client.tracked[typed.SubscriptionID]; current == entry && entry.current == subscription {
				delete(client.tracked, typed.SubscriptionID)
			}
			client.lock.Unlock()
		}
	}
}

// resubscribe sends the subscribe request of every tracked subscription not
// yet sent on conn. Terminal subscriptions are recreated resuming from
// their last position.
func (client *Client) resubscribe(ctx context.Context, conn *connection) {
	client.lock.Lock()
	ids := make([]string, 0, len(client.tracked))
	for subscriptionID := range client.tracked {
		ids = append(ids, subscriptionID)
	}
	store := client.positionStore
	logger := client.logger
	client.lock.Unlock()
	sort.Strings(ids)

	for _, subscriptionID := range ids {
		client.lock.Lock()
		entry := client.tracked[subscriptionID]
		if entry == nil || entry.sentOn == conn {
			client.lock.Unlock()
			continue
		}
		subscription := entry.current
		if subscription == nil || subscription.State() == StateUnsubscribed {
			options := entry.options.Clone()
			position := ""
			if subscription != nil {
				position = subscription.Position()
				if position == "" {
					position, _ = subscription.Options().Position()
				}
			}
			if position == "" && store != nil {
				position, _ = store.Load(subscriptionID)
			}
			if position != "" {
				options[fieldPosition] = position
			}
			subscription = client.newSubscription(entry, options)
			if err := client.manager.Register(subscription); err != nil {
				client.lock.Unlock()
				logger.Warn("resubscribe skipped", "subscription_id", subscriptionID, "error", err)
				continue
			}
			entry.current = subscription
		}
		entry.sentOn = conn
		client.lock.Unlock()

		if err := client.sendTracked(ctx, conn, subscriptionID, subscription.SubscribePDU()); err != nil {
			logger.Warn("resubscribe failed", "subscription_id", subscriptionID, "error", err)
			return
		}
	}
}

// sendTracked sends pdu with a fresh request id mapped to subscriptionID so
// replies without a subscription_id still reach the subscription.
func (client *Client) sendTracked(ctx context.Context, conn *connection, subscriptionID string, pdu PDU) error {
	client.lock.Lock()
	pdu.ID = client.makeRequestID()
	client.pending[pdu.ID] = pendingRequest{subscriptionID: subscriptionID}
	client.lock.Unlock()

	if err := client.send(ctx, conn, pdu); err != nil {
		client.forgetRequest(pdu.ID)
		return err
	}
	return nil
}

func (client *Client) send(ctx context.Context, conn *connection, pdu PDU) error {
	frame, err := EncodePDU(pdu)
	if err != nil {
		return err
	}
	if err = conn.transport.Send(ctx, frame); err != nil {
		if IsErrorCode(err, TimedOutError) {
			return err
		}
		client.loggerSink().Warn("send failed, closing transport", "action", pdu.Action, "error", err)
		_ = conn.transport.Close()
		if !IsErrorCode(err, ConnectionError) {
			err = NewError(ConnectionError, err)
		}
		return err
	}
	client.metricsSink().sent(pdu.Action)
	return nil
}

func (client *Client) makeRequestID() string {
	requestID := strconv.FormatUint(client.nextID, 10)
	client.nextID++
	return requestID
}

func (client *Client) forgetRequest(requestID string) {
	client.lock.Lock()
	delete(client.pending, requestID)
	client.lock.Unlock()
}

func (client *Client) onError(err error) {
	if err == nil {
		return
	}
	client.lock.Lock()
	errorHandler := client.errorHandler
	client.lock.Unlock()
	if errorHandler != nil {
		errorHandler(err)
	}
}

func (client *Client) loggerSink() Logger {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.logger
}

func (client *Client) metricsSink() *Metrics {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.metrics
}

// syncRequester serves Authenticator requests directly on the transport,
// before the receive goroutine starts.
type syncRequester struct {
	client    *Client
	transport Transport
}

func (requester *syncRequester) Request(ctx context.Context, pdu PDU) (PDU, error) {
	client := requester.client
	client.lock.Lock()
	pdu.ID = client.makeRequestID()
	client.lock.Unlock()

	frame, err := EncodePDU(pdu)
	if err != nil {
		return PDU{}, err
	}
	if err = requester.transport.Send(ctx, frame); err != nil {
		return PDU{}, err
	}
	client.metricsSink().sent(pdu.Action)

	for {
		if err = ctx.Err(); err != nil {
			return PDU{}, NewError(TimedOutError, err)
		}
		frame, err = requester.transport.Receive(ctx)
		if err != nil {
			return PDU{}, err
		}
		reply, err := DecodePDU(frame)
		if err != nil {
			return PDU{}, err
		}
		client.metricsSink().received(reply.Action)
		if reply.ID == pdu.ID {
			return reply, nil
		}
		client.loggerSink().Debug("ignoring pdu during authentication", "action", reply.Action, "id", reply.ID)
	}
}
