// Package fakertm is an in-process RTM server for tests and local
// development. It speaks the JSON PDU protocol over gorilla/websocket and
// keeps channels, subscriptions and role-secret credentials in memory.
package fakertm

import (
	"crypto/hmac"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	generation     = 1
	writeWait      = 5 * time.Second
	defaultHistory = 1000
)

// Config configures a Server.
type Config struct {
	// AppKey, when set, must match the appkey query parameter.
	AppKey string
	// Roles maps role names to secrets. When non-empty, rtm actions require
	// a completed role_secret authentication.
	Roles map[string]string
	// History is the number of messages kept per channel for replay.
	History int
	Logger  *log.Logger
}

type storedMessage struct {
	offset  uint64
	message any
}

type channelLog struct {
	offset   uint64
	messages []storedMessage
}

type failure struct {
	code   string
	reason string
}

type session struct {
	id            string
	conn          *websocket.Conn
	role          string
	nonce         string
	authenticated bool
	subscriptions map[string]string
}

// Server is a fake RTM endpoint. It implements http.Handler.
type Server struct {
	lock     sync.Mutex
	config   Config
	logger   *log.Logger
	upgrader websocket.Upgrader
	channels map[string]*channelLog
	sessions map[*session]struct{}
	failing  map[string]failure
	requests []Frame
	closed   bool
	group    sync.WaitGroup
}

// NewServer returns a Server with no channels.
func NewServer(config Config) *Server {
	if config.History <= 0 {
		config.History = defaultHistory
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Server{
		config:   config,
		logger:   logger.WithPrefix("fakertm"),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		channels: make(map[string]*channelLog),
		sessions: make(map[*session]struct{}),
		failing:  make(map[string]failure),
	}
}

// ServeHTTP upgrades the request and serves PDUs until the connection ends.
func (server *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if server.config.AppKey != "" && request.URL.Query().Get("appkey") != server.config.AppKey {
		http.Error(writer, "invalid appkey", http.StatusUnauthorized)
		return
	}

	server.lock.Lock()
	if server.closed {
		server.lock.Unlock()
		http.Error(writer, "server closed", http.StatusServiceUnavailable)
		return
	}
	server.group.Add(1)
	server.lock.Unlock()
	defer server.group.Done()

	conn, err := server.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		server.logger.Warn("upgrade failed", "error", err)
		return
	}

	current := &session{id: uuid.NewString(), conn: conn, subscriptions: make(map[string]string)}
	server.lock.Lock()
	if server.closed {
		server.lock.Unlock()
		_ = conn.Close()
		return
	}
	server.sessions[current] = struct{}{}
	server.lock.Unlock()
	server.logger.Debug("session opened", "session", current.id, "remote", request.RemoteAddr)

	server.serve(current)
}

func (server *Server) serve(current *session) {
	defer func() {
		server.lock.Lock()
		delete(server.sessions, current)
		server.lock.Unlock()
		_ = current.conn.Close()
		server.logger.Debug("session closed", "session", current.id)
	}()

	for {
		_, data, err := current.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := decodeFrame(data)
		if err != nil {
			server.lock.Lock()
			server.write(current, Frame{Action: "/error", Body: errorBody("invalid_format", err.Error())})
			server.lock.Unlock()
			continue
		}

		server.lock.Lock()
		server.requests = append(server.requests, frame)
		server.handle(current, frame)
		server.lock.Unlock()
	}
}

func (server *Server) handle(current *session, frame Frame) {
	if len(server.config.Roles) > 0 && !current.authenticated && !strings.HasPrefix(frame.Action, "auth/") {
		body := errorBody("authorization_denied", "Unauthenticated")
		if subscriptionID := frame.str("subscription_id"); subscriptionID != "" {
			body["subscription_id"] = subscriptionID
		}
		server.write(current, reply(frame, frame.Action+"/error", body))
		return
	}

	switch frame.Action {
	case "auth/handshake":
		server.handshake(current, frame)
	case "auth/authenticate":
		server.authenticate(current, frame)
	case "rtm/subscribe":
		server.subscribe(current, frame)
	case "rtm/unsubscribe":
		server.unsubscribe(current, frame)
	case "rtm/publish":
		server.publish(current, frame)
	default:
		server.write(current, reply(frame, "/error", errorBody("invalid_operation", "Unsupported action '"+frame.Action+"'")))
	}
}

func (server *Server) handshake(current *session, frame Frame) {
	data, _ := frame.Body["data"].(map[string]any)
	role, _ := data["role"].(string)
	if _, known := server.config.Roles[role]; !known || frame.str("method") != "role_secret" {
		server.write(current, reply(frame, "auth/handshake/error", errorBody("authentication_failed", "Unknown role or method")))
		return
	}
	current.role = role
	current.nonce = uuid.NewString()
	server.write(current, reply(frame, "auth/handshake/ok", map[string]any{
		"data": map[string]any{"nonce": current.nonce},
	}))
}

func (server *Server) authenticate(current *session, frame Frame) {
	credentials, _ := frame.Body["credentials"].(map[string]any)
	hash, _ := credentials["hash"].(string)
	if current.nonce == "" {
		server.write(current, reply(frame, "auth/authenticate/error", errorBody("authentication_failed", "Handshake required")))
		return
	}
	expected := roleSecretHash(server.config.Roles[current.role], current.nonce)
	current.nonce = ""
	if !hmac.Equal([]byte(expected), []byte(hash)) {
		server.write(current, reply(frame, "auth/authenticate/error", errorBody("authentication_failed", "Invalid hash")))
		return
	}
	current.authenticated = true
	server.write(current, reply(frame, "auth/authenticate/ok", map[string]any{}))
}

func (server *Server) subscribe(current *session, frame Frame) {
	channel := frame.str("channel")
	subscriptionID := frame.str("subscription_id")
	if subscriptionID == "" {
		subscriptionID = channel
	}
	fail := func(code string, reason string) {
		body := errorBody(code, reason)
		body["subscription_id"] = subscriptionID
		server.write(current, reply(frame, "rtm/subscribe/error", body))
	}

	if channel == "" {
		fail("invalid_format", "Channel is required")
		return
	}
	if failing, exists := server.failing[channel]; exists {
		fail(failing.code, failing.reason)
		return
	}
	if _, exists := current.subscriptions[subscriptionID]; exists {
		fail("already_subscribed", "Subscription '"+subscriptionID+"' already exists")
		return
	}

	stream := server.channel(channel)
	replay, info := server.replayFor(stream, frame)
	if info == "expired_position" {
		fail("expired_position", "Position is older than the retained history")
		return
	}

	current.subscriptions[subscriptionID] = channel
	server.write(current, reply(frame, "rtm/subscribe/ok", map[string]any{
		"subscription_id": subscriptionID,
		"position":        formatPosition(generation, stream.offset),
	}))
	if info != "" {
		server.write(current, Frame{Action: "rtm/subscription/info", Body: map[string]any{
			"subscription_id": subscriptionID,
			"info":            info,
			"reason":          "Subscription position was moved to the oldest retained message",
		}})
	}
	if len(replay) > 0 {
		messages := make([]any, 0, len(replay))
		for _, stored := range replay {
			messages = append(messages, stored.message)
		}
		server.write(current, Frame{Action: "rtm/subscription/data", Body: map[string]any{
			"subscription_id": subscriptionID,
			"messages":        messages,
			"position":        formatPosition(generation, replay[len(replay)-1].offset),
		}})
	}
}

// replayFor returns the retained messages a subscribe request asks for.
// info is "fast_forward" when retention skipped messages and fast_forward
// was allowed, or "expired_position" when it was not.
func (server *Server) replayFor(stream *channelLog, frame Frame) ([]storedMessage, string) {
	if position := frame.str("position"); position != "" {
		positionGeneration, offset, ok := parsePosition(position)
		if !ok || positionGeneration != generation || offset >= stream.offset {
			return nil, ""
		}
		info := ""
		if len(stream.messages) > 0 && stream.messages[0].offset > offset+1 {
			if fastForward, _ := frame.Body["fast_forward"].(bool); !fastForward {
				return nil, "expired_position"
			}
			info = "fast_forward"
		}
		replay := make([]storedMessage, 0, len(stream.messages))
		for _, stored := range stream.messages {
			if stored.offset > offset {
				replay = append(replay, stored)
			}
		}
		return replay, info
	}

	history, _ := frame.Body["history"].(map[string]any)
	count, _ := history["count"].(float64)
	if count <= 0 {
		return nil, ""
	}
	start := len(stream.messages) - int(count)
	if start < 0 {
		start = 0
	}
	return append([]storedMessage(nil), stream.messages[start:]...), ""
}

func (server *Server) unsubscribe(current *session, frame Frame) {
	subscriptionID := frame.str("subscription_id")
	channel, exists := current.subscriptions[subscriptionID]
	if !exists {
		body := errorBody("invalid_format", "Subscription '"+subscriptionID+"' not found")
		body["subscription_id"] = subscriptionID
		server.write(current, reply(frame, "rtm/unsubscribe/error", body))
		return
	}
	delete(current.subscriptions, subscriptionID)
	server.write(current, reply(frame, "rtm/unsubscribe/ok", map[string]any{
		"subscription_id": subscriptionID,
		"position":        formatPosition(generation, server.channel(channel).offset),
	}))
}

func (server *Server) publish(current *session, frame Frame) {
	channel := frame.str("channel")
	message, hasMessage := frame.Body["message"]
	if channel == "" || !hasMessage {
		if frame.ID != "" {
			server.write(current, reply(frame, "rtm/publish/error", errorBody("invalid_format", "Channel and message are required")))
		}
		return
	}
	position := server.append(channel, message)
	if frame.ID != "" {
		server.write(current, reply(frame, "rtm/publish/ok", map[string]any{"position": position}))
	}
}

func (server *Server) channel(name string) *channelLog {
	stream, exists := server.channels[name]
	if !exists {
		stream = &channelLog{}
		server.channels[name] = stream
	}
	return stream
}

// append stores message and fans it out to every subscriber of channel.
func (server *Server) append(channel string, message any) string {
	stream := server.channel(channel)
	stream.offset++
	stream.messages = append(stream.messages, storedMessage{offset: stream.offset, message: message})
	if overflow := len(stream.messages) - server.config.History; overflow > 0 {
		stream.messages = append([]storedMessage(nil), stream.messages[overflow:]...)
	}
	position := formatPosition(generation, stream.offset)

	for _, target := range server.sortedSessions() {
		for _, subscriptionID := range sortedKeys(target.subscriptions) {
			if target.subscriptions[subscriptionID] != channel {
				continue
			}
			server.write(target, Frame{Action: "rtm/subscription/data", Body: map[string]any{
				"subscription_id": subscriptionID,
				"messages":        []any{message},
				"position":        position,
			}})
		}
	}
	return position
}

func (server *Server) write(target *session, frame Frame) {
	data, err := encodeFrame(frame)
	if err != nil {
		server.logger.Error("encode failed", "session", target.id, "action", frame.Action, "error", err)
		return
	}
	_ = target.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err = target.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		server.logger.Warn("write failed", "session", target.id, "action", frame.Action, "error", err)
	}
}

func (server *Server) sortedSessions() []*session {
	sessions := make([]*session, 0, len(server.sessions))
	for target := range server.sessions {
		sessions = append(sessions, target)
	}
	sort.Slice(sessions, func(left, right int) bool { return sessions[left].id < sessions[right].id })
	return sessions
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Publish appends message to channel as if a client published it and
// returns its position.
func (server *Server) Publish(channel string, message any) string {
	server.lock.Lock()
	defer server.lock.Unlock()
	return server.append(channel, message)
}

// Position returns the current position of channel.
func (server *Server) Position(channel string) string {
	server.lock.Lock()
	defer server.lock.Unlock()
	return formatPosition(generation, server.channel(channel).offset)
}

// FailSubscribe makes later subscribes to channel fail with code and
// reason. An empty code clears the failure.
func (server *Server) FailSubscribe(channel string, code string, reason string) {
	server.lock.Lock()
	defer server.lock.Unlock()
	if code == "" {
		delete(server.failing, channel)
		return
	}
	server.failing[channel] = failure{code: code, reason: reason}
}

// TerminateSubscription sends rtm/subscription/error for subscriptionID to
// every session holding it and drops it. It returns the number of
// sessions affected.
func (server *Server) TerminateSubscription(subscriptionID string, code string, reason string) int {
	server.lock.Lock()
	defer server.lock.Unlock()
	affected := 0
	for _, target := range server.sortedSessions() {
		channel, exists := target.subscriptions[subscriptionID]
		if !exists {
			continue
		}
		delete(target.subscriptions, subscriptionID)
		body := errorBody(code, reason)
		body["subscription_id"] = subscriptionID
		body["position"] = formatPosition(generation, server.channel(channel).offset)
		server.write(target, Frame{Action: "rtm/subscription/error", Body: body})
		affected++
	}
	return affected
}

// SendInfo sends rtm/subscription/info for subscriptionID to every session
// holding it.
func (server *Server) SendInfo(subscriptionID string, info string, reason string) int {
	server.lock.Lock()
	defer server.lock.Unlock()
	affected := 0
	for _, target := range server.sortedSessions() {
		if _, exists := target.subscriptions[subscriptionID]; !exists {
			continue
		}
		server.write(target, Frame{Action: "rtm/subscription/info", Body: map[string]any{
			"subscription_id": subscriptionID,
			"info":            info,
			"reason":          reason,
		}})
		affected++
	}
	return affected
}

// Requests returns every PDU received so far whose action matches, or all
// of them when action is empty.
func (server *Server) Requests(action string) []Frame {
	server.lock.Lock()
	defer server.lock.Unlock()
	frames := make([]Frame, 0, len(server.requests))
	for _, frame := range server.requests {
		if action == "" || frame.Action == action {
			frames = append(frames, frame)
		}
	}
	return frames
}

// SessionCount returns the number of open sessions.
func (server *Server) SessionCount() int {
	server.lock.Lock()
	defer server.lock.Unlock()
	return len(server.sessions)
}

// DropConnections closes every open session without a close frame.
func (server *Server) DropConnections() int {
	server.lock.Lock()
	defer server.lock.Unlock()
	for target := range server.sessions {
		_ = target.conn.Close()
	}
	return len(server.sessions)
}

// Close drops every session, refuses new ones and waits for the session
// goroutines to finish.
func (server *Server) Close() {
	server.lock.Lock()
	server.closed = true
	for target := range server.sessions {
		_ = target.conn.Close()
	}
	server.lock.Unlock()
	server.group.Wait()
}
