package rtm

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Actions understood or produced by the client.
const (
	ActionSubscribe         = "rtm/subscribe"
	ActionSubscribeOK       = "rtm/subscribe/ok"
	ActionSubscribeError    = "rtm/subscribe/error"
	ActionUnsubscribe       = "rtm/unsubscribe"
	ActionUnsubscribeOK     = "rtm/unsubscribe/ok"
	ActionUnsubscribeError  = "rtm/unsubscribe/error"
	ActionSubscriptionData  = "rtm/subscription/data"
	ActionSubscriptionInfo  = "rtm/subscription/info"
	ActionSubscriptionError = "rtm/subscription/error"
	ActionPublish           = "rtm/publish"
	ActionPublishOK         = "rtm/publish/ok"
	ActionPublishError      = "rtm/publish/error"
	ActionHandshake         = "auth/handshake"
	ActionHandshakeOK       = "auth/handshake/ok"
	ActionHandshakeError    = "auth/handshake/error"
	ActionAuthenticate      = "auth/authenticate"
	ActionAuthenticateOK    = "auth/authenticate/ok"
	ActionAuthenticateError = "auth/authenticate/error"
	ActionGenericError      = "/error"
)

const (
	fieldSubscriptionID = "subscription_id"
	fieldChannel        = "channel"
	fieldPosition       = "position"
	fieldMessages       = "messages"
	fieldMessage        = "message"
	fieldError          = "error"
	fieldReason         = "reason"
	fieldInfo           = "info"
	fieldFilter         = "filter"
	fieldFastForward    = "fast_forward"

	defaultPDUBodyMapCapacity = 4
)

// PDU is one unit of wire traffic: an action name and its body.
type PDU struct {
	Action string         `json:"action"`
	ID     string         `json:"id,omitempty"`
	Body   map[string]any `json:"body"`
}

// NewPDU returns a PDU with body defaulted to an empty map.
func NewPDU(action string, body map[string]any) PDU {
	if body == nil {
		body = make(map[string]any, defaultPDUBodyMapCapacity)
	}
	return PDU{Action: action, Body: body}
}

// Get returns body[key], or nil when the key is absent.
func (pdu PDU) Get(key string) any {
	if pdu.Body == nil {
		return nil
	}
	return pdu.Body[key]
}

// String returns body[key] when it holds a string.
func (pdu PDU) String(key string) (string, bool) {
	value, ok := pdu.Get(key).(string)
	return value, ok
}

// Position returns the body's position cursor. Numeric cursors are
// formatted in decimal.
func (pdu PDU) Position() (string, bool) {
	switch position := pdu.Get(fieldPosition).(type) {
	case string:
		return position, true
	case json.Number:
		return position.String(), true
	case float64:
		return strconv.FormatFloat(position, 'f', -1, 64), true
	case int:
		return strconv.Itoa(position), true
	case int64:
		return strconv.FormatInt(position, 10), true
	default:
		return "", false
	}
}

// Has reports whether key is present in the body, even with a null value.
func (pdu PDU) Has(key string) bool {
	if pdu.Body == nil {
		return false
	}
	_, exists := pdu.Body[key]
	return exists
}

// IsError reports whether the action carries the error outcome.
func (pdu PDU) IsError() bool {
	return strings.HasSuffix(pdu.Action, ActionGenericError)
}

// EncodePDU serializes pdu to its JSON wire shape.
func EncodePDU(pdu PDU) ([]byte, error) {
	if pdu.Action == "" {
		return nil, NewError(ProtocolError, "pdu action is required")
	}
	if pdu.Body == nil {
		pdu.Body = map[string]any{}
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(pdu); err != nil {
		return nil, NewError(ProtocolError, err)
	}
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}

// DecodePDU parses one wire frame. A missing or null body decodes to an
// empty map; a missing action is a protocol error.
func DecodePDU(frame []byte) (PDU, error) {
	var pdu PDU
	if err := json.Unmarshal(frame, &pdu); err != nil {
		return PDU{}, NewError(ProtocolError, err)
	}
	if pdu.Action == "" {
		return PDU{}, NewError(ProtocolError, "frame has no action")
	}
	if pdu.Body == nil {
		pdu.Body = map[string]any{}
	}
	return pdu, nil
}
