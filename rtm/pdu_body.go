package rtm

// Body is the typed view of a PDU body, selected by action.
type Body interface {
	body()
}

// SubscribeOKBody is the body of rtm/subscribe/ok.
type SubscribeOKBody struct {
	SubscriptionID string
	Position       string
	HasPosition    bool
}

// UnsubscribeOKBody is the body of rtm/unsubscribe/ok.
type UnsubscribeOKBody struct {
	SubscriptionID string
	Position       string
	HasPosition    bool
}

// ErrorBody is the body of every */error action.
type ErrorBody struct {
	SubscriptionID string
	Error          string
	Reason         string
	Position       string
	HasPosition    bool
}

// InfoBody is the body of rtm/subscription/info.
type InfoBody struct {
	SubscriptionID string
	Info           string
	Reason         string
	Position       string
	HasPosition    bool
}

// DataBody is the body of rtm/subscription/data.
type DataBody struct {
	SubscriptionID string
	Messages       []any
	Position       string
	HasPosition    bool
}

// RawBody keeps actions this client does not model.
type RawBody struct {
	Action string
	Fields map[string]any
}

func (SubscribeOKBody) body()   {}
func (UnsubscribeOKBody) body() {}
func (ErrorBody) body()         {}
func (InfoBody) body()          {}
func (DataBody) body()          {}
func (RawBody) body()           {}

// ParseBody returns the typed body for pdu. Unknown actions yield RawBody.
func ParseBody(pdu PDU) Body {
	subscriptionID, _ := pdu.String(fieldSubscriptionID)
	position, hasPosition := pdu.Position()

	switch pdu.Action {
	case ActionSubscribeOK:
		return SubscribeOKBody{SubscriptionID: subscriptionID, Position: position, HasPosition: hasPosition}
	case ActionUnsubscribeOK:
		return UnsubscribeOKBody{SubscriptionID: subscriptionID, Position: position, HasPosition: hasPosition}
	case ActionSubscribeError, ActionUnsubscribeError, ActionSubscriptionError, ActionPublishError,
		ActionHandshakeError, ActionAuthenticateError, ActionGenericError:
		code, _ := pdu.String(fieldError)
		reason, _ := pdu.String(fieldReason)
		return ErrorBody{
			SubscriptionID: subscriptionID,
			Error:          code,
			Reason:         reason,
			Position:       position,
			HasPosition:    hasPosition,
		}
	case ActionSubscriptionInfo:
		info, _ := pdu.String(fieldInfo)
		reason, _ := pdu.String(fieldReason)
		return InfoBody{
			SubscriptionID: subscriptionID,
			Info:           info,
			Reason:         reason,
			Position:       position,
			HasPosition:    hasPosition,
		}
	case ActionSubscriptionData:
		return DataBody{
			SubscriptionID: subscriptionID,
			Messages:       messagesOf(pdu.Get(fieldMessages)),
			Position:       position,
			HasPosition:    hasPosition,
		}
	default:
		return RawBody{Action: pdu.Action, Fields: pdu.Body}
	}
}

func messagesOf(value any) []any {
	switch messages := value.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(messages))
		copy(out, messages)
		return out
	case []string:
		out := make([]any, len(messages))
		for index, message := range messages {
			out[index] = message
		}
		return out
	case []map[string]any:
		out := make([]any, len(messages))
		for index, message := range messages {
			out[index] = message
		}
		return out
	default:
		return []any{messages}
	}
}
