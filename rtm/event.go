package rtm

// EventType tags the lifecycle and data events delivered to a Handler.
type EventType int

// Event types delivered to subscription handlers.
const (
	EventSubscribed EventType = iota
	EventUnsubscribed
	EventError
	EventInfo
	EventData
)

func (eventType EventType) String() string {
	switch eventType {
	case EventSubscribed:
		return "SUBSCRIBED"
	case EventUnsubscribed:
		return "UNSUBSCRIBED"
	case EventError:
		return "ERROR"
	case EventInfo:
		return "INFO"
	case EventData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// UnsubscribeCause says why a subscription reached its terminal state.
type UnsubscribeCause int

const (
	// CauseRequested follows an rtm/unsubscribe/ok reply.
	CauseRequested UnsubscribeCause = iota
	// CauseServerError follows an rtm/subscription/error.
	CauseServerError
	// CauseDisconnect is synthesized when the connection is lost.
	CauseDisconnect
)

func (cause UnsubscribeCause) String() string {
	switch cause {
	case CauseRequested:
		return "requested"
	case CauseServerError:
		return "server_error"
	case CauseDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one of SubscribedEvent, UnsubscribedEvent, ErrorEvent,
// InfoEvent or DataEvent.
type Event interface {
	Type() EventType
	Accept(visitor EventVisitor)
}

// EventVisitor handles every event variant. Adding a variant breaks every
// visitor at compile time.
type EventVisitor interface {
	VisitSubscribed(event SubscribedEvent)
	VisitUnsubscribed(event UnsubscribedEvent)
	VisitError(event ErrorEvent)
	VisitInfo(event InfoEvent)
	VisitData(event DataEvent)
}

// SubscribedEvent is emitted when the server acknowledges a subscribe.
type SubscribedEvent struct {
	SubscriptionID string
	Position       string
}

// UnsubscribedEvent is the terminal event of a subscription.
type UnsubscribedEvent struct {
	SubscriptionID string
	Position       string
	Cause          UnsubscribeCause
	Error          string
	Reason         string
}

// Lost reports whether the subscription ended because the connection
// dropped rather than by request or rejection.
func (event UnsubscribedEvent) Lost() bool {
	return event.Cause == CauseDisconnect
}

// ErrorEvent carries a protocol-level error for one subscription.
type ErrorEvent struct {
	SubscriptionID string
	Error          string
	Reason         string
}

// InfoEvent carries an informational notice, such as a fast-forward.
type InfoEvent struct {
	SubscriptionID string
	Info           string
	Reason         string
}

// DataEvent carries one batch of channel messages in server order.
type DataEvent struct {
	SubscriptionID string
	Messages       []any
	Position       string
}

func (SubscribedEvent) Type() EventType   { return EventSubscribed }
func (UnsubscribedEvent) Type() EventType { return EventUnsubscribed }
func (ErrorEvent) Type() EventType        { return EventError }
func (InfoEvent) Type() EventType         { return EventInfo }
func (DataEvent) Type() EventType         { return EventData }

func (event SubscribedEvent) Accept(visitor EventVisitor)   { visitor.VisitSubscribed(event) }
func (event UnsubscribedEvent) Accept(visitor EventVisitor) { visitor.VisitUnsubscribed(event) }
func (event ErrorEvent) Accept(visitor EventVisitor)        { visitor.VisitError(event) }
func (event InfoEvent) Accept(visitor EventVisitor)         { visitor.VisitInfo(event) }
func (event DataEvent) Accept(visitor EventVisitor)         { visitor.VisitData(event) }

// Handler consumes the events of a subscription. The subscription is passed
// as the callback context.
type Handler interface {
	HandleEvent(subscription *Subscription, event Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(subscription *Subscription, event Event)

// HandleEvent calls handlerFunc.
func (handlerFunc HandlerFunc) HandleEvent(subscription *Subscription, event Event) {
	handlerFunc(subscription, event)
}

// VisitorHandler adapts an EventVisitor to Handler.
func VisitorHandler(visitor EventVisitor) Handler {
	return HandlerFunc(func(_ *Subscription, event Event) {
		event.Accept(visitor)
	})
}
