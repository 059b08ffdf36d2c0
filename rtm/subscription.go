package rtm

import "sync"

// SubscriptionState is the lifecycle state of a Subscription.
type SubscriptionState int

// Subscription states. StateUnsubscribed is terminal.
const (
	StatePending SubscriptionState = iota
	StateSubscribed
	StateUnsubscribed
)

func (state SubscriptionState) String() string {
	switch state {
	case StatePending:
		return "PENDING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateUnsubscribed:
		return "UNSUBSCRIBED"
	default:
		return "UNKNOWN"
	}
}

// Subscription tracks one channel subscription: its state, configuration
// and the last server position. Inbound PDUs are applied with OnPDU and the
// resulting events go to the handler in order.
type Subscription struct {
	lock           sync.Mutex
	subscriptionID string
	channel        string
	options        Options
	handler        Handler
	state          SubscriptionState
	position       string
}

// NewSubscription returns a pending subscription for channel. The
// subscription id is the channel name unless options carries a
// subscription_id override.
func NewSubscription(channel string, handler Handler, options Options) *Subscription {
	subscriptionID := channel
	if override, ok := options.SubscriptionID(); ok {
		subscriptionID = override
	}
	return &Subscription{
		subscriptionID: subscriptionID,
		channel:        channel,
		options:        options.Clone(),
		handler:        handler,
		state:          StatePending,
	}
}

// SubscriptionID returns the routing id.
func (subscription *Subscription) SubscriptionID() string { return subscription.subscriptionID }

// Channel returns the channel name given at construction.
func (subscription *Subscription) Channel() string { return subscription.channel }

// Options returns a copy of the options given at construction.
func (subscription *Subscription) Options() Options { return subscription.options.Clone() }

// Position returns the last position reported by the server, or "" before
// the first one. A resume position passed in the options is only sent in
// the subscribe request; it is not reported here.
func (subscription *Subscription) Position() string {
	subscription.lock.Lock()
	defer subscription.lock.Unlock()
	return subscription.position
}

// State returns the current lifecycle state.
func (subscription *Subscription) State() SubscriptionState {
	subscription.lock.Lock()
	defer subscription.lock.Unlock()
	return subscription.state
}

// SubscribePDU builds the rtm/subscribe request. The body is a shallow copy
// of the options with channel and subscription_id set to the subscription
// id. It does not change state.
func (subscription *Subscription) SubscribePDU() PDU {
	body := make(map[string]any, len(subscription.options)+2)
	for key, value := range subscription.options {
		body[key] = value
	}
	body[fieldChannel] = subscription.subscriptionID
	body[fieldSubscriptionID] = subscription.subscriptionID
	return NewPDU(ActionSubscribe, body)
}

// UnsubscribePDU builds the rtm/unsubscribe request.
func (subscription *Subscription) UnsubscribePDU() PDU {
	return NewPDU(ActionUnsubscribe, map[string]any{
		fieldSubscriptionID: subscription.subscriptionID,
	})
}

// OnPDU applies one inbound PDU addressed to this subscription and emits
// the resulting events. Unknown actions are ignored. A position in the body
// always replaces the stored one.
//
// Once StateUnsubscribed is reached, late acknowledgements only update the
// position: subscribe/ok and unsubscribe/ok emit nothing and
// subscription/error emits its ErrorEvent without a second UnsubscribedEvent.
func (subscription *Subscription) OnPDU(pdu PDU) {
	subscription.lock.Lock()
	if position, ok := pdu.Position(); ok {
		subscription.position = position
	}
	terminal := subscription.state == StateUnsubscribed

	var events []Event
	switch body := ParseBody(pdu).(type) {
	case SubscribeOKBody:
		if terminal {
			break
		}
		subscription.state = StateSubscribed
		events = append(events, SubscribedEvent{
			SubscriptionID: subscription.subscriptionID,
			Position:       subscription.position,
		})
	case UnsubscribeOKBody:
		if terminal {
			break
		}
		subscription.state = StateUnsubscribed
		events = append(events, UnsubscribedEvent{
			SubscriptionID: subscription.subscriptionID,
			Position:       subscription.position,
			Cause:          CauseRequested,
		})
	case ErrorBody:
		switch pdu.Action {
		case ActionSubscribeError, ActionUnsubscribeError:
			events = append(events, ErrorEvent{
				SubscriptionID: subscription.subscriptionID,
				Error:          body.Error,
				Reason:         body.Reason,
			})
		case ActionSubscriptionError:
			if terminal {
				events = append(events, ErrorEvent{
					SubscriptionID: subscription.subscriptionID,
					Error:          body.Error,
					Reason:         body.Reason,
				})
				break
			}
			subscription.state = StateUnsubscribed
			events = append(events,
				ErrorEvent{
					SubscriptionID: subscription.subscriptionID,
					Error:          body.Error,
					Reason:         body.Reason,
				},
				UnsubscribedEvent{
					SubscriptionID: subscription.subscriptionID,
					Position:       subscription.position,
					Cause:          CauseServerError,
					Error:          body.Error,
					Reason:         body.Reason,
				},
			)
		}
	case InfoBody:
		events = append(events, InfoEvent{
			SubscriptionID: subscription.subscriptionID,
			Info:           body.Info,
			Reason:         body.Reason,
		})
	case DataBody:
		events = append(events, DataEvent{
			SubscriptionID: subscription.subscriptionID,
			Messages:       body.Messages,
			Position:       subscription.position,
		})
	}
	subscription.lock.Unlock()

	subscription.emit(events...)
}

// ProcessDisconnect moves the subscription to StateUnsubscribed and emits
// an UnsubscribedEvent with CauseDisconnect. Repeated calls emit again.
func (subscription *Subscription) ProcessDisconnect() {
	subscription.lock.Lock()
	subscription.state = StateUnsubscribed
	event := UnsubscribedEvent{
		SubscriptionID: subscription.subscriptionID,
		Position:       subscription.position,
		Cause:          CauseDisconnect,
	}
	subscription.lock.Unlock()

	subscription.emit(event)
}

func (subscription *Subscription) emit(events ...Event) {
	if subscription.handler == nil {
		return
	}
	for _, event := range events {
		subscription.handler.HandleEvent(subscription, event)
	}
}
