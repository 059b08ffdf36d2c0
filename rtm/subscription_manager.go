package rtm

import (
	"sort"
	"sync"
)

// SubscriptionManager owns the subscription id table and routes inbound
// PDUs to the subscription they address. Handlers run without the table
// lock held.
type SubscriptionManager struct {
	lock             sync.Mutex
	bySubscriptionID map[string]*Subscription
	logger           Logger
	metrics          *Metrics
}

// NewSubscriptionManager returns an empty manager that logs nowhere.
func NewSubscriptionManager() *SubscriptionManager {
	return &SubscriptionManager{
		bySubscriptionID: make(map[string]*Subscription),
		logger:           NopLogger(),
	}
}

// SetLogger sets the logger used for routing diagnostics.
func (manager *SubscriptionManager) SetLogger(logger Logger) *SubscriptionManager {
	if logger == nil {
		logger = NopLogger()
	}
	manager.lock.Lock()
	manager.logger = logger
	manager.lock.Unlock()
	return manager
}

// SetMetrics sets the metrics sink.
func (manager *SubscriptionManager) SetMetrics(metrics *Metrics) *SubscriptionManager {
	manager.lock.Lock()
	manager.metrics = metrics
	manager.lock.Unlock()
	return manager
}

// Register adds subscription to the table. It fails with
// DuplicateSubscriptionError when the id already has a live entry; a
// terminal entry is replaced.
func (manager *SubscriptionManager) Register(subscription *Subscription) error {
	if subscription == nil {
		return NewError(UnknownError, "nil subscription")
	}
	subscriptionID := subscription.SubscriptionID()

	manager.lock.Lock()
	defer manager.lock.Unlock()

	if existing, exists := manager.bySubscriptionID[subscriptionID]; exists && existing.State() != StateUnsubscribed {
		return NewError(DuplicateSubscriptionError, "Subscription with ID '"+subscriptionID+"' already exists")
	}
	manager.bySubscriptionID[subscriptionID] = subscription
	manager.metrics.setSubscriptions(len(manager.bySubscriptionID))
	return nil
}

// Unregister removes the entry for subscriptionID. Unknown ids are ignored.
func (manager *SubscriptionManager) Unregister(subscriptionID string) {
	manager.lock.Lock()
	delete(manager.bySubscriptionID, subscriptionID)
	manager.metrics.setSubscriptions(len(manager.bySubscriptionID))
	manager.lock.Unlock()
}

// Lookup returns the registered subscription for subscriptionID.
func (manager *SubscriptionManager) Lookup(subscriptionID string) (*Subscription, bool) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	subscription, exists := manager.bySubscriptionID[subscriptionID]
	return subscription, exists
}

// Len returns the number of registered subscriptions.
func (manager *SubscriptionManager) Len() int {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	return len(manager.bySubscriptionID)
}

// IDs returns the registered subscription ids in sorted order.
func (manager *SubscriptionManager) IDs() []string {
	manager.lock.Lock()
	ids := make([]string, 0, len(manager.bySubscriptionID))
	for subscriptionID := range manager.bySubscriptionID {
		ids = append(ids, subscriptionID)
	}
	manager.lock.Unlock()
	sort.Strings(ids)
	return ids
}

// Dispatch routes pdu by body.subscription_id. PDUs without an id or for an
// unknown id are logged and dropped; Dispatch reports whether a
// subscription received the PDU.
func (manager *SubscriptionManager) Dispatch(pdu PDU) bool {
	subscriptionID, ok := pdu.String(fieldSubscriptionID)
	if !ok || subscriptionID == "" {
		manager.drop(pdu, DropMissingSubscriptionID, "")
		return false
	}
	return manager.DispatchTo(subscriptionID, pdu)
}

// DispatchTo delivers pdu to the subscription registered as
// subscriptionID. It is used when the target was resolved from the request
// id rather than the body.
func (manager *SubscriptionManager) DispatchTo(subscriptionID string, pdu PDU) bool {
	manager.lock.Lock()
	subscription, exists := manager.bySubscriptionID[subscriptionID]
	manager.lock.Unlock()
	if !exists {
		manager.drop(pdu, DropUnknownSubscription, subscriptionID)
		return false
	}

	subscription.OnPDU(pdu)

	if subscription.State() == StateUnsubscribed {
		manager.lock.Lock()
		if manager.bySubscriptionID[subscriptionID] == subscription {
			delete(manager.bySubscriptionID, subscriptionID)
			manager.metrics.setSubscriptions(len(manager.bySubscriptionID))
		}
		manager.lock.Unlock()
	}
	return true
}

// BroadcastDisconnect calls ProcessDisconnect on every registered
// subscription, in id order, and clears the table.
func (manager *SubscriptionManager) BroadcastDisconnect() {
	manager.lock.Lock()
	ids := make([]string, 0, len(manager.bySubscriptionID))
	for subscriptionID := range manager.bySubscriptionID {
		ids = append(ids, subscriptionID)
	}
	sort.Strings(ids)
	subscriptions := make([]*Subscription, 0, len(ids))
	for _, subscriptionID := range ids {
		subscriptions = append(subscriptions, manager.bySubscriptionID[subscriptionID])
	}
	manager.bySubscriptionID = make(map[string]*Subscription)
	manager.metrics.setSubscriptions(0)
	manager.lock.Unlock()

	for _, subscription := range subscriptions {
		subscription.ProcessDisconnect()
	}
}

func (manager *SubscriptionManager) drop(pdu PDU, reason string, subscriptionID string) {
	manager.lock.Lock()
	logger := manager.logger
	metrics := manager.metrics
	manager.lock.Unlock()

	metrics.dropped(reason)
	logger.Warn("dropping unroutable pdu", "action", pdu.Action, "reason", reason, "subscription_id", subscriptionID)
}
