// Package rtm is a client for RTM publish/subscribe services reached over a
// WebSocket connection carrying JSON PDUs.
//
// The primary lifecycle is:
//   - construct a Client with NewClient
//   - optionally SetAuthenticator, SetPositionStore, SetMetrics
//   - Connect, which dials, authenticates and resubscribes
//   - Subscribe to channels and Publish messages
//   - Close when finished
//
// Each Subscription moves from StatePending to StateSubscribed and ends in
// StateUnsubscribed. Its handler receives SubscribedEvent,
// UnsubscribedEvent, ErrorEvent, InfoEvent and DataEvent values in the order
// the server sent the underlying PDUs. A lost connection ends every
// subscription with an UnsubscribedEvent whose Cause is CauseDisconnect; the
// client then reconnects and resubscribes from the last known position.
//
// Inbound frames are read on one goroutine and dispatched on another, so a
// slow handler delays later events but not socket reads until the inbound
// queue fills. Handlers must not call Disconnect or Close.
//
// Errors are *Error values created with NewError; test them with
// IsErrorCode.
package rtm
