package rtm

import "sync"

// EndpointChooser picks the endpoint for each connect attempt and is told
// how the attempt went.
type EndpointChooser interface {
	CurrentEndpoint() string
	ReportFailure(endpoint string, err error)
	ReportSuccess(endpoint string)
}

// RoundRobinChooser moves to the next endpoint after every failed attempt
// and stays on an endpoint while it keeps working.
type RoundRobinChooser struct {
	lock      sync.Mutex
	endpoints []string
	index     int
	lastError error
}

// NewRoundRobinChooser returns a chooser over endpoints; empty strings are
// skipped.
func NewRoundRobinChooser(endpoints ...string) *RoundRobinChooser {
	chooser := &RoundRobinChooser{endpoints: make([]string, 0, len(endpoints))}
	for _, endpoint := range endpoints {
		chooser.Add(endpoint)
	}
	return chooser
}

// Add appends endpoint to the rotation.
func (chooser *RoundRobinChooser) Add(endpoint string) *RoundRobinChooser {
	if endpoint == "" {
		return chooser
	}
	chooser.lock.Lock()
	chooser.endpoints = append(chooser.endpoints, endpoint)
	chooser.lock.Unlock()
	return chooser
}

// Remove drops every occurrence of endpoint.
func (chooser *RoundRobinChooser) Remove(endpoint string) {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()

	filtered := chooser.endpoints[:0]
	for _, current := range chooser.endpoints {
		if current != endpoint {
			filtered = append(filtered, current)
		}
	}
	chooser.endpoints = filtered
	if chooser.index >= len(chooser.endpoints) {
		chooser.index = 0
	}
}

// Endpoints returns the rotation in order.
func (chooser *RoundRobinChooser) Endpoints() []string {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return append([]string(nil), chooser.endpoints...)
}

// CurrentEndpoint returns the endpoint for the next attempt, or "" when the
// rotation is empty.
func (chooser *RoundRobinChooser) CurrentEndpoint() string {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	if len(chooser.endpoints) == 0 {
		return ""
	}
	return chooser.endpoints[chooser.index]
}

// ReportFailure records err and advances when endpoint is still current.
func (chooser *RoundRobinChooser) ReportFailure(endpoint string, err error) {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	chooser.lastError = err
	if len(chooser.endpoints) > 0 && chooser.endpoints[chooser.index] == endpoint {
		chooser.index = (chooser.index + 1) % len(chooser.endpoints)
	}
}

// ReportSuccess clears the last error.
func (chooser *RoundRobinChooser) ReportSuccess(string) {
	chooser.lock.Lock()
	chooser.lastError = nil
	chooser.lock.Unlock()
}

// LastError returns the error of the most recent failed attempt since the
// last success.
func (chooser *RoundRobinChooser) LastError() error {
	chooser.lock.Lock()
	defer chooser.lock.Unlock()
	return chooser.lastError
}
