package testutil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTransportClosed is returned by FakeTransport after Close.
var ErrTransportClosed = errors.New("fake transport closed")

// Counter is a deterministic integer counter for tests.
type Counter struct {
	lock  sync.Mutex
	value int
}

// Next increments and returns counter value.
func (counter *Counter) Next() int {
	counter.lock.Lock()
	defer counter.lock.Unlock()
	counter.value++
	return counter.value
}

// Recorder collects values from concurrent producers and lets tests wait
// for a given count.
type Recorder[T any] struct {
	lock    sync.Mutex
	items   []T
	changed chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{changed: make(chan struct{})}
}

// Record appends item and wakes waiters.
func (recorder *Recorder[T]) Record(item T) {
	recorder.lock.Lock()
	recorder.items = append(recorder.items, item)
	close(recorder.changed)
	recorder.changed = make(chan struct{})
	recorder.lock.Unlock()
}

// Items returns a copy of everything recorded so far.
func (recorder *Recorder[T]) Items() []T {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]T(nil), recorder.items...)
}

// WaitFor blocks until at least count items are recorded or timeout
// elapses. It returns the items and whether the count was reached.
func (recorder *Recorder[T]) WaitFor(count int, timeout time.Duration) ([]T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		recorder.lock.Lock()
		if len(recorder.items) >= count {
			items := append([]T(nil), recorder.items...)
			recorder.lock.Unlock()
			return items, true
		}
		changed := recorder.changed
		recorder.lock.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return recorder.Items(), false
		}
	}
}

// FakeTransport is an in-memory duplex frame channel. Frames pushed before
// Close are still delivered before the close error.
type FakeTransport struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	sent      *Recorder[[]byte]

	lock    sync.Mutex
	sendErr error
}

// NewFakeTransport returns an open FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		inbound: make(chan []byte, 1024),
		closed:  make(chan struct{}),
		sent:    NewRecorder[[]byte](),
	}
}

// Push queues an inbound frame.
func (transport *FakeTransport) Push(frame []byte) {
	transport.inbound <- append([]byte(nil), frame...)
}

// FailSends makes every later Send return err.
func (transport *FakeTransport) FailSends(err error) {
	transport.lock.Lock()
	transport.sendErr = err
	transport.lock.Unlock()
}

// Send records frame.
func (transport *FakeTransport) Send(_ context.Context, frame []byte) error {
	select {
	case <-transport.closed:
		return ErrTransportClosed
	default:
	}
	transport.lock.Lock()
	err := transport.sendErr
	transport.lock.Unlock()
	if err != nil {
		return err
	}
	transport.sent.Record(append([]byte(nil), frame...))
	return nil
}

// Receive returns the next pushed frame.
func (transport *FakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-transport.inbound:
		return frame, nil
	default:
	}
	select {
	case frame := <-transport.inbound:
		return frame, nil
	case <-transport.closed:
		select {
		case frame := <-transport.inbound:
			return frame, nil
		default:
		}
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unblocks Receive. It is idempotent.
func (transport *FakeTransport) Close() error {
	transport.closeOnce.Do(func() { close(transport.closed) })
	return nil
}

// IsClosed reports whether Close was called.
func (transport *FakeTransport) IsClosed() bool {
	select {
	case <-transport.closed:
		return true
	default:
		return false
	}
}

// Sent returns every frame sent so far.
func (transport *FakeTransport) Sent() [][]byte { return transport.sent.Items() }

// WaitSent waits until count frames were sent.
func (transport *FakeTransport) WaitSent(count int, timeout time.Duration) ([][]byte, bool) {
	return transport.sent.WaitFor(count, timeout)
}
