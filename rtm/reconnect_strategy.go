package rtm

import (
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

const (
	defaultMaxReconnectDelay = 30 * time.Second
	defaultBackoffFactor     = 2.0
)

// ReconnectDelayStrategy decides how long to wait before each reconnect
// attempt on endpoint. An error stops reconnecting.
type ReconnectDelayStrategy interface {
	ConnectWaitDuration(endpoint string) (time.Duration, error)
	Reset()
}

// FixedDelayStrategy waits Delay before every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a FixedDelayStrategy; a negative delay is
// treated as zero.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	return &FixedDelayStrategy{Delay: max(delay, 0)}
}

func (strategy *FixedDelayStrategy) ConnectWaitDuration(string) (time.Duration, error) {
	return strategy.Delay, nil
}

func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy waits BaseDelay before the first attempt on an
// endpoint and multiplies by Factor for each further attempt, capped at
// MaxDelay. Attempts are counted per endpoint until Reset, so rotating to a
// fresh endpoint starts from BaseDelay.
//
// Jitter in [0, 1] subtracts up to that fraction of each delay at random.
// MaxAttempts, when non-zero, makes the attempt after the last allowed one
// fail with TimedOutError.
type ExponentialDelayStrategy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64
	MaxAttempts uint32

	lock     sync.Mutex
	attempts map[string]uint32
}

// NewExponentialDelayStrategy returns an ExponentialDelayStrategy. A
// non-positive maxDelay becomes 30s and a factor below 1 becomes 2.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if maxDelay <= 0 {
		maxDelay = defaultMaxReconnectDelay
	}
	if factor < 1 {
		factor = defaultBackoffFactor
	}
	return &ExponentialDelayStrategy{
		BaseDelay: max(baseDelay, 0),
		MaxDelay:  maxDelay,
		Factor:    factor,
	}
}

func (strategy *ExponentialDelayStrategy) ConnectWaitDuration(endpoint string) (time.Duration, error) {
	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if strategy.attempts == nil {
		strategy.attempts = make(map[string]uint32)
	}
	attempt := strategy.attempts[endpoint]
	if strategy.MaxAttempts > 0 && attempt >= strategy.MaxAttempts {
		return 0, NewError(TimedOutError, "gave up reconnecting to '"+endpoint+"' after "+strconv.FormatUint(uint64(attempt), 10)+" attempts")
	}
	strategy.attempts[endpoint] = attempt + 1

	delay := strategy.backoff(attempt)
	if strategy.Jitter > 0 && delay > 0 {
		delay -= time.Duration(rand.Float64() * min(strategy.Jitter, 1) * float64(delay))
	}
	return delay, nil
}

// backoff returns BaseDelay * Factor^attempt without exceeding MaxDelay.
func (strategy *ExponentialDelayStrategy) backoff(attempt uint32) time.Duration {
	delay := float64(strategy.BaseDelay)
	limit := float64(strategy.MaxDelay)
	for step := uint32(0); step < attempt && delay < limit; step++ {
		delay *= strategy.Factor
	}
	return time.Duration(min(delay, limit))
}

// Reset forgets every attempt count, typically after a successful connect.
func (strategy *ExponentialDelayStrategy) Reset() {
	strategy.lock.Lock()
	clear(strategy.attempts)
	strategy.lock.Unlock()
}
