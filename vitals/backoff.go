package vitals

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// BackoffPolicy describes reconnect delays shared by both transport adapters.
//
// The wait after failed attempt n (1-indexed) is min(Initial * Factor^(n-1), Max),
// optionally spread by ±Jitter. Once n reaches MaxAttempts no further attempt is made;
// MaxAttempts <= 0 retries forever.
type BackoffPolicy struct {
	Initial     time.Duration `yaml:"initial"`
	Max         time.Duration `yaml:"max"`
	Factor      float64       `yaml:"factor"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      float64       `yaml:"jitter"`
}

// SocketBackoff is the socket transport default: 1s doubling to a 5s cap, 5 attempts.
// MaxAttempts counts the first connect, so this gives up after 4 retries. A Socket.IO
// client's reconnectionAttempts of 5 would allow 6 connects in total.
func SocketBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: time.Second, Max: 5 * time.Second, Factor: 2, MaxAttempts: 5}
}

// StreamBackoff is the stream transport default. Attempt n waits min(1s * 2^n, 30s).
func StreamBackoff() BackoffPolicy {
	return BackoffPolicy{Initial: 2 * time.Second, Max: 30 * time.Second, Factor: 2, MaxAttempts: 5}
}

func (policy BackoffPolicy) normalized() BackoffPolicy {
	if policy.Initial < 0 {
		policy.Initial = 0
	}
	if policy.Max <= 0 {
		policy.Max = 30 * time.Second
	}
	if policy.Factor < 1 {
		policy.Factor = 2
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}
	if policy.Jitter > 1 {
		policy.Jitter = 1
	}
	return policy
}

// Delay returns the wait scheduled after failed attempt n.
func (policy BackoffPolicy) Delay(attempt int) time.Duration {
	policy = policy.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(policy.Initial) * math.Pow(policy.Factor, float64(attempt-1))
	if policy.Jitter > 0 && delay > 0 {
		deviation := rand.Float64() * policy.Jitter * delay
		if rand.IntN(2) == 0 {
			delay -= deviation
		} else {
			delay += deviation
		}
	}
	if delay > float64(policy.Max) {
		delay = float64(policy.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Exhausted reports whether no attempt may follow failed attempt n.
func (policy BackoffPolicy) Exhausted(attempt int) bool {
	return policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts
}

// Backoff counts consecutive failures against a policy.
type Backoff struct {
	lock     sync.Mutex
	policy   BackoffPolicy
	attempts int
}

// NewBackoff returns a counter at zero attempts.
func NewBackoff(policy BackoffPolicy) *Backoff {
	return &Backoff{policy: policy}
}

// Failure records one failed attempt. It returns the attempt number, the wait before
// the next attempt, and whether the policy forbids another attempt.
func (backoff *Backoff) Failure() (attempt int, wait time.Duration, exhausted bool) {
	backoff.lock.Lock()
	backoff.attempts++
	attempt = backoff.attempts
	backoff.lock.Unlock()

	if backoff.policy.Exhausted(attempt) {
		return attempt, 0, true
	}
	return attempt, backoff.policy.Delay(attempt), false
}

// Attempts returns the number of consecutive failures.
func (backoff *Backoff) Attempts() int {
	backoff.lock.Lock()
	defer backoff.lock.Unlock()
	return backoff.attempts
}

// Reset returns the counter to zero after a successful connection.
func (backoff *Backoff) Reset() {
	backoff.lock.Lock()
	backoff.attempts = 0
	backoff.lock.Unlock()
}

// Policy returns the policy the counter applies.
func (backoff *Backoff) Policy() BackoffPolicy { return backoff.policy }
