package reconnect

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Policy bounds reconnection. The delay grows linearly: attempt n waits
// BaseDelay*n.
type Policy struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be > 0, got: %v", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base delay must be > 0, got: %v", p.BaseDelay)
	}
	if p.Attempt < 0 {
		return errors.New("attempt may not be negative")
	}
	return nil
}

// Exhausted when no further retries are allowed
func (p *Policy) Exhausted() bool {
	return p.Attempt >= p.MaxAttempts
}

// Next increments the attempt and returns how long to wait before it. ok is
// false once the policy is exhausted, and the attempt is then left as is.
func (p *Policy) Next() (delay time.Duration, ok bool) {
	if p.Exhausted() {
		return 0, false
	}
	p.Attempt++
	delay = p.BaseDelay * time.Duration(p.Attempt)
	if delay < 0 {
		delay = 0
	}
	return delay, true
}

// Reset on successful connection
func (p *Policy) Reset() {
	p.Attempt = 0
}

// WithLimits returns a copy using the limits of other while keeping the
// current attempt count
func (p Policy) WithLimits(other Policy) Policy {
	p.MaxAttempts = other.MaxAttempts
	p.BaseDelay = other.BaseDelay
	return p
}
