package recovery

import (
	"math"
	"time"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// Default policy values.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Millisecond
	DefaultMaxDelay    = time.Second
)

// maxDelay bounds Delay when the policy leaves MaxDelay unset.
const maxDelay = time.Duration(math.MaxInt64)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	// It must be at least 1.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseDelay is the suspension before the second attempt. Each later
	// suspension doubles it.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`

	// MaxDelay caps a single suspension. Zero means uncapped.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Validate checks that the policy can drive a retry loop.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return kerr.Newf(kerr.CodeInvalidParam,
			"recovery: max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return kerr.Newf(kerr.CodeInvalidParam,
			"recovery: base delay must not be negative, got %s", p.BaseDelay)
	}
	if p.MaxDelay < 0 {
		return kerr.Newf(kerr.CodeInvalidParam,
			"recovery: max delay must not be negative, got %s", p.MaxDelay)
	}
	return nil
}

// Delay returns the suspension after the failed attempt with index n:
// BaseDelay << n, clamped to MaxDelay. The shift saturates instead of
// overflowing, so Delay is non-decreasing in n.
func (p Policy) Delay(n int) time.Duration {
	if p.BaseDelay <= 0 || n < 0 {
		return 0
	}
	limit := p.MaxDelay
	if limit <= 0 {
		limit = maxDelay
	}
	if p.BaseDelay >= limit {
		return limit
	}
	// BaseDelay << n stays within limit while BaseDelay <= limit >> n.
	if n >= 63 || p.BaseDelay > limit>>uint(n) {
		return limit
	}
	return p.BaseDelay << uint(n)
}
