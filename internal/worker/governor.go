package worker

import (
	"errors"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/ignite/campaign-engine/internal/campaign"
	"github.com/ignite/campaign-engine/internal/config"
)

// Attachment size buckets. Heavier messages cost the provider more, so
// the per-send pause grows with payload size.
const (
	sizeBucketSmall  = 1 << 20  // 1 MiB
	sizeBucketMedium = 5 << 20  // 5 MiB
	sizeBucketLarge  = 10 << 20 // 10 MiB
)

// throttleCodes are provider error codes that mean "slow down".
var throttleCodes = map[string]bool{
	"Throttling":         true,
	"ServiceUnavailable": true,
	"SlowDown":           true,
	"TooManyRequests":    true,
}

// throttleTokens are message fragments that mean the same thing when no
// structured code is available.
var throttleTokens = []string{
	"throttle",
	"rate limit",
	"rate exceeded",
	"quota exceeded",
	"slow down",
	"service unavailable",
}

// RateGovernor adapts the pause between sends to the provider's observed
// capacity. State is local to one worker invocation; each invocation
// starts fresh at the base delay and the provider's throttle responses
// are the only cross-invocation coordination.
type RateGovernor struct {
	current             time.Duration
	minDelay            time.Duration
	maxDelay            time.Duration
	recoveryPeriod      time.Duration
	consecutiveThrottle int
	lastThrottleAt      time.Time

	now func() time.Time
}

// NewRateGovernor creates a governor starting at the configured base
// delay.
func NewRateGovernor(cfg config.GovernorConfig) *RateGovernor {
	return &RateGovernor{
		current:        cfg.BaseDelay(),
		minDelay:       cfg.MinDelay(),
		maxDelay:       cfg.MaxDelay(),
		recoveryPeriod: cfg.ThrottleRecoveryPeriod(),
		now:            time.Now,
	}
}

// DelayFor returns the pause before the next send. The current adaptive
// delay is scaled by the total attachment payload and clamped to the
// configured bounds.
func (g *RateGovernor) DelayFor(attachments []campaign.Attachment) time.Duration {
	var total int64
	for _, att := range attachments {
		total += att.Size
	}

	delay := g.current
	switch {
	case total <= sizeBucketSmall:
		// No surcharge.
	case total <= sizeBucketMedium:
		delay = delay * 3 / 2
	case total <= sizeBucketLarge:
		delay = delay * 2
	default:
		delay = delay * 3
	}

	return g.clamp(delay)
}

// NoteThrottle records a throttle response: the delay doubles up to the
// ceiling and the recovery clock restarts.
func (g *RateGovernor) NoteThrottle() {
	g.current = g.clamp(g.current * 2)
	g.consecutiveThrottle++
	g.lastThrottleAt = g.now()
}

// NoteSuccess records a successful send. Once the recovery period has
// passed since the last throttle, each success decays the delay by 10%
// down to the floor and clears the throttle streak.
func (g *RateGovernor) NoteSuccess() {
	if g.now().Sub(g.lastThrottleAt) <= g.recoveryPeriod {
		return
	}
	g.current = g.clamp(g.current * 9 / 10)
	g.consecutiveThrottle = 0
}

// ConsecutiveThrottles reports the current uninterrupted throttle count.
func (g *RateGovernor) ConsecutiveThrottles() int {
	return g.consecutiveThrottle
}

func (g *RateGovernor) clamp(d time.Duration) time.Duration {
	if d < g.minDelay {
		return g.minDelay
	}
	if d > g.maxDelay {
		return g.maxDelay
	}
	return d
}

// IsThrottle reports whether err is the provider telling us to slow
// down, by structured error code or by message content.
func IsThrottle(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && throttleCodes[apiErr.ErrorCode()] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, token := range throttleTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
