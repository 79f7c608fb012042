package hub

import (
	"time"

	"golang.org/x/time/rate"
)

// msgRateLimit is the per-client inbound token-bucket rate (spec.md
// §4.3.2, §8 invariant 6: "sustained inbound rate above 10 msg/s
// yields an error response at least once per exceeding second").
const msgRateLimit = 10 // messages per second

func newClientLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(msgRateLimit), msgRateLimit)
}

// allow reports whether the next inbound message from this client is
// within budget. A denied message is dropped but the connection stays
// open (spec.md §7).
func allow(l *rate.Limiter) bool {
	return l.AllowN(time.Now(), 1)
}
