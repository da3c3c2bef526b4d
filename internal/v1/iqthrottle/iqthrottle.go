// Package iqthrottle rate-limits inbound Jingle/COLIBRI IQs per sender
// JID at the transport boundary, distinct from the bounded per-session
// restart-request deque internal/participant enforces on its own. It
// adapts the teacher's ulule/limiter-based RateLimiter, keyed by JID
// instead of by user/IP, with an in-memory store by default and an
// optional Redis store for multi-process deployments.
package iqthrottle

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/jitsi-focus-go/focus/internal/v1/logging"
	"github.com/jitsi-focus-go/focus/internal/v1/metrics"
)

// Limiter enforces a single rate per full sender JID for the one IQ
// class it was built for. Use one Limiter per IQ class (session-initiate, source-add, ...) when
// different classes need different rates.
type Limiter struct {
	limiter *limiter.Limiter
	iqType  string
}

// New builds a Limiter for iqType at rate (e.g. "20-M" for 20/minute,
// see limiter.NewRateFromFormatted). redisClient may be nil, in which
// case an in-process memory store is used.
func New(iqType, rate string, redisClient *redis.Client) (*Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q for %s: %w", rate, iqType, err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "jicofo:iq:" + iqType + ":"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store for %s: %w", iqType, err)
		}
		store = s
	} else {
		store = memory.NewStore()
	}

	return &Limiter{limiter: limiter.New(store, parsed), iqType: iqType}, nil
}

// Allow reports whether an IQ from j may proceed, incrementing its
// count against the window regardless of outcome. On store failure it
// fails open, matching the teacher's "availability over strictness"
// choice in its own Gin middleware.
func (l *Limiter) Allow(ctx context.Context, j jid.JID) bool {
	ctxResult, err := l.limiter.Get(ctx, j.String())
	if err != nil {
		logging.Error(ctx, "iq rate limiter store failed", zap.String("iq_type", l.iqType))
		return true
	}
	if ctxResult.Reached {
		metrics.IQThrottled.WithLabelValues(l.iqType).Inc()
		return false
	}
	return true
}
