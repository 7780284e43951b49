package connmgr

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/Golem-Base/discv5/config"
)

// ============================================================================
//                              令牌桶
// ============================================================================

func newLimiter(l config.RateLimit) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// keyedLimiter 按键（节点 ID / IP）分配的令牌桶
type keyedLimiter[K comparable] struct {
	limit   config.RateLimit
	entries map[K]*limiterEntry
}

func newKeyedLimiter[K comparable](l config.RateLimit) keyedLimiter[K] {
	return keyedLimiter[K]{limit: l, entries: make(map[K]*limiterEntry)}
}

func (k keyedLimiter[K]) allow(key K, now time.Time) bool {
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{lim: newLimiter(k.limit)}
		k.entries[key] = e
	}
	e.lastUsed = now
	return e.lim.AllowN(now, 1)
}

// sweep 移除空闲超过 idle 的令牌桶（空闲足够久的桶已回满，重建等价）
func (k keyedLimiter[K]) sweep(now time.Time, idle time.Duration) {
	for key, e := range k.entries {
		if now.Sub(e.lastUsed) > idle {
			delete(k.entries, key)
		}
	}
}

// violation 超限计数
type violation struct {
	count int
	last  time.Time
}

func bump[K comparable](m map[K]*violation, key K, now time.Time) int {
	v, ok := m[key]
	if !ok {
		v = &violation{}
		m[key] = v
	}
	v.count++
	v.last = now
	return v.count
}
