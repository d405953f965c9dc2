package middlewares

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"prodagent/prodagent/utils/apperr"
	httputils "prodagent/prodagent/utils/http"
	"prodagent/prodagent/utils/logging"
)

const idleLimiter = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter allows perMinute requests per device (or client address when
// no device id is known), with bursts up to the same amount.
type RateLimiter struct {
	visitors  cmap.ConcurrentMap[string, *visitor]
	limit     rate.Limit
	burst     int
	lastSweep atomic.Int64
	now       func() time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &RateLimiter{
		visitors: cmap.New[*visitor](),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		now:      time.Now,
	}
}

func (l *RateLimiter) Allow(key string) bool {
	now := l.now()
	l.sweep(now)
	v := l.visitors.Upsert(key, nil, func(exist bool, old *visitor, _ *visitor) *visitor {
		if exist {
			return old
		}
		return &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
	})
	v.lastSeen.Store(now.UnixNano())
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors at most once per idle period.
func (l *RateLimiter) sweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(idleLimiter) || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	cutoff := now.Add(-idleLimiter).UnixNano()
	for _, key := range l.visitors.Keys() {
		l.visitors.RemoveCb(key, func(_ string, v *visitor, exists bool) bool {
			return exists && v.lastSeen.Load() < cutoff
		})
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := DeviceID(r.Context())
		if key == "" {
			key = clientIP(r)
		}
		if !l.Allow(key) {
			logging.RequestLogger.Info("rate limited", zap.String("key", key), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", "60")
			httputils.WriteJSON(w, http.StatusTooManyRequests, httputils.ErrorBody{
				Error: "You're sending messages too quickly. Please wait a moment and try again.",
				Kind:  string(apperr.KindValidation),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
