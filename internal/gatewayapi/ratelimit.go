package gatewayapi

import (
	"math"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// clientLimiter keeps a token bucket per client address. When full, the
// client idle for the longest time is forgotten.
type clientLimiter struct {
	mu      sync.Mutex
	every   rate.Limit
	burst   int
	max     int
	buckets map[string]*bucket
}

func newClientLimiter(perSecond float64, burst, maxClients int) *clientLimiter {
	return &clientLimiter{
		every:   rate.Limit(perSecond),
		burst:   burst,
		max:     maxClients,
		buckets: make(map[string]*bucket, 64),
	}
}

// take consumes one token for client. When none is available it reports
// how long the client has to wait, without consuming anything.
func (l *clientLimiter) take(client string, now time.Time) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[client]
	if b == nil {
		if len(l.buckets) >= l.max {
			l.forgetIdlest()
		}
		b = &bucket{lim: rate.NewLimiter(l.every, l.burst)}
		l.buckets[client] = b
	}
	b.seen = now

	res := b.lim.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (l *clientLimiter) forgetIdlest() {
	var victim string
	var oldest time.Time
	for client, b := range l.buckets {
		if victim == "" || b.seen.Before(oldest) {
			victim, oldest = client, b.seen
		}
	}
	delete(l.buckets, victim)
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	s := int(math.Ceil(wait.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// clientKey prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address without its port.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	peer := strings.TrimSpace(r.RemoteAddr)
	if ap, err := netip.ParseAddrPort(peer); err == nil {
		return ap.Addr().String()
	}
	if peer == "" {
		return "unknown"
	}
	return peer
}
