package middleware

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// DeviceLimiter throttles verification requests per capture device.
// Devices are identified by the X-Device-ID header, falling back to the
// remote address for unidentified clients.
type DeviceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// NewDeviceLimiter creates a per-device rate limiter.
func NewDeviceLimiter(perSecond float64, burst int) *DeviceLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &DeviceLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
	}
}

func (d *DeviceLimiter) limiterFor(key string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(d.rate, d.burst)
		d.limiters[key] = l
	}
	return l
}

func deviceKey(r *http.Request) string {
	if id := r.Header.Get("X-Device-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Limit is middleware that rejects requests over the device's budget
// with 429 instead of queueing them. Capture devices retry on their own
// schedule, so shedding is better than buffering here.
func (d *DeviceLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.limiterFor(deviceKey(r)).Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": "rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
