package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket names.
const (
	BucketScan    = "scan"
	BucketUpload  = "upload"
	BucketExplain = "explain"
)

// Bucket defines rate limit parameters: PerMinute tokens are refilled every
// minute, and up to Burst requests may be served back to back.
type Bucket struct {
	PerMinute int
	Burst     int
}

// DefaultBuckets are the limits applied per client IP.
var DefaultBuckets = map[string]Bucket{
	BucketScan:    {PerMinute: 60, Burst: 20},
	BucketUpload:  {PerMinute: 20, Burst: 5},
	BucketExplain: {PerMinute: 5, Burst: 2},
}

var fallbackBucket = Bucket{PerMinute: 60, Burst: 20}

// IdleTimeout is how long a client bucket may sit unused before Sweep drops it.
const IdleTimeout = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is an in-memory token-bucket rate limiter per key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]Bucket
	visitors map[string]*visitor
	now      func() time.Time
}

// New creates a new rate limiter with DefaultBuckets.
func New() *Limiter {
	return NewWithBuckets(DefaultBuckets)
}

// NewWithBuckets creates a rate limiter with custom bucket limits.
func NewWithBuckets(buckets map[string]Bucket) *Limiter {
	return &Limiter{
		buckets:  buckets,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

func (l *Limiter) bucket(name string) Bucket {
	if b, ok := l.buckets[name]; ok {
		return b
	}
	return fallbackBucket
}

// Allow checks if a request identified by key is within the rate limit for the
// named bucket. When it is not, the returned duration is how long the caller
// should wait before retrying.
func (l *Limiter) Allow(bucketName, key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	k := bucketName + ":" + key
	v, ok := l.visitors[k]
	if !ok {
		b := l.bucket(bucketName)
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(b.PerMinute)/60.0), b.Burst)}
		l.visitors[k] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	res := v.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Minute
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Check writes a 429 response if the client IP is rate limited for the given
// bucket name. Returns true if the request was rejected.
func (l *Limiter) Check(w http.ResponseWriter, r *http.Request, bucketName string) bool {
	ok, wait := l.Allow(bucketName, ClientIP(r))
	if ok {
		return false
	}

	secs := strconv.Itoa(RetryAfter(wait))
	w.Header().Set("Retry-After", secs)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"Rate limited","retry_after_seconds":` + secs + `}`))
	return true
}

// RetryAfter rounds a reservation delay up to whole seconds for the
// Retry-After header.
func RetryAfter(wait time.Duration) int {
	return int(math.Ceil(wait.Seconds()))
}

// Sweep drops buckets idle for longer than IdleTimeout and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-IdleTimeout)
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// CleanupLoop sweeps idle buckets every interval until ctx is cancelled.
func (l *Limiter) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// ClientIP returns the host part of the request's remote address. It expects
// chi's RealIP middleware to have resolved proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
