package delegation

import (
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limits enforces dispatch-side bounds: a token-bucket rate per delegator
// and a concurrency lane per target agent. Both checks are non-blocking;
// a delegation that cannot proceed right now is rejected, not queued.
type Limits struct {
	mu        sync.Mutex
	perMinute int
	burst     int
	limiters  map[string]*rate.Limiter
	laneWidth int64
	lanes     map[string]*semaphore.Weighted
}

// NewLimits builds limits from a per-delegator dispatch quota (per minute)
// and a per-target concurrency width. Zero or negative values disable the
// corresponding check.
func NewLimits(perMinute, maxConcurrentPerTarget int) *Limits {
	l := &Limits{
		perMinute: perMinute,
		limiters:  make(map[string]*rate.Limiter),
		laneWidth: int64(maxConcurrentPerTarget),
		lanes:     make(map[string]*semaphore.Weighted),
	}
	if perMinute > 0 {
		l.burst = perMinute / 6
		if l.burst < 1 {
			l.burst = 1
		}
	}
	return l
}

// AllowDispatch consumes one dispatch token for the delegator. Returns an
// error when the delegator has exhausted its per-minute quota.
func (l *Limits) AllowDispatch(fromAgent string) error {
	if l == nil || l.perMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.limiters[fromAgent]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.burst)
		l.limiters[fromAgent] = lim
	}
	l.mu.Unlock()

	if !lim.Allow() {
		return fmt.Errorf("delegation rate limit exceeded for %q (%d per minute)", fromAgent, l.perMinute)
	}
	return nil
}

// AcquireLane claims a concurrency slot for the target agent. On success
// the returned release func must be called when the delegated loop
// finishes. Returns an error when every lane for the target is busy.
func (l *Limits) AcquireLane(toAgent string) (release func(), err error) {
	if l == nil || l.laneWidth <= 0 {
		return func() {}, nil
	}

	l.mu.Lock()
	lane, ok := l.lanes[toAgent]
	if !ok {
		lane = semaphore.NewWeighted(l.laneWidth)
		l.lanes[toAgent] = lane
	}
	l.mu.Unlock()

	if !lane.TryAcquire(1) {
		return nil, fmt.Errorf("agent %q is at capacity (%d concurrent delegations)", toAgent, l.laneWidth)
	}
	return func() { lane.Release(1) }, nil
}
