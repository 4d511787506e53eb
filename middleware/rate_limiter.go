package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/time/rate"

	"mailbridge/utils"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one token bucket per client IP.
type limiterSet struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	burst    int
}

func (s *limiterSet) allow(ip string, now time.Time) bool {
	s.mu.Lock()
	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.every, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	s.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (s *limiterSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, v := range s.visitors {
		if now.Sub(v.lastSeen) > limiterIdleAfter {
			delete(s.visitors, ip)
		}
	}
}

// RateLimiter allows requests per window for each client IP, with bursts of
// up to requests. Idle clients are forgotten.
func RateLimiter(requests int, window time.Duration) fiber.Handler {
	if requests <= 0 {
		requests = 1
	}
	set := &limiterSet{
		visitors: make(map[string]*visitor),
		every:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
	}

	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for now := range ticker.C {
			set.sweep(now)
		}
	}()

	return func(c *fiber.Ctx) error {
		if !set.allow(c.IP(), time.Now()) {
			loc, _ := c.Locals("localizer").(*i18n.Localizer)
			c.Set(fiber.HeaderRetryAfter, "60")
			return utils.NewAppError(fiber.StatusTooManyRequests, "rate_limited", utils.T(loc, "error_rate_limited"), nil)
		}
		return c.Next()
	}
}
