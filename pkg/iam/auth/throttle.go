package auth

import (
	"sync"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

var (
	throttleRegistry = errx.NewRegistry("THROTTLE")

	CodeTooManyRequests = throttleRegistry.Register("TOO_MANY_REQUESTS", errx.TypeBusiness, fiber.StatusTooManyRequests, "Too many requests")
)

// Throttle limits requests per client IP. It guards the unauthenticated
// login and password reset endpoints.
type Throttle struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perMinute requests per IP with the given burst.
func NewThrottle(perMinute, burst int) *Throttle {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = 5
	}
	return &Throttle{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		ttl:     10 * time.Minute,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// Allow reports whether key may make another request now.
func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	c, ok := t.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[key] = c
	}
	c.lastSeen = now

	for k, other := range t.clients {
		if now.Sub(other.lastSeen) > t.ttl {
			delete(t.clients, k)
		}
	}
	return c.limiter.AllowN(now, 1)
}

func (t *Throttle) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !t.Allow(c.IP()) {
			return throttleRegistry.New(CodeTooManyRequests).WriteFiber(c)
		}
		return c.Next()
	}
}
