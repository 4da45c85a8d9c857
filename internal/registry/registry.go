// Package registry drives the single-request fetch of the upstream EV station
// registry and its chunked load into the staging station table
// (component C).
package registry

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/resilience"
)

// ChunkSize is the default number of normalized rows per staging insert (§4.C).
const ChunkSize = 1000

// ChunkPause is the backpressure sleep applied between chunks (§4.C).
const ChunkPause = 100 * time.Millisecond

// Config configures the upstream registry endpoint.
type Config struct {
	BaseURL string
	APIKey  string
}

// Driver fetches the upstream registry and loads it into staging.
type Driver struct {
	pool       db.Pool
	httpClient *http.Client
	limiter    *rate.Limiter
	cfg        Config
	retry      resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
}

// New constructs a Driver backed by pool, fetching from cfg's endpoint.
func New(pool db.Pool, cfg Config) *Driver {
	return &Driver{
		pool:       pool,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second/2), 2),
		cfg:        cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     4 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0,
		},
		breaker: resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}
