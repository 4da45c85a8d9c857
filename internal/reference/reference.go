// Package reference implements the population and VMT-per-capita caches
// consumed by the aggregation and scoring steps (component A).
package reference

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/resilience"
)

// Source names where a population/VMT value came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCached   Source = "cached"
	SourceEstimate Source = "estimate"
)

// RegionType discriminates the three region levels population is keyed by.
type RegionType string

const (
	RegionState  RegionType = "state"
	RegionCounty RegionType = "county"
	RegionZip    RegionType = "zip"
)

// CacheTTL is the population cache freshness window (§3).
const CacheTTL = 30 * 24 * time.Hour

// ZipBatchLimit is the largest number of ZIP codes PopulationBatch accepts
// per call (§4.A).
const ZipBatchLimit = 50

// MaxInFlight is the concurrent population lookup bound (§5). Nothing reads
// it; PopulationBatch applies the same bound through maxBatchFetchConcurrency.
const MaxInFlight = 10

// Cache reads and refreshes the population and VMT reference caches. The
// zero value is not usable; construct with New.
type Cache struct {
	pool       db.Pool
	httpClient *http.Client
	limiter    *rate.Limiter
	census     CensusConfig
	vmt        VMTConfig
	retry      resilience.RetryConfig
	breakers   *resilience.ServiceBreakers
}

// CensusConfig configures the population source.
type CensusConfig struct {
	BaseURL string
	APIKey  string
}

// VMTConfig configures the VMT-per-capita source.
type VMTConfig struct {
	BaseURL string
	APIKey  string
}

// New constructs a Cache backed by pool, fetching from the given services.
func New(pool db.Pool, census CensusConfig, vmt VMTConfig) *Cache {
	return &Cache{
		pool:       pool,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second/10), 10),
		census:     census,
		vmt:        vmt,
		retry: resilience.RetryConfig{
			MaxAttempts:    4,
			InitialBackoff: 1 * time.Second,
			Multiplier:     2.0,
			MaxBackoff:     4 * time.Second,
			JitterFraction: 0,
		},
		breakers: resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()),
	}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}
