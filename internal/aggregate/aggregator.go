package aggregate

import (
	"github.com/ev-readiness/pipeline/internal/db"
	"github.com/ev-readiness/pipeline/internal/geo"
	"github.com/ev-readiness/pipeline/internal/reference"
)

// Aggregator runs the state and county aggregation passes (component E).
// ZIP aggregation shares its region-building helpers (see zips.go) but is
// driven by internal/zipsub for resumability.
type Aggregator struct {
	pool     db.Pool
	refCache *reference.Cache
	counties []geo.County
}

// New constructs an Aggregator. counties is the loaded county boundary
// fixture used by the county pass's bbox candidate selection.
func New(pool db.Pool, refCache *reference.Cache, counties []geo.County) *Aggregator {
	return &Aggregator{pool: pool, refCache: refCache, counties: counties}
}
