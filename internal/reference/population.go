package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ev-readiness/pipeline/internal/resilience"
)

// maxBatchFetchConcurrency bounds in-flight census requests within a single
// batch fetch (§5: at most 10 concurrent upstream calls).
const maxBatchFetchConcurrency = 10

// PopulationResult carries a resolved population value and where it came
// from (§4.A's live/cached/estimate contract).
type PopulationResult struct {
	Value      float64
	Source     Source
	Confidence EstimateConfidence // only meaningful when Source == SourceEstimate
}

// Population resolves the population of a single region, consulting the
// cache before issuing a live fetch. A live-fetch failure after retries
// falls back to the fixed estimate and does not poison the cache.
func (c *Cache) Population(ctx context.Context, regionType RegionType, code, displayName string) (PopulationResult, error) {
	if cached, ok, err := c.lookupCache(ctx, regionType, code); err != nil {
		return PopulationResult{}, eris.Wrap(err, "reference: lookup population cache")
	} else if ok {
		return PopulationResult{Value: cached, Source: SourceCached}, nil
	}

	value, err := resilience.ExecuteVal(ctx, c.breakers.Get("census"), func(ctx context.Context) (float64, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (float64, error) {
			return c.fetchLivePopulation(ctx, regionType, code)
		})
	})
	if err != nil {
		zap.L().Warn("reference: population live fetch exhausted retries, using estimate",
			zap.String("region_type", string(regionType)),
			zap.String("code", code),
			zap.Error(err),
		)
		v, conf := estimate(regionType, code)
		return PopulationResult{Value: v, Source: SourceEstimate, Confidence: conf}, nil
	}

	if err := c.storeCache(ctx, regionType, code, displayName, value); err != nil {
		zap.L().Warn("reference: failed to store population cache entry", zap.Error(err))
	}

	return PopulationResult{Value: value, Source: SourceLive}, nil
}

// PopulationBatch resolves population for up to ZipBatchLimit ZIP codes per
// call, issuing one census request per uncached code with at most
// maxBatchFetchConcurrency in flight. Missing or unrecognized codes receive
// the estimate and do not error the batch.
func (c *Cache) PopulationBatch(ctx context.Context, codes []string) (map[string]PopulationResult, error) {
	if len(codes) > ZipBatchLimit {
		return nil, eris.Errorf("reference: batch of %d exceeds limit of %d", len(codes), ZipBatchLimit)
	}

	results := make(map[string]PopulationResult, len(codes))

	var uncached []string
	for _, code := range codes {
		if cached, ok, err := c.lookupCache(ctx, RegionZip, code); err != nil {
			return nil, eris.Wrapf(err, "reference: lookup zip cache %s", code)
		} else if ok {
			results[code] = PopulationResult{Value: cached, Source: SourceCached}
		} else {
			uncached = append(uncached, code)
		}
	}

	if len(uncached) == 0 {
		return results, nil
	}

	fetched, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (map[string]float64, error) {
		return c.fetchLivePopulationBatch(ctx, uncached)
	})
	if err != nil {
		zap.L().Warn("reference: zip population batch fetch exhausted retries, using estimates",
			zap.Int("codes", len(uncached)), zap.Error(err))
		for _, code := range uncached {
			v, conf := estimate(RegionZip, code)
			results[code] = PopulationResult{Value: v, Source: SourceEstimate, Confidence: conf}
		}
		return results, nil
	}

	for _, code := range uncached {
		v, ok := fetched[code]
		if !ok {
			// Unrecognized by the upstream service: estimate, no error.
			ev, conf := estimate(RegionZip, code)
			results[code] = PopulationResult{Value: ev, Source: SourceEstimate, Confidence: conf}
			continue
		}
		results[code] = PopulationResult{Value: v, Source: SourceLive}
		if err := c.storeCache(ctx, RegionZip, code, "", v); err != nil {
			zap.L().Warn("reference: failed to store zip cache entry", zap.String("zip", code), zap.Error(err))
		}
	}

	return results, nil
}

func (c *Cache) lookupCache(ctx context.Context, regionType RegionType, code string) (float64, bool, error) {
	var value float64
	row := c.pool.QueryRow(ctx, `
		SELECT population FROM reference.population_cache
		WHERE region_type = $1 AND region_code = $2 AND fetched_at > now() - interval '30 days'`,
		string(regionType), code,
	)
	if err := row.Scan(&value); err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return value, true, nil
}

func (c *Cache) storeCache(ctx context.Context, regionType RegionType, code, displayName string, value float64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO reference.population_cache (region_type, region_code, display_name, population, fetched_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (region_type, region_code) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			population = EXCLUDED.population,
			fetched_at = now()`,
		string(regionType), code, displayName, value,
	)
	if err != nil {
		return eris.Wrap(err, "reference: store population cache")
	}
	return nil
}

// censusRows is the census API's header-row-then-value-rows response shape (§6).
type censusRows [][]string

func (c *Cache) fetchLivePopulation(ctx context.Context, regionType RegionType, code string) (float64, error) {
	fetchCtx, cancel := withTimeout(ctx)
	defer cancel()

	if err := c.limiter.Wait(fetchCtx); err != nil {
		return 0, eris.Wrap(err, "reference: census rate limit")
	}

	forClause, inClause := censusForClause(regionType, code)
	params := url.Values{
		"get": {"P1_001N"},
		"key": {c.census.APIKey},
		"for": {forClause},
	}
	if inClause != "" {
		params.Set("in", inClause)
	}

	reqURL := c.census.BaseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, eris.Wrap(err, "reference: build census request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &resilience.TransientError{Err: eris.Wrap(err, "reference: census request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return 0, &resilience.TransientError{Err: eris.Errorf("reference: census returned status %d", resp.StatusCode)}
		}
		return 0, eris.Errorf("reference: census returned status %d", resp.StatusCode)
	}

	var rows censusRows
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return 0, eris.Wrap(err, "reference: parse census response")
	}
	if len(rows) < 2 {
		return 0, eris.New("reference: census response has no data rows")
	}

	// Row 0 is headers; population is the first column of row 1.
	value, err := strconv.ParseFloat(rows[1][0], 64)
	if err != nil {
		return 0, eris.Wrap(err, "reference: parse census population value")
	}
	return value, nil
}

func (c *Cache) fetchLivePopulationBatch(ctx context.Context, codes []string) (map[string]float64, error) {
	results := make(map[string]float64, len(codes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBatchFetchConcurrency)

	var mu sync.Mutex
	for _, code := range codes {
		g.Go(func() error {
			v, err := resilience.ExecuteVal(gctx, c.breakers.Get("census"), func(ctx context.Context) (float64, error) {
				return c.fetchLivePopulation(ctx, RegionZip, code)
			})
			if err != nil {
				// A single code's failure doesn't abort the batch; it's simply
				// absent from the result map and the caller estimates it.
				zap.L().Debug("reference: zip population fetch failed", zap.String("zip", code), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[code] = v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

// censusForClause builds the "for" (and, for counties, "in") clauses the
// census API expects. County codes are 5-digit state+county FIPS; the
// county part goes in "for" and the state part in "in".
func censusForClause(regionType RegionType, code string) (forClause, inClause string) {
	switch regionType {
	case RegionState:
		return fmt.Sprintf("state:%s", code), ""
	case RegionCounty:
		if len(code) != 5 {
			return fmt.Sprintf("county:%s", code), ""
		}
		return fmt.Sprintf("county:%s", code[2:]), fmt.Sprintf("state:%s", code[:2])
	case RegionZip:
		return fmt.Sprintf("zip code tabulation area:%s", code), ""
	default:
		return "", ""
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
