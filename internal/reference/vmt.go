package reference

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/resilience"
)

// vmtFeatureCollection mirrors the paged feature-collection shape the VMT
// service returns: each feature carries a 5-character county FIPS code and
// an annual VMT figure.
type vmtFeatureCollection struct {
	Features []vmtFeature `json:"features"`
	NextPage string       `json:"next_page"`
}

type vmtFeature struct {
	Properties struct {
		CountyFIPS string  `json:"county_fips"`
		AnnualVMT  float64 `json:"annual_vmt"`
	} `json:"properties"`
}

const daysPerYear = 365.0

// RefreshVMT replaces the entire VMT-per-capita cache from the upstream
// service. Unlike population, VMT carries no expiry and is wholesale
// replaced on each ingestion rather than looked up lazily per region (§3).
// populationByFIPS supplies the denominator for the per-capita figure.
func (c *Cache) RefreshVMT(ctx context.Context, populationByFIPS map[string]float64) (int, error) {
	annualByFIPS, err := resilience.ExecuteVal(ctx, c.breakers.Get("vmt"), func(ctx context.Context) (map[string]float64, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (map[string]float64, error) {
			return c.fetchAllVMTPages(ctx)
		})
	})
	if err != nil {
		return 0, eris.Wrap(err, "reference: fetch vmt pages")
	}

	stored := 0
	for fips, annual := range annualByFIPS {
		population, ok := populationByFIPS[fips]
		if !ok || population <= 0 {
			continue
		}
		dailyPerCapita := (annual / daysPerYear) / population
		if err := c.storeVMT(ctx, fips, dailyPerCapita); err != nil {
			return stored, eris.Wrapf(err, "reference: store vmt for county %s", fips)
		}
		stored++
	}
	return stored, nil
}

// VMTPerCapita returns the cached daily VMT-per-capita for a county, if any.
func (c *Cache) VMTPerCapita(ctx context.Context, countyFIPS string) (float64, bool, error) {
	var value float64
	row := c.pool.QueryRow(ctx, `
		SELECT vmt_per_capita FROM reference.vmt_cache WHERE county_fips = $1`,
		countyFIPS,
	)
	if err := row.Scan(&value); err != nil {
		if isNoRows(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return value, true, nil
}

func (c *Cache) storeVMT(ctx context.Context, countyFIPS string, perCapita float64) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO reference.vmt_cache (county_fips, vmt_per_capita, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (county_fips) DO UPDATE SET
			vmt_per_capita = EXCLUDED.vmt_per_capita,
			updated_at = now()`,
		countyFIPS, perCapita,
	)
	return err
}

// ClearVMT truncates the cache ahead of a wholesale replace, so counties
// absent from the new upstream page set don't keep a stale figure.
func (c *Cache) ClearVMT(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, `TRUNCATE reference.vmt_cache`)
	if err != nil {
		return eris.Wrap(err, "reference: truncate vmt cache")
	}
	return nil
}

func (c *Cache) fetchAllVMTPages(ctx context.Context) (map[string]float64, error) {
	annual := make(map[string]float64)
	page := ""
	for {
		fc, err := c.fetchVMTPage(ctx, page)
		if err != nil {
			return nil, err
		}
		for _, f := range fc.Features {
			if f.Properties.CountyFIPS == "" {
				continue
			}
			annual[f.Properties.CountyFIPS] = f.Properties.AnnualVMT
		}
		if fc.NextPage == "" {
			break
		}
		page = fc.NextPage
	}
	return annual, nil
}

func (c *Cache) fetchVMTPage(ctx context.Context, page string) (vmtFeatureCollection, error) {
	fetchCtx, cancel := withTimeout(ctx)
	defer cancel()

	if err := c.limiter.Wait(fetchCtx); err != nil {
		return vmtFeatureCollection{}, eris.Wrap(err, "reference: vmt rate limit")
	}

	reqURL := c.vmt.BaseURL
	if page != "" {
		reqURL += "?page=" + page
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return vmtFeatureCollection{}, eris.Wrap(err, "reference: build vmt request")
	}
	req.Header.Set("Authorization", "Bearer "+c.vmt.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return vmtFeatureCollection{}, &resilience.TransientError{Err: eris.Wrap(err, "reference: vmt request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return vmtFeatureCollection{}, &resilience.TransientError{Err: eris.Errorf("reference: vmt returned status %d", resp.StatusCode)}
		}
		return vmtFeatureCollection{}, eris.Errorf("reference: vmt returned status %d", resp.StatusCode)
	}

	var fc vmtFeatureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return vmtFeatureCollection{}, eris.Wrap(err, "reference: parse vmt response")
	}
	return fc, nil
}
