package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/resilience"
	"github.com/ev-readiness/pipeline/internal/station"
)

// wireResponse mirrors the upstream registry's top-level envelope (§6).
type wireResponse struct {
	FuelStations []wireRecord `json:"fuel_stations"`
}

// wireRecord mirrors one entry of fuel_stations (§6). ID arrives as a
// number on the wire; everything else is either a string or a number
// matching its Go field directly.
type wireRecord struct {
	ID               json.Number `json:"id"`
	StationName      string      `json:"station_name"`
	Latitude         float64     `json:"latitude"`
	Longitude        float64     `json:"longitude"`
	StreetAddress    string      `json:"street_address"`
	City             string      `json:"city"`
	State            string      `json:"state"`
	Zip              string      `json:"zip"`
	EVConnectorTypes []string    `json:"ev_connector_types"`
	EVDCFastNum      int         `json:"ev_dc_fast_num"`
	EVLevel2EVSENum  int         `json:"ev_level2_evse_num"`
	EVLevel1EVSENum  int         `json:"ev_level1_evse_num"`
	EVNetwork        string      `json:"ev_network"`
}

func (w wireRecord) toRaw() station.RawRecord {
	return station.RawRecord{
		ID:               w.ID.String(),
		StationName:      w.StationName,
		Latitude:         w.Latitude,
		Longitude:        w.Longitude,
		StreetAddress:    w.StreetAddress,
		City:             w.City,
		State:            w.State,
		Zip:              w.Zip,
		EVConnectorTypes: w.EVConnectorTypes,
		EVDCFastNum:      w.EVDCFastNum,
		EVLevel2EVSENum:  w.EVLevel2EVSENum,
		EVLevel1EVSENum:  w.EVLevel1EVSENum,
		EVNetwork:        w.EVNetwork,
	}
}

// fetchAll issues the single GET against the registry endpoint (§4.C,
// §6) and returns the raw records, retrying transient failures per the
// driver's retry config. The circuit breaker sits outside the retry loop:
// once the upstream has failed enough consecutive cycles to trip it, a
// fetch fails fast instead of spending the retry budget on a service
// that's known to be down.
func (d *Driver) fetchAll(ctx context.Context) ([]station.RawRecord, error) {
	raw, err := resilience.ExecuteVal(ctx, d.breaker, func(ctx context.Context) ([]wireRecord, error) {
		return resilience.DoVal(ctx, d.retry, func(ctx context.Context) ([]wireRecord, error) {
			return d.fetchOnce(ctx)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "registry: fetch upstream registry")
	}

	records := make([]station.RawRecord, len(raw))
	for i, r := range raw {
		records[i] = r.toRaw()
	}
	return records, nil
}

func (d *Driver) fetchOnce(ctx context.Context) ([]wireRecord, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := d.limiter.Wait(fetchCtx); err != nil {
		return nil, eris.Wrap(err, "registry: rate limit")
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, d.cfg.BaseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "registry: build request")
	}
	q := req.URL.Query()
	q.Set("api_key", d.cfg.APIKey)
	q.Set("fuel_type", "ELEC")
	q.Set("country", "US")
	q.Set("limit", "all")
	q.Set("status", "E")
	req.URL.RawQuery = q.Encode()

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &resilience.TransientError{Err: eris.Wrap(err, "registry: request")}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, &resilience.TransientError{Err: eris.Errorf("registry: upstream returned status %d", resp.StatusCode)}
		}
		return nil, eris.Errorf("registry: upstream returned status %d", resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, eris.Wrap(err, "registry: parse upstream response")
	}
	return wire.FuelStations, nil
}
