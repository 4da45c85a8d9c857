// Package score implements the pure, deterministic scoring functions
// consumed by the aggregation engine and (externally) by the read path.
package score

import "math"

// stationThresholds and portThresholds are the charger-per-capita
// breakpoints T1..T5 used by Readiness. portWeighted selects the higher,
// port-counted thresholds.
var (
	stationThresholds = [5]float64{60, 40, 25, 15, 8}
	portThresholds    = [5]float64{200, 120, 75, 40, 20}
)

// Readiness computes the EV infrastructure readiness score (§4.F).
// weighted is the level-weighted charger count (1.0*dcfast + 0.7*level2 +
// 0.3*level1, or its port-weighted equivalent when portWeighted is true).
// population must be >= 1. vmt is the optional VMT-per-capita figure.
func Readiness(weighted, population float64, vmt *float64, portWeighted bool) int {
	if population < 1 {
		population = 1
	}

	d := (weighted / population) * 100000

	thresholds := stationThresholds
	if portWeighted {
		thresholds = portThresholds
	}

	dPrime := d
	if vmt != nil {
		multiplier := clamp(*vmt/25, 0.5, 2.0)
		dPrime = d / multiplier
	}

	chargerScore := piecewiseReadiness(dPrime, thresholds)

	result := chargerScore
	if vmt != nil {
		density := math.Min(population/300000*100, 100)
		result = 0.7*chargerScore + 0.3*density
	}

	return clampRound(result)
}

// piecewiseReadiness evaluates the §4.F breakpoint ladder against
// thresholds T1 (thresholds[0]) down to T5 (thresholds[4]).
func piecewiseReadiness(d float64, t [5]float64) float64 {
	t1, t2, t3, t4, t5 := t[0], t[1], t[2], t[3], t[4]

	switch {
	case d >= t1:
		return 80 + math.Min((d-t1)/(t1*2/3)*20, 20)
	case d >= t2:
		return 70 + (d-t2)/(t1-t2)*10
	case d >= t3:
		return 55 + (d-t3)/(t2-t3)*15
	case d >= t4:
		return 40 + (d-t4)/(t3-t4)*15
	case d >= t5:
		return 25 + (d-t5)/(t4-t5)*15
	default:
		return (d / t5) * 25
	}
}

// Opportunity computes the complementary opportunity score (§4.F): regions
// with few chargers relative to demand score high even at modest readiness.
func Opportunity(total, population float64, vmt *float64) int {
	if population < 10000 {
		return clampRound(math.Min(25, population/10000*25))
	}

	d := (total / population) * 100000

	m := 1.0
	if vmt != nil {
		m = clamp(*vmt/25, 0.5, 2.0)
	}

	var base float64
	switch {
	case d <= 5:
		base = 80 + math.Min((population/100000)/5*20, 20)
	case d <= 15:
		base = 60 + (15-d)/10*20
	case d <= 30:
		base = 40 + (30-d)/15*20
	case d <= 50:
		base = 20 + (50-d)/20*20
	default:
		base = math.Max(0, 20-(d-50)/10*20)
	}

	return clampRound(base * m)
}

// Need computes the legacy need score, retained only for backward
// compatibility with callers that haven't migrated to Opportunity.
func Need(population float64, chargerCount int) int {
	v := population/10000 + (population/100000)*2 - float64(chargerCount)*5
	return clampRound(v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clampRound clamps to [0, 100] and rounds to the nearest integer.
func clampRound(v float64) int {
	v = clamp(v, 0, 100)
	return int(math.Round(v))
}
