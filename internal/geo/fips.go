// Package geo provides the geometry and FIPS helpers the change detector
// and county aggregator use to resolve a station's county: a static
// ZIP→county FIPS map, with point-in-polygon containment against county
// boundary fixtures for ZIPs the map does not cover (spec.md §9's resolved
// open question: FIPS-based, never the coarse two-character prefix).
package geo

import (
	"github.com/rotisserie/eris"
)

// USStateFIPS is the complete set of US state and territory FIPS codes.
var USStateFIPS = []string{
	"01", "02", "04", "05", "06", "08", "09", "10", "11", "12",
	"13", "15", "16", "17", "18", "19", "20", "21", "22", "23",
	"24", "25", "26", "27", "28", "29", "30", "31", "32", "33",
	"34", "35", "36", "37", "38", "39", "40", "41", "42", "44",
	"45", "46", "47", "48", "49", "50", "51", "53", "54", "55",
	"56",                         // 50 states + DC
	"60", "66", "69", "72", "78", // territories: AS, GU, MP, PR, VI
}

// StateFIPSByAbbrev maps a two-letter state code to its 2-digit FIPS code.
var StateFIPSByAbbrev = map[string]string{
	"AL": "01", "AK": "02", "AZ": "04", "AR": "05", "CA": "06", "CO": "08",
	"CT": "09", "DE": "10", "DC": "11", "FL": "12", "GA": "13", "HI": "15",
	"ID": "16", "IL": "17", "IN": "18", "IA": "19", "KS": "20", "KY": "21",
	"LA": "22", "ME": "23", "MD": "24", "MA": "25", "MI": "26", "MN": "27",
	"MS": "28", "MO": "29", "MT": "30", "NE": "31", "NV": "32", "NH": "33",
	"NJ": "34", "NM": "35", "NY": "36", "NC": "37", "ND": "38", "OH": "39",
	"OK": "40", "OR": "41", "PA": "42", "RI": "44", "SC": "45", "SD": "46",
	"TN": "47", "TX": "48", "UT": "49", "VT": "50", "VA": "51", "WA": "53",
	"WV": "54", "WI": "55", "WY": "56",
	"AS": "60", "GU": "66", "MP": "69", "PR": "72", "VI": "78",
}

// ValidateStateFIPS checks that fips is a 2-digit numeric state/territory code.
func ValidateStateFIPS(fips string) error {
	if len(fips) != 2 {
		return eris.Errorf("geo: invalid state FIPS %q: must be 2 digits", fips)
	}
	return validateNumeric(fips)
}

// ValidateCountyFIPS checks that fips is a 5-digit numeric county code
// (2-digit state prefix + 3-digit county sequence).
func ValidateCountyFIPS(fips string) error {
	if len(fips) != 5 {
		return eris.Errorf("geo: invalid county FIPS %q: must be 5 digits", fips)
	}
	return validateNumeric(fips)
}

func validateNumeric(fips string) error {
	for _, c := range fips {
		if c < '0' || c > '9' {
			return eris.Errorf("geo: invalid FIPS code %q: must be numeric", fips)
		}
	}
	return nil
}

// StateFIPSPrefix returns the 2-digit state FIPS prefix of a county FIPS code.
func StateFIPSPrefix(countyFIPS string) (string, error) {
	if err := ValidateCountyFIPS(countyFIPS); err != nil {
		return "", err
	}
	return countyFIPS[:2], nil
}
