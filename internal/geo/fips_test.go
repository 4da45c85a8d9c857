package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStateFIPS(t *testing.T) {
	assert.NoError(t, ValidateStateFIPS("06"))
	assert.Error(t, ValidateStateFIPS("6"))
	assert.Error(t, ValidateStateFIPS("abc"))
}

func TestValidateCountyFIPS(t *testing.T) {
	assert.NoError(t, ValidateCountyFIPS("06075"))
	assert.Error(t, ValidateCountyFIPS("6075"))
	assert.Error(t, ValidateCountyFIPS("0607x"))
}

func TestStateFIPSPrefix(t *testing.T) {
	prefix, err := StateFIPSPrefix("06075")
	require.NoError(t, err)
	assert.Equal(t, "06", prefix)

	_, err = StateFIPSPrefix("bad")
	assert.Error(t, err)
}

func TestStateFIPSByAbbrev_CoversAllUSStateFIPS(t *testing.T) {
	seen := make(map[string]bool)
	for _, fips := range StateFIPSByAbbrev {
		seen[fips] = true
	}
	for _, fips := range USStateFIPS {
		assert.True(t, seen[fips], "FIPS %s in USStateFIPS has no abbreviation entry", fips)
	}
}
