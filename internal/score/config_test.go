package score

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWeights_MissingFileReturnsNilNoError(t *testing.T) {
	w, err := LoadWeights(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestLoadWeights_ParsesOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
station_thresholds: [70, 45, 28, 18, 9]
port_thresholds: [210, 130, 80, 42, 22]
`), 0o644))

	w, err := LoadWeights(path)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, [5]float64{70, 45, 28, 18, 9}, w.StationThresholds)
	assert.Equal(t, [5]float64{210, 130, 80, 42, 22}, w.PortThresholds)
}

func TestWeights_Apply_OverridesOnlyNonZeroLadders(t *testing.T) {
	original := stationThresholds
	defer func() { stationThresholds = original }()

	w := &Weights{StationThresholds: [5]float64{70, 45, 28, 18, 9}}
	w.Apply()

	assert.Equal(t, [5]float64{70, 45, 28, 18, 9}, stationThresholds)
	assert.Equal(t, [5]float64{200, 120, 75, 40, 20}, portThresholds)
}

func TestWeights_Apply_NilIsNoOp(t *testing.T) {
	original := stationThresholds
	defer func() { stationThresholds = original }()

	var w *Weights
	w.Apply()

	assert.Equal(t, original, stationThresholds)
}
