package score

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Weights overrides the default §4.F breakpoint ladders. Operators can
// retune the station-count/port-count thresholds without a redeploy by
// pointing the cycle at a weights file; absent a file, the package-level
// defaults apply.
type Weights struct {
	StationThresholds [5]float64 `yaml:"station_thresholds"`
	PortThresholds    [5]float64 `yaml:"port_thresholds"`
}

// LoadWeights reads a YAML weights file. A missing file is not an error;
// callers get (nil, nil) and should keep the compiled-in defaults.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "score: read weights file")
	}

	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrap(err, "score: parse weights file")
	}
	return &w, nil
}

// Apply overrides the package's threshold ladders. Zero-value entries are
// left untouched so a file overriding only one ladder doesn't zero the
// other.
func (w *Weights) Apply() {
	if w == nil {
		return
	}
	if w.StationThresholds != [5]float64{} {
		stationThresholds = w.StationThresholds
	}
	if w.PortThresholds != [5]float64{} {
		portThresholds = w.PortThresholds
	}
}
