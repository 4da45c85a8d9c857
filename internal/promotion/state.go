package promotion

// State is one node of the refresh-cycle state machine (§4.H).
type State string

const (
	Idle                State = "idle"
	Ingesting           State = "ingesting"
	Detecting           State = "detecting"
	AggregatingStates   State = "aggregating_states"
	AggregatingCounties State = "aggregating_counties"
	AggregatingZips     State = "aggregating_zips"
	Promotable          State = "promotable"
	Promoting           State = "promoting"
)

// CycleOutcome summarizes a single coordinator run for callers (cmd/'s
// HTTP trigger and the refresh command).
type CycleOutcome struct {
	CycleID     string
	FinalState  State
	Promoted    bool
	Outcome     string // taxonomy label, see Classify
	Totals      Totals
	ZipProgress float64 // fraction complete, valid even when Promoted is false
}

// Totals mirrors change.Totals, carried through to the outcome so callers
// don't need to reach into the detector's result directly.
type Totals struct {
	States   int
	Counties int
	Zips     int
}
