package promotion

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ActivityRunCycle is the registered name of Activities.RunCycle, used
// by RefreshCycleWorkflow to invoke it without the workflow code closing
// over the Coordinator directly (workflow code must stay deterministic
// and side-effect free; the activity is where the real I/O happens).
const ActivityRunCycle = "promotion.RunCycle"

// RefreshCycleWorkflowName is the registered workflow type name.
const RefreshCycleWorkflowName = "promotion.RefreshCycle"

// Activities wraps the Coordinator's tick so it can run as a durable
// Temporal activity: a worker crash mid-cycle loses only the in-flight
// activity attempt, not the cycle's position in the state machine, since
// that position lives in promotion.cycle_lock and promotion.zip_progress,
// not in worker memory.
type Activities struct {
	Coordinator *Coordinator
}

// RunCycle runs one coordinator tick. A cycle-in-progress result is not
// an activity failure — it's a valid outcome the workflow inspects and
// stops on.
func (a *Activities) RunCycle(ctx context.Context, maxZipChunks int) (CycleOutcome, error) {
	outcome, err := a.Coordinator.Run(ctx, maxZipChunks)
	if err != nil && outcome.Outcome == "cycle-in-progress" {
		return outcome, nil
	}
	return outcome, err
}

// WorkflowInput configures one RefreshCycleWorkflow execution.
type WorkflowInput struct {
	// MaxZipChunksPerTick bounds how many ZIP chunks one activity
	// execution drains before returning control to the workflow; 0
	// drains the whole residual set in a single activity call.
	MaxZipChunksPerTick int
	// TickInterval is how long the workflow sleeps between ticks when a
	// tick parks at AggregatingZips.
	TickInterval time.Duration
	// TickTimeout bounds a single activity execution's wall clock.
	TickTimeout time.Duration
	// MaxTicks bounds how many ticks the workflow will run before
	// giving up and returning whatever the last tick produced, so a
	// persistently stuck ZIP sweep doesn't run the workflow forever.
	MaxTicks int
}

// DefaultWorkflowInput mirrors the ZIP sub-pipeline's own pacing
// (zipsub.ChunkPause governs intra-tick pacing; this governs inter-tick
// pacing when a tick doesn't finish the sweep).
func DefaultWorkflowInput() WorkflowInput {
	return WorkflowInput{
		MaxZipChunksPerTick: 0,
		TickInterval:        30 * time.Second,
		TickTimeout:         5 * time.Minute,
		MaxTicks:            20,
	}
}

// RefreshCycleWorkflow drives the promotion state machine to completion
// across as many ticks as it takes to drain a parked ZIP sweep,
// resuming from wherever promotion.cycle_lock says the cycle parked
// rather than restarting ingestion on every tick.
func RefreshCycleWorkflow(ctx workflow.Context, input WorkflowInput) (CycleOutcome, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: input.TickTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var outcome CycleOutcome
	for tick := 0; tick < input.MaxTicks; tick++ {
		if err := workflow.ExecuteActivity(ctx, ActivityRunCycle, input.MaxZipChunksPerTick).Get(ctx, &outcome); err != nil {
			return outcome, err
		}

		if outcome.Outcome == "cycle-in-progress" {
			return outcome, nil
		}
		if outcome.FinalState == Idle || outcome.FinalState == Promotable {
			return outcome, nil
		}

		if err := workflow.Sleep(ctx, input.TickInterval); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}
