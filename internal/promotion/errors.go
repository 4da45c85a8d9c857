package promotion

import "github.com/rotisserie/eris"

// Error taxonomy (§7). Each cycle outcome is classified into exactly one
// of these categories; the HTTP-facing layer in cmd/ maps them onto
// status codes (200 clean or partial completion, 207 when aggregation
// produced rows but a later step failed, 5xx otherwise).
var (
	// ErrUpstream covers failures fetching or parsing the upstream
	// registry feed (component C's domain).
	ErrUpstream = eris.New("upstream-error")

	// ErrValidation covers a record or row that failed normalization or
	// schema validation.
	ErrValidation = eris.New("validation-error")

	// ErrInvariantViolation covers a cycle-level invariant failing (the
	// staging/serving size ratio, or dcfast+level2+level1 != total in a
	// written region row). The cycle aborts with serving untouched.
	ErrInvariantViolation = eris.New("invariant-violation")

	// ErrPartialCompletion marks a cycle that made progress but didn't
	// reach Promotable this tick (e.g. G reported a partial ZIP sweep).
	ErrPartialCompletion = eris.New("partial-completion")

	// ErrPromotionFailed covers the atomic rename itself failing; the
	// cycle remains at Promotable for the next tick to retry.
	ErrPromotionFailed = eris.New("promotion-failed")

	// ErrCycleInProgress is returned when the named lock is already
	// held by another invocation. It is not a cycle failure: the
	// running cycle is left untouched.
	ErrCycleInProgress = eris.New("cycle-in-progress")
)

// Classify maps a taxonomy sentinel to the outcome label persisted in the
// change log.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case eris.Is(err, ErrUpstream):
		return "upstream-error"
	case eris.Is(err, ErrValidation):
		return "validation-error"
	case eris.Is(err, ErrInvariantViolation):
		return "invariant-violation"
	case eris.Is(err, ErrPartialCompletion):
		return "partial-completion"
	case eris.Is(err, ErrPromotionFailed):
		return "promotion-failed"
	case eris.Is(err, ErrCycleInProgress):
		return "cycle-in-progress"
	default:
		return "error"
	}
}
