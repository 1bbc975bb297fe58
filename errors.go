package bulkpanel

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("bulkpanel: no store configured")
	ErrStoreClosed = errors.New("bulkpanel: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("bulkpanel: job not found")

	// Submission errors.
	ErrInvalidJob  = errors.New("bulkpanel: invalid job submission")
	ErrUnknownKind = errors.New("bulkpanel: unknown workflow kind")

	// State errors.
	ErrJobTerminal = errors.New("bulkpanel: job already in a terminal state")

	// ErrStopped marks a workflow aborted at a cooperative-cancellation
	// checkpoint. It is distinguished from genuine stage failures so the
	// item outcome reads "skipped due to stop" rather than "failed".
	ErrStopped = errors.New("bulkpanel: force-stopped by user")
)

// Code maps an engine error to a short machine-readable code for the
// polling contract. Callers never see raw stack traces or wrapped chains,
// only {message, code} pairs.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidJob):
		return "invalid_job"
	case errors.Is(err, ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ErrJobTerminal):
		return "job_terminal"
	case errors.Is(err, ErrStopped):
		return "stopped"
	default:
		return "internal"
	}
}
