package recommend

import (
	"context"
	"errors"
)

// Outcome classifies one completion attempt for the retry loop
type Outcome int

const (
	Success Outcome = iota
	RateLimited
	Unauthorized
	Transient
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Unauthorized:
		return "unauthorized"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a completer error onto an Outcome.
// Errors that are not service answers (network, timeouts) are transient;
// caller cancellation is fatal.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrQuotaExceeded):
		return RateLimited
	case errors.Is(err, ErrCredentialRejected):
		return Unauthorized
	case errors.Is(err, ErrFatal), errors.Is(err, context.Canceled):
		return Fatal
	default:
		return Transient
	}
}
