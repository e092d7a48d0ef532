package delivery

import "errors"

// SinkErrorKind classifies broadcast failures. The kind is assigned by the
// sink adapter that observed the failure, never recovered from error prose.
type SinkErrorKind string

const (
	// SinkUnavailable means the broadcast target is not ready, typically
	// because the bot is offline or not yet initialized.
	SinkUnavailable SinkErrorKind = "unavailable"
	// SinkRateLimited means the platform refused the send on a push quota.
	SinkRateLimited SinkErrorKind = "rate_limited"
	// SinkOther covers everything else; such failures are logged and the
	// message dropped with no retry.
	SinkOther SinkErrorKind = "other"
)

type SinkError struct {
	Kind SinkErrorKind
	Err  error
}

func (e *SinkError) Error() string {
	if e.Err == nil {
		return "broadcast failed: " + string(e.Kind)
	}
	return "broadcast failed (" + string(e.Kind) + "): " + e.Err.Error()
}

func (e *SinkError) Unwrap() error { return e.Err }

// Classify extracts the SinkErrorKind from err, defaulting to SinkOther.
func Classify(err error) SinkErrorKind {
	var se *SinkError
	if errors.As(err, &se) {
		return se.Kind
	}
	return SinkOther
}
