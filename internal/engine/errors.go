package engine

import "errors"

// Validation errors are reported synchronously and change no state.
var (
	// ErrInvalidTrack reports a track index outside 0..6.
	ErrInvalidTrack = errors.New("track index out of range")

	// ErrInvalidPeriod reports a non-positive beat period.
	ErrInvalidPeriod = errors.New("beat period must be positive")

	// ErrSubscriptionActive reports an attempt to start an already-running
	// periodic subscription with a different period. Stop it first.
	ErrSubscriptionActive = errors.New("subscription already started with a different period; stop it first")

	// ErrClosed reports an operation on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// Render return codes. Zero is success. Positive codes flag a non-fatal,
// per-block fault; the host keeps pulling and treats the buffer as
// best-effort.
const (
	RenderOK          int32 = 0
	RenderScoreFault  int32 = 1 // scoring collaborator failed for this block
	RenderShortBuffer int32 = 2 // caller buffer smaller than 2*frameCount
)
