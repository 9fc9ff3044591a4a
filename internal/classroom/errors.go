package classroom

import "errors"

var (
	// ErrRoomClosed is returned when the session has ended or the room loop has stopped.
	ErrRoomClosed = errors.New("classroom: room closed")
	// ErrCapacityExceeded is returned when the participant cap for the session is reached.
	ErrCapacityExceeded = errors.New("classroom: capacity exceeded")
	// ErrForbidden is returned when the caller's role or the room settings do not permit the action.
	ErrForbidden = errors.New("classroom: forbidden")
	// ErrNotFound is returned when a participant or hand-raise does not exist.
	ErrNotFound = errors.New("classroom: not found")
	// ErrAlreadyRaised is returned when a participant already has an active hand-raise.
	ErrAlreadyRaised = errors.New("classroom: hand already raised")
	// ErrAlreadyResolved is returned when a hand-raise was already resolved.
	ErrAlreadyResolved = errors.New("classroom: hand-raise already resolved")
	// ErrTargetNotFound is returned when a signaling target is not present in the room.
	ErrTargetNotFound = errors.New("classroom: signaling target not found")
	// ErrInvalidRequest is returned for malformed input (empty chat body, unknown outcome).
	ErrInvalidRequest = errors.New("classroom: invalid request")
	// ErrInternal is returned when a command panicked inside the room loop.
	ErrInternal = errors.New("classroom: internal error")
)

// Wire error codes reported to clients.
const (
	CodeRoomClosed       = "room_closed"
	CodeCapacityExceeded = "capacity_exceeded"
	CodeForbidden        = "forbidden"
	CodeNotFound         = "not_found"
	CodeAlreadyRaised    = "already_raised"
	CodeAlreadyResolved  = "already_resolved"
	CodeTargetNotFound   = "target_not_found"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrRoomClosed, CodeRoomClosed},
	{ErrCapacityExceeded, CodeCapacityExceeded},
	{ErrForbidden, CodeForbidden},
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyRaised, CodeAlreadyRaised},
	{ErrAlreadyResolved, CodeAlreadyResolved},
	{ErrTargetNotFound, CodeTargetNotFound},
	{ErrInvalidRequest, CodeInvalidRequest},
}

// Code maps an error returned by this package to its stable wire code.
// Unknown errors map to CodeInternal.
func Code(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
