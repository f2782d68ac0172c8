package calibration

import "errors"

var (
	// ErrRoleAlreadyAssigned is returned when a role is chosen twice in one
	// session.
	ErrRoleAlreadyAssigned = errors.New("calibration: role already assigned")
	ErrInvalidRole         = errors.New("calibration: invalid role")

	// ErrPeerNotConnected is returned when selecting a peer outside the
	// connected set. The target list is left unchanged.
	ErrPeerNotConnected = errors.New("calibration: peer not connected")

	// ErrStageNotReached is returned for an operation the current stage does
	// not allow yet.
	ErrStageNotReached = errors.New("calibration: stage not reached")

	// ErrUntracked means a required finger is not tracked right now. No
	// sample was taken; retry once tracking resumes.
	ErrUntracked = errors.New("calibration: finger not tracked")

	// ErrNotSimultaneous means both fingers are tracked but their samples
	// are too far apart in time to form a pair.
	ErrNotSimultaneous = errors.New("calibration: finger samples not simultaneous")

	ErrNoSample  = errors.New("calibration: no local sample captured")
	ErrEmptyText = errors.New("calibration: empty text")
	ErrStopped   = errors.New("calibration: coordinator not running")
)
