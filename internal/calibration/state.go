package calibration

import (
	"fmt"
	"strings"
)

// Stage is a position in the calibration handshake. Stages only move
// forward; Restart is the single way back.
type Stage int

const (
	StageInitial Stage = iota
	StageSearching
	StageRoleSelected
	StageSingleFinger
	StageDualFinger
	StagePrepared
)

var stageNames = [...]string{"initial", "searching", "role_selected", "single_finger", "dual_finger", "prepared"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(b []byte) error {
	for i, name := range stageNames {
		if name == string(b) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", b)
}

// Role is the operator-chosen label for this device. It carries no protocol
// authority; both operators must simply choose different roles.
type Role int

const (
	RoleUnassigned Role = iota
	RoleHost
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleUnassigned:
		return "unassigned"
	case RoleHost:
		return "host"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	if string(b) == RoleUnassigned.String() {
		*r = RoleUnassigned
		return nil
	}
	role, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ParseRole accepts "host" or "client" in any case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "host":
		return RoleHost, nil
	case "client":
		return RoleClient, nil
	}
	return RoleUnassigned, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// State is the local progress: a stage plus the role that selects the Host
// or Client variant of the role-dependent stages.
type State struct {
	Stage Stage `json:"stage"`
	Role  Role  `json:"role"`
}

// String returns the observable sub-state name, for example
// "rightIndexFingerCoordinatesHost".
func (s State) String() string {
	suffix := "Host"
	if s.Role == RoleClient {
		suffix = "Client"
	}
	switch s.Stage {
	case StageInitial:
		return "initial"
	case StageSearching:
		return "searching"
	case StageRoleSelected:
		return "selecting" + suffix
	case StageSingleFinger:
		return "rightIndexFingerCoordinates" + suffix
	case StageDualFinger:
		return "bothIndexFingerCoordinate" + suffix
	case StagePrepared:
		return "prepared"
	default:
		return s.Stage.String()
	}
}

// FreshKind names a freshness flag.
type FreshKind int

const (
	FreshSingle FreshKind = iota
	FreshDual
)

func (k FreshKind) String() string {
	if k == FreshDual {
		return "dual"
	}
	return "single"
}

// ParseFreshKind accepts "single" or "dual".
func ParseFreshKind(s string) (FreshKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return FreshSingle, nil
	case "dual":
		return FreshDual, nil
	}
	return 0, fmt.Errorf("unknown freshness kind %q", s)
}
