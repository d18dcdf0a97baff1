package controller

import (
	"fmt"

	"github.com/banshee-data/aimtrack/internal/protocol"
)

// Mode is the active behaviour of the controller.
type Mode int

const (
	Idle Mode = iota
	AimBullseye
	CircleTracking
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case AimBullseye:
		return "aim"
	case CircleTracking:
		return "tracking"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText renders the mode by name in JSON status output.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ModeFor maps a recognized command to the mode it selects.
func ModeFor(c protocol.Command) (Mode, bool) {
	switch c {
	case protocol.CmdAimBullseye:
		return AimBullseye, true
	case protocol.CmdCircleTracking:
		return CircleTracking, true
	case protocol.CmdIdle:
		return Idle, true
	}
	return Idle, false
}

// ParseMode is the inverse of Mode.String for the named modes.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{Idle, AimBullseye, CircleTracking} {
		if m.String() == s {
			return m, nil
		}
	}
	return Idle, fmt.Errorf("unknown mode %q", s)
}

// UnmarshalText accepts the names produced by MarshalText.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
