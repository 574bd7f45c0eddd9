package recorder

import "fmt"

type State int

const (
	Idle State = iota
	Starting
	Recording
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitional states settle on their own; callers wait them out.
func (s State) transitional() bool {
	return s == Starting || s == Stopping
}
