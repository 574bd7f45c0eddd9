// Package stream delivers encoded audio and status transitions to a single
// consumer per stream, off the capture goroutine.
package stream

import "fmt"

// Status is a state transition reported to the consumer. The ordinals are
// part of the consumer contract and must not be reordered.
type Status int

const (
	StatusPaused Status = iota
	StatusRecording
	StatusStopped
	StatusDeclined
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPaused:
		return "paused"
	case StatusRecording:
		return "recording"
	case StatusStopped:
		return "stopped"
	case StatusDeclined:
		return "declined"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Chunk is one converted buffer: little-endian int16, channel-interleaved.
// The consumer owns Data.
type Chunk struct {
	RecorderID string
	SessionID  string
	Seq        uint64
	Data       []byte
}

// StateEvent reports a status transition. Message is set for StatusError,
// Warnings carries effect warnings on StatusRecording, and Canceled marks a
// StatusStopped produced by cancel rather than stop.
type StateEvent struct {
	RecorderID string
	SessionID  string
	Status     Status
	Message    string
	Warnings   []string
	Canceled   bool
}

// Stats counts audio chunks handed to the sink.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}
