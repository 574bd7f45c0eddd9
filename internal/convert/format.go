package convert

import (
	"errors"
	"fmt"
	"strings"
)

// Encoding is a destination sample encoding.
type Encoding int

const (
	// PCM16 is signed 16-bit little-endian, channel-interleaved.
	PCM16 Encoding = iota
)

func (e Encoding) String() string {
	switch e {
	case PCM16:
		return "pcm16"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// ParseEncoding maps a config string to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(s) {
	case "", "pcm16", "pcm16bits", "s16le":
		return PCM16, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", s)
}

// Quality selects the resampler.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// ParseQuality maps a config string to a Quality. Empty means high.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(s) {
	case "low", "linear":
		return QualityLow, nil
	case "medium":
		return QualityMedium, nil
	case "", "high":
		return QualityHigh, nil
	}
	return 0, fmt.Errorf("unknown resample quality %q", s)
}

// Format is a destination PCM format.
type Format struct {
	SampleRate uint32
	Channels   uint32
	Encoding   Encoding
}

const (
	MinSampleRate = 8000
	MaxSampleRate = 192000

	// Largest rate ratio the resampler bridges in either direction.
	maxRatio = 32
)

// Validate reports whether f can be produced.
func (f Format) Validate() error {
	if f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return &UnsupportedFormatError{Format: f, Reason: fmt.Sprintf("sample rate must be within %d..%d Hz", MinSampleRate, MaxSampleRate)}
	}
	if f.Channels != 1 && f.Channels != 2 {
		return &UnsupportedFormatError{Format: f, Reason: "channel count must be 1 or 2"}
	}
	if f.Encoding != PCM16 {
		return &UnsupportedFormatError{Format: f, Reason: "only pcm16 is supported"}
	}
	return nil
}

// UnsupportedFormatError reports a destination format that cannot be built
// or bridged from the native format.
type UnsupportedFormatError struct {
	Format Format
	Reason string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("format is not supported: %dHz - %d channels (%s): %s",
		e.Format.SampleRate, e.Format.Channels, e.Format.Encoding, e.Reason)
}

// ErrBadBuffer marks native buffers the converter cannot read.
var ErrBadBuffer = errors.New("malformed native buffer")

// ConversionError reports a single native buffer that was dropped. The
// session continues with the next buffer.
type ConversionError struct {
	Samples int
	Err     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion of %d samples failed: %v", e.Samples, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}
