package recorder

import (
	"errors"
	"fmt"

	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/convert"
)

// Errors surfaced by the controller, re-exported from the packages that
// produce them.
type (
	DeviceError            = audio.DeviceError
	EffectWarning          = audio.EffectWarning
	UnsupportedFormatError = convert.UnsupportedFormatError
	ConversionError        = convert.ConversionError
)

var (
	ErrAlreadyRecording = errors.New("recorder is already recording")
	ErrNotRecording     = errors.New("recorder is not recording")
	ErrCanceled         = errors.New("capture start canceled")
	ErrClosed           = errors.New("recorder is closed")
)

// StartError reports which stage of Start failed.
type StartError struct {
	Stage string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed at %s: %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
