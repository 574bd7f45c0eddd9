package recorder

import (
	"github.com/petems/recstream/internal/audio"
	"github.com/petems/recstream/internal/convert"
)

// Config is one capture request. It is validated before any device is
// touched.
type Config struct {
	SampleRate uint32
	Channels   uint32
	Encoding   convert.Encoding
	// DeviceID selects an input by backend ID or name. Empty means the
	// platform default.
	DeviceID      string
	AutoGain      bool
	EchoCancel    bool
	UseLegacyPath bool
}

// Destination is the PCM format chunks are delivered in.
func (c Config) Destination() convert.Format {
	return convert.Format{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Encoding:   c.Encoding,
	}
}

func (c Config) Validate() error {
	return c.Destination().Validate()
}

func (c Config) effects() audio.Effects {
	return audio.Effects{AutoGain: c.AutoGain, EchoCancel: c.EchoCancel}
}
