package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/petems/recstream/internal/convert"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendSynth     = "synth"
)

type Config struct {
	LogLevel string      `json:"log_level" mapstructure:"log_level"`
	Backend  string      `json:"backend" mapstructure:"backend"` // "portaudio", "malgo" or "synth"
	Audio    AudioConfig `json:"audio" mapstructure:"audio"`

	path string
}

// AudioConfig is the default capture request.
type AudioConfig struct {
	DeviceID        string `json:"device_id" mapstructure:"device_id"`
	SampleRate      uint32 `json:"sample_rate" mapstructure:"sample_rate"`
	Channels        uint32 `json:"channels" mapstructure:"channels"`
	Encoding        string `json:"encoding" mapstructure:"encoding"`
	AutoGain        bool   `json:"auto_gain" mapstructure:"auto_gain"`
	EchoCancel      bool   `json:"echo_cancel" mapstructure:"echo_cancel"`
	UseLegacyPath   bool   `json:"use_legacy_path" mapstructure:"use_legacy_path"`
	FramesPerBuffer int    `json:"frames_per_buffer" mapstructure:"frames_per_buffer"` // 0 = backend default
	Quality         string `json:"quality" mapstructure:"quality"`                     // "low", "medium", "high"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("backend", BackendPortAudio)
	v.SetDefault("audio.device_id", "")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.encoding", "pcm16")
	v.SetDefault("audio.auto_gain", false)
	v.SetDefault("audio.echo_cancel", false)
	v.SetDefault("audio.use_legacy_path", false)
	v.SetDefault("audio.frames_per_buffer", 0)
	v.SetDefault("audio.quality", "high")
}

// Load reads the config from path, or from the platform config path when
// path is empty. A missing file yields defaults. RECSTREAM_* environment
// variables override both, e.g. RECSTREAM_AUDIO_SAMPLE_RATE.
func Load(path string) (*Config, error) {
	if path == "" {
		path = configPath()
	}

	v := newViper(path)
	v.SetEnvPrefix("RECSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return read(v, path)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("json")
	return v
}

func read(v *viper.Viper, path string) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	cfg := &Config{path: path}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.filePath()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Update applies fn to c and persists the same change to the file. Values
// that only came from flags or the environment are not written.
func (c *Config) Update(fn func(*Config)) error {
	path := c.filePath()
	stored, err := read(newViper(path), path)
	if err != nil {
		return err
	}

	fn(stored)
	if err := stored.Save(); err != nil {
		return err
	}
	fn(c)
	return nil
}

func (c *Config) filePath() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// Path is where Save writes.
func (c *Config) Path() string {
	return c.path
}

// Validate reports every invalid setting.
func (c *Config) Validate() []error {
	var errs []error

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch c.Backend {
	case BackendPortAudio, BackendMalgo, BackendSynth:
	default:
		errs = append(errs, fmt.Errorf("backend: unknown backend %q", c.Backend))
	}

	enc, err := convert.ParseEncoding(c.Audio.Encoding)
	if err != nil {
		errs = append(errs, fmt.Errorf("audio.encoding: %w", err))
	}
	format := convert.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels, Encoding: enc}
	if err := format.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	if _, err := convert.ParseQuality(c.Audio.Quality); err != nil {
		errs = append(errs, fmt.Errorf("audio.quality: %w", err))
	}
	if c.Audio.FramesPerBuffer < 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer: must not be negative"))
	}

	return errs
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "recstream", "config.json")
}
