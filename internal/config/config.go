// Package config loads tuner settings from flags, environment and YAML files.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/logger"
	"github.com/0xlemi/polytune/internal/pitch"
	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. POLYTUNE_REFERENCE_HZ.
const EnvPrefix = "POLYTUNE"

// ReferencePitches are the accepted A4 reference frequencies.
var ReferencePitches = []float64{440, 432}

// Config represents the application configuration
type Config struct {
	Instrument     string  `mapstructure:"instrument" validate:"required"`
	Tuning         string  `mapstructure:"tuning" validate:"required"`
	ReferenceHz    float64 `mapstructure:"reference_hz" validate:"refpitch"`
	Mode           string  `mapstructure:"mode" validate:"oneof=poly chromatic"`
	CentsTolerance float64 `mapstructure:"cents_tolerance" validate:"gt=0,lte=50"`
	TuningsFile    string  `mapstructure:"tunings_file"`

	Audio     AudioConfig     `mapstructure:"audio"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Smoothing SmoothingConfig `mapstructure:"smoothing"`
	Tone      ToneConfig      `mapstructure:"tone"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// AudioConfig contains capture settings
type AudioConfig struct {
	SampleRate    int           `mapstructure:"sample_rate" validate:"gt=0"`
	FrameSize     int           `mapstructure:"frame_size" validate:"gte=256,pow2"`
	Channels      int           `mapstructure:"channels" validate:"gte=1,lte=8"`
	Amplification float64       `mapstructure:"amplification" validate:"gte=0.1,lte=100"`
	PollInterval  time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// DetectorConfig contains pitch detector settings
type DetectorConfig struct {
	Method           string  `mapstructure:"method" validate:"oneof=direct fft"`
	SilenceThreshold float64 `mapstructure:"silence_threshold" validate:"gte=0,lt=1"`
	MinFrequency     float64 `mapstructure:"min_frequency" validate:"gt=0"`
	MaxFrequency     float64 `mapstructure:"max_frequency" validate:"gtfield=MinFrequency"`
	PeakTolerance    float64 `mapstructure:"peak_tolerance" validate:"gte=0,lt=1"`
	Interpolate      bool    `mapstructure:"interpolate"`
}

// SmoothingConfig contains estimate smoothing settings
type SmoothingConfig struct {
	Window int `mapstructure:"window" validate:"gte=1,lte=15"`
}

// ToneConfig contains reference tone settings
type ToneConfig struct {
	Volume float64 `mapstructure:"volume" validate:"gte=0,lte=1"`
}

// ServerConfig contains websocket bridge settings
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required,hostname_port"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("pow2", func(fl validator.FieldLevel) bool {
		return audio.IsPowerOfTwo(int(fl.Field().Int()))
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("refpitch", func(fl validator.FieldLevel) bool {
		return slices.Contains(ReferencePitches, fl.Field().Float())
	}); err != nil {
		panic(err)
	}
	return v
}

// SetDefaults sets default configuration values for all components
func SetDefaults(v *viper.Viper) {
	v.SetDefault("instrument", "guitar")
	v.SetDefault("tuning", tuning.StandardTuning)
	v.SetDefault("reference_hz", 440)
	v.SetDefault("mode", string(tuning.ModePoly))
	v.SetDefault("cents_tolerance", tuning.DefaultTolerance)
	v.SetDefault("tunings_file", "")

	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.frame_size", 2048)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.amplification", 1.0)
	v.SetDefault("audio.poll_interval", tuner.DefaultPollInterval)

	d := pitch.DefaultConfig()
	v.SetDefault("detector.method", string(d.Method))
	v.SetDefault("detector.silence_threshold", d.SilenceThreshold)
	v.SetDefault("detector.min_frequency", d.MinFrequency)
	v.SetDefault("detector.max_frequency", d.MaxFrequency)
	v.SetDefault("detector.peak_tolerance", d.PeakTolerance)
	v.SetDefault("detector.interpolate", d.Interpolate)

	v.SetDefault("smoothing.window", 1)
	v.SetDefault("tone.volume", 0.5)
	v.SetDefault("server.addr", "127.0.0.1:8088")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// BindEnv enables POLYTUNE_* environment overrides, e.g. POLYTUNE_AUDIO_FRAME_SIZE.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Settings returns the classification settings.
func (c *Config) Settings() tuning.Settings {
	return tuning.Settings{
		ReferenceHz: c.ReferenceHz,
		Tolerance:   c.CentsTolerance,
		Mode:        tuning.Mode(c.Mode),
	}
}

// PitchConfig returns the pitch detector settings.
func (c *Config) PitchConfig() pitch.Config {
	return pitch.Config{
		Method:           pitch.Method(c.Detector.Method),
		SilenceThreshold: c.Detector.SilenceThreshold,
		MinFrequency:     c.Detector.MinFrequency,
		MaxFrequency:     c.Detector.MaxFrequency,
		PeakTolerance:    c.Detector.PeakTolerance,
		Interpolate:      c.Detector.Interpolate,
	}
}

// EngineConfig returns the initial engine state.
func (c *Config) EngineConfig() tuner.Config {
	return tuner.Config{
		Instrument: c.Instrument,
		Tuning:     c.Tuning,
		Settings:   c.Settings(),
		Smoothing:  c.Smoothing.Window,
		LowestHz:   c.LowestDetectable(),
	}
}

// LowestDetectable is the lowest fundamental the configured frames resolve.
func (c *Config) LowestDetectable() float64 {
	return pitch.LowestDetectable(c.Audio.SampleRate, c.Audio.FrameSize)
}

// FitFrameSize raises the frame size until frames resolve lowestHz and
// returns the previous size.
func (c *Config) FitFrameSize(lowestHz float64) int {
	prev := c.Audio.FrameSize
	c.Audio.FrameSize = pitch.FrameSizeFor(c.Audio.SampleRate, lowestHz, prev)
	return prev
}

// LoggerConfig returns the logger settings.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.Log.Level, File: c.Log.File}
}

// Catalog returns the built-in presets merged with TuningsFile, if set.
func (c *Config) Catalog() (*tuning.Catalog, error) {
	catalog := tuning.NewCatalog()
	if c.TuningsFile != "" {
		if err := catalog.LoadCatalogFile(c.TuningsFile); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}
