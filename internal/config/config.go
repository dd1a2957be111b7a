package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/blink-tracker/backend/internal/blink"
	"github.com/blink-tracker/backend/internal/landmark"
	"github.com/blink-tracker/backend/internal/tracker"
)

// EnvPrefix prefixes every environment override, e.g. BLINKTRACK_SERVER_PORT.
const EnvPrefix = "BLINKTRACK_"

type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Capture   CaptureConfig   `yaml:"capture" envPrefix:"CAPTURE_"`
	Blink     BlinkConfig     `yaml:"blink" envPrefix:"BLINK_"`
	Tracker   TrackerConfig   `yaml:"tracker" envPrefix:"TRACKER_"`
	Landmark  LandmarkConfig  `yaml:"landmark" envPrefix:"LANDMARK_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Status    StatusConfig    `yaml:"status" envPrefix:"STATUS_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	Host            string        `yaml:"host" env:"HOST"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type CaptureConfig struct {
	DeviceIndex int  `yaml:"device_index" env:"DEVICE_INDEX"`
	Width       int  `yaml:"width" env:"WIDTH"`
	Height      int  `yaml:"height" env:"HEIGHT"`
	FPS         int  `yaml:"fps" env:"FPS"`
	Mirror      bool `yaml:"mirror" env:"MIRROR"`
	JPEGQuality int  `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
}

type BlinkConfig struct {
	EARThreshold   float64 `yaml:"ear_threshold" env:"EAR_THRESHOLD"`
	ConsecFrames   uint32  `yaml:"consec_frames" env:"CONSEC_FRAMES"`
	CooldownFrames uint32  `yaml:"cooldown_frames" env:"COOLDOWN_FRAMES"`
}

type TrackerConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" env:"FRAME_INTERVAL"`
	Timezone      string        `yaml:"timezone" env:"TIMEZONE"`
}

type LandmarkConfig struct {
	Command     []string      `yaml:"command" env:"COMMAND" envSeparator:" "`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	JPEGQuality int           `yaml:"jpeg_quality" env:"JPEG_QUALITY"`
}

type AuthConfig struct {
	SecretKey string `yaml:"secret_key" env:"SECRET_KEY"`
	Algorithm string `yaml:"algorithm" env:"ALGORITHM"`
}

type StatusConfig struct {
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle" env:"BROADCAST_THROTTLE"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval" env:"SNAPSHOT_INTERVAL"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			Host:            "0.0.0.0",
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Capture: CaptureConfig{
			DeviceIndex: 0,
			Width:       640,
			Height:      480,
			FPS:         30,
			Mirror:      true,
			JPEGQuality: 70,
		},
		Blink: BlinkConfig{
			EARThreshold:   0.25,
			ConsecFrames:   1,
			CooldownFrames: 3,
		},
		Tracker: TrackerConfig{
			FrameInterval: 33 * time.Millisecond,
			Timezone:      "Local",
		},
		Landmark: LandmarkConfig{
			Command:     []string{"python3", "workers/face_mesh_worker.py"},
			Timeout:     2 * time.Second,
			JPEGQuality: 90,
		},
		Auth: AuthConfig{
			Algorithm: "HS256",
		},
		Status: StatusConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "blink-tracker",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault behaves like Load but falls back to the defaults when path
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return finish(defaultConfig())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return fmt.Errorf("capture size %dx%d must be positive", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture.jpeg_quality %d must be within 1..100", c.Capture.JPEGQuality)
	}
	if err := c.BlinkConfig().Validate(); err != nil {
		return err
	}
	if c.Tracker.FrameInterval < 0 {
		return fmt.Errorf("tracker.frame_interval must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Status.BroadcastThrottle < 0 || c.Status.SnapshotInterval < 0 {
		return fmt.Errorf("status intervals must not be negative")
	}
	return nil
}

// Location resolves the configured display time zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Tracker.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return nil, fmt.Errorf("tracker.timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) BlinkConfig() blink.Config {
	return blink.Config{
		Threshold: c.Blink.EARThreshold,
		Debounce:  c.Blink.ConsecFrames,
		Cooldown:  c.Blink.CooldownFrames,
	}
}

// TrackerConfig converts the file sections into controller settings.
func (c *Config) TrackerConfig() tracker.Config {
	loc, err := c.Location()
	if err != nil {
		loc = time.Local
	}
	return tracker.Config{
		Capture: tracker.CaptureConfig{
			DeviceIndex: c.Capture.DeviceIndex,
			Width:       c.Capture.Width,
			Height:      c.Capture.Height,
			FPS:         c.Capture.FPS,
		},
		Blink:         c.BlinkConfig(),
		FrameInterval: c.Tracker.FrameInterval,
		JPEGQuality:   c.Capture.JPEGQuality,
		Location:      loc,
	}
}

func (c *Config) LandmarkConfig() landmark.Config {
	return landmark.Config{
		Command:     c.Landmark.Command,
		Timeout:     c.Landmark.Timeout,
		JPEGQuality: c.Landmark.JPEGQuality,
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
