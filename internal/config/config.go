package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete scanner configuration
type Config struct {
	HTTPAddr    string        `yaml:"http_addr"`
	MetricsAddr string        `yaml:"metrics_addr"`
	PprofAddr   string        `yaml:"pprof_addr"`
	Log         LogConfig     `yaml:"log"`
	Camera      CameraConfig  `yaml:"camera"`
	Scan        ScanConfig    `yaml:"scan"`
	Texture     TextureConfig `yaml:"texture"`
	WebRTC      WebRTCConfig  `yaml:"webrtc"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error, silent
	Color bool   `yaml:"color"`
}

// CameraConfig selects and configures the camera source
type CameraConfig struct {
	Source     string   `yaml:"source"`     // synthetic, shm, gocv
	Permission string   `yaml:"permission"` // granted, denied, prompt
	ShmName    string   `yaml:"shm_name"`
	Device     int      `yaml:"device"` // gocv device index
	Images     []string `yaml:"images"` // synthetic source frames; color bars when empty
	FPS        int      `yaml:"fps"`
}

// ScanConfig holds defaults applied to every scan session
type ScanConfig struct {
	Mode            string        `yaml:"mode"` // continuous, single
	Formats         []string      `yaml:"formats"`
	Resolution      string        `yaml:"resolution"`
	TypedEvents     bool          `yaml:"typed_events"`
	SuppressRepeats time.Duration `yaml:"suppress_repeats"`
	DetectInterval  time.Duration `yaml:"detect_interval"`
	DetectTimeout   time.Duration `yaml:"detect_timeout"`
	TryHarder       bool          `yaml:"try_harder"`
}

// TextureConfig controls how textures are rendered for clients
type TextureConfig struct {
	JPEGQuality int `yaml:"jpeg_quality"`
	MaxWidth    int `yaml:"max_width"`
}

// WebRTCConfig contains data channel bridge settings
type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers"`
	MaxClients  int      `yaml:"max_clients"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		PprofAddr:   ":6060",
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
		Camera: CameraConfig{
			Source:     "synthetic",
			Permission: "granted",
			ShmName:    "/pet_camera_stream",
			FPS:        30,
		},
		Scan: ScanConfig{
			Mode:          "continuous",
			Resolution:    "high",
			DetectTimeout: 2 * time.Second,
		},
		Texture: TextureConfig{
			JPEGQuality: 75,
			MaxWidth:    1280,
		},
		WebRTC: WebRTCConfig{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxClients:  10,
		},
	}
}

// Load reads a YAML file on top of Default
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
