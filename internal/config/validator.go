package config

import (
	"fmt"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// Validate checks the configuration and fills derived defaults
func Validate(cfg *Config) error {
	switch cfg.Camera.Source {
	case "synthetic", "shm", "gocv":
	default:
		return fmt.Errorf("camera.source must be synthetic, shm or gocv (got %q)", cfg.Camera.Source)
	}

	switch cfg.Camera.Permission {
	case "granted", "denied", "prompt":
	case "":
		cfg.Camera.Permission = "granted"
	default:
		return fmt.Errorf("camera.permission must be granted, denied or prompt (got %q)", cfg.Camera.Permission)
	}

	if cfg.Camera.Source == "shm" && cfg.Camera.ShmName == "" {
		return fmt.Errorf("camera.shm_name is required for the shm source")
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}

	switch cfg.Scan.Mode {
	case "continuous", "single":
	case "":
		cfg.Scan.Mode = "continuous"
	default:
		return fmt.Errorf("scan.mode must be continuous or single (got %q)", cfg.Scan.Mode)
	}

	for _, name := range cfg.Scan.Formats {
		if _, ok := types.ParseSymbology(name); !ok {
			return fmt.Errorf("scan.formats: unknown symbology %q", name)
		}
	}

	if cfg.Scan.SuppressRepeats < 0 || cfg.Scan.DetectInterval < 0 || cfg.Scan.DetectTimeout < 0 {
		return fmt.Errorf("scan durations must not be negative")
	}

	if cfg.Texture.JPEGQuality <= 0 || cfg.Texture.JPEGQuality > 100 {
		cfg.Texture.JPEGQuality = 75
	}

	if cfg.WebRTC.MaxClients <= 0 {
		cfg.WebRTC.MaxClients = 10
	}

	return nil
}
