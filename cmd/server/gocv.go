//go:build gocv

package main

import (
	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/config"
	"github.com/cloudacy/barcode-scanner/internal/gocvcam"
)

func init() {
	openGoCV = func(cfg config.CameraConfig) camera.Provider {
		return gocvcam.New(cfg.Device, cfg.FPS)
	}
}
