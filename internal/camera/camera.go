// Package camera defines the capture device abstraction the scan session
// drives, plus a synthetic provider used by tests and the demo server.
package camera

import (
	"context"
	"errors"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var (
	// ErrNoDevice means no camera matches the requested id or facing
	ErrNoDevice = errors.New("no camera device available")
	// ErrConfiguration means the camera cannot be bound with the requested preset
	ErrConfiguration = errors.New("camera configuration failed")
	// ErrDeviceInUse means the device is held by another client
	ErrDeviceInUse = errors.New("camera device in use")
	// ErrDisconnected is reported to Handler.OnClosed when a device goes away
	ErrDisconnected = errors.New("camera disconnected")
	// ErrAccess means the camera list could not be read
	ErrAccess = errors.New("camera access error")
)

// Handler receives device callbacks. OnFrame is called from a single
// goroutine in capture order; the frame is only valid during the call unless
// the callee Retains it. OnClosed fires at most once, when the device closes
// for a reason other than Close.
type Handler struct {
	OnFrame  func(*types.Frame)
	OnClosed func(error)
}

// Device is an opened camera
type Device interface {
	Descriptor() types.CameraDescriptor
	// Size returns the dimensions of delivered frames in sensor orientation
	Size() (width, height int)
	Start(h Handler) error
	// SetRotation updates the rotation stamped on subsequent frames
	SetRotation(deg int)
	Close() error
}

// Provider enumerates and opens cameras
type Provider interface {
	Cameras(ctx context.Context) ([]types.CameraDescriptor, error)
	Open(ctx context.Context, id string, res Resolution) (Device, error)
}

// Select picks a camera: an explicit id wins, then the first camera with the
// requested facing, then the first camera at all.
func Select(cams []types.CameraDescriptor, id string, facing types.LensFacing) (types.CameraDescriptor, error) {
	if len(cams) == 0 {
		return types.CameraDescriptor{}, ErrNoDevice
	}
	if id != "" {
		for _, c := range cams {
			if c.ID == id {
				return c, nil
			}
		}
		return types.CameraDescriptor{}, ErrNoDevice
	}
	if facing == "" {
		facing = types.LensBack
	}
	for _, c := range cams {
		if c.LensFacing == facing {
			return c, nil
		}
	}
	return cams[0], nil
}
