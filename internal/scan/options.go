package scan

import (
	"fmt"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// Mode decides what happens after a code is emitted
type Mode string

const (
	// ModeContinuous keeps scanning and emits every accepted frame's code
	ModeContinuous Mode = "continuous"
	// ModeSingle stops the session after the first emitted code
	ModeSingle Mode = "single"
)

// ParseMode maps a name to a Mode; empty selects def
func ParseMode(name string, def Mode) (Mode, error) {
	switch Mode(name) {
	case "":
		return def, nil
	case ModeContinuous, ModeSingle:
		return Mode(name), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, name)
}

// StartOptions are the per-start parameters supplied by the caller
type StartOptions struct {
	Region     *Region
	Formats    []types.Symbology
	CameraID   string
	LensFacing types.LensFacing
	// Resolution with an empty name uses the session default
	Resolution camera.Resolution
	// Mode empty uses the session default
	Mode Mode
}

// Validate rejects malformed options before any side effect
func (o StartOptions) Validate() error {
	if o.Region != nil {
		if err := o.Region.Validate(); err != nil {
			return err
		}
	}
	for _, f := range o.Formats {
		if _, ok := types.ParseSymbology(string(f)); !ok {
			return fmt.Errorf("%w: unknown format %q", ErrInvalidArgument, f)
		}
	}
	if o.LensFacing != "" && !o.LensFacing.Valid() {
		return fmt.Errorf("%w: unknown lens facing %q", ErrInvalidArgument, o.LensFacing)
	}
	switch o.Mode {
	case "", ModeContinuous, ModeSingle:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, o.Mode)
	}
	return nil
}

// StartResult describes the running preview. The size is in display
// orientation, after the preview rotation is applied.
type StartResult struct {
	TextureID     int64 `json:"textureId"`
	PreviewWidth  int   `json:"previewWidth"`
	PreviewHeight int   `json:"previewHeight"`
}

// CodeEvent is the typed payload of a code event
type CodeEvent struct {
	Type      types.Symbology `json:"type"`
	Value     string          `json:"value"`
	ValueType string          `json:"valueType,omitempty"`
}

// CameraClosedEvent is the payload of a cameraClosed event
type CameraClosedEvent struct {
	CameraID string `json:"cameraId"`
	Reason   string `json:"reason"`
}
