package camera

import (
	"fmt"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// Orientation is the physical orientation of the host device
type Orientation int

const (
	OrientationUnknown Orientation = iota
	OrientationPortraitUp
	OrientationLandscapeLeft
	OrientationPortraitDown
	OrientationLandscapeRight
)

var orientationNames = map[Orientation]string{
	OrientationUnknown:        "unknown",
	OrientationPortraitUp:     "portraitUp",
	OrientationLandscapeLeft:  "landscapeLeft",
	OrientationPortraitDown:   "portraitDown",
	OrientationLandscapeRight: "landscapeRight",
}

func (o Orientation) String() string {
	if n, ok := orientationNames[o]; ok {
		return n
	}
	return "unknown"
}

// ParseOrientation accepts the names produced by String
func ParseOrientation(s string) (Orientation, error) {
	for o, n := range orientationNames {
		if n == s {
			return o, nil
		}
	}
	return OrientationUnknown, fmt.Errorf("unknown orientation %q", s)
}

// Degrees returns the display rotation for the orientation. Landscape left
// means the device was turned counter-clockwise, which is a 90 degree
// display rotation.
func (o Orientation) Degrees() (int, bool) {
	switch o {
	case OrientationPortraitUp:
		return 0, true
	case OrientationLandscapeLeft:
		return 90, true
	case OrientationPortraitDown:
		return 180, true
	case OrientationLandscapeRight:
		return 270, true
	}
	return 0, false
}

// PreviewRotation computes the clockwise rotation that makes frames from the
// camera upright for a device held in orientation o. An unknown orientation
// keeps prev.
func PreviewRotation(desc types.CameraDescriptor, o Orientation, prev int) int {
	deg, ok := o.Degrees()
	if !ok {
		return prev
	}
	if desc.LensFacing == types.LensFront {
		return (desc.SensorOrientation + deg) % 360
	}
	return (desc.SensorOrientation - deg + 360) % 360
}
