package types

// LensFacing describes which way a camera points
type LensFacing string

const (
	LensFront    LensFacing = "front"
	LensBack     LensFacing = "back"
	LensExternal LensFacing = "external"
)

// Valid reports whether the facing is one of the known values
func (l LensFacing) Valid() bool {
	switch l {
	case LensFront, LensBack, LensExternal:
		return true
	}
	return false
}

// CameraDescriptor is a read-only snapshot of one camera
type CameraDescriptor struct {
	ID                string     `json:"id"`
	Name              string     `json:"name,omitempty"`
	LensFacing        LensFacing `json:"lensFacing"`
	SensorOrientation int        `json:"orientation"`
}
