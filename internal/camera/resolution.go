package camera

import "fmt"

// Resolution is a capture size preset. Zero Width and Height ask for the
// device's native size.
type Resolution struct {
	Name   string
	Width  int
	Height int
}

// Presets, smallest first
var (
	ResolutionLow      = Resolution{"low", 320, 240}
	ResolutionMedium   = Resolution{"medium", 640, 480}
	ResolutionHigh     = Resolution{"high", 1280, 720}
	ResolutionVeryHigh = Resolution{"veryHigh", 1920, 1080}
	ResolutionMax      = Resolution{"max", 0, 0}
)

var resolutions = []Resolution{
	ResolutionLow, ResolutionMedium, ResolutionHigh, ResolutionVeryHigh, ResolutionMax,
}

// Native reports whether the preset leaves the size to the device
func (r Resolution) Native() bool {
	return r.Width == 0 || r.Height == 0
}

func (r Resolution) String() string {
	if r.Native() {
		return r.Name
	}
	return fmt.Sprintf("%s(%dx%d)", r.Name, r.Width, r.Height)
}

// ParseResolution looks up a preset by name. An empty name selects "high".
func ParseResolution(name string) (Resolution, error) {
	if name == "" {
		return ResolutionHigh, nil
	}
	for _, r := range resolutions {
		if r.Name == name {
			return r, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: unknown resolution preset %q", ErrConfiguration, name)
}
