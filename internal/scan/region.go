package scan

import (
	"fmt"
	"math"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// Region restricts accepted codes to a box centred in the frame. FX and FY
// are the box's half-width and half-height as fractions of the frame's.
type Region struct {
	FX float64
	FY float64
}

// Validate checks that both fractions are within [0, 1]
func (r Region) Validate() error {
	for _, v := range []float64{r.FX, r.FY} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: scan region fractions must be within [0, 1], got [%v, %v]", ErrInvalidArgument, r.FX, r.FY)
		}
	}
	return nil
}

// ScanRect returns the region's rectangle for a w x h frame
func ScanRect(w, h int, r Region) types.Rect {
	halfW, halfH := w/2, h/2
	offX := int(math.Round(float64(halfW) * r.FX))
	offY := int(math.Round(float64(halfH) * r.FY))
	return types.Rect{
		Left:   halfW - offX,
		Top:    halfH - offY,
		Right:  halfW + offX,
		Bottom: halfH + offY,
	}
}

// Select picks the code to emit for one frame. Without a region the first
// code wins. With a region the first code whose bounds lie fully inside the
// scan rectangle wins; codes without bounds are skipped.
func Select(codes []types.Barcode, w, h int, region *Region) (types.Barcode, bool) {
	if region == nil {
		if len(codes) == 0 {
			return types.Barcode{}, false
		}
		return codes[0], true
	}

	rect := ScanRect(w, h, *region)
	for _, c := range codes {
		if c.Bounds != nil && rect.Contains(*c.Bounds) {
			return c, true
		}
	}
	return types.Barcode{}, false
}
