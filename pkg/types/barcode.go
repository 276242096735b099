package types

// Symbology is a barcode encoding standard, named the way the embedding
// application names it.
type Symbology string

const (
	SymbologyAztec      Symbology = "aztec"
	SymbologyCode39     Symbology = "code39"
	SymbologyCode93     Symbology = "code93"
	SymbologyCode128    Symbology = "code128"
	SymbologyCodabar    Symbology = "codabar"
	SymbologyDataMatrix Symbology = "dataMatrix"
	SymbologyEAN8       Symbology = "ean8"
	SymbologyEAN13      Symbology = "ean13"
	SymbologyITF        Symbology = "itf"
	SymbologyPDF417     Symbology = "pdf417"
	SymbologyQR         Symbology = "qr"
	SymbologyUPCA       Symbology = "upca"
	SymbologyUPCE       Symbology = "upce"
)

// AllSymbologies lists every known symbology in a stable order
var AllSymbologies = []Symbology{
	SymbologyAztec, SymbologyCode39, SymbologyCode93, SymbologyCode128,
	SymbologyCodabar, SymbologyDataMatrix, SymbologyEAN8, SymbologyEAN13,
	SymbologyITF, SymbologyPDF417, SymbologyQR, SymbologyUPCA, SymbologyUPCE,
}

// ParseSymbology returns the symbology for a name
func ParseSymbology(name string) (Symbology, bool) {
	for _, s := range AllSymbologies {
		if string(s) == name {
			return s, true
		}
	}
	return "", false
}

// Rect is an axis-aligned rectangle in frame pixel coordinates.
// Edges follow the decoder: Right and Bottom are the far corner.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Empty reports whether the rectangle has no area
func (r Rect) Empty() bool {
	return r.Left >= r.Right || r.Top >= r.Bottom
}

// Contains reports whether o lies fully inside r. Edges are inclusive and an
// empty r contains nothing.
func (r Rect) Contains(o Rect) bool {
	return !r.Empty() &&
		r.Left <= o.Left && r.Top <= o.Top &&
		r.Right >= o.Right && r.Bottom >= o.Bottom
}

// Barcode is one decoded code found in a frame
type Barcode struct {
	Value     string    `json:"value"`
	Format    Symbology `json:"type"`
	ValueType string    `json:"valueType,omitempty"`
	Bounds    *Rect     `json:"bounds,omitempty"`
}
