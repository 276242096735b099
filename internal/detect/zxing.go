// Package detect decodes barcodes from camera frames with gozxing.
package detect

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"

	"github.com/cloudacy/barcode-scanner/internal/imaging"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// ErrUnsupportedFormat is returned when no reader exists for a symbology
var ErrUnsupportedFormat = errors.New("unsupported barcode format")

type reader struct {
	format types.Symbology
	r      gozxing.Reader
}

// newReaders maps each symbology to a fresh reader. DataMatrix, PDF417 and
// Aztec have no gozxing reader in the version we build against.
var newReaders = map[types.Symbology]func() gozxing.Reader{
	types.SymbologyQR:      qrcode.NewQRCodeReader,
	types.SymbologyCode128: oned.NewCode128Reader,
	types.SymbologyCode39:  oned.NewCode39Reader,
	types.SymbologyEAN13:   oned.NewEAN13Reader,
	types.SymbologyEAN8:    oned.NewEAN8Reader,
	types.SymbologyUPCA:    oned.NewUPCAReader,
	types.SymbologyUPCE:    oned.NewUPCEReader,
	types.SymbologyITF:     oned.NewITFReader,
}

var symbologyOf = map[gozxing.BarcodeFormat]types.Symbology{
	gozxing.BarcodeFormat_QR_CODE:  types.SymbologyQR,
	gozxing.BarcodeFormat_CODE_128: types.SymbologyCode128,
	gozxing.BarcodeFormat_CODE_39:  types.SymbologyCode39,
	gozxing.BarcodeFormat_EAN_13:   types.SymbologyEAN13,
	gozxing.BarcodeFormat_EAN_8:    types.SymbologyEAN8,
	gozxing.BarcodeFormat_UPC_A:    types.SymbologyUPCA,
	gozxing.BarcodeFormat_UPC_E:    types.SymbologyUPCE,
	gozxing.BarcodeFormat_ITF:      types.SymbologyITF,
}

// Supported lists the symbologies this package can decode, in probe order
func Supported() []types.Symbology {
	var out []types.Symbology
	for _, s := range types.AllSymbologies {
		if _, ok := newReaders[s]; ok {
			out = append(out, s)
		}
	}
	// QR first: it is by far the most common in practice
	for i, s := range out {
		if s == types.SymbologyQR {
			out[0], out[i] = out[i], out[0]
			break
		}
	}
	return out
}

// Options tune the decoder
type Options struct {
	TryHarder bool
}

// ZXing decodes the configured symbologies. A ZXing is used by one
// detection at a time; gozxing readers keep per-call state.
type ZXing struct {
	readers []reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// New creates a decoder for formats. An empty list enables every supported
// symbology.
func New(formats []types.Symbology, opts Options) (*ZXing, error) {
	if len(formats) == 0 {
		formats = Supported()
	}

	z := &ZXing{hints: make(map[gozxing.DecodeHintType]interface{})}
	seen := make(map[types.Symbology]bool)
	for _, f := range formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		mk, ok := newReaders[f]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
		}
		z.readers = append(z.readers, reader{format: f, r: mk()})
	}
	if opts.TryHarder {
		z.hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	return z, nil
}

// Formats returns the enabled symbologies
func (z *ZXing) Formats() []types.Symbology {
	out := make([]types.Symbology, len(z.readers))
	for i, r := range z.readers {
		out[i] = r.format
	}
	return out
}

// Detect decodes every enabled symbology from the frame, upright according to
// its rotation. Bounds are in upright coordinates. A frame with no code
// returns an empty list and no error.
func (z *ZXing) Detect(ctx context.Context, f *types.Frame) ([]types.Barcode, error) {
	img, err := imaging.ToImage(f)
	if err != nil {
		return nil, err
	}
	img = imaging.Rotate(img, f.Rotation)

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, fmt.Errorf("binarize frame %d: %w", f.Seq, err)
	}

	var codes []types.Barcode
	for _, rd := range z.readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := rd.r.Decode(bmp, z.hints)
		rd.r.Reset()
		if err != nil || res == nil {
			// NotFound, checksum and format errors all mean "not this one"
			continue
		}

		format, ok := symbologyOf[res.GetBarcodeFormat()]
		if !ok {
			format = rd.format
		}
		codes = append(codes, types.Barcode{
			Value:     res.GetText(),
			Format:    format,
			ValueType: Classify(format, res.GetText()),
			Bounds:    boundsOf(res.GetResultPoints()),
		})
	}
	return codes, nil
}

func boundsOf(points []gozxing.ResultPoint) *types.Rect {
	if len(points) == 0 {
		return nil
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		if p == nil {
			continue
		}
		minX = math.Min(minX, p.GetX())
		minY = math.Min(minY, p.GetY())
		maxX = math.Max(maxX, p.GetX())
		maxY = math.Max(maxY, p.GetY())
	}
	if math.IsInf(minX, 1) {
		return nil
	}
	return &types.Rect{
		Left:   int(math.Floor(minX)),
		Top:    int(math.Floor(minY)),
		Right:  int(math.Ceil(maxX)),
		Bottom: int(math.Ceil(maxY)),
	}
}
