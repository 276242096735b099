// Package imaging converts camera frames to images and back, and does the
// rotate/scale work texture rendering needs.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// ErrShortFrame is returned when Data is smaller than the frame dimensions
var ErrShortFrame = errors.New("frame data shorter than dimensions")

// ToImage wraps or decodes a frame as an image in sensor orientation. NV12
// and gray frames share their luma plane with the frame without copying.
func ToImage(f *types.Frame) (image.Image, error) {
	switch f.Format {
	case types.FormatNV12, types.FormatGray:
		n := f.Width * f.Height
		if len(f.Data) < n {
			return nil, fmt.Errorf("%w: %s %dx%d has %d bytes", ErrShortFrame, f.Format, f.Width, f.Height, len(f.Data))
		}
		return &image.Gray{
			Pix:    f.Data[:n:n],
			Stride: f.Width,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}, nil
	case types.FormatRGB:
		n := f.Width * f.Height * 3
		if len(f.Data) < n {
			return nil, fmt.Errorf("%w: rgb %dx%d has %d bytes", ErrShortFrame, f.Width, f.Height, len(f.Data))
		}
		img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
		for i, j := 0, 0; i < n; i, j = i+3, j+4 {
			img.Pix[j] = f.Data[i]
			img.Pix[j+1] = f.Data[i+1]
			img.Pix[j+2] = f.Data[i+2]
			img.Pix[j+3] = 0xff
		}
		return img, nil
	case types.FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("decode jpeg frame %d: %w", f.Seq, err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %d", f.Format)
	}
}

// RGBBytes packs an image as tightly packed RGB, the layout of FormatRGB
func RGBBytes(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(b.Min.X, y):rgba.PixOffset(b.Max.X, y)]
			for i := 0; i < len(row); i += 4 {
				out = append(out, row[i], row[i+1], row[i+2])
			}
		}
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out = append(out, c.R, c.G, c.B)
		}
	}
	return out
}

// Rotate turns img clockwise by deg, which must be a multiple of 90
func Rotate(img image.Image, deg int) image.Image {
	deg = ((deg % 360) + 360) % 360
	if deg == 0 {
		return img
	}

	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	var dst draw.Image
	var m f64.Aff3
	switch deg {
	case 90:
		dst = newLike(img, b.Dy(), b.Dx())
		m = f64.Aff3{0, -1, h + float64(b.Min.Y), 1, 0, -float64(b.Min.X)}
	case 180:
		dst = newLike(img, b.Dx(), b.Dy())
		m = f64.Aff3{-1, 0, w + float64(b.Min.X), 0, -1, h + float64(b.Min.Y)}
	case 270:
		dst = newLike(img, b.Dy(), b.Dx())
		m = f64.Aff3{0, 1, -float64(b.Min.Y), -1, 0, w + float64(b.Min.X)}
	default:
		return img
	}
	draw.NearestNeighbor.Transform(dst, m, img, b, draw.Src, nil)
	return dst
}

// Resize scales img to exactly w x h
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := newLike(img, w, h)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// FitWidth scales img down so it is at most maxW wide, keeping the aspect
// ratio. maxW <= 0 disables scaling.
func FitWidth(img image.Image, maxW int) image.Image {
	b := img.Bounds()
	if maxW <= 0 || b.Dx() <= maxW {
		return img
	}
	h := b.Dy() * maxW / b.Dx()
	if h < 1 {
		h = 1
	}
	return Resize(img, maxW, h)
}

func newLike(img image.Image, w, h int) draw.Image {
	r := image.Rect(0, 0, w, h)
	if _, ok := img.(*image.Gray); ok {
		return image.NewGray(r)
	}
	return image.NewRGBA(r)
}

// EncodeJPEG writes img as JPEG
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// ColorBars renders the SMPTE-style test pattern
func ColorBars(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := max(w/len(colors), 1)
	for y := range h {
		for x := range w {
			barIndex := min(x/barWidth, len(colors)-1)
			img.SetRGBA(x, y, colors[barIndex])
		}
	}
	return img
}

// BlankJPEG is the placeholder shown while a texture has no frame yet
func BlankJPEG(w, h int) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, ColorBars(w, h), 75); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
