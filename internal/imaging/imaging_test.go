package imaging

import (
	"bytes"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

func grayRow() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.Pix[0] = 10
	img.Pix[1] = 20
	return img
}

func TestRotate(t *testing.T) {
	tests := []struct {
		deg        int
		w, h       int
		first, sec image.Point
	}{
		{90, 1, 2, image.Pt(0, 0), image.Pt(0, 1)},
		{180, 2, 1, image.Pt(1, 0), image.Pt(0, 0)},
		{270, 1, 2, image.Pt(0, 1), image.Pt(0, 0)},
		{-90, 1, 2, image.Pt(0, 1), image.Pt(0, 0)},
	}
	for _, tt := range tests {
		out := Rotate(grayRow(), tt.deg).(*image.Gray)
		require.Equal(t, image.Rect(0, 0, tt.w, tt.h), out.Bounds(), "deg %d", tt.deg)
		assert.Equal(t, uint8(10), out.GrayAt(tt.first.X, tt.first.Y).Y, "deg %d", tt.deg)
		assert.Equal(t, uint8(20), out.GrayAt(tt.sec.X, tt.sec.Y).Y, "deg %d", tt.deg)
	}

	src := grayRow()
	assert.Same(t, src, Rotate(src, 360))
}

func TestToImage(t *testing.T) {
	nv12 := &types.Frame{Width: 4, Height: 2, Format: types.FormatNV12, Data: make([]byte, 4*2*3/2)}
	nv12.Data[5] = 99
	img, err := ToImage(nv12)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), img.Bounds())
	assert.Equal(t, uint8(99), img.(*image.Gray).GrayAt(1, 1).Y)

	rgb := &types.Frame{Width: 1, Height: 1, Format: types.FormatRGB, Data: []byte{1, 2, 3}}
	img, err = ToImage(rgb)
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{r >> 8, g >> 8, b >> 8})

	_, err = ToImage(&types.Frame{Width: 10, Height: 10, Format: types.FormatGray, Data: []byte{1}})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestJPEGRoundTrip(t *testing.T) {
	data, err := BlankJPEG(64, 32)
	require.NoError(t, err)

	img, err := ToImage(&types.Frame{Format: types.FormatJPEG, Data: data})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())

	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(&buf, FitWidth(img, 16), 50))
	small, err := ToImage(&types.Frame{Format: types.FormatJPEG, Data: buf.Bytes()})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 8), small.Bounds())
}

func TestRGBBytes(t *testing.T) {
	bars := ColorBars(8, 1)
	data := RGBBytes(bars)
	require.Len(t, data, 8*3)
	assert.Equal(t, []byte{255, 255, 255}, data[:3])
	assert.Equal(t, []byte{0, 0, 0}, data[21:])
}
