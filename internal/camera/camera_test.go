package camera

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

func TestSelect(t *testing.T) {
	cams := []types.CameraDescriptor{
		{ID: "a", LensFacing: types.LensFront},
		{ID: "b", LensFacing: types.LensBack},
		{ID: "c", LensFacing: types.LensExternal},
	}

	got, err := Select(cams, "c", types.LensFront)
	require.NoError(t, err)
	assert.Equal(t, "c", got.ID)

	got, err = Select(cams, "", "")
	require.NoError(t, err)
	assert.Equal(t, "b", got.ID)

	got, err = Select(cams, "", types.LensFront)
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)

	_, err = Select(cams, "zz", "")
	assert.ErrorIs(t, err, ErrNoDevice)

	_, err = Select(nil, "", "")
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestPreviewRotation(t *testing.T) {
	back := types.CameraDescriptor{LensFacing: types.LensBack, SensorOrientation: 90}
	front := types.CameraDescriptor{LensFacing: types.LensFront, SensorOrientation: 270}

	assert.Equal(t, 90, PreviewRotation(back, OrientationPortraitUp, 0))
	assert.Equal(t, 0, PreviewRotation(back, OrientationLandscapeLeft, 0))
	assert.Equal(t, 180, PreviewRotation(back, OrientationLandscapeRight, 0))
	assert.Equal(t, 270, PreviewRotation(front, OrientationPortraitUp, 0))
	assert.Equal(t, 0, PreviewRotation(front, OrientationLandscapeLeft, 0))
	assert.Equal(t, 42, PreviewRotation(back, OrientationUnknown, 42))
}

func TestParseOrientationAndResolution(t *testing.T) {
	o, err := ParseOrientation("landscapeRight")
	require.NoError(t, err)
	assert.Equal(t, OrientationLandscapeRight, o)
	_, err = ParseOrientation("sideways")
	assert.Error(t, err)

	r, err := ParseResolution("")
	require.NoError(t, err)
	assert.Equal(t, ResolutionHigh, r)
	r, err = ParseResolution("max")
	require.NoError(t, err)
	assert.True(t, r.Native())
	_, err = ParseResolution("ultra")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSyntheticOpen(t *testing.T) {
	ctx := context.Background()
	s := DefaultSynthetic(0)

	cams, err := s.Cameras(ctx)
	require.NoError(t, err)
	require.Len(t, cams, 2)

	_, err = s.Open(ctx, "9", ResolutionLow)
	assert.ErrorIs(t, err, ErrNoDevice)

	small := NewSynthetic(0, SyntheticCamera{
		Descriptor: types.CameraDescriptor{ID: "s"},
		Native:     image.Pt(640, 480),
	})
	_, err = small.Open(ctx, "s", ResolutionHigh)
	assert.ErrorIs(t, err, ErrConfiguration)

	d, err := s.Open(ctx, "0", ResolutionLow)
	require.NoError(t, err)
	w, h := d.Size()
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)

	_, err = s.Open(ctx, "0", ResolutionLow)
	assert.ErrorIs(t, err, ErrDeviceInUse)
	assert.Equal(t, 1, s.OpenCount())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 0, s.OpenCount())

	s.FailListing(errors.New("hal down"))
	_, err = s.Cameras(ctx)
	assert.ErrorIs(t, err, ErrAccess)
}

func TestSyntheticPushDeliversPooledFrames(t *testing.T) {
	s := DefaultSynthetic(0)
	d, err := s.Open(context.Background(), "0", ResolutionLow)
	require.NoError(t, err)
	defer d.Close()

	frames := make(chan *types.Frame, 4)
	require.NoError(t, d.Start(Handler{OnFrame: func(f *types.Frame) {
		frames <- f.Retain()
	}}))
	d.SetRotation(90)

	require.True(t, s.Push("0"))
	require.True(t, s.Push("0"))

	f1 := <-frames
	f2 := <-frames
	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, uint64(2), f2.Seq)
	assert.Equal(t, 90, f2.Rotation)
	assert.Equal(t, types.FormatRGB, f1.Format)
	assert.Len(t, f1.Data, 320*240*3)
	// the device dropped its own reference after OnFrame returned
	assert.Equal(t, int32(1), f1.Refs())
	f1.Release()
	f2.Release()

	assert.False(t, s.Push("1"))
}

func TestSyntheticDisconnect(t *testing.T) {
	s := DefaultSynthetic(0)
	d, err := s.Open(context.Background(), "1", ResolutionMedium)
	require.NoError(t, err)

	closed := make(chan error, 1)
	require.NoError(t, d.Start(Handler{OnClosed: func(err error) { closed <- err }}))

	s.Disconnect("1")
	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("OnClosed not called")
	}
	assert.Equal(t, 0, s.OpenCount())
	assert.False(t, s.Push("1"))
}
