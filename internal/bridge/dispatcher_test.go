package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/detect"
	"github.com/cloudacy/barcode-scanner/internal/scan"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

type fakeController struct {
	startOpts   scan.StartOptions
	startErr    error
	camsErr     error
	orientation camera.Orientation
	stopped     int
}

func (f *fakeController) Start(ctx context.Context, opts scan.StartOptions) (scan.StartResult, error) {
	f.startOpts = opts
	if f.startErr != nil {
		return scan.StartResult{}, f.startErr
	}
	return scan.StartResult{TextureID: 7, PreviewWidth: 720, PreviewHeight: 1280}, nil
}

func (f *fakeController) Stop() bool {
	f.stopped++
	return true
}

func (f *fakeController) AvailableCameras(ctx context.Context) ([]types.CameraDescriptor, error) {
	if f.camsErr != nil {
		return nil, f.camsErr
	}
	return []types.CameraDescriptor{{ID: "0", LensFacing: types.LensBack, SensorOrientation: 90}}, nil
}

func (f *fakeController) SetOrientation(o camera.Orientation) int {
	f.orientation = o
	return 0
}

func (f *fakeController) Status() scan.Status {
	return scan.Status{State: "idle"}
}

func callErr(t *testing.T, d *Dispatcher, method, args string) *Error {
	t.Helper()
	_, err := d.Call(context.Background(), method, json.RawMessage(args))
	require.Error(t, err)
	var be *Error
	require.ErrorAs(t, err, &be)
	return be
}

func TestStartArgs(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)

	res, err := d.Call(context.Background(), "start", json.RawMessage(
		`{"scanRegion":[0.5,0.25],"formats":["qr","ean13"],"lensFacing":"front","resolution":"medium","mode":"single"}`))
	require.NoError(t, err)
	assert.Equal(t, scan.StartResult{TextureID: 7, PreviewWidth: 720, PreviewHeight: 1280}, res)

	opts := ctrl.startOpts
	require.NotNil(t, opts.Region)
	assert.Equal(t, scan.Region{FX: 0.5, FY: 0.25}, *opts.Region)
	assert.Equal(t, []types.Symbology{types.SymbologyQR, types.SymbologyEAN13}, opts.Formats)
	assert.Equal(t, types.LensFront, opts.LensFacing)
	assert.Equal(t, camera.ResolutionMedium, opts.Resolution)
	assert.Equal(t, scan.ModeSingle, opts.Mode)
}

func TestStartWithoutArgs(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)

	_, err := d.Call(context.Background(), "start", nil)
	require.NoError(t, err)
	assert.Nil(t, ctrl.startOpts.Region)
	assert.Empty(t, ctrl.startOpts.Formats)
	assert.Empty(t, ctrl.startOpts.Resolution.Name)
}

func TestScanFrameAlias(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)

	_, err := d.Call(context.Background(), "start", json.RawMessage(`{"scanFrame":[1,1]}`))
	require.NoError(t, err)
	require.NotNil(t, ctrl.startOpts.Region)
	assert.Equal(t, 1.0, ctrl.startOpts.Region.FX)
}

func TestBadArguments(t *testing.T) {
	d := NewDispatcher(&fakeController{}, nil)

	tests := []struct {
		name   string
		method string
		args   string
	}{
		{"short region", "start", `{"scanRegion":[0.5]}`},
		{"long scan frame", "start", `{"scanFrame":[0.5,0.5,0.5]}`},
		{"unknown format", "start", `{"formats":["hologram"]}`},
		{"unknown resolution", "start", `{"resolution":"huge"}`},
		{"malformed json", "start", `{"formats":`},
		{"initialize without camera", "initialize", `{}`},
		{"bad orientation", "setOrientation", `{"orientation":"sideways"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := callErr(t, d, tt.method, tt.args)
			assert.Equal(t, CodeInvalidArgument, be.Code)
		})
	}
}

func TestInitializeRequiresCamera(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)

	_, err := d.Call(context.Background(), "initialize", json.RawMessage(`{"cameraId":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "1", ctrl.startOpts.CameraID)
}

func TestUnknownMethod(t *testing.T) {
	d := NewDispatcher(&fakeController{}, nil)
	be := callErr(t, d, "torch", `{}`)
	assert.Equal(t, CodeNotImplemented, be.Code)

	// resolvePermission only exists when the host answers prompts
	be = callErr(t, d, "resolvePermission", `{"granted":true}`)
	assert.Equal(t, CodeNotImplemented, be.Code)
}

func TestStopAndStatus(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)

	res, err := d.Call(context.Background(), "stop", nil)
	require.NoError(t, err)
	assert.Equal(t, true, res)
	res, err = d.Call(context.Background(), "stop", nil)
	require.NoError(t, err)
	assert.Equal(t, true, res)
	assert.Equal(t, 2, ctrl.stopped)

	res, err = d.Call(context.Background(), "status", nil)
	require.NoError(t, err)
	assert.Equal(t, scan.Status{State: "idle"}, res)
}

func TestSetOrientation(t *testing.T) {
	ctrl := &fakeController{}
	d := NewDispatcher(ctrl, nil)

	res, err := d.Call(context.Background(), "setOrientation", json.RawMessage(`{"orientation":"landscapeLeft"}`))
	require.NoError(t, err)
	assert.Equal(t, true, res)
	assert.Equal(t, camera.OrientationLandscapeLeft, ctrl.orientation)
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{scan.ErrPermissionDenied, CodePermissionDenied},
		{scan.ErrAlreadyPending, CodeAlreadyPending},
		{scan.ErrStartCancelled, CodeStartCancelled},
		{fmt.Errorf("open: %w", camera.ErrNoDevice), CodeNoDevice},
		{fmt.Errorf("open: %w", camera.ErrDeviceInUse), CodeDeviceInUse},
		{fmt.Errorf("list: %w", camera.ErrAccess), CodeAccessError},
		{fmt.Errorf("detector: %w", camera.ErrConfiguration), CodeConfigurationFailed},
		{detect.ErrUnsupportedFormat, CodeConfigurationFailed},
		{errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			d := NewDispatcher(&fakeController{startErr: tt.err}, nil)
			be := callErr(t, d, "start", `{}`)
			assert.Equal(t, tt.code, be.Code)
			assert.Equal(t, tt.err.Error(), be.Message)
		})
	}
}

func TestAvailableCameras(t *testing.T) {
	d := NewDispatcher(&fakeController{}, nil)
	res, err := d.Call(context.Background(), "availableCameras", nil)
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"0","lensFacing":"back","orientation":90}]`, string(data))

	d = NewDispatcher(&fakeController{camsErr: scan.ErrPermissionDenied}, nil)
	be := callErr(t, d, "availableCameras", "")
	assert.Equal(t, CodePermissionDenied, be.Code)
}

func TestHandleEchoesID(t *testing.T) {
	d := NewDispatcher(&fakeController{}, nil)

	resp := d.Handle(context.Background(), Request{ID: "42", Method: "stop"})
	assert.Equal(t, "42", resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, true, resp.Result)

	resp = d.Handle(context.Background(), Request{ID: "43", Method: "nope"})
	assert.Equal(t, "43", resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotImplemented, resp.Error.Code)
}
