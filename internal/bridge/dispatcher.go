package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/internal/scan"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("Bridge")

// Controller is the scan session as seen by the bridge
type Controller interface {
	Start(ctx context.Context, opts scan.StartOptions) (scan.StartResult, error)
	Stop() bool
	AvailableCameras(ctx context.Context) ([]types.CameraDescriptor, error)
	SetOrientation(o camera.Orientation) int
	Status() scan.Status
}

// Dispatcher routes method calls to the controller. Every transport shares
// one dispatcher.
type Dispatcher struct {
	ctrl     Controller
	prompter *RemotePrompter
}

// NewDispatcher creates a dispatcher. prompter may be nil when permission
// is not answered by the host.
func NewDispatcher(ctrl Controller, prompter *RemotePrompter) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, prompter: prompter}
}

type startArgs struct {
	ScanFrame  []float64 `json:"scanFrame"`
	ScanRegion []float64 `json:"scanRegion"`
	Formats    []string  `json:"formats"`
	CameraID   string    `json:"cameraId"`
	LensFacing string    `json:"lensFacing"`
	Resolution string    `json:"resolution"`
	Mode       string    `json:"mode"`
}

type orientationArgs struct {
	Orientation string `json:"orientation"`
}

type permissionArgs struct {
	Granted *bool `json:"granted"`
}

// Call runs one method. A failed call returns an *Error.
func (d *Dispatcher) Call(ctx context.Context, method string, args json.RawMessage) (any, error) {
	result, err := d.call(ctx, method, args)
	if err != nil {
		be := toError(err)
		log.Debug("%s failed: %s", method, be)
		return nil, be
	}
	return result, nil
}

func (d *Dispatcher) call(ctx context.Context, method string, args json.RawMessage) (any, error) {
	switch method {
	case "start":
		var a startArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return d.start(ctx, a)

	case "initialize":
		var a startArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.CameraID == "" {
			return nil, fmt.Errorf("%w: cameraId is required", scan.ErrInvalidArgument)
		}
		return d.start(ctx, a)

	case "stop":
		return d.ctrl.Stop(), nil

	case "availableCameras":
		cams, err := d.ctrl.AvailableCameras(ctx)
		if err != nil {
			return nil, err
		}
		if cams == nil {
			cams = []types.CameraDescriptor{}
		}
		return cams, nil

	case "setOrientation":
		var a orientationArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		o, err := camera.ParseOrientation(a.Orientation)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", scan.ErrInvalidArgument, err)
		}
		d.ctrl.SetOrientation(o)
		return true, nil

	case "resolvePermission":
		if d.prompter == nil {
			return nil, fmt.Errorf("%w: %s", errNotImplemented, method)
		}
		var a permissionArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Granted == nil {
			return nil, fmt.Errorf("%w: granted is required", scan.ErrInvalidArgument)
		}
		if err := d.prompter.Resolve(*a.Granted); err != nil {
			return nil, err
		}
		return true, nil

	case "status":
		return d.ctrl.Status(), nil
	}
	return nil, fmt.Errorf("%w: %s", errNotImplemented, method)
}

func (d *Dispatcher) start(ctx context.Context, a startArgs) (any, error) {
	opts, err := a.options()
	if err != nil {
		return nil, err
	}
	return d.ctrl.Start(ctx, opts)
}

func (a startArgs) options() (scan.StartOptions, error) {
	var opts scan.StartOptions

	region := a.ScanRegion
	if region == nil {
		region = a.ScanFrame
	}
	if region != nil {
		if len(region) != 2 {
			return opts, fmt.Errorf("%w: scan region needs 2 values, got %d", scan.ErrInvalidArgument, len(region))
		}
		opts.Region = &scan.Region{FX: region[0], FY: region[1]}
	}

	for _, name := range a.Formats {
		s, ok := types.ParseSymbology(name)
		if !ok {
			return opts, fmt.Errorf("%w: unknown format %q", scan.ErrInvalidArgument, name)
		}
		opts.Formats = append(opts.Formats, s)
	}

	if a.Resolution != "" {
		res, err := camera.ParseResolution(a.Resolution)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", scan.ErrInvalidArgument, err)
		}
		opts.Resolution = res
	}

	opts.CameraID = a.CameraID
	opts.LensFacing = types.LensFacing(a.LensFacing)
	opts.Mode = scan.Mode(a.Mode)
	return opts, nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", scan.ErrInvalidArgument, err)
	}
	return nil
}

// Handle runs a framed request and builds its response
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	result, err := d.Call(ctx, req.Method, req.Args)
	if err != nil {
		return Response{ID: req.ID, Error: toError(err)}
	}
	return Response{ID: req.ID, Result: result}
}
