//go:build gocv

// Package gocvcam captures from a local webcam through OpenCV. It needs the
// OpenCV libraries and is only built with the gocv tag.
package gocvcam

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/imaging"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("GoCV")

const maxReadFailures = 10

// Provider exposes one OpenCV capture device
type Provider struct {
	deviceID int
	fps      int
	desc     types.CameraDescriptor

	mu   sync.Mutex
	open *device
}

// New creates a provider for the OpenCV device index
func New(deviceID, fps int) *Provider {
	return &Provider{
		deviceID: deviceID,
		fps:      fps,
		desc: types.CameraDescriptor{
			ID:         strconv.Itoa(deviceID),
			Name:       fmt.Sprintf("OpenCV device %d", deviceID),
			LensFacing: types.LensExternal,
		},
	}
}

// Cameras lists the configured device
func (p *Provider) Cameras(ctx context.Context) ([]types.CameraDescriptor, error) {
	return []types.CameraDescriptor{p.desc}, nil
}

// Open starts the capture and applies the resolution preset
func (p *Provider) Open(ctx context.Context, id string, res camera.Resolution) (camera.Device, error) {
	if id != p.desc.ID {
		return nil, fmt.Errorf("%w: %q", camera.ErrNoDevice, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open != nil {
		return nil, fmt.Errorf("%w: %s", camera.ErrDeviceInUse, id)
	}

	capture, err := gocv.OpenVideoCapture(p.deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", camera.ErrNoDevice, p.deviceID, err)
	}
	if !res.Native() {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(res.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(res.Height))
	}
	if p.fps > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(p.fps))
	}

	w := int(capture.Get(gocv.VideoCaptureFrameWidth))
	h := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if w <= 0 || h <= 0 {
		capture.Close()
		return nil, fmt.Errorf("%w: device %d reports no frame size", camera.ErrConfiguration, p.deviceID)
	}

	d := &device{
		owner:   p,
		capture: capture,
		width:   w,
		height:  h,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.open = d
	log.Info("Opened device %d at %dx%d (requested %s)", p.deviceID, w, h, res)
	return d, nil
}

func (p *Provider) release(d *device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == d {
		p.open = nil
	}
}

type device struct {
	owner   *Provider
	capture *gocv.VideoCapture
	width   int
	height  int

	rotation atomic.Int32
	started  atomic.Bool
	handler  camera.Handler
	seq      uint64

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (d *device) Descriptor() types.CameraDescriptor { return d.owner.desc }

func (d *device) Size() (int, int) { return d.width, d.height }

func (d *device) SetRotation(deg int) { d.rotation.Store(int32(deg)) }

func (d *device) Start(h camera.Handler) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already started", camera.ErrConfiguration)
	}
	d.handler = h
	go d.run()
	return nil
}

func (d *device) run() {
	defer close(d.done)

	mat := gocv.NewMat()
	defer mat.Close()

	failures := 0
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		// Read blocks for one frame interval
		if ok := d.capture.Read(&mat); !ok || mat.Empty() {
			failures++
			if failures >= maxReadFailures {
				go d.shutdown(fmt.Errorf("%w: %d failed reads", camera.ErrDisconnected, failures))
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		failures = 0

		img, err := mat.ToImage()
		if err != nil {
			log.Warn("Frame conversion failed: %v", err)
			continue
		}
		b := img.Bounds()
		d.seq++
		f := types.NewPooledFrame(&types.Frame{
			Seq:       d.seq,
			Timestamp: time.Now(),
			Width:     b.Dx(),
			Height:    b.Dy(),
			Rotation:  int(d.rotation.Load()),
			Format:    types.FormatRGB,
			Data:      imaging.RGBBytes(img),
		}, nil)
		if d.handler.OnFrame != nil {
			d.handler.OnFrame(f)
		}
		f.Release()
	}
}

func (d *device) shutdown(cause error) {
	first := false
	d.stopOnce.Do(func() {
		first = true
		close(d.stop)
	})
	if !first {
		return
	}
	if d.started.Load() {
		<-d.done
	}
	if err := d.capture.Close(); err != nil {
		log.Warn("Closing device %d: %v", d.owner.deviceID, err)
	}
	d.owner.release(d)

	if cause != nil && d.handler.OnClosed != nil {
		go d.handler.OnClosed(cause)
	}
}

func (d *device) Close() error {
	d.shutdown(nil)
	return nil
}
