// Package shm captures frames that an external capture daemon publishes in a
// POSIX shared-memory ring buffer.
package shm

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("SHM")

// Source yields the newest frame of a ring buffer. ReadLatest returns nil
// when there is nothing usable yet.
type Source interface {
	ReadLatest() (*types.Frame, error)
	Close() error
}

// Options configure a shared-memory camera
type Options struct {
	// Name of the shared memory object, e.g. /pet_camera_stream
	Name string
	// Camera is the single camera this provider reports
	Camera types.CameraDescriptor
	// Native is the frame size reported before the first frame arrives
	Native image.Point
	// Poll is the ring buffer polling interval
	Poll time.Duration
	// OpenWait is how long Open waits for the shared memory to appear
	OpenWait time.Duration
	// MaxReadErrors consecutive failed reads close the device
	MaxReadErrors int
}

// Provider exposes the ring buffer as a camera
type Provider struct {
	opts Options
	open func(name string, wait time.Duration) (Source, error)

	mu     sync.Mutex
	device *device
}

// NewProvider creates a provider; nothing is opened until Open
func NewProvider(opts Options) *Provider {
	if opts.Name == "" {
		opts.Name = "/pet_camera_stream"
	}
	if opts.Camera.ID == "" {
		opts.Camera = types.CameraDescriptor{ID: "shm", Name: opts.Name, LensFacing: types.LensExternal}
	}
	if opts.Native == (image.Point{}) {
		opts.Native = image.Pt(640, 480)
	}
	if opts.Poll <= 0 {
		opts.Poll = 33 * time.Millisecond // ~30fps
	}
	if opts.MaxReadErrors <= 0 {
		opts.MaxReadErrors = 30
	}
	return &Provider{opts: opts, open: openReader}
}

// Cameras returns the one shared-memory camera
func (p *Provider) Cameras(ctx context.Context) ([]types.CameraDescriptor, error) {
	return []types.CameraDescriptor{p.opts.Camera}, nil
}

// Open maps the ring buffer. The capture daemon fixes the frame size, so
// res only fails when it asks for more than the stream carries.
func (p *Provider) Open(ctx context.Context, id string, res camera.Resolution) (camera.Device, error) {
	if id != p.opts.Camera.ID {
		return nil, fmt.Errorf("%w: %q", camera.ErrNoDevice, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		return nil, fmt.Errorf("%w: %s", camera.ErrDeviceInUse, id)
	}

	// A missing segment means the capture daemon is not running
	src, err := p.open(p.opts.Name, p.opts.OpenWait)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", camera.ErrNoDevice, p.opts.Name, err)
	}

	size := p.opts.Native
	if f, err := src.ReadLatest(); err == nil && f != nil {
		size = image.Pt(f.Width, f.Height)
	}
	if !res.Native() && (res.Width > size.X || res.Height > size.Y) {
		_ = src.Close()
		return nil, fmt.Errorf("%w: %s exceeds stream size %dx%d", camera.ErrConfiguration, res, size.X, size.Y)
	}

	d := &device{
		owner:     p,
		desc:      p.opts.Camera,
		src:       src,
		width:     size.X,
		height:    size.Y,
		poll:      p.opts.Poll,
		maxErrors: p.opts.MaxReadErrors,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.device = d
	log.Info("Opened %s as camera %s (%dx%d)", p.opts.Name, id, size.X, size.Y)
	return d, nil
}

func (p *Provider) release(d *device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == d {
		p.device = nil
	}
}

type device struct {
	owner     *Provider
	desc      types.CameraDescriptor
	src       Source
	width     int
	height    int
	poll      time.Duration
	maxErrors int

	rotation atomic.Int32
	started  atomic.Bool
	handler  camera.Handler

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	framesRead    uint64
	framesSkipped uint64
}

func (d *device) Descriptor() types.CameraDescriptor { return d.desc }

func (d *device) Size() (int, int) { return d.width, d.height }

func (d *device) SetRotation(deg int) { d.rotation.Store(int32(deg)) }

func (d *device) Start(h camera.Handler) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: device %s already started", camera.ErrConfiguration, d.desc.ID)
	}
	d.handler = h
	go d.run()
	return nil
}

func (d *device) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	var last uint64
	var seen bool
	errs := 0
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		f, err := d.src.ReadLatest()
		if err != nil {
			errs++
			if errs >= d.maxErrors {
				go d.shutdown(fmt.Errorf("%w: %v", camera.ErrDisconnected, err))
				return
			}
			continue
		}
		errs = 0

		// Polling faster than the writer sees the same frame twice
		if f == nil || (seen && f.Seq == last) {
			d.framesSkipped++
			continue
		}
		last, seen = f.Seq, true
		d.framesRead++

		f.Rotation = int(d.rotation.Load())
		f = types.NewPooledFrame(f, nil)
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
	_ = d.src.Close()
	d.owner.release(d)
	log.Info("Camera %s closed (read: %d, skipped polls: %d)", d.desc.ID, d.framesRead, d.framesSkipped)

	if cause != nil && d.handler.OnClosed != nil {
		log.Warn("Camera %s lost: %v", d.desc.ID, cause)
		go d.handler.OnClosed(cause)
	}
}

func (d *device) Close() error {
	d.shutdown(nil)
	return nil
}
