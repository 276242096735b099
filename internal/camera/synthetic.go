package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudacy/barcode-scanner/internal/imaging"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("Camera")

// SyntheticCamera describes one fake camera. Images are cycled as frames; an
// empty list renders color bars at the native size.
type SyntheticCamera struct {
	Descriptor types.CameraDescriptor
	Native     image.Point
	Images     []image.Image
}

// Synthetic is a Provider backed by generated frames. With FPS <= 0 frames
// are only produced by Push, which keeps tests deterministic.
type Synthetic struct {
	FPS int

	mu      sync.Mutex
	cameras []SyntheticCamera
	open    map[string]*syntheticDevice
	listErr error
}

// NewSynthetic creates a provider with the given cameras
func NewSynthetic(fps int, cams ...SyntheticCamera) *Synthetic {
	return &Synthetic{
		FPS:     fps,
		cameras: cams,
		open:    make(map[string]*syntheticDevice),
	}
}

// DefaultSynthetic mimics a phone: a back camera mounted at 90 degrees and a
// front camera at 270, both 1920x1080 native.
func DefaultSynthetic(fps int, images ...image.Image) *Synthetic {
	native := image.Pt(1920, 1080)
	return NewSynthetic(fps,
		SyntheticCamera{
			Descriptor: types.CameraDescriptor{ID: "0", Name: "synthetic back", LensFacing: types.LensBack, SensorOrientation: 90},
			Native:     native,
			Images:     images,
		},
		SyntheticCamera{
			Descriptor: types.CameraDescriptor{ID: "1", Name: "synthetic front", LensFacing: types.LensFront, SensorOrientation: 270},
			Native:     native,
			Images:     images,
		},
	)
}

// FailListing makes Cameras return err until called with nil
func (s *Synthetic) FailListing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// Cameras implements Provider
func (s *Synthetic) Cameras(ctx context.Context) ([]types.CameraDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAccess, s.listErr)
	}
	out := make([]types.CameraDescriptor, len(s.cameras))
	for i, c := range s.cameras {
		out[i] = c.Descriptor
	}
	return out, nil
}

// Open implements Provider
func (s *Synthetic) Open(ctx context.Context, id string, res Resolution) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cam *SyntheticCamera
	for i := range s.cameras {
		if s.cameras[i].Descriptor.ID == id {
			cam = &s.cameras[i]
			break
		}
	}
	if cam == nil {
		return nil, fmt.Errorf("%w: camera %q", ErrNoDevice, id)
	}
	if _, busy := s.open[id]; busy {
		return nil, fmt.Errorf("%w: camera %q", ErrDeviceInUse, id)
	}

	w, h := cam.Native.X, cam.Native.Y
	if !res.Native() {
		if res.Width > w || res.Height > h {
			return nil, fmt.Errorf("%w: %s exceeds native %dx%d", ErrConfiguration, res, w, h)
		}
		w, h = res.Width, res.Height
	}

	frames := make([][]byte, 0, max(len(cam.Images), 1))
	if len(cam.Images) == 0 {
		frames = append(frames, imaging.RGBBytes(imaging.ColorBars(w, h)))
	}
	for _, img := range cam.Images {
		frames = append(frames, imaging.RGBBytes(imaging.Resize(img, w, h)))
	}

	d := &syntheticDevice{
		owner:  s,
		desc:   cam.Descriptor,
		width:  w,
		height: h,
		frames: frames,
		push:   make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	d.pool.New = func() any { return make([]byte, w*h*3) }
	if s.FPS > 0 {
		d.interval = time.Second / time.Duration(s.FPS)
	}
	s.open[id] = d

	log.Info("Opened synthetic camera %s at %dx%d", id, w, h)
	return d, nil
}

// OpenCount returns how many devices are currently open
func (s *Synthetic) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// Push delivers one frame from the camera's open device. It blocks until the
// frame was handed to the handler and returns false when no started device
// is open for id.
func (s *Synthetic) Push(id string) bool {
	s.mu.Lock()
	d := s.open[id]
	s.mu.Unlock()
	if d == nil || !d.started.Load() {
		return false
	}
	select {
	case d.push <- struct{}{}:
		return true
	case <-d.stop:
		return false
	}
}

// Disconnect simulates the camera being unplugged
func (s *Synthetic) Disconnect(id string) {
	s.mu.Lock()
	d := s.open[id]
	s.mu.Unlock()
	if d != nil {
		d.shutdown(ErrDisconnected)
	}
}

func (s *Synthetic) release(id string, d *syntheticDevice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[id] == d {
		delete(s.open, id)
	}
}

type syntheticDevice struct {
	owner    *Synthetic
	desc     types.CameraDescriptor
	width    int
	height   int
	frames   [][]byte
	interval time.Duration
	pool     sync.Pool

	rotation atomic.Int32
	started  atomic.Bool
	seq      uint64

	handler  Handler
	push     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (d *syntheticDevice) Descriptor() types.CameraDescriptor { return d.desc }

func (d *syntheticDevice) Size() (int, int) { return d.width, d.height }

func (d *syntheticDevice) SetRotation(deg int) { d.rotation.Store(int32(deg)) }

func (d *syntheticDevice) Start(h Handler) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: device %s already started", ErrConfiguration, d.desc.ID)
	}
	d.handler = h
	go d.run()
	return nil
}

func (d *syntheticDevice) run() {
	defer close(d.done)

	var tick <-chan time.Time
	if d.interval > 0 {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-d.stop:
			return
		case <-tick:
		case <-d.push:
		}
		d.deliver()
	}
}

func (d *syntheticDevice) deliver() {
	src := d.frames[d.seq%uint64(len(d.frames))]
	buf := d.pool.Get().([]byte)
	copy(buf, src)

	d.seq++
	f := types.NewPooledFrame(&types.Frame{
		Seq:       d.seq,
		Timestamp: time.Now(),
		Width:     d.width,
		Height:    d.height,
		Rotation:  int(d.rotation.Load()),
		Format:    types.FormatRGB,
		Data:      buf,
	}, func() { d.pool.Put(buf) })

	if d.handler.OnFrame != nil {
		d.handler.OnFrame(f)
	}
	f.Release()
}

// shutdown stops the capture loop. cause is reported to OnClosed when non-nil.
func (d *syntheticDevice) shutdown(cause error) {
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
	d.owner.release(d.desc.ID, d)

	if cause != nil && d.handler.OnClosed != nil {
		log.Warn("Camera %s closed: %v", d.desc.ID, cause)
		go d.handler.OnClosed(cause)
	}
}

func (d *syntheticDevice) Close() error {
	d.shutdown(nil)
	return nil
}
