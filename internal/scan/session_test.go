package scan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/framebuffer"
	"github.com/cloudacy/barcode-scanner/internal/metrics"
	"github.com/cloudacy/barcode-scanner/internal/permission"
	"github.com/cloudacy/barcode-scanner/internal/pipeline"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

type event struct {
	name    string
	payload any
}

type recordingSink struct {
	ch chan event
}

func newSink() *recordingSink { return &recordingSink{ch: make(chan event, 64)} }

func (s *recordingSink) Emit(name string, payload any) { s.ch <- event{name, payload} }

func (s *recordingSink) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-s.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return event{}
	}
}

func (s *recordingSink) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-s.ch:
		t.Fatalf("unexpected event %s %v", e.name, e.payload)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeEntry struct {
	id       int64
	buf      *framebuffer.Buffer
	released atomic.Bool
}

func (e *fakeEntry) ID() int64                   { return e.id }
func (e *fakeEntry) Buffer() *framebuffer.Buffer { return e.buf }
func (e *fakeEntry) Release()                    { e.released.Store(true) }

type fakeTextures struct {
	mu      sync.Mutex
	entries []*fakeEntry
}

func (f *fakeTextures) Create() TextureEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEntry{id: int64(len(f.entries) + 1), buf: framebuffer.New(nil)}
	f.entries = append(f.entries, e)
	return e
}

func (f *fakeTextures) entry(i int) *fakeEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[i]
}

// scriptedDetector reports each call's frame rotation, then returns
// whatever the test puts in results
type scriptedDetector struct {
	results   chan []types.Barcode
	rotations chan int
}

func newScripted() *scriptedDetector {
	return &scriptedDetector{results: make(chan []types.Barcode, 16), rotations: make(chan int, 16)}
}

func (d *scriptedDetector) Detect(ctx context.Context, f *types.Frame) ([]types.Barcode, error) {
	select {
	case d.rotations <- f.Rotation:
	default:
	}
	select {
	case codes := <-d.results:
		return codes, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type harness struct {
	session  *Session
	provider *camera.Synthetic
	textures *fakeTextures
	sink     *recordingSink
	detector *scriptedDetector
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, platform permission.Platform, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		provider: camera.DefaultSynthetic(0),
		textures: &fakeTextures{},
		sink:     newSink(),
		detector: newScripted(),
		metrics:  metrics.New(),
	}
	cfg := Config{
		Provider: h.provider,
		Gate:     permission.NewGate(platform),
		Textures: h.textures,
		Detectors: func([]types.Symbology) (pipeline.Detector, error) {
			return h.detector, nil
		},
		Events:  h.sink,
		Metrics: h.metrics,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	h.session = New(cfg)
	t.Cleanup(func() { h.session.Stop() })
	return h
}

// analyze pushes frames until one reaches the detector, answers it with
// codes and returns the frame's rotation
func (h *harness) analyze(t *testing.T, codes []types.Barcode) int {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		require.True(t, h.provider.Push("0"))
		select {
		case rot := <-h.detector.rotations:
			h.detector.results <- codes
			return rot
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatal("no frame reached the detector")
		}
	}
}

func granted() permission.Platform { return permission.NewStatic(true, true) }

func qr(v string, bounds *types.Rect) []types.Barcode {
	return []types.Barcode{{Value: v, Format: types.SymbologyQR, ValueType: "text", Bounds: bounds}}
}

func TestStartReportsRotatedPreview(t *testing.T) {
	h := newHarness(t, granted())

	res, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TextureID)
	// back camera mounted at 90 degrees, 1280x720 sensor frames
	assert.Equal(t, 720, res.PreviewWidth)
	assert.Equal(t, 1280, res.PreviewHeight)
	assert.Equal(t, StateRunning, h.session.State())
	assert.Equal(t, 1, h.provider.OpenCount())
}

func TestCodeEventForFrame(t *testing.T) {
	h := newHarness(t, granted())
	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	h.analyze(t, qr("hello", nil))

	e := h.sink.next(t)
	assert.Equal(t, EventCode, e.name)
	assert.Equal(t, "hello", e.payload)
	assert.Equal(t, uint64(1), h.metrics.CodesEmitted.Load())

	// the frame also reached the texture
	shown := h.textures.entry(0).buf.Peek()
	require.NotNil(t, shown)
	shown.Release()
}

func TestTypedCodeEvent(t *testing.T) {
	h := newHarness(t, granted(), func(c *Config) { c.TypedEvents = true })
	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	h.analyze(t, qr("typed", nil))

	e := h.sink.next(t)
	assert.Equal(t, CodeEvent{Type: types.SymbologyQR, Value: "typed", ValueType: "text"}, e.payload)
}

func TestRegionFilterUsesDisplaySize(t *testing.T) {
	h := newHarness(t, granted())
	_, err := h.session.Start(context.Background(), StartOptions{Region: &Region{0.5, 0.5}})
	require.NoError(t, err)

	// display size is 720x1280, so the scan rectangle is (180,320)-(540,960)
	h.analyze(t, qr("outside", &types.Rect{Left: 0, Top: 0, Right: 50, Bottom: 50}))
	h.sink.none(t)
	assert.Equal(t, uint64(1), h.metrics.CodesOutsideRegion.Load())

	h.analyze(t, qr("inside", &types.Rect{Left: 300, Top: 500, Right: 400, Bottom: 600}))
	assert.Equal(t, "inside", h.sink.next(t).payload)
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, granted())
	assert.True(t, h.session.Stop(), "stop before start")

	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	assert.True(t, h.session.Stop())
	assert.True(t, h.session.Stop())
	assert.Equal(t, StateStopped, h.session.State())
	assert.Equal(t, 0, h.provider.OpenCount())
	assert.True(t, h.textures.entry(0).released.Load())
	assert.Nil(t, h.textures.entry(0).buf.Peek())
}

func TestNoCodeAfterStop(t *testing.T) {
	h := newHarness(t, granted())
	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	require.True(t, h.provider.Push("0"))
	<-h.detector.rotations // detection is in flight
	h.session.Stop()

	// the detector finishes after stop
	h.detector.results <- qr("late", nil)
	h.sink.none(t)
}

func TestRestartKeepsOneDeviceOpen(t *testing.T) {
	h := newHarness(t, granted())
	ctx := context.Background()

	first, err := h.session.Start(ctx, StartOptions{})
	require.NoError(t, err)
	second, err := h.session.Start(ctx, StartOptions{LensFacing: types.LensFront})
	require.NoError(t, err)

	assert.NotEqual(t, first.TextureID, second.TextureID)
	assert.Equal(t, 1, h.provider.OpenCount())
	assert.True(t, h.textures.entry(0).released.Load())
	assert.False(t, h.textures.entry(1).released.Load())
	assert.Equal(t, "1", h.session.Status().CameraID)

	// the same camera can be reopened
	_, err = h.session.Start(ctx, StartOptions{LensFacing: types.LensFront})
	require.NoError(t, err)
	assert.Equal(t, 1, h.provider.OpenCount())
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t, permission.NewStatic(false, false))

	_, err := h.session.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, h.session.State())
	assert.Equal(t, 0, h.provider.OpenCount())

	_, err = h.session.AvailableCameras(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

// heldPlatform never answers on its own
type heldPlatform struct {
	mu      sync.Mutex
	resolve func(bool)
}

func (p *heldPlatform) Granted() bool { return false }

func (p *heldPlatform) Request(resolve func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolve = resolve
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestStopCancelsPendingStart(t *testing.T) {
	h := newHarness(t, &heldPlatform{})

	errc := make(chan error, 1)
	go func() {
		_, err := h.session.Start(context.Background(), StartOptions{})
		errc <- err
	}()
	waitState(t, h.session, StatePermissionPending)

	_, err := h.session.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, ErrAlreadyPending)

	assert.True(t, h.session.Stop())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStartCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("pending start not cancelled")
	}
	assert.Equal(t, StateStopped, h.session.State())
	assert.Equal(t, 0, h.provider.OpenCount())
}

func TestStartContextCancelledWhileWaiting(t *testing.T) {
	h := newHarness(t, &heldPlatform{})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := h.session.Start(ctx, StartOptions{})
		errc <- err
	}()
	waitState(t, h.session, StatePermissionPending)
	cancel()

	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Equal(t, StateIdle, h.session.State())
}

// slowProvider holds Open until release is closed or, when honorCtx is
// set, until the caller's context ends
type slowProvider struct {
	*camera.Synthetic
	honorCtx bool
	opening  chan struct{}
	release  chan struct{}
}

func newSlowProvider(honorCtx bool) *slowProvider {
	return &slowProvider{
		Synthetic: camera.DefaultSynthetic(0),
		honorCtx:  honorCtx,
		opening:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
}

func (p *slowProvider) Open(ctx context.Context, id string, res camera.Resolution) (camera.Device, error) {
	p.opening <- struct{}{}
	if p.honorCtx {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else {
		<-p.release
	}
	return p.Synthetic.Open(context.WithoutCancel(ctx), id, res)
}

func startAsync(h *harness) <-chan error {
	errc := make(chan error, 1)
	go func() {
		_, err := h.session.Start(context.Background(), StartOptions{})
		errc <- err
	}()
	return errc
}

func TestSessionAnswersWhileCameraOpens(t *testing.T) {
	slow := newSlowProvider(true)
	h := newHarness(t, granted(), func(c *Config) { c.Provider = slow })

	errc := startAsync(h)
	<-slow.opening

	began := time.Now()
	assert.Equal(t, StateConfiguring, h.session.State())
	assert.Equal(t, "configuring", h.session.Status().State)
	assert.Equal(t, 0, h.session.SetOrientation(camera.OrientationLandscapeLeft))

	_, err := h.session.Start(context.Background(), StartOptions{})
	assert.ErrorIs(t, err, ErrAlreadyPending)

	assert.True(t, h.session.Stop())
	assert.Less(t, time.Since(began), time.Second)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrStartCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("start still opening the camera")
	}
	assert.Equal(t, StateStopped, h.session.State())
	assert.Equal(t, 0, slow.OpenCount())
	assert.Empty(t, h.textures.entries)
}

func TestStopDuringOpenReleasesLateCamera(t *testing.T) {
	slow := newSlowProvider(false)
	h := newHarness(t, granted(), func(c *Config) { c.Provider = slow })

	errc := startAsync(h)
	<-slow.opening
	assert.True(t, h.session.Stop())

	close(slow.release)
	assert.ErrorIs(t, <-errc, ErrStartCancelled)
	assert.Equal(t, StateStopped, h.session.State())
	assert.Equal(t, 0, slow.OpenCount(), "camera opened after stop is closed again")
	h.sink.none(t)

	// a fresh start binds normally
	res, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.TextureID)
	assert.Equal(t, 1, slow.OpenCount())
}

func TestSingleModeStopsAfterFirstCode(t *testing.T) {
	h := newHarness(t, granted())
	_, err := h.session.Start(context.Background(), StartOptions{Mode: ModeSingle})
	require.NoError(t, err)

	h.analyze(t, qr("once", nil))

	assert.Equal(t, "once", h.sink.next(t).payload)
	waitState(t, h.session, StateStopped)
	assert.Equal(t, 0, h.provider.OpenCount())
}

func TestSuppressRepeats(t *testing.T) {
	h := newHarness(t, granted(), func(c *Config) { c.SuppressRepeats = time.Minute })
	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	for _, v := range []string{"a", "a", "b"} {
		h.analyze(t, qr(v, nil))
	}

	assert.Equal(t, "a", h.sink.next(t).payload)
	assert.Equal(t, "b", h.sink.next(t).payload)
	h.sink.none(t)
	assert.Equal(t, uint64(1), h.metrics.CodesSuppressed.Load())
}

func TestDisconnectFailsSession(t *testing.T) {
	h := newHarness(t, granted())
	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	h.provider.Disconnect("0")

	e := h.sink.next(t)
	assert.Equal(t, EventCameraClosed, e.name)
	assert.Equal(t, "0", e.payload.(CameraClosedEvent).CameraID)
	assert.Equal(t, StateFailed, h.session.State())
	assert.NotEmpty(t, h.session.Status().LastError)

	assert.True(t, h.session.Stop())
	assert.Equal(t, StateStopped, h.session.State())
}

func TestStartErrors(t *testing.T) {
	h := newHarness(t, granted())
	ctx := context.Background()

	_, err := h.session.Start(ctx, StartOptions{CameraID: "42"})
	assert.ErrorIs(t, err, camera.ErrNoDevice)

	_, err = h.session.Start(ctx, StartOptions{Region: &Region{2, 2}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.session.Start(ctx, StartOptions{Formats: []types.Symbology{"maxicode"}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = h.session.Start(ctx, StartOptions{Resolution: camera.Resolution{Name: "huge", Width: 8000, Height: 6000}})
	assert.ErrorIs(t, err, camera.ErrConfiguration)

	failing := newHarness(t, granted(), func(c *Config) {
		c.Detectors = func([]types.Symbology) (pipeline.Detector, error) {
			return nil, errors.New("no pdf417 reader")
		}
	})
	_, err = failing.session.Start(ctx, StartOptions{})
	assert.ErrorIs(t, err, camera.ErrConfiguration)
	assert.Equal(t, StateIdle, failing.session.State())
	assert.Equal(t, 0, failing.provider.OpenCount())

	h.provider.FailListing(errors.New("camera service died"))
	_, err = h.session.Start(ctx, StartOptions{})
	assert.ErrorIs(t, err, camera.ErrNoDevice)
	assert.NotErrorIs(t, err, camera.ErrAccess)
}

func TestSetOrientationRotatesWithoutRestart(t *testing.T) {
	h := newHarness(t, granted())
	_, err := h.session.Start(context.Background(), StartOptions{})
	require.NoError(t, err)

	assert.Equal(t, 90, h.analyze(t, nil))

	assert.Equal(t, 0, h.session.SetOrientation(camera.OrientationLandscapeLeft))
	assert.Equal(t, 0, h.session.SetOrientation(camera.OrientationUnknown))

	assert.Equal(t, 0, h.analyze(t, nil))
	assert.Equal(t, 1, h.provider.OpenCount())
	assert.Equal(t, int64(1), h.session.Status().TextureID)
}

func TestAvailableCameras(t *testing.T) {
	h := newHarness(t, granted())
	cams, err := h.session.AvailableCameras(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 2)
	assert.Equal(t, types.LensBack, cams[0].LensFacing)

	h.provider.FailListing(errors.New("camera service died"))
	_, err = h.session.AvailableCameras(context.Background())
	assert.ErrorIs(t, err, camera.ErrAccess)
}
