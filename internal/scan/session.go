// Package scan ties a camera, a texture and a detection pipeline into one
// scan session: start, emit codes, stop.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/framebuffer"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/internal/metrics"
	"github.com/cloudacy/barcode-scanner/internal/permission"
	"github.com/cloudacy/barcode-scanner/internal/pipeline"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("Session")

// Event names pushed to the EventSink
const (
	EventCode         = "code"
	EventCameraClosed = "cameraClosed"
)

var (
	ErrPermissionDenied = permission.ErrDenied
	ErrAlreadyPending   = permission.ErrAlreadyPending
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrStartCancelled   = errors.New("start cancelled")
)

// EventSink receives session events. Emit must not block.
type EventSink interface {
	Emit(event string, payload any)
}

// TextureEntry is one rendering surface fed by a frame buffer
type TextureEntry interface {
	ID() int64
	Buffer() *framebuffer.Buffer
	Release()
}

// Textures creates rendering surfaces
type Textures interface {
	Create() TextureEntry
}

// DetectorFactory builds a detector for the requested symbologies. An empty
// list asks for every supported symbology.
type DetectorFactory func(formats []types.Symbology) (pipeline.Detector, error)

// State of a session
type State int

const (
	StateIdle State = iota
	StatePermissionPending
	StateConfiguring
	StateRunning
	StateStopped
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StatePermissionPending: "permissionPending",
	StateConfiguring:       "configuring",
	StateRunning:           "running",
	StateStopped:           "stopped",
	StateFailed:            "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// Config wires a session to its collaborators
type Config struct {
	Provider  camera.Provider
	Gate      *permission.Gate
	Textures  Textures
	Detectors DetectorFactory
	Events    EventSink
	Metrics   *metrics.Metrics

	Resolution      camera.Resolution
	Mode            Mode
	TypedEvents     bool
	SuppressRepeats time.Duration
	DetectInterval  time.Duration
	DetectTimeout   time.Duration
}

// Status is a snapshot of the session
type Status struct {
	State     string `json:"state"`
	TextureID int64  `json:"textureId,omitempty"`
	CameraID  string `json:"cameraId,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Rotation  int    `json:"rotation"`
	LastError string `json:"lastError,omitempty"`
}

// Session is the scan life-cycle state machine. All transitions happen
// under mu; camera frames and detector completions reach it through the
// current run.
type Session struct {
	cfg     Config
	metrics *metrics.Metrics

	mu           sync.Mutex
	state        State
	gen          uint64
	run          *run
	pendingAbort chan struct{}
	cancelOpen   context.CancelFunc
	orientation  camera.Orientation
	lastErr      error
}

// New creates an idle session
func New(cfg Config) *Session {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.Resolution.Name == "" {
		cfg.Resolution = camera.ResolutionHigh
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeContinuous
	}
	return &Session{
		cfg:         cfg,
		metrics:     cfg.Metrics,
		orientation: camera.OrientationPortraitUp,
	}
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for the status method
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state.String()}
	if s.run != nil {
		st.TextureID = s.run.tex.ID()
		st.CameraID = s.run.desc.ID
		st.RunID = s.run.id
		st.Rotation = s.run.rotation
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Start asks for camera permission, binds the selected camera and begins
// streaming frames to a new texture and to the detector. A running session
// is stopped first so exactly one device stays open.
func (s *Session) Start(ctx context.Context, opts StartOptions) (StartResult, error) {
	if err := opts.Validate(); err != nil {
		return StartResult{}, err
	}

	s.mu.Lock()
	if s.state == StatePermissionPending || s.state == StateConfiguring {
		s.mu.Unlock()
		return StartResult{}, ErrAlreadyPending
	}
	if s.run != nil {
		log.Info("Restarting: releasing camera %s first", s.run.desc.ID)
		s.teardownLocked()
	}
	s.gen++
	gen := s.gen
	abort := make(chan struct{})
	s.pendingAbort = abort
	s.state = StatePermissionPending
	s.mu.Unlock()

	granted := make(chan bool, 1)
	if !s.cfg.Gate.Granted() {
		s.metrics.PermissionPrompts.Add(1)
	}
	if err := s.cfg.Gate.RequestAndThen(func(ok bool) { granted <- ok }); err != nil {
		s.abandonStart(gen, StateIdle)
		return StartResult{}, err
	}

	var ok bool
	select {
	case ok = <-granted:
	case <-abort:
		return StartResult{}, ErrStartCancelled
	case <-ctx.Done():
		s.abandonStart(gen, StateIdle)
		return StartResult{}, ctx.Err()
	}

	s.mu.Lock()
	if s.gen != gen || s.state != StatePermissionPending {
		s.mu.Unlock()
		return StartResult{}, ErrStartCancelled
	}
	s.pendingAbort = nil

	if !ok {
		s.state = StateIdle
		s.mu.Unlock()
		s.metrics.SessionStartErrors.Add(1)
		return StartResult{}, ErrPermissionDenied
	}

	// Opening a camera can take seconds; the session stays unlocked so Stop
	// and Status answer meanwhile
	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelOpen = cancel
	s.state = StateConfiguring
	s.mu.Unlock()

	b, err := s.open(openCtx, opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen || s.state != StateConfiguring {
		b.close()
		log.Info("Start cancelled while opening the camera")
		return StartResult{}, ErrStartCancelled
	}
	s.cancelOpen = nil

	var res StartResult
	if err == nil {
		res, err = s.bindLocked(b, opts)
	}
	if err != nil {
		s.state = StateIdle
		s.lastErr = err
		s.metrics.SessionStartErrors.Add(1)
		log.Warn("Start failed: %v", err)
		return StartResult{}, err
	}

	s.state = StateRunning
	s.lastErr = nil
	s.metrics.SessionsStarted.Add(1)
	s.metrics.ActiveSessions.Store(1)
	return res, nil
}

// abandonStart resets a start that never reached configuration
func (s *Session) abandonStart(gen uint64, to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == StatePermissionPending {
		s.state = to
		s.pendingAbort = nil
	}
}

// binding is an opened camera not yet attached to a run
type binding struct {
	desc       types.CameraDescriptor
	dev        camera.Device
	detector   pipeline.Detector
	resolution camera.Resolution
	mode       Mode
}

func (b *binding) close() {
	if b == nil {
		return
	}
	if err := b.dev.Close(); err != nil {
		log.Warn("Closing camera %s: %v", b.desc.ID, err)
	}
}

// open selects and opens the camera. It runs without s.mu.
func (s *Session) open(ctx context.Context, opts StartOptions) (*binding, error) {
	cams, err := s.cfg.Provider.Cameras(ctx)
	if err != nil {
		// nothing listable means nothing to bind
		return nil, fmt.Errorf("%w: %v", camera.ErrNoDevice, err)
	}
	desc, err := camera.Select(cams, opts.CameraID, opts.LensFacing)
	if err != nil {
		return nil, err
	}

	b := &binding{desc: desc, resolution: opts.Resolution, mode: opts.Mode}
	if b.resolution.Name == "" {
		b.resolution = s.cfg.Resolution
	}
	if b.mode == "" {
		b.mode = s.cfg.Mode
	}

	b.detector, err = s.cfg.Detectors(opts.Formats)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrConfiguration, err)
	}

	b.dev, err = s.cfg.Provider.Open(ctx, desc.ID, b.resolution)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// bindLocked attaches an opened camera to a new run and starts streaming
func (s *Session) bindLocked(b *binding, opts StartOptions) (StartResult, error) {
	desc, dev := b.desc, b.dev
	rotation := camera.PreviewRotation(desc, s.orientation, desc.SensorOrientation)
	dev.SetRotation(rotation)

	r := &run{
		id:       uuid.NewString(),
		session:  s,
		desc:     desc,
		dev:      dev,
		tex:      s.cfg.Textures.Create(),
		region:   opts.Region,
		mode:     b.mode,
		rotation: rotation,
		inbox:    make(chan pipeline.Completion, 1),
		done:     make(chan struct{}),
	}
	r.buf = r.tex.Buffer()
	r.pipe = pipeline.New(b.detector, r.deliver, pipeline.Options{
		Interval: s.cfg.DetectInterval,
		Timeout:  s.cfg.DetectTimeout,
		Metrics:  s.metrics,
	})

	if err := dev.Start(camera.Handler{
		OnFrame:  r.onFrame,
		OnClosed: func(err error) { s.deviceClosed(r, err) },
	}); err != nil {
		r.teardown()
		return StartResult{}, fmt.Errorf("%w: %v", camera.ErrConfiguration, err)
	}
	go r.consume()

	s.run = r
	w, h := dev.Size()
	pw, ph := pipeline.CorrectedSize(w, h, rotation)

	log.Info("Running %s on camera %s (%s, rotation %d, mode %s, texture %d)",
		r.id, desc.ID, b.resolution, rotation, b.mode, r.tex.ID())
	return StartResult{TextureID: r.tex.ID(), PreviewWidth: pw, PreviewHeight: ph}, nil
}

// Stop ends the session. It is idempotent and always reports success. A
// Start waiting for permission or for its camera returns ErrStartCancelled.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StatePermissionPending:
		close(s.pendingAbort)
		s.pendingAbort = nil
		s.gen++
		s.state = StateStopped
		log.Info("Stopped while waiting for permission")
	case StateConfiguring:
		s.cancelOpen()
		s.cancelOpen = nil
		s.gen++
		s.state = StateStopped
		log.Info("Stopped while opening the camera")
	case StateRunning, StateFailed:
		s.teardownLocked()
		s.state = StateStopped
	}
	return true
}

func (s *Session) teardownLocked() {
	if s.run == nil {
		return
	}
	r := s.run
	s.run = nil
	r.teardown()
	s.metrics.ActiveSessions.Store(0)
	log.Info("Run %s released camera %s", r.id, r.desc.ID)
}

// stopRun stops r if it is still the current run
func (s *Session) stopRun(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == r {
		s.teardownLocked()
		s.state = StateStopped
	}
}

func (s *Session) deviceClosed(r *run, cause error) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.state = StateFailed
	s.lastErr = cause
	s.mu.Unlock()

	s.metrics.CameraDisconnects.Add(1)
	log.Error("Camera %s closed unexpectedly: %v", r.desc.ID, cause)
	s.cfg.Events.Emit(EventCameraClosed, CameraClosedEvent{CameraID: r.desc.ID, Reason: cause.Error()})
}

// SetOrientation records the device orientation and updates the running
// camera's preview rotation without restarting it. It returns the rotation
// now in effect.
func (s *Session) SetOrientation(o camera.Orientation) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o != camera.OrientationUnknown {
		s.orientation = o
	}
	if s.run == nil {
		return 0
	}
	rot := camera.PreviewRotation(s.run.desc, o, s.run.rotation)
	if rot != s.run.rotation {
		log.Debug("Preview rotation %d -> %d (%s)", s.run.rotation, rot, o)
		s.run.rotation = rot
		s.run.dev.SetRotation(rot)
	}
	return rot
}

// AvailableCameras lists cameras once permission is granted
func (s *Session) AvailableCameras(ctx context.Context) ([]types.CameraDescriptor, error) {
	granted := make(chan bool, 1)
	if !s.cfg.Gate.Granted() {
		s.metrics.PermissionPrompts.Add(1)
	}
	if err := s.cfg.Gate.RequestAndThen(func(ok bool) { granted <- ok }); err != nil {
		return nil, err
	}
	select {
	case ok := <-granted:
		if !ok {
			return nil, ErrPermissionDenied
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	cams, err := s.cfg.Provider.Cameras(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrAccess) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", camera.ErrAccess, err)
	}
	return cams, nil
}

// run is one Running period: a bound device, its texture and pipeline, and
// the inbox goroutine that turns completions into events.
type run struct {
	id       string
	session  *Session
	desc     types.CameraDescriptor
	dev      camera.Device
	tex      TextureEntry
	buf      *framebuffer.Buffer
	pipe     *pipeline.Pipeline
	region   *Region
	mode     Mode
	rotation int // guarded by session.mu

	inbox chan pipeline.Completion
	done  chan struct{}

	emitMu    sync.Mutex
	closed    bool
	lastValue string
	lastAt    time.Time
}

// onFrame runs on the device's capture goroutine
func (r *run) onFrame(f *types.Frame) {
	m := r.session.metrics
	m.FramesCaptured.Add(1)
	if r.buf.Publish(f) {
		m.FramesPublished.Add(1)
	}
	r.pipe.OnFrame(f)
}

// deliver runs on the detection goroutine
func (r *run) deliver(c pipeline.Completion) {
	select {
	case r.inbox <- c:
	case <-r.done:
	}
}

func (r *run) consume() {
	for {
		select {
		case <-r.done:
			return
		case c := <-r.inbox:
			r.handle(c)
		}
	}
}

func (r *run) handle(c pipeline.Completion) {
	s := r.session
	code, ok := Select(c.Codes, c.Width, c.Height, r.region)
	if !ok {
		s.metrics.CodesOutsideRegion.Add(1)
		return
	}

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.closed {
		s.metrics.LateResults.Add(1)
		return
	}

	now := time.Now()
	if s.cfg.SuppressRepeats > 0 && code.Value == r.lastValue && now.Sub(r.lastAt) < s.cfg.SuppressRepeats {
		s.metrics.CodesSuppressed.Add(1)
		return
	}
	r.lastValue, r.lastAt = code.Value, now

	if s.cfg.TypedEvents {
		s.cfg.Events.Emit(EventCode, CodeEvent{Type: code.Format, Value: code.Value, ValueType: code.ValueType})
	} else {
		s.cfg.Events.Emit(EventCode, code.Value)
	}
	s.metrics.CodesEmitted.Add(1)
	log.Debug("Frame %d: emitted %s code", c.Seq, code.Format)

	if r.mode == ModeSingle {
		r.closed = true
		go s.stopRun(r)
	}
}

// teardown releases everything the run holds. No event is emitted once it
// returns.
func (r *run) teardown() {
	r.emitMu.Lock()
	r.closed = true
	r.emitMu.Unlock()

	select {
	case <-r.done:
	default:
		close(r.done)
	}
	r.pipe.Close()
	if err := r.dev.Close(); err != nil {
		log.Warn("Closing camera %s: %v", r.desc.ID, err)
	}
	r.buf.Reset(true)
	r.tex.Release()
}
