// Package pipeline runs barcode detection on camera frames with at most one
// detection in flight. Frames that arrive while the detector is busy are
// dropped, never queued.
package pipeline

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/internal/metrics"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("Pipeline")

// Detector decodes barcodes from a frame. Implementations must return
// promptly once ctx is done.
type Detector interface {
	Detect(ctx context.Context, f *types.Frame) ([]types.Barcode, error)
}

// DetectorFunc adapts a function to Detector
type DetectorFunc func(ctx context.Context, f *types.Frame) ([]types.Barcode, error)

// Detect implements Detector
func (fn DetectorFunc) Detect(ctx context.Context, f *types.Frame) ([]types.Barcode, error) {
	return fn(ctx, f)
}

// Completion is a successful detection with the frame size in display
// orientation
type Completion struct {
	Seq    uint64
	Codes  []types.Barcode
	Width  int
	Height int
}

// State of the pipeline
type State int32

const (
	StateIdle State = iota
	StateDetecting
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateCooldown:
		return "cooldown"
	}
	return "unknown"
}

// Options configure a pipeline
type Options struct {
	// Interval is the minimum time between detection starts. Zero analyzes
	// whenever the detector is free.
	Interval time.Duration
	// Timeout bounds a single detector call. Zero means no limit.
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Pipeline feeds frames to a Detector one at a time
type Pipeline struct {
	detector Detector
	deliver  func(Completion)
	opts     Options
	metrics  *metrics.Metrics

	state     atomic.Int32
	lastStart atomic.Int64

	// mu orders deliveries against Close; OnFrame only reads closed
	mu     sync.Mutex
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline. deliver is called from the detection goroutine for
// every detection that found at least one code; it is never called once
// Close has returned, and it must not block for long.
func New(d Detector, deliver func(Completion), opts Options) *Pipeline {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		detector: d,
		deliver:  deliver,
		opts:     opts,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// State returns the current state
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// OnFrame submits f for detection unless a detection is already running or
// the cooldown has not elapsed. It never blocks and reports whether the
// frame was accepted. The pipeline retains f for the duration of the call.
func (p *Pipeline) OnFrame(f *types.Frame) bool {
	if f == nil || p.isClosed() {
		return false
	}

	if !p.tryBegin() {
		p.metrics.DetectionsSkipped.Add(1)
		return false
	}

	p.lastStart.Store(time.Now().UnixNano())
	p.metrics.DetectionsStarted.Add(1)

	f.Retain()
	p.wg.Add(1)
	go p.detect(f)
	return true
}

func (p *Pipeline) tryBegin() bool {
	if p.state.CompareAndSwap(int32(StateIdle), int32(StateDetecting)) {
		return true
	}
	if State(p.state.Load()) != StateCooldown {
		return false
	}
	since := time.Duration(time.Now().UnixNano() - p.lastStart.Load())
	if since < p.opts.Interval {
		return false
	}
	return p.state.CompareAndSwap(int32(StateCooldown), int32(StateDetecting))
}

func (p *Pipeline) detect(f *types.Frame) {
	defer p.wg.Done()

	ctx := p.ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	codes, err := p.detector.Detect(ctx, f)
	p.metrics.ObserveDetection(time.Since(start))

	seq, w, h, rot := f.Seq, f.Width, f.Height, f.Rotation
	f.Release()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		p.metrics.LateResults.Add(1)
		log.Debug("Discarding detection of frame %d after close", seq)
		return
	}

	if err != nil {
		p.metrics.DetectionFailures.Add(1)
		log.Debug("Detection of frame %d failed: %v", seq, err)
		p.finish()
		return
	}

	p.metrics.DetectionsCompleted.Add(1)
	if len(codes) > 0 {
		cw, ch := CorrectedSize(w, h, rot)
		p.deliver(Completion{Seq: seq, Codes: codes, Width: cw, Height: ch})
	}
	p.finish()
}

func (p *Pipeline) isClosed() bool {
	return p.closed.Load()
}

func (p *Pipeline) finish() {
	if p.opts.Interval > 0 {
		p.state.Store(int32(StateCooldown))
		return
	}
	p.state.Store(int32(StateIdle))
}

// Close cancels the in-flight detection. It does not wait for the detector
// to return; a result that arrives later is dropped. deliver must not call
// Close.
func (p *Pipeline) Close() {
	p.mu.Lock()
	already := p.closed.Swap(true)
	p.mu.Unlock()
	if !already {
		p.cancel()
	}
}

// Wait blocks until no detector call is running
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// CorrectedSize projects a w x h frame through a clockwise rotation of rot
// degrees and returns the bounding size, so 90 and 270 swap the axes.
func CorrectedSize(w, h, rot int) (int, int) {
	a := float64(rot) * math.Pi / 180
	cw := math.Abs(math.Round(float64(w)*math.Cos(a) - float64(h)*math.Sin(a)))
	ch := math.Abs(math.Round(float64(w)*math.Sin(a) + float64(h)*math.Cos(a)))
	return int(cw), int(ch)
}
