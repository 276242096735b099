// Package texture turns frame buffers into MJPEG streams. Each texture owns
// one frame buffer and a renderer goroutine that encodes the newest frame
// for every connected client.
package texture

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/cloudacy/barcode-scanner/internal/framebuffer"
	"github.com/cloudacy/barcode-scanner/internal/imaging"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/internal/metrics"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var log = logger.Module("Texture")

// Options control rendering
type Options struct {
	JPEGQuality int
	MaxWidth    int
	Metrics     *metrics.Metrics
}

// Registry hands out texture ids and keeps live textures addressable
type Registry struct {
	opts    Options
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[int64]*Entry
	nextID  int64
}

// NewRegistry creates an empty registry
func NewRegistry(opts Options) *Registry {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 75
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		opts:    opts,
		metrics: m,
		entries: make(map[int64]*Entry),
	}
}

// Create registers a texture and starts its renderer
func (r *Registry) Create() *Entry {
	r.mu.Lock()
	r.nextID++
	e := &Entry{
		id:      r.nextID,
		reg:     r,
		notify:  make(chan struct{}, 1),
		clients: make(map[int]chan []byte),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.buf = framebuffer.New(e)
	r.entries[e.id] = e
	r.mu.Unlock()

	go e.run()
	log.Debug("Texture %d created", e.id)
	return e
}

// Get returns a live texture
func (r *Registry) Get(id int64) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Count returns the number of live textures
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Entry is one texture. It implements framebuffer.Sink for its own buffer.
type Entry struct {
	id  int64
	reg *Registry
	buf *framebuffer.Buffer

	notify chan struct{}

	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	last      []byte
	stop      chan struct{}
	stopped   bool
	done      chan struct{}
	skipCount atomic.Uint64
}

// ID returns the texture id
func (e *Entry) ID() int64 { return e.id }

// Buffer returns the frame buffer feeding this texture
func (e *Entry) Buffer() *framebuffer.Buffer { return e.buf }

// FrameAvailable implements framebuffer.Sink. It never blocks; bursts of
// notifications collapse into one render of the newest frame.
func (e *Entry) FrameAvailable() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Subscribe adds a client and returns a channel of JPEG frames
func (e *Entry) Subscribe() (int, <-chan []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	ch := make(chan []byte, 2)
	if e.stopped {
		close(ch)
		return id, ch
	}
	e.clients[id] = ch
	if e.last != nil {
		ch <- e.last
	}

	log.Debug("Texture %d: client #%d subscribed (total clients: %d)", e.id, id, len(e.clients))
	return id, ch
}

// Unsubscribe removes a client
func (e *Entry) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ch, ok := e.clients[id]; ok {
		close(ch)
		delete(e.clients, id)
		log.Debug("Texture %d: client #%d unsubscribed (remaining clients: %d)", e.id, id, len(e.clients))
	}
}

// Clients returns the number of subscribers
func (e *Entry) Clients() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clients)
}

// Snapshot renders the newest frame now, whether or not anyone is
// subscribed
func (e *Entry) Snapshot() ([]byte, bool) {
	f := e.buf.Acquire()
	if f == nil {
		return nil, false
	}
	defer f.Release()

	data, err := e.render(f)
	if err != nil {
		log.Warn("Texture %d: snapshot of frame %d failed: %v", e.id, f.Seq, err)
		return nil, false
	}
	return data, true
}

// Release stops the renderer, disconnects clients and frees the id
func (e *Entry) Release() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	close(e.stop)
	e.mu.Unlock()

	<-e.done

	e.mu.Lock()
	for id, ch := range e.clients {
		close(ch)
		delete(e.clients, id)
	}
	e.last = nil
	e.mu.Unlock()

	e.buf.Reset(true)
	e.reg.metrics.FramesSuperseded.Add(e.buf.Stats().Superseded)
	e.reg.remove(e.id)
	log.Debug("Texture %d released", e.id)
}

func (e *Entry) run() {
	defer close(e.done)

	for {
		select {
		case <-e.stop:
			return
		case <-e.notify:
		}

		if e.Clients() == 0 {
			// nobody is watching; skip the encode
			if n := e.skipCount.Add(1); n%300 == 0 {
				log.Debug("Texture %d: no clients, skipped %d frames", e.id, n)
			}
			continue
		}

		f := e.buf.Acquire()
		if f == nil {
			continue
		}
		data, err := e.render(f)
		seq := f.Seq
		f.Release()
		if err != nil {
			e.reg.metrics.RenderErrors.Add(1)
			log.Warn("Texture %d: render of frame %d failed: %v", e.id, seq, err)
			continue
		}
		e.reg.metrics.FramesRendered.Add(1)
		e.broadcast(data)
	}
}

func (e *Entry) render(f *types.Frame) ([]byte, error) {
	img, err := imaging.ToImage(f)
	if err != nil {
		return nil, err
	}
	img = imaging.Rotate(img, f.Rotation)
	img = imaging.FitWidth(img, e.reg.opts.MaxWidth)

	var buf bytes.Buffer
	if err := imaging.EncodeJPEG(&buf, img, e.reg.opts.JPEGQuality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Entry) broadcast(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.last = data
	for _, ch := range e.clients {
		select {
		case ch <- data:
		default:
			// slow client, drop frame
		}
	}
}
