package texture

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudacy/barcode-scanner/internal/imaging"
)

// blankInterval is how long a stream waits before repeating a placeholder
const blankInterval = 5 * time.Second

// Handler serves GET /texture/{id} as an MJPEG stream and
// GET /texture/{id}/snapshot as a single JPEG
func (r *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /texture/{id}", r.handleStream)
	mux.HandleFunc("GET /texture/{id}/snapshot", r.handleSnapshot)
	return mux
}

func (r *Registry) lookup(w http.ResponseWriter, req *http.Request) (*Entry, bool) {
	id, err := strconv.ParseInt(req.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid texture id", http.StatusBadRequest)
		return nil, false
	}
	e, ok := r.Get(id)
	if !ok {
		http.Error(w, "texture not found", http.StatusNotFound)
		return nil, false
	}
	return e, true
}

func (r *Registry) handleSnapshot(w http.ResponseWriter, req *http.Request) {
	e, ok := r.lookup(w, req)
	if !ok {
		return
	}
	data, ok := e.Snapshot()
	if !ok {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (r *Registry) handleStream(w http.ResponseWriter, req *http.Request) {
	e, ok := r.lookup(w, req)
	if !ok {
		return
	}
	id, ch := e.Subscribe()
	defer e.Unsubscribe(id)

	streamMJPEGFromChannel(req.Context(), w, ch)
}

// streamMJPEGFromChannel writes frames from ch as multipart JPEG until the
// channel closes or the client goes away
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	blank, err := imaging.BlankJPEG(320, 240)
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	timer := time.NewTimer(blankInterval)
	defer timer.Stop()

	for {
		var jpegData []byte
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				// texture released
				return
			}
			jpegData = data
		case <-timer.C:
			jpegData = blank
		}
		timer.Reset(blankInterval)

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			log.Debug("Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			log.Debug("Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			log.Debug("Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()
	}
}
