// Package webmonitor serves a browser page for driving the scanner by hand:
// start and stop, live preview, and the event log.
package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
)

// Handler serves the index page and, when assetsDir is set, /assets/ files
// from it
func Handler(assetsDir string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleIndex)
	mux.Handle("GET /assets/", &assetHandler{assetsDir: assetsDir})
	return mux
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

type assetHandler struct {
	assetsDir string
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.assetsDir == "" {
		http.NotFound(w, r)
		return
	}
	path := filepath.Join(h.assetsDir, filepath.Base(r.URL.Path))
	if !fileExists(path) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
