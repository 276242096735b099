// Package permission gates camera access behind the platform's grant state.
package permission

import (
	"errors"
	"sync"

	"github.com/cloudacy/barcode-scanner/internal/logger"
)

var log = logger.Module("Permission")

var (
	// ErrDenied is returned when the user refused camera access
	ErrDenied = errors.New("camera permission denied")
	// ErrAlreadyPending is returned when a prompt is already outstanding
	ErrAlreadyPending = errors.New("permission request already pending")
)

// Platform is the host's permission facility. Request shows a prompt and
// eventually calls resolve exactly once, from any goroutine.
type Platform interface {
	Granted() bool
	Request(resolve func(granted bool))
}

// Gate serialises permission prompts: at most one prompt is outstanding and
// at most one continuation waits on it.
type Gate struct {
	platform Platform

	mu      sync.Mutex
	pending bool

	// OnPrompt, when set, is called each time a platform prompt is issued
	OnPrompt func()
}

// NewGate creates a gate over the given platform
func NewGate(p Platform) *Gate {
	return &Gate{platform: p}
}

// Granted reports the current grant state without prompting
func (g *Gate) Granted() bool {
	return g.platform.Granted()
}

// Pending reports whether a prompt is outstanding
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// RequestAndThen runs fn with the grant result. When access is already
// granted fn runs on a new goroutine right away. Otherwise one platform
// prompt is issued; a second call before it resolves fails with
// ErrAlreadyPending and fn is never called.
func (g *Gate) RequestAndThen(fn func(granted bool)) error {
	if g.platform.Granted() {
		go fn(true)
		return nil
	}

	g.mu.Lock()
	if g.pending {
		g.mu.Unlock()
		return ErrAlreadyPending
	}
	g.pending = true
	g.mu.Unlock()

	if g.OnPrompt != nil {
		g.OnPrompt()
	}
	log.Info("Requesting camera permission")

	var once sync.Once
	g.platform.Request(func(granted bool) {
		once.Do(func() {
			g.mu.Lock()
			g.pending = false
			g.mu.Unlock()

			log.Info("Permission resolved: granted=%v", granted)
			// off the platform's stack
			go fn(granted)
		})
	})
	return nil
}
