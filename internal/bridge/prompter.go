package bridge

import (
	"sync"

	"github.com/cloudacy/barcode-scanner/internal/scan"
)

// RemotePrompter is a permission platform whose prompt is shown by the host
// application: Request pushes a permissionRequest event, and the host's
// resolvePermission call answers it.
type RemotePrompter struct {
	events scan.EventSink

	mu      sync.Mutex
	granted bool
	pending func(bool)
}

// NewRemotePrompter creates a prompter that has not been granted yet
func NewRemotePrompter(events scan.EventSink) *RemotePrompter {
	return &RemotePrompter{events: events}
}

// Granted reports whether the host has granted access
func (p *RemotePrompter) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

// Request records resolve and asks the host to prompt
func (p *RemotePrompter) Request(resolve func(granted bool)) {
	p.mu.Lock()
	p.pending = resolve
	p.mu.Unlock()

	log.Info("Asking host for camera permission")
	p.events.Emit(EventPermissionRequest, map[string]string{"permission": "camera"})
}

// Resolve answers the outstanding prompt
func (p *RemotePrompter) Resolve(granted bool) error {
	p.mu.Lock()
	resolve := p.pending
	p.pending = nil
	if resolve != nil && granted {
		p.granted = true
	}
	p.mu.Unlock()

	if resolve == nil {
		return errNothingPending
	}
	log.Info("Host answered permission prompt: granted=%v", granted)
	resolve(granted)
	return nil
}
