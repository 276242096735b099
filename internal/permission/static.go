package permission

import "sync/atomic"

// Static is a platform with a fixed answer. Prompts resolve asynchronously
// with that answer and a granted prompt stays granted.
type Static struct {
	granted atomic.Bool
	answer  bool
}

// NewStatic creates a platform. granted is the initial state, answer is what
// the simulated user picks when prompted.
func NewStatic(granted, answer bool) *Static {
	s := &Static{answer: answer}
	s.granted.Store(granted)
	return s
}

// Granted implements Platform
func (s *Static) Granted() bool {
	return s.granted.Load()
}

// Request implements Platform
func (s *Static) Request(resolve func(bool)) {
	go func() {
		if s.answer {
			s.granted.Store(true)
		}
		resolve(s.answer)
	}()
}

// FromMode maps the -permission flag to a platform. "prompt" returns nil so
// the caller can install an interactive platform instead.
func FromMode(mode string) Platform {
	switch mode {
	case "granted":
		return NewStatic(true, true)
	case "denied":
		return NewStatic(false, false)
	default:
		return nil
	}
}
