package permission

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualPlatform holds prompts until the test resolves them
type manualPlatform struct {
	mu       sync.Mutex
	granted  bool
	requests int
	resolve  func(bool)
}

func (p *manualPlatform) Granted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.granted
}

func (p *manualPlatform) Request(resolve func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.resolve = resolve
}

func (p *manualPlatform) answer(granted bool) {
	p.mu.Lock()
	r := p.resolve
	p.granted = granted
	p.mu.Unlock()
	r(granted)
}

func waitResult(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("continuation not called")
		return false
	}
}

func TestRequestAndThenAlreadyGranted(t *testing.T) {
	p := &manualPlatform{granted: true}
	g := NewGate(p)

	got := make(chan bool, 1)
	require.NoError(t, g.RequestAndThen(func(ok bool) { got <- ok }))
	assert.True(t, waitResult(t, got))
	assert.Equal(t, 0, p.requests)
}

func TestRequestAndThenSecondCallIsRejected(t *testing.T) {
	p := &manualPlatform{}
	g := NewGate(p)

	first := make(chan bool, 1)
	require.NoError(t, g.RequestAndThen(func(ok bool) { first <- ok }))
	assert.True(t, g.Pending())

	err := g.RequestAndThen(func(bool) { t.Error("second continuation must not run") })
	assert.ErrorIs(t, err, ErrAlreadyPending)

	p.answer(false)
	assert.False(t, waitResult(t, first))
	assert.False(t, g.Pending())
	assert.Equal(t, 1, p.requests)

	// after resolution a new prompt is allowed
	again := make(chan bool, 1)
	require.NoError(t, g.RequestAndThen(func(ok bool) { again <- ok }))
	p.answer(true)
	assert.True(t, waitResult(t, again))
}

func TestDoubleResolveRunsContinuationOnce(t *testing.T) {
	p := &manualPlatform{}
	g := NewGate(p)

	var calls int
	var mu sync.Mutex
	done := make(chan bool, 2)
	require.NoError(t, g.RequestAndThen(func(ok bool) {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- ok
	}))

	p.answer(true)
	p.answer(true)
	waitResult(t, done)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestStaticPlatform(t *testing.T) {
	s := NewStatic(false, true)
	g := NewGate(s)
	prompts := 0
	g.OnPrompt = func() { prompts++ }

	got := make(chan bool, 1)
	require.NoError(t, g.RequestAndThen(func(ok bool) { got <- ok }))
	assert.True(t, waitResult(t, got))
	assert.True(t, g.Granted())
	assert.Equal(t, 1, prompts)

	assert.Nil(t, FromMode("prompt"))
	assert.True(t, FromMode("granted").Granted())
	assert.False(t, FromMode("denied").Granted())
}
