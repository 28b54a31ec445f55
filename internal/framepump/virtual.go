package framepump

import "sync"

// VirtualPump is a manually advanced clock. Advance fires the pending callback
// synchronously, which makes playback fully deterministic in tests.
type VirtualPump struct {
	mu      sync.Mutex
	next    Handle
	pending map[Handle]FrameFunc
	nowMs   float64
}

// NewVirtualPump creates a VirtualPump at time zero.
func NewVirtualPump() *VirtualPump {
	return &VirtualPump{pending: make(map[Handle]FrameFunc)}
}

// Schedule registers cb for the next Advance call.
func (p *VirtualPump) Schedule(cb FrameFunc) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.pending[p.next] = cb
	return p.next
}

// Cancel drops a pending registration.
func (p *VirtualPump) Cancel(h Handle) {
	p.mu.Lock()
	delete(p.pending, h)
	p.mu.Unlock()
}

// Advance moves the clock forward and fires every callback registered before
// the call. Callbacks scheduled while firing wait for the next Advance.
// It returns the number of callbacks fired.
func (p *VirtualPump) Advance(deltaMs float64) int {
	p.mu.Lock()
	p.nowMs += deltaMs
	due := p.pending
	p.pending = make(map[Handle]FrameFunc)
	p.mu.Unlock()

	for _, cb := range due {
		cb(deltaMs)
	}
	return len(due)
}

// Step calls Advance n times with the same delta, stopping early once nothing
// is pending. It returns the number of frames that fired.
func (p *VirtualPump) Step(n int, deltaMs float64) int {
	fired := 0
	for i := 0; i < n; i++ {
		if p.Advance(deltaMs) == 0 {
			break
		}
		fired++
	}
	return fired
}

// Pending reports how many callbacks are waiting.
func (p *VirtualPump) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// NowMs returns the virtual time.
func (p *VirtualPump) NowMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowMs
}

var _ Pump = (*VirtualPump)(nil)
