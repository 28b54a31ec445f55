package framepump

import (
	"context"
	"sync"
	"time"
)

// DefaultFPS is the frame rate used when TickerPump is created with fps <= 0.
const DefaultFPS = 60

// TickerPump delivers frames from a real ticker. The delta passed to callbacks
// is measured wall time between consecutive frames, not the nominal interval.
type TickerPump struct {
	mu       sync.Mutex
	next     Handle
	pending  map[Handle]FrameFunc
	interval time.Duration
	last     time.Time
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTickerPump creates a pump running at fps frames per second.
func NewTickerPump(fps int) *TickerPump {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &TickerPump{
		pending:  make(map[Handle]FrameFunc),
		interval: time.Second / time.Duration(fps),
		now:      time.Now,
	}
}

// Start launches the frame loop. It stops when ctx is cancelled or Stop is called.
func (p *TickerPump) Start(ctx context.Context) {
	p.mu.Lock()
	if p.done != nil {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.last = p.now()
	p.mu.Unlock()

	go p.loop(loopCtx)
}

// Stop halts the frame loop and waits for it to exit. Pending callbacks are dropped.
func (p *TickerPump) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	p.pending = make(map[Handle]FrameFunc)
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
}

func (p *TickerPump) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fire()
		}
	}
}

// fire delivers one frame to every pending callback.
func (p *TickerPump) fire() {
	p.mu.Lock()
	now := p.now()
	delta := float64(now.Sub(p.last)) / float64(time.Millisecond)
	p.last = now
	due := p.pending
	if len(due) > 0 {
		p.pending = make(map[Handle]FrameFunc)
	}
	p.mu.Unlock()

	for _, cb := range due {
		cb(delta)
	}
}

// Schedule registers cb for the next frame.
func (p *TickerPump) Schedule(cb FrameFunc) Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.pending[p.next] = cb
	return p.next
}

// Cancel drops a pending registration.
func (p *TickerPump) Cancel(h Handle) {
	p.mu.Lock()
	delete(p.pending, h)
	p.mu.Unlock()
}

var _ Pump = (*TickerPump)(nil)
