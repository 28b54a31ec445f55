package playback

import (
	"sync"

	"github.com/rendis/authflow/internal/framepump"
	"github.com/rendis/authflow/pkg/schema"
)

// SnapshotFunc observes the published state after every command and frame.
type SnapshotFunc func(Snapshot)

// Driver couples a Scheduler to a frame pump. It keeps exactly one frame
// registered while the scheduler is playing and cancels it as soon as playback
// stops, the flow is rebound, or the driver is closed, so no stale frame ever
// reaches the scheduler. All access to the scheduler goes through the driver's mutex.
type Driver struct {
	mu         sync.Mutex
	sched      *Scheduler
	pump       framepump.Pump
	handle     framepump.Handle
	gen        uint64
	onSnapshot SnapshotFunc
	closed     bool
}

// NewDriver wires sched to pump. onSnapshot may be nil.
func NewDriver(sched *Scheduler, pump framepump.Pump, onSnapshot SnapshotFunc) *Driver {
	d := &Driver{sched: sched, pump: pump, onSnapshot: onSnapshot}
	d.mu.Lock()
	d.syncFrameLocked()
	d.mu.Unlock()
	return d
}

// Apply runs a command and returns the resulting snapshot.
func (d *Driver) Apply(cmd Command) (Snapshot, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Snapshot{}, schema.NewError(schema.ErrCodeInvalidCommand, "playback driver is closed")
	}
	err := d.sched.Apply(cmd)
	d.syncFrameLocked()
	snap := d.sched.Snapshot()
	d.mu.Unlock()

	if err != nil {
		return snap, err
	}
	d.publish(snap)
	return snap, nil
}

// Bind swaps the flow definition. Any pending frame for the old flow is cancelled first.
func (d *Driver) Bind(def *schema.FlowDefinition) Snapshot {
	d.mu.Lock()
	d.cancelFrameLocked()
	d.sched.Bind(def)
	d.syncFrameLocked()
	snap := d.sched.Snapshot()
	d.mu.Unlock()

	d.publish(snap)
	return snap
}

// Snapshot returns the current state.
func (d *Driver) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sched.Snapshot()
}

// Definition returns the bound flow definition.
func (d *Driver) Definition() *schema.FlowDefinition {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sched.Definition()
}

// Close cancels any pending frame. Further commands are rejected.
func (d *Driver) Close() {
	d.mu.Lock()
	d.closed = true
	d.cancelFrameLocked()
	d.mu.Unlock()
}

// frame is the pump callback. gen identifies the registration it was created
// for; callbacks from cancelled registrations are ignored.
func (d *Driver) frame(gen uint64, deltaMs float64) {
	d.mu.Lock()
	if d.closed || gen != d.gen || d.handle == 0 {
		d.mu.Unlock()
		return
	}
	d.handle = 0
	d.sched.Tick(deltaMs)
	d.syncFrameLocked()
	snap := d.sched.Snapshot()
	d.mu.Unlock()

	d.publish(snap)
}

// syncFrameLocked registers a frame when playing and none is pending, and
// cancels the pending one when playback stopped.
func (d *Driver) syncFrameLocked() {
	playing := d.sched.Snapshot().IsPlaying
	switch {
	case playing && d.handle == 0 && !d.closed:
		d.gen++
		gen := d.gen
		d.handle = d.pump.Schedule(func(delta float64) { d.frame(gen, delta) })
	case !playing && d.handle != 0:
		d.cancelFrameLocked()
	}
}

func (d *Driver) cancelFrameLocked() {
	if d.handle != 0 {
		d.pump.Cancel(d.handle)
		d.handle = 0
	}
	d.gen++
}

func (d *Driver) publish(snap Snapshot) {
	if d.onSnapshot != nil {
		d.onSnapshot(snap)
	}
}
