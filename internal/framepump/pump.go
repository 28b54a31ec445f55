// Package framepump provides the frame sources that drive playback: a real
// ticker for interactive use and a virtual clock for tests and headless
// consumers. A Pump never calls back more than once per Schedule.
package framepump

// FrameFunc receives the wall-clock time elapsed since the previous frame, in milliseconds.
type FrameFunc func(deltaMs float64)

// Handle identifies a pending frame registration.
type Handle uint64

// Pump schedules a single callback for the next frame. Cancel with a stale or
// zero handle is a no-op.
type Pump interface {
	Schedule(cb FrameFunc) Handle
	Cancel(h Handle)
}
