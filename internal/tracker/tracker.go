// Package tracker turns a stream of pointer samples into a velocity estimate
// and detects edge crossings gated by that velocity.
package tracker

import (
	"time"

	"tx2tx/internal/types"
)

const (
	// PositionHistorySize is the number of recent samples kept for the
	// velocity estimate; the ring overwrites its oldest entry on push.
	PositionHistorySize = 5

	// MinSamplesForVelocity is the minimum sample count needed before a
	// non-zero velocity can be reported.
	MinSamplesForVelocity = 2
)

type sample struct {
	pos types.Position
	at  time.Time
}

// Tracker keeps a bounded ring of (position, timestamp) samples and answers
// velocity and boundary queries. It is used only from the polling loop and
// holds no reference to display state.
type Tracker struct {
	edgeThreshold     int
	velocityThreshold float64

	samples [PositionHistorySize]sample
	count   int
	next    int
}

// New creates a tracker with the configured edge and velocity thresholds.
func New(edgeThreshold int, velocityThreshold float64) *Tracker {
	return &Tracker{
		edgeThreshold:     edgeThreshold,
		velocityThreshold: velocityThreshold,
	}
}

// Push records one pointer sample, overwriting the oldest when full.
func (t *Tracker) Push(pos types.Position, at time.Time) {
	t.samples[t.next] = sample{pos: pos, at: at}
	t.next = (t.next + 1) % PositionHistorySize
	if t.count < PositionHistorySize {
		t.count++
	}
}

// Velocity returns the Manhattan distance between the oldest and newest
// samples divided by their time delta, in pixels per second. With fewer than
// MinSamplesForVelocity samples, or a zero time delta, it returns 0.
func (t *Tracker) Velocity() float64 {
	if t.count < MinSamplesForVelocity {
		return 0
	}

	newest := t.samples[(t.next+PositionHistorySize-1)%PositionHistorySize]
	oldestIdx := 0
	if t.count == PositionHistorySize {
		oldestIdx = t.next
	}
	oldest := t.samples[oldestIdx]

	dt := newest.at.Sub(oldest.at).Seconds()
	if dt <= 0 {
		return 0
	}

	// Manhattan distance is good enough for an edge-resistance gate.
	distance := absInt(newest.pos.X-oldest.pos.X) + absInt(newest.pos.Y-oldest.pos.Y)
	return float64(distance) / dt
}

// BoundaryDetect returns a transition when the position is within the edge
// threshold of an outer edge and the current velocity meets the threshold.
// Horizontal (left/right) edges win over vertical edges in corners.
func (t *Tracker) BoundaryDetect(pos types.Position, geom types.Screen) *types.Transition {
	var dir types.Direction
	switch {
	case pos.X <= t.edgeThreshold:
		dir = types.DirLeft
	case pos.X >= geom.Width-t.edgeThreshold-1:
		dir = types.DirRight
	case pos.Y <= t.edgeThreshold:
		dir = types.DirTop
	case pos.Y >= geom.Height-t.edgeThreshold-1:
		dir = types.DirBottom
	default:
		return nil
	}

	if t.Velocity() < t.velocityThreshold {
		return nil
	}
	return &types.Transition{Direction: dir, Position: pos}
}

// Reset clears the sample ring. Called after every warp and context change
// so the warp itself is not seen as high-velocity motion.
func (t *Tracker) Reset() {
	t.count = 0
	t.next = 0
}

// VelocityThreshold returns the configured velocity threshold.
func (t *Tracker) VelocityThreshold() float64 {
	return t.velocityThreshold
}

// SetThresholds updates the edge and velocity thresholds; used when the
// config file is reloaded at runtime.
func (t *Tracker) SetThresholds(edge int, velocity float64) {
	t.edgeThreshold = edge
	t.velocityThreshold = velocity
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
