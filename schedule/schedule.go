// Package schedule provides pure hyperparameter schedules and the
// driver that writes their values into live training objects at a fixed
// point of every step or epoch.
package schedule

import "math"

// Schedule maps a progress coordinate to a scalar. Progress is measured
// in epochs and may be fractional within an epoch. Schedules are pure
// and immutable; all run-time state lives in the driver.
type Schedule interface {
	At(progress float64) float64
}

// Const always yields V.
type Const struct {
	V float64
}

func (c Const) At(float64) float64 { return c.V }

// LinWarmup interpolates linearly from Start to End over WarmupLen and
// holds End afterwards. A zero WarmupLen yields End immediately.
type LinWarmup struct {
	Start, End float64
	WarmupLen  float64
}

func (l LinWarmup) At(progress float64) float64 {
	if progress >= l.WarmupLen || l.WarmupLen == 0 {
		return l.End
	}
	if progress <= 0 {
		return l.Start
	}
	return l.Start + (l.End-l.Start)*progress/l.WarmupLen
}

// Cosine anneals from Start to End along a half cosine over Duration.
// A zero Duration treats progress as a fraction in [0, 1].
type Cosine struct {
	Start, End float64
	Duration   float64
}

func (c Cosine) At(progress float64) float64 {
	d := c.Duration
	if d == 0 {
		d = 1
	}
	t := progress / d
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return c.End + (c.Start-c.End)*0.5*(1+math.Cos(math.Pi*t))
}
