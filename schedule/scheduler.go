package schedule

// Cadence selects whether a binding is applied once per optimizer step
// or once per epoch.
type Cadence int

const (
	PerStep Cadence = iota
	PerEpoch
)

// Binding connects a schedule to one mutable attribute of a live
// object. The attribute is addressed by a setter resolved once at
// construction instead of looked up dynamically on every step.
type Binding struct {
	Name    string
	Sched   Schedule
	Cadence Cadence
	Set     func(float64)

	scale  float64
	scaled bool
}

// Value returns the schedule value at progress with any one-time
// scaling applied.
func (b *Binding) Value(progress float64) float64 {
	v := b.Sched.At(progress)
	if b.scaled {
		v *= b.scale
	}
	return v
}

// Scheduler owns an ordered list of bindings and applies them before
// the consumers of the bound values run. Application order is the
// insertion order; the trainer relies on this being deterministic.
type Scheduler struct {
	bindings []*Binding
}

// Add registers a binding applied once per step.
func (s *Scheduler) Add(name string, sched Schedule, set func(float64)) *Binding {
	return s.AddWithCadence(name, sched, PerStep, set)
}

// AddWithCadence registers a binding with an explicit cadence.
func (s *Scheduler) AddWithCadence(name string, sched Schedule, cadence Cadence, set func(float64)) *Binding {
	b := &Binding{Name: name, Sched: sched, Cadence: cadence, Set: set}
	s.bindings = append(s.bindings, b)
	return b
}

// Step applies all per-step bindings at the given progress.
func (s *Scheduler) Step(progress float64) {
	s.apply(PerStep, progress)
}

// Epoch applies all per-epoch bindings at the given progress.
func (s *Scheduler) Epoch(progress float64) {
	s.apply(PerEpoch, progress)
}

func (s *Scheduler) apply(cadence Cadence, progress float64) {
	for _, b := range s.bindings {
		if b.Cadence == cadence {
			b.Set(b.Value(progress))
		}
	}
}

// ScaleOnce multiplies the values of every binding with the given name
// by factor. Used for the linear batch-size scaling of the learning
// rate at run start; repeated calls are ignored so that resuming a run
// does not compound the factor.
func (s *Scheduler) ScaleOnce(name string, factor float64) {
	for _, b := range s.bindings {
		if b.Name != name || b.scaled {
			continue
		}
		b.scale = factor
		b.scaled = true
	}
}

// Bindings returns the registered bindings in application order.
func (s *Scheduler) Bindings() []*Binding {
	return s.bindings
}
