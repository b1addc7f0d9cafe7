package dino

import (
	"fmt"
)

// UpdateMode selects how teacher parameters follow the student.
type UpdateMode string

const (
	// UpdateEMA blends teacher parameters toward the student after
	// every completed optimizer step.
	UpdateEMA UpdateMode = "ema"

	// UpdateCopy overwrites teacher parameters with the student's at
	// the end of every training epoch.
	UpdateCopy UpdateMode = "copy"
)

// TeacherUpdate rewrites teacher parameters from student parameters.
// The mode is fixed at construction; Momentum is mutable and driven by
// a schedule in EMA mode. Teacher parameters are written here and
// nowhere else — they are never registered with an optimizer and never
// accumulate gradients.
type TeacherUpdate struct {
	Mode     UpdateMode
	Momentum float64

	student *Model
	teacher *Model
}

// NewTeacherUpdate pairs the two models. The parameter lists must come
// from clones of the same construction so they match in order and
// shape.
func NewTeacherUpdate(mode UpdateMode, student, teacher *Model) (*TeacherUpdate, error) {
	switch mode {
	case UpdateEMA, UpdateCopy:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpdateMode, mode)
	}

	sp, tp := student.Params(), teacher.Params()
	if len(sp) != len(tp) {
		return nil, fmt.Errorf("%w: student has %d parameters, teacher %d",
			ErrShapeMismatch, len(sp), len(tp))
	}
	for i := range sp {
		if sp[i].Size() != tp[i].Size() {
			return nil, fmt.Errorf("%w: parameter %d sizes %d and %d",
				ErrShapeMismatch, i, sp[i].Size(), tp[i].Size())
		}
	}

	return &TeacherUpdate{Mode: mode, Momentum: 0.996, student: student, teacher: teacher}, nil
}

// StepUpdate applies the EMA rule t ← m·t + (1−m)·s to every parameter
// pair. It is a no-op in copy mode.
func (u *TeacherUpdate) StepUpdate() {
	if u.Mode != UpdateEMA {
		return
	}
	m := u.Momentum
	sp, tp := u.student.Params(), u.teacher.Params()
	for i, s := range sp {
		t := tp[i]
		for j := range t.Data {
			t.Data[j] = m*t.Data[j] + (1-m)*s.Data[j]
		}
	}
}

// EpochUpdate copies student parameters into the teacher. It is a
// no-op in EMA mode.
func (u *TeacherUpdate) EpochUpdate() {
	if u.Mode != UpdateCopy {
		return
	}
	sp, tp := u.student.Params(), u.teacher.Params()
	for i, s := range sp {
		copy(tp[i].Data, s.Data)
	}
}
