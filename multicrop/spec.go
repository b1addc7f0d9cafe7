// Package multicrop implements the multi-crop augmentation policy: a
// fixed list of named crop specifications, each producing one randomly
// resized crop of the source image per call, with a subset of the crop
// indices routed to the teacher and a subset to the student.
package multicrop

import (
	"errors"
	"fmt"
)

// Configuration errors surfaced at policy construction.
var (
	ErrEmptySpec     = errors.New("multicrop: empty crop specification")
	ErrDuplicateName = errors.New("multicrop: duplicate crop name")
	ErrScaleBounds   = errors.New("multicrop: invalid scale bounds")
	ErrOutputSize    = errors.New("multicrop: invalid output size")
	ErrNoTeacherCrop = errors.New("multicrop: no crop routed to teacher")
	ErrNoStudentCrop = errors.New("multicrop: no crop routed to student")
)

// CropSpec describes one crop: its output resolution, the sampled area
// fraction range, and which roles consume it.
type CropSpec struct {
	Name       string
	OutputSize int
	MinScale   float64
	MaxScale   float64
	Teacher    bool
	Student    bool
}

// Validate checks a crop specification list for construction errors:
// emptiness, duplicate names, scale bounds, and missing role coverage.
func Validate(specs []CropSpec) error {
	if len(specs) == 0 {
		return ErrEmptySpec
	}
	names := make(map[string]bool, len(specs))
	teacher, student := false, false
	for _, s := range specs {
		if names[s.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, s.Name)
		}
		names[s.Name] = true
		if s.OutputSize <= 0 {
			return fmt.Errorf("%w: crop %q: %d", ErrOutputSize, s.Name, s.OutputSize)
		}
		if s.MinScale <= 0 || s.MaxScale > 1 || s.MinScale > s.MaxScale {
			return fmt.Errorf("%w: crop %q: [%v, %v]", ErrScaleBounds, s.Name, s.MinScale, s.MaxScale)
		}
		teacher = teacher || s.Teacher
		student = student || s.Student
	}
	if !teacher {
		return ErrNoTeacherCrop
	}
	if !student {
		return ErrNoStudentCrop
	}
	return nil
}

// Routing returns the ordered crop indices consumed by the teacher and
// by the student. It is derived once at model construction and treated
// as immutable afterwards.
func Routing(specs []CropSpec) (teacher, student []int) {
	for i, s := range specs {
		if s.Teacher {
			teacher = append(teacher, i)
		}
		if s.Student {
			student = append(student, i)
		}
	}
	return teacher, student
}

// GlobalLocalSpec returns the conventional two-global, n-local layout:
// global crops are seen by both roles, local crops by the student only.
func GlobalLocalSpec(globalSize, localSize, locals int) []CropSpec {
	specs := []CropSpec{
		{Name: "global1", OutputSize: globalSize, MinScale: 0.4, MaxScale: 1.0, Teacher: true, Student: true},
		{Name: "global2", OutputSize: globalSize, MinScale: 0.4, MaxScale: 1.0, Teacher: true, Student: true},
	}
	for i := 0; i < locals; i++ {
		specs = append(specs, CropSpec{
			Name:       fmt.Sprintf("local%d", i+1),
			OutputSize: localSize,
			MinScale:   0.05,
			MaxScale:   0.4,
			Student:    true,
		})
	}
	return specs
}
