package dino

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/selfdist/dino/nn"
	"github.com/selfdist/dino/tensor"
)

func testModel(t *testing.T, seed int64) *Model {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	enc := nn.NewMLPEncoder(rng, 3, 4, []int{16}, 8)
	head, err := NewHead(rng, HeadConfig{EmbedDim: 8, OutDim: 12, HiddenDims: []int{16}, BottleneckDim: 6, InitTemp: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewModel(enc, head)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func perturb(m *Model, rng *rand.Rand) {
	for _, p := range m.Params() {
		for i := range p.Data {
			p.Data[i] += 0.1 * rng.NormFloat64()
		}
	}
}

func TestNewTeacherUpdateUnknownMode(t *testing.T) {
	s := testModel(t, 1)
	if _, err := NewTeacherUpdate("momentum", s, s.Clone()); !errors.Is(err, ErrUnknownUpdateMode) {
		t.Errorf("NewTeacherUpdate() error = %v, want ErrUnknownUpdateMode", err)
	}
}

func TestEMAStepBlends(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	student := testModel(t, 2)
	teacher := student.Clone()
	perturb(student, rng)

	before := make([][]float64, len(teacher.Params()))
	for i, p := range teacher.Params() {
		before[i] = append([]float64{}, p.Data...)
	}

	u, err := NewTeacherUpdate(UpdateEMA, student, teacher)
	if err != nil {
		t.Fatal(err)
	}
	u.Momentum = 0.9
	u.StepUpdate()

	sp, tp := student.Params(), teacher.Params()
	for i := range tp {
		for j := range tp[i].Data {
			want := 0.9*before[i][j] + 0.1*sp[i].Data[j]
			if math.Abs(tp[i].Data[j]-want) > 1e-12 {
				t.Fatalf("param %d[%d] = %v, want %v", i, j, tp[i].Data[j], want)
			}
		}
	}
}

func TestEMAMomentumOneFreezesTeacher(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	student := testModel(t, 3)
	teacher := student.Clone()
	perturb(student, rng)

	before := make([][]float64, len(teacher.Params()))
	for i, p := range teacher.Params() {
		before[i] = append([]float64{}, p.Data...)
	}

	u, err := NewTeacherUpdate(UpdateEMA, student, teacher)
	if err != nil {
		t.Fatal(err)
	}
	u.Momentum = 1.0
	u.StepUpdate()

	for i, p := range teacher.Params() {
		for j, v := range p.Data {
			if v != before[i][j] {
				t.Fatalf("momentum 1.0 changed param %d[%d]", i, j)
			}
		}
	}
}

func TestEMAMomentumZeroCopiesStudent(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	student := testModel(t, 4)
	teacher := student.Clone()
	perturb(student, rng)

	u, err := NewTeacherUpdate(UpdateEMA, student, teacher)
	if err != nil {
		t.Fatal(err)
	}
	u.Momentum = 0.0
	u.StepUpdate()

	sp, tp := student.Params(), teacher.Params()
	for i := range tp {
		for j := range tp[i].Data {
			if tp[i].Data[j] != sp[i].Data[j] {
				t.Fatalf("momentum 0.0 left param %d[%d] stale", i, j)
			}
		}
	}
}

func TestCopyModeEpochUpdate(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	student := testModel(t, 5)
	teacher := student.Clone()
	perturb(student, rng)

	u, err := NewTeacherUpdate(UpdateCopy, student, teacher)
	if err != nil {
		t.Fatal(err)
	}

	// per-step updates must not touch the teacher in copy mode
	u.StepUpdate()
	sp, tp := student.Params(), teacher.Params()
	if tp[0].Data[0] == sp[0].Data[0] {
		t.Fatal("StepUpdate moved the teacher in copy mode")
	}

	u.EpochUpdate()
	for i := range tp {
		for j := range tp[i].Data {
			if tp[i].Data[j] != sp[i].Data[j] {
				t.Fatalf("EpochUpdate left param %d[%d] unequal", i, j)
			}
		}
	}
}

func TestEpochUpdateNoOpInEMAMode(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	student := testModel(t, 6)
	teacher := student.Clone()
	perturb(student, rng)

	u, err := NewTeacherUpdate(UpdateEMA, student, teacher)
	if err != nil {
		t.Fatal(err)
	}
	u.EpochUpdate()

	if teacher.Params()[0].Data[0] == student.Params()[0].Data[0] {
		t.Error("EpochUpdate copied parameters in EMA mode")
	}
}

func TestModelForwardShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := testModel(t, 7)

	crops := []*tensor.Tensor{
		tensor.Randn(rng, 2, 3, 8, 8),
		tensor.Randn(rng, 2, 3, 6, 6),
	}
	y, err := m.Forward(crops)
	if err != nil {
		t.Fatal(err)
	}
	if s := y.Shape(); s[0] != 2 || s[1] != 2 || s[2] != 12 {
		t.Errorf("output shape = %v, want [2 2 12]", s)
	}
}

func TestModelRejectsUnevenBatches(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	m := testModel(t, 8)

	crops := []*tensor.Tensor{
		tensor.Randn(rng, 2, 3, 8, 8),
		tensor.Randn(rng, 3, 3, 8, 8),
	}
	if _, err := m.Forward(crops); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Forward() error = %v, want ErrShapeMismatch", err)
	}
}

func TestModelEmbedDimMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	enc := nn.NewMLPEncoder(rng, 3, 4, []int{16}, 8)
	head, err := NewHead(rng, DefaultHeadConfig(9, 12))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewModel(enc, head); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("NewModel() error = %v, want ErrShapeMismatch", err)
	}
}
