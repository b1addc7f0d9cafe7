package dino

import (
	"fmt"
	"math/rand"

	"github.com/selfdist/dino/multicrop"
	"github.com/selfdist/dino/nn"
	"github.com/selfdist/dino/optim"
	"github.com/selfdist/dino/schedule"
	"github.com/selfdist/dino/tensor"
)

// ReferenceBatchSize anchors the linear scaling rule for the learning
// rate.
const ReferenceBatchSize = 256

// Config assembles a trainer. Zero-valued schedule fields fall back to
// the canonical defaults; LR and WeightDecay are optional and leave the
// optimizer's initial values untouched when nil.
type Config struct {
	Crops   []multicrop.CropSpec
	Encoder nn.Encoder
	Head    HeadConfig

	// Epochs scales the default teacher-momentum schedule and the
	// trainer's notion of progress; it must match the fit loop.
	Epochs int

	UpdateMode UpdateMode // default UpdateEMA

	TeacherMomentum       schedule.Schedule // default Cosine(0.996, 1, Epochs)
	TeacherCenterMomentum schedule.Schedule // default Const(0.9)
	TeacherTemp           schedule.Schedule // default LinWarmup(0.04, 0.04, 0)
	StudentTemp           schedule.Schedule // default Const(0.1)
	LR                    schedule.Schedule
	WeightDecay           schedule.Schedule

	// NewOptimizer builds the optimizer over the (bias, regular)
	// parameter groups. Default is AdamW.
	NewOptimizer func([]*optim.ParamGroup) optim.Optimizer

	// WNFreezeEpochs is the number of initial epochs during which the
	// weight-normalized projection receives no updates.
	WNFreezeEpochs int

	Seed int64
}

// Trainer owns the student/teacher pair, the scheduler, the teacher
// update rule, and the optimizer, and defines the per-step contract.
// The fit loop must drive the phases in a fixed total order every
// step: ApplyStepSchedules, UpdateTeacherStep, TrainingStep,
// FreezeWeightNorm, the optimizer step. That ordering is a correctness
// requirement: bound values must be current before their consumers
// run.
type Trainer struct {
	Student *Model
	Teacher *Model
	Updater *TeacherUpdate
	Sched   *schedule.Scheduler
	Opt     optim.Optimizer

	WNFreezeEpochs int

	teacherIdx []int
	studentIdx []int
	numCrops   int
}

// New builds the student from the config, derives the teacher as a
// parameter-by-parameter clone, fixes the crop routing, and wires every
// schedule binding.
func New(cfg Config) (*Trainer, error) {
	if err := multicrop.Validate(cfg.Crops); err != nil {
		return nil, err
	}
	if cfg.Encoder == nil {
		return nil, fmt.Errorf("%w: nil encoder", ErrHeadConfig)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	head, err := NewHead(rng, cfg.Head)
	if err != nil {
		return nil, err
	}
	student, err := NewModel(cfg.Encoder, head)
	if err != nil {
		return nil, err
	}
	teacher := student.Clone()

	mode := cfg.UpdateMode
	if mode == "" {
		mode = UpdateEMA
	}
	updater, err := NewTeacherUpdate(mode, student, teacher)
	if err != nil {
		return nil, err
	}

	teacherIdx, studentIdx := multicrop.Routing(cfg.Crops)

	t := &Trainer{
		Student:        student,
		Teacher:        teacher,
		Updater:        updater,
		Sched:          &schedule.Scheduler{},
		WNFreezeEpochs: cfg.WNFreezeEpochs,
		teacherIdx:     teacherIdx,
		studentIdx:     studentIdx,
		numCrops:       len(cfg.Crops),
	}

	duration := float64(cfg.Epochs)
	tMom := cfg.TeacherMomentum
	if tMom == nil {
		tMom = schedule.Cosine{Start: 0.996, End: 1.0, Duration: duration}
	}
	tCMom := cfg.TeacherCenterMomentum
	if tCMom == nil {
		tCMom = schedule.Const{V: 0.9}
	}
	tTemp := cfg.TeacherTemp
	if tTemp == nil {
		tTemp = schedule.LinWarmup{Start: 0.04, End: 0.04, WarmupLen: 0}
	}
	sTemp := cfg.StudentTemp
	if sTemp == nil {
		sTemp = schedule.Const{V: 0.1}
	}

	// Binding order mirrors the phase order: the teacher update's
	// momentum first, then the head fields, then the optimizer.
	t.Sched.Add("momentum", tMom, func(v float64) { updater.Momentum = v })
	t.Sched.Add("center_momentum", tCMom, func(v float64) { teacher.Head.CenterMomentum = v })
	t.Sched.Add("teacher_temp", tTemp, func(v float64) { teacher.Head.Temp = v })
	t.Sched.Add("student_temp", sTemp, func(v float64) { student.Head.Temp = v })

	newOpt := cfg.NewOptimizer
	if newOpt == nil {
		newOpt = func(groups []*optim.ParamGroup) optim.Optimizer { return optim.NewAdamW(groups) }
	}
	// 1e-3 is the optimizer default when no LR schedule is bound.
	groups := optim.NewGroups(student.Params(), 1e-3)
	t.Opt = newOpt(groups)

	if cfg.LR != nil {
		for _, g := range t.Opt.Groups() {
			g := g
			t.Sched.Add("lr", cfg.LR, func(v float64) { g.LR = v })
		}
	}
	if cfg.WeightDecay != nil {
		// no weight decay on the bias group
		regular := t.Opt.Groups()[1]
		t.Sched.Add("weight_decay", cfg.WeightDecay, func(v float64) { regular.WeightDecay = v })
	}

	return t, nil
}

// TeacherRouting returns the crop indices consumed by the teacher.
func (t *Trainer) TeacherRouting() []int { return t.teacherIdx }

// StudentRouting returns the crop indices consumed by the student.
func (t *Trainer) StudentRouting() []int { return t.studentIdx }

func pick(crops []*tensor.Tensor, idx []int) []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(idx))
	for i, j := range idx {
		out[i] = crops[j]
	}
	return out
}

func (t *Trainer) checkCrops(crops []*tensor.Tensor) error {
	if len(crops) != t.numCrops {
		return fmt.Errorf("%w: got %d crop batches, routing expects %d",
			ErrShapeMismatch, len(crops), t.numCrops)
	}
	return nil
}

// ApplyStepSchedules applies the per-step bindings; progress is
// epoch-valued and fractional within an epoch.
func (t *Trainer) ApplyStepSchedules(progress float64) { t.Sched.Step(progress) }

// ApplyEpochSchedules applies the per-epoch bindings.
func (t *Trainer) ApplyEpochSchedules(progress float64) { t.Sched.Epoch(progress) }

// UpdateTeacherStep applies the EMA teacher update for the previously
// completed optimizer step. Before any step has completed, teacher and
// student are identical and the blend has no effect.
func (t *Trainer) UpdateTeacherStep() { t.Updater.StepUpdate() }

// UpdateTeacherEpoch applies the copy-mode teacher update at epoch end.
func (t *Trainer) UpdateTeacherEpoch() { t.Updater.EpochUpdate() }

// ScaleLR applies the linear batch-size scaling rule to the learning
// rate schedule. It is safe to call on resume: the factor is applied at
// most once.
func (t *Trainer) ScaleLR(batchSize int) {
	t.Sched.ScaleOnce("lr", float64(batchSize)/ReferenceBatchSize)
}

// TrainingStep runs the teacher forward without gradient state, the
// student forward with caches, computes the multi-crop loss, and
// backpropagates through the student. Gradients accumulate; the caller
// zeroes them and steps the optimizer.
func (t *Trainer) TrainingStep(crops []*tensor.Tensor) (LossStats, error) {
	var stats LossStats
	if err := t.checkCrops(crops); err != nil {
		return stats, err
	}

	teacherLog, err := t.Teacher.Forward(pick(crops, t.teacherIdx))
	if err != nil {
		return stats, err
	}
	studentLog, cache, err := t.Student.ForwardWithCache(pick(crops, t.studentIdx))
	if err != nil {
		return stats, err
	}

	stats, grad, err := MultiCropLoss(studentLog, teacherLog, t.studentIdx, t.teacherIdx)
	if err != nil {
		return stats, err
	}
	t.Student.Backward(grad, cache)
	return stats, nil
}

// ValidationStep computes the same loss without any gradient work.
func (t *Trainer) ValidationStep(crops []*tensor.Tensor) (LossStats, error) {
	var stats LossStats
	if err := t.checkCrops(crops); err != nil {
		return stats, err
	}

	teacherLog, err := t.Teacher.Forward(pick(crops, t.teacherIdx))
	if err != nil {
		return stats, err
	}
	studentLog, err := t.Student.Forward(pick(crops, t.studentIdx))
	if err != nil {
		return stats, err
	}

	stats, _, err = MultiCropLoss(studentLog, teacherLog, t.studentIdx, t.teacherIdx)
	return stats, err
}

// FreezeWeightNorm zeroes the gradients of the weight-normalized output
// projection while epoch < WNFreezeEpochs, holding those parameters at
// their initialization while the rest of the head settles.
func (t *Trainer) FreezeWeightNorm(epoch int) {
	if epoch >= t.WNFreezeEpochs {
		return
	}
	for _, p := range t.Student.Head.WeightNormParams() {
		p.ZeroGrad()
	}
}

// ZeroGrad clears all student gradients.
func (t *Trainer) ZeroGrad() { t.Opt.ZeroGrad() }

// OptimizerStep applies the optimizer update.
func (t *Trainer) OptimizerStep() { t.Opt.Step() }

// CurrentLR reports the live learning rate of the regular parameter
// group, for logging.
func (t *Trainer) CurrentLR() float64 { return t.Opt.Groups()[1].LR }
