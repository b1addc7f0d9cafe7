package dino

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/selfdist/dino/tensor"
)

// Batch is one training batch: the full ordered crop list produced by
// the multi-crop policy, batched per crop, plus labels the core ignores
// but probes downstream may use.
type Batch struct {
	Crops  []*tensor.Tensor
	Labels []int
}

// StepRecord is what the fit loop hands to a metrics recorder after
// every optimizer step.
type StepRecord struct {
	Step  int
	Epoch int
	Stats LossStats

	LR       float64
	Momentum float64
}

// Recorder receives per-step training metrics. The history store
// implements it; a nil recorder disables recording.
type Recorder interface {
	RecordStep(rec StepRecord) error
}

// FitConfig drives Fit.
type FitConfig struct {
	Epochs    int
	BatchSize int

	// ClipNorm caps the global gradient norm when positive.
	ClipNorm float64

	// LogEvery emits a progress line every n steps; zero logs every
	// 50.
	LogEvery int

	Recorder Recorder
}

// Fit runs the training loop. The per-step phases execute in a fixed
// total order — schedule application, teacher update, forward/backward,
// weight-norm freeze, optimizer step — so every bound value is current
// before its consumer runs; the order is part of the training
// contract, not an implementation detail. Copy-mode teacher updates
// run at epoch end, and validation follows each epoch.
func (t *Trainer) Fit(ctx context.Context, train, val []Batch, cfg FitConfig) error {
	if len(train) == 0 {
		return fmt.Errorf("dino: no training batches")
	}
	logEvery := cfg.LogEvery
	if logEvery <= 0 {
		logEvery = 50
	}

	t.ScaleLR(cfg.BatchSize)

	step := 0
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		t.ApplyEpochSchedules(float64(epoch))

		for i, batch := range train {
			if err := ctx.Err(); err != nil {
				return err
			}
			progress := float64(epoch) + float64(i)/float64(len(train))

			t.ApplyStepSchedules(progress)
			t.UpdateTeacherStep()
			t.ZeroGrad()

			stats, err := t.TrainingStep(batch.Crops)
			if err != nil {
				return fmt.Errorf("training step %d: %w", step, err)
			}

			t.FreezeWeightNorm(epoch)
			if cfg.ClipNorm > 0 {
				tensor.ClipGradNorm(t.Student.Params(), cfg.ClipNorm)
			}
			t.OptimizerStep()
			step++

			if step%logEvery == 0 {
				slog.Info("train",
					"step", step,
					"epoch", epoch,
					"ce", stats.CrossEntropy,
					"kl", stats.KLDivergence,
					"lr", t.CurrentLR(),
					"momentum", t.Updater.Momentum)
			}
			if cfg.Recorder != nil {
				rec := StepRecord{
					Step:     step,
					Epoch:    epoch,
					Stats:    stats,
					LR:       t.CurrentLR(),
					Momentum: t.Updater.Momentum,
				}
				if err := cfg.Recorder.RecordStep(rec); err != nil {
					return fmt.Errorf("record step %d: %w", step, err)
				}
			}
		}

		t.UpdateTeacherEpoch()

		if len(val) > 0 {
			ce, kl, err := t.validate(val)
			if err != nil {
				return fmt.Errorf("validation after epoch %d: %w", epoch, err)
			}
			slog.Info("validate", "epoch", epoch, "ce", ce, "kl", kl)
		}
	}

	// EMA for the final optimizer step of the run
	t.UpdateTeacherStep()
	return nil
}

func (t *Trainer) validate(val []Batch) (ce, kl float64, err error) {
	for _, batch := range val {
		stats, err := t.ValidationStep(batch.Crops)
		if err != nil {
			return 0, 0, err
		}
		ce += stats.CrossEntropy
		kl += stats.KLDivergence
	}
	n := float64(len(val))
	return ce / n, kl / n, nil
}
