package dino

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/selfdist/dino/tensor"
)

// LossStats are the per-step loss aggregates and diagnostics. The
// training objective minimizes CrossEntropy; KLDivergence and the
// per-crop entropies are diagnostic only.
type LossStats struct {
	CrossEntropy float64
	KLDivergence float64

	// Batch-mean entropy per crop, in crop order of each role.
	StudentEntropy []float64
	TeacherEntropy []float64
}

// logFloor guards against 0·(−inf) when a probability underflows to
// zero; contributions below it are dropped and reported as a
// numerical-instability warning instead of poisoning the aggregate.
const logFloor = -700

// MultiCropLoss pairs every teacher crop with every student crop of a
// different original index and averages the per-pair batch-mean cross
// entropies (teacher as target, student as prediction). Self-index
// pairs are absent from numerator and pair count alike. The returned
// gradient is with respect to the student log probabilities.
func MultiCropLoss(studentLog, teacherLog *tensor.Tensor, studentIdx, teacherIdx []int) (LossStats, *tensor.Tensor, error) {
	var stats LossStats

	if studentLog.Rank() != 3 || teacherLog.Rank() != 3 {
		return stats, nil, fmt.Errorf("%w: loss inputs must be [crops, batch, out]", ErrShapeMismatch)
	}
	if studentLog.Dim(0) != len(studentIdx) || teacherLog.Dim(0) != len(teacherIdx) {
		return stats, nil, fmt.Errorf("%w: crop axes %d/%d disagree with routing %d/%d",
			ErrShapeMismatch, studentLog.Dim(0), teacherLog.Dim(0), len(studentIdx), len(teacherIdx))
	}
	batch, out := studentLog.Dim(1), studentLog.Dim(2)
	if teacherLog.Dim(1) != batch || teacherLog.Dim(2) != out {
		return stats, nil, fmt.Errorf("%w: student %v, teacher %v",
			ErrShapeMismatch, studentLog.Shape(), teacherLog.Shape())
	}

	degenerate := false

	// Per-crop, per-batch-element entropy −Σ p·log p, reusing the log
	// probabilities already computed by the head.
	entropy := func(logP *tensor.Tensor) ([][]float64, []float64) {
		crops := logP.Dim(0)
		perElem := make([][]float64, crops)
		perCrop := make([]float64, crops)
		for c := 0; c < crops; c++ {
			perElem[c] = make([]float64, batch)
			for b := 0; b < batch; b++ {
				h := 0.0
				for k := 0; k < out; k++ {
					lp := logP.At(c, b, k)
					if lp < logFloor {
						degenerate = true
						continue
					}
					h -= math.Exp(lp) * lp
				}
				perElem[c][b] = h
			}
			s := 0.0
			for _, h := range perElem[c] {
				s += h
			}
			perCrop[c] = s / float64(batch)
		}
		return perElem, perCrop
	}

	teacherH, teacherHPerCrop := entropy(teacherLog)
	_, studentHPerCrop := entropy(studentLog)
	stats.TeacherEntropy = teacherHPerCrop
	stats.StudentEntropy = studentHPerCrop

	grad := tensor.New(studentLog.Shape()...)
	pairs := 0
	ceSum, klSum := 0.0, 0.0

	for ti, tOrig := range teacherIdx {
		for si, sOrig := range studentIdx {
			if tOrig == sOrig {
				continue
			}
			pairs++

			ceBatch := 0.0
			for b := 0; b < batch; b++ {
				ce := 0.0
				for k := 0; k < out; k++ {
					lt := teacherLog.At(ti, b, k)
					if lt < logFloor {
						degenerate = true
						continue
					}
					targ := math.Exp(lt)
					ce -= targ * studentLog.At(si, b, k)
					grad.Data[(si*batch+b)*out+k] -= targ
				}
				ceBatch += ce
				klSum += (ce - teacherH[ti][b]) / float64(batch)
			}
			ceSum += ceBatch / float64(batch)
		}
	}

	if pairs == 0 {
		return stats, nil, ErrNoValidPairs
	}
	if degenerate {
		slog.Warn("degenerate probability distribution in multi-crop loss; near-zero terms dropped")
	}

	norm := float64(pairs)
	stats.CrossEntropy = ceSum / norm
	stats.KLDivergence = klSum / norm
	grad.Scale(1 / (norm * float64(batch)))

	return stats, grad, nil
}
