package cmd

import (
	"context"
	"image"
	"image/color"
	"math/rand"

	"github.com/selfdist/dino/dino"
	"github.com/selfdist/dino/multicrop"
	"github.com/selfdist/dino/tensor"
)

// syntheticImages fabricates a stand-in dataset: per-class intensity
// gradients under Gaussian noise. Good enough to drive the full
// augmentation and training path without external data.
func syntheticImages(rng *rand.Rand, n, size, classes int) []*image.RGBA {
	clamp := func(v float64) uint8 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v)
	}

	imgs := make([]*image.RGBA, n)
	for i := range imgs {
		class := rng.Intn(classes)
		base := float64(class) / float64(classes)

		img := image.NewRGBA(image.Rect(0, 0, size, size))
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				signal := base * 255 * float64(x+y) / float64(2*size)
				noise := rng.NormFloat64() * 30
				img.SetRGBA(x, y, color.RGBA{
					R: clamp(signal + noise),
					G: clamp(signal + rng.NormFloat64()*30),
					B: clamp(255*base + noise),
					A: 255,
				})
			}
		}
		imgs[i] = img
	}
	return imgs
}

// collectBatches pushes the images through the augmentation pipeline
// and groups the per-sample crop lists into fixed-size batches, one
// stacked tensor per crop position. A trailing partial batch is
// dropped.
func collectBatches(ctx context.Context, policy *multicrop.Policy, imgs []*image.RGBA, batchSize, workers int, seed int64) ([]dino.Batch, error) {
	in := make(chan *image.RGBA)
	go func() {
		defer close(in)
		for _, img := range imgs {
			select {
			case in <- img:
			case <-ctx.Done():
				return
			}
		}
	}()

	out, wait := policy.Stream(ctx, in, workers, batchSize, seed)

	var samples [][]*tensor.Tensor
	for crops := range out {
		samples = append(samples, crops)
	}
	if err := wait(); err != nil {
		return nil, err
	}

	numCrops := len(policy.Specs())
	var batches []dino.Batch
	for start := 0; start+batchSize <= len(samples); start += batchSize {
		crops := make([]*tensor.Tensor, numCrops)
		for c := 0; c < numCrops; c++ {
			views := make([]*tensor.Tensor, batchSize)
			for b := 0; b < batchSize; b++ {
				views[b] = samples[start+b][c]
			}
			crops[c] = tensor.Stack(views)
		}
		batches = append(batches, dino.Batch{Crops: crops})
	}
	return batches, nil
}
