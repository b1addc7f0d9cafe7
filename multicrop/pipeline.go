package multicrop

import (
	"context"
	"image"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/selfdist/dino/tensor"
)

// Stream applies the policy to every image from in using the given
// number of parallel workers, feeding a bounded prefetch queue. Each
// worker owns a private rng seeded from seed, so no synchronization is
// needed between them. The returned channel is closed once all workers
// finish; wait reports the first worker error, or the context error on
// cancellation.
//
// Crop sets may arrive out of input order. Each element of the output
// slice corresponds to one crop specification, in specification order.
func (p *Policy) Stream(ctx context.Context, in <-chan *image.RGBA, workers, prefetch int, seed int64) (out <-chan []*tensor.Tensor, wait func() error) {
	if workers < 1 {
		workers = 1
	}
	ch := make(chan []*tensor.Tensor, prefetch)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		rng := rand.New(rand.NewSource(seed + int64(i)))
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case img, open := <-in:
					if !open {
						return nil
					}
					select {
					case <-ctx.Done():
						return ctx.Err()
					case ch <- p.Apply(img, rng):
					}
				}
			}
		})
	}

	go func() {
		g.Wait()
		close(ch)
	}()

	return ch, g.Wait
}
