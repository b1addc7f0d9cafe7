package tensor

import "math/rand"

// TruncNormal fills a new tensor with samples from N(0, std²) truncated
// to ±2 std, the initialization used for projection-head weights.
func TruncNormal(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		for {
			v := rng.NormFloat64()
			if v >= -2 && v <= 2 {
				t.Data[i] = v * std
				break
			}
		}
	}
	return t
}

// Randn fills a new tensor with standard normal samples.
func Randn(rng *rand.Rand, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64()
	}
	return t
}
