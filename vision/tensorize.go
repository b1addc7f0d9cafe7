package vision

import (
	"image"

	"github.com/selfdist/dino/tensor"
)

// Standard per-channel normalization values.
var (
	// ImageNet default (ResNet and friends).
	ImageNetMean = [3]float64{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float64{0.229, 0.224, 0.225}

	// Symmetric normalization to [-1, 1].
	StandardMean = [3]float64{0.5, 0.5, 0.5}
	StandardStd  = [3]float64{0.5, 0.5, 0.5}
)

// ToTensor converts an RGBA image to a [3, H, W] tensor with values
// scaled to [0, 1].
func ToTensor(img *image.RGBA) *tensor.Tensor {
	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	out := tensor.New(3, h, w)
	plane := h * w

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// RGBA returns 16-bit values
			out.Data[i] = float64(r>>8) / 255
			out.Data[plane+i] = float64(g>>8) / 255
			out.Data[2*plane+i] = float64(b>>8) / 255
			i++
		}
	}
	return out
}

// Normalize applies per-channel (x - mean) / std in place to a
// [3, H, W] tensor and returns it.
func Normalize(t *tensor.Tensor, mean, std [3]float64) *tensor.Tensor {
	plane := t.Dim(1) * t.Dim(2)
	for c := 0; c < 3; c++ {
		for i := c * plane; i < (c+1)*plane; i++ {
			t.Data[i] = (t.Data[i] - mean[c]) / std[c]
		}
	}
	return t
}
