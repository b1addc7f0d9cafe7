package vision

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func fillImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestToTensor(t *testing.T) {
	img := fillImage(2, 2, color.RGBA{255, 0, 0, 255})
	ten := ToTensor(img)

	if got := ten.Shape(); got[0] != 3 || got[1] != 2 || got[2] != 2 {
		t.Fatalf("shape = %v", got)
	}
	if ten.At(0, 0, 0) != 1.0 {
		t.Errorf("R = %v, want 1", ten.At(0, 0, 0))
	}
	if ten.At(1, 0, 0) != 0.0 || ten.At(2, 0, 0) != 0.0 {
		t.Errorf("G,B = %v,%v, want 0,0", ten.At(1, 0, 0), ten.At(2, 0, 0))
	}
}

func TestNormalize(t *testing.T) {
	img := fillImage(2, 2, color.RGBA{127, 127, 127, 255})
	ten := Normalize(ToTensor(img), StandardMean, StandardStd)

	// 127/255 ≈ 0.498, (0.498 - 0.5) / 0.5 ≈ -0.004
	if math.Abs(ten.At(0, 0, 0)) > 0.01 {
		t.Errorf("normalized value = %v, want ~0", ten.At(0, 0, 0))
	}
}

func TestToRGBAGrayscale(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(0, 0, color.Gray{Y: 200})

	rgba := ToRGBA(gray)
	r, g, b, _ := rgba.At(0, 0).RGBA()
	if r != g || g != b {
		t.Errorf("grayscale conversion channels differ: %v %v %v", r, g, b)
	}
}
