// Package vision converts source images into the CHW float tensors the
// augmentation policy and encoders consume.
package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// LoadImage reads and decodes an image from a file path.
func LoadImage(path string) (*image.RGBA, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return DecodeImage(bytes.NewReader(data))
}

// DecodeImage decodes an image and converts it to RGBA. Grayscale
// sources come out with three identical channels, which matches feeding
// single-channel datasets to a three-channel encoder.
func DecodeImage(r io.Reader) (*image.RGBA, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return ToRGBA(img), nil
}

// ToRGBA converts any image to RGBA without scaling.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}
