package multicrop

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"

	"github.com/selfdist/dino/tensor"
	"github.com/selfdist/dino/vision"
)

// Transform post-processes a crop after the geometric stage. It is
// applied uniformly to every crop.
type Transform func(*image.RGBA) *image.RGBA

// Policy applies every crop specification to one input image. A policy
// holds no cross-call state; independent randomness comes from the rng
// the caller passes in, so augmentation workers can run concurrently
// with one rng each.
type Policy struct {
	specs []CropSpec
	post  Transform
}

// Option configures a Policy.
type Option func(*Policy)

// WithTransform sets the per-crop post transform.
func WithTransform(t Transform) Option {
	return func(p *Policy) { p.post = t }
}

// New validates the specification list and builds a policy. At least
// one crop must be routed to the teacher and one to the student.
func New(specs []CropSpec, opts ...Option) (*Policy, error) {
	if err := Validate(specs); err != nil {
		return nil, err
	}
	p := &Policy{specs: append([]CropSpec{}, specs...)}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Specs returns the crop specifications in order.
func (p *Policy) Specs() []CropSpec { return p.specs }

// Apply produces one [3, size, size] tensor per crop specification, in
// specification order.
func (p *Policy) Apply(img *image.RGBA, rng *rand.Rand) []*tensor.Tensor {
	crops := make([]*tensor.Tensor, len(p.specs))
	for i, spec := range p.specs {
		crop := randomResizedCrop(img, spec, rng)
		if p.post != nil {
			crop = p.post(crop)
		}
		crops[i] = vision.ToTensor(crop)
	}
	return crops
}

// randomResizedCrop samples a sub-rectangle covering a random area
// fraction in [MinScale, MaxScale] with aspect ratio jittered in
// [3/4, 4/3], then rescales it to OutputSize². After ten rejected
// samples it falls back to the largest centered crop, the torchvision
// behavior the original training recipe relies on.
func randomResizedCrop(img *image.RGBA, spec CropSpec, rng *rand.Rand) *image.RGBA {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	area := float64(w * h)

	var cw, ch int
	var ok bool
	for attempt := 0; attempt < 10; attempt++ {
		target := area * (spec.MinScale + rng.Float64()*(spec.MaxScale-spec.MinScale))
		logRatio := math.Log(3.0/4.0) + rng.Float64()*(math.Log(4.0/3.0)-math.Log(3.0/4.0))
		ratio := math.Exp(logRatio)

		cw = int(math.Round(math.Sqrt(target * ratio)))
		ch = int(math.Round(math.Sqrt(target / ratio)))
		if cw > 0 && ch > 0 && cw <= w && ch <= h {
			ok = true
			break
		}
	}
	if !ok {
		// center fallback at the largest in-range square
		side := min(w, h)
		cw, ch = side, side
	}

	x0 := bounds.Min.X
	y0 := bounds.Min.Y
	if w > cw {
		x0 += rng.Intn(w - cw + 1)
	}
	if h > ch {
		y0 += rng.Intn(h - ch + 1)
	}
	if !ok {
		x0 = bounds.Min.X + (w-cw)/2
		y0 = bounds.Min.Y + (h-ch)/2
	}

	src := img.SubImage(image.Rect(x0, y0, x0+cw, y0+ch))
	dst := image.NewRGBA(image.Rect(0, 0, spec.OutputSize, spec.OutputSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
