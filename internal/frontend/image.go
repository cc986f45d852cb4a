package frontend

// Image is a single-channel 8-bit grayscale image. The front-end never
// assumes a particular decode path (raw, mono8, mono16-scaled, or
// BGR-converted per §6 inputs) — that conversion happens upstream; by
// the time an Image reaches the tracker it is always gray.
type Image struct {
	Width, Height int
	Pix           []uint8
}

// NewImage allocates a zeroed image.
func NewImage(w, h int) *Image {
	return &Image{Width: w, Height: h, Pix: make([]uint8, w*h)}
}

// At returns the pixel at (x, y), clamping to the image bounds.
func (im *Image) At(x, y int) uint8 {
	if x < 0 {
		x = 0
	} else if x >= im.Width {
		x = im.Width - 1
	}
	if y < 0 {
		y = 0
	} else if y >= im.Height {
		y = im.Height - 1
	}
	return im.Pix[y*im.Width+x]
}

// Bilinear samples the image at a fractional coordinate.
func (im *Image) Bilinear(x, y float64) float64 {
	x0, y0 := int(x), int(y)
	fx, fy := x-float64(x0), y-float64(y0)
	v00 := float64(im.At(x0, y0))
	v10 := float64(im.At(x0+1, y0))
	v01 := float64(im.At(x0, y0+1))
	v11 := float64(im.At(x0+1, y0+1))
	return v00*(1-fx)*(1-fy) + v10*fx*(1-fy) + v01*(1-fx)*fy + v11*fx*fy
}

// GradX and GradY return the central-difference image gradient at an
// integer pixel, used by the Lucas-Kanade normal equations.
func (im *Image) GradX(x, y int) float64 {
	return (float64(im.At(x+1, y)) - float64(im.At(x-1, y))) / 2
}

func (im *Image) GradY(x, y int) float64 {
	return (float64(im.At(x, y+1)) - float64(im.At(x, y-1))) / 2
}

// Downsample halves the image via 2x2 box filtering, building one level
// of the pyramid the KLT tracker climbs for large-displacement flow.
func (im *Image) Downsample() *Image {
	w, h := im.Width/2, im.Height/2
	out := NewImage(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := int(im.At(2*x, 2*y)) + int(im.At(2*x+1, 2*y)) +
				int(im.At(2*x, 2*y+1)) + int(im.At(2*x+1, 2*y+1))
			out.Pix[y*w+x] = uint8(sum / 4)
		}
	}
	return out
}

// Pyramid builds levels images: level 0 is im itself, each subsequent
// level half the resolution of the previous.
func Pyramid(im *Image, levels int) []*Image {
	pyr := make([]*Image, levels)
	pyr[0] = im
	for i := 1; i < levels; i++ {
		pyr[i] = pyr[i-1].Downsample()
	}
	return pyr
}
