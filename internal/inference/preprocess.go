package inference

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// ImageNet normalization constants.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Identity normalization, used by detectors that only scale to [0,1].
var (
	ZeroMean = [3]float32{0, 0, 0}
	UnitStd  = [3]float32{1, 1, 1}
)

// LetterboxPadColor is the gray used to pad letterboxed images.
var LetterboxPadColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox maps coordinates between the original image and the padded square model input.
type Letterbox struct {
	Scale float64
	PadX  int
	PadY  int
}

// ToOriginal converts a point in model input space back to original image space.
func (l Letterbox) ToOriginal(x, y float64) (float64, float64) {
	return (x - float64(l.PadX)) / l.Scale, (y - float64(l.PadY)) / l.Scale
}

// Resize scales img to exactly width x height with bilinear filtering.
func Resize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.Linear)
}

// LetterboxImage fits img into a size x size square keeping its aspect ratio
// and pads the remainder with LetterboxPadColor.
func LetterboxImage(img image.Image, size int) (*image.NRGBA, Letterbox) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return imaging.New(size, size, LetterboxPadColor), Letterbox{Scale: 1}
	}

	scale := math.Min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	nw = max(1, min(nw, size))
	nh = max(1, min(nh, size))

	padX := (size - nw) / 2
	padY := (size - nh) / 2

	canvas := imaging.New(size, size, LetterboxPadColor)
	resized := imaging.Resize(img, nw, nh, imaging.Linear)
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	return canvas, Letterbox{Scale: scale, PadX: padX, PadY: padY}
}

// FillCHW writes img into dst as planar RGB float32 values: (pixel/255 - mean) / std.
// dst must hold exactly 3 * width * height values.
func FillCHW(img image.Image, dst []float32, mean, std [3]float32) error {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	if len(dst) != 3*plane {
		return fmt.Errorf("tensor size %d does not match image %dx%d", len(dst), w, h)
	}

	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
			for x := 0; x < w; x++ {
				i := y*w + x
				p := row[x*4 : x*4+3]
				dst[i] = (float32(p[0])/255 - mean[0]) / std[0]
				dst[plane+i] = (float32(p[1])/255 - mean[1]) / std[1]
				dst[2*plane+i] = (float32(p[2])/255 - mean[2]) / std[2]
			}
		}
		return nil
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			dst[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			dst[plane+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			dst[2*plane+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
		}
	}
	return nil
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v - maxLogit))
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the index and value of the largest element.
func Argmax(values []float64) (int, float64) {
	best, bestVal := -1, math.Inf(-1)
	for i, v := range values {
		if v > bestVal {
			best, bestVal = i, v
		}
	}
	return best, bestVal
}
