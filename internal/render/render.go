// Package render draws detection boxes and labels onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/ayusman/ewaste/internal/detector"
)

// Style constants for annotations.
const (
	LineWidth   = 2.0
	FontSize    = 14.0
	LabelOffset = 10
)

// BoxColor is the stroke and label color.
var BoxColor = color.RGBA{G: 255, A: 255}

var (
	fontOnce sync.Once
	font     *truetype.Font
	fontErr  error
)

func loadFont() (*truetype.Font, error) {
	fontOnce.Do(func() {
		font, fontErr = truetype.Parse(goregular.TTF)
	})
	return font, fontErr
}

// Label formats the text drawn above a box, e.g. "mouse 0.91".
func Label(d detector.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// ToRGBA returns img as *image.RGBA, copying only when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// DrawDetections returns a copy of img with a rectangle and label per detection.
// The label baseline sits LabelOffset pixels above the box.
func DrawDetections(img image.Image, dets []detector.Detection) (*image.RGBA, error) {
	dc := gg.NewContextForImage(img)
	if len(dets) == 0 {
		return ToRGBA(dc.Image()), nil
	}

	f, err := loadFont()
	if err != nil {
		return nil, fmt.Errorf("failed to load font: %w", err)
	}
	dc.SetFontFace(truetype.NewFace(f, &truetype.Options{Size: FontSize}))
	dc.SetColor(BoxColor)
	dc.SetLineWidth(LineWidth)

	for _, d := range dets {
		dc.DrawRectangle(d.X1, d.Y1, d.X2-d.X1, d.Y2-d.Y1)
		dc.Stroke()
		dc.DrawString(Label(d), d.X1, d.Y1-LabelOffset)
	}

	return ToRGBA(dc.Image()), nil
}
