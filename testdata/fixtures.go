// Package testdata generates synthetic frames and encoded images for tests.
package testdata

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
)

// Background is the fill color of generated frames.
var Background = color.NRGBA{R: 40, G: 40, B: 40, A: 255}

// Frame returns a w x h frame filled with Background.
func Frame(w, h int) *image.NRGBA {
	return imaging.New(w, h, Background)
}

// FrameWithBox returns a frame with a filled white rectangle, roughly
// what a bright object on a desk looks like to the detector.
func FrameWithBox(w, h int, box image.Rectangle) *image.NRGBA {
	white := imaging.New(box.Dx(), box.Dy(), color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	return imaging.Paste(Frame(w, h), white, box.Min)
}

// Sequence returns n copies of the same frame.
func Sequence(n, w, h int) []image.Image {
	frame := Frame(w, h)
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = frame
	}
	return frames
}

// PNG encodes img as PNG.
func PNG(tb testing.TB, img image.Image) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// JPEG encodes img as JPEG at quality 90.
func JPEG(tb testing.TB, img image.Image) []byte {
	tb.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		tb.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// DataURL returns img as a base64 PNG data URL, the form browsers send over
// the local-only socket.
func DataURL(tb testing.TB, img image.Image) string {
	tb.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(PNG(tb, img))
}
