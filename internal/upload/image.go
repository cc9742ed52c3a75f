package upload

import (
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"

	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/render"
)

// ProcessImage detects objects in the image at inputPath and writes an
// annotated copy to outputPath, encoded by its extension.
func (p *Processor) ProcessImage(ctx context.Context, inputPath, outputPath string, confidence float64) ([]detector.Detection, int, int, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	dets, err := p.detector.Detect(ctx, img, confidence)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("detection failed: %w", err)
	}
	dets = detector.WithImageSize(dets, width, height)

	annotated, err := render.DrawDetections(img, dets)
	if err != nil {
		return nil, 0, 0, err
	}

	format, err := imaging.FormatFromFilename(outputPath)
	if err != nil {
		return nil, 0, 0, err
	}
	if err := imaging.Save(annotated, outputPath, imaging.JPEGQuality(95)); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to write %s output: %w", format, err)
	}

	return dets, width, height, nil
}
