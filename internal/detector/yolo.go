package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/ayusman/ewaste/internal/inference"
)

// YOLODetector implements Detector with a YOLOv8-style ONNX export.
type YOLODetector struct {
	config Config
	layout outputLayout
	pool   *inference.Pool[*inference.Session]
}

// NewYOLODetector loads the model into config.PoolSize sessions.
// inference.Init must have been called.
func NewYOLODetector(config Config) (*YOLODetector, error) {
	if config.InputSize <= 0 {
		config.InputSize = 640
	}
	if len(config.Labels) == 0 {
		config.Labels = DefaultLabels()
	}
	if config.IoUThreshold <= 0 {
		config.IoUThreshold = 0.45
	}

	layout := outputLayout{
		classes: len(config.Labels),
		anchors: anchorCount(config.InputSize),
	}
	size := int64(config.InputSize)
	spec := inference.SessionSpec{
		ModelPath:   config.ModelPath,
		InputName:   "images",
		OutputName:  "output0",
		InputShape:  []int64{1, 3, size, size},
		OutputShape: []int64{1, int64(4 + layout.classes), int64(layout.anchors)},
	}

	pool, err := inference.NewPool(config.PoolSize, func() (*inference.Session, error) {
		return inference.NewSession(spec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load detector model: %w", err)
	}

	return &YOLODetector{config: config, layout: layout, pool: pool}, nil
}

// Detect runs the model on img and returns NMS-filtered boxes in img coordinates.
func (d *YOLODetector) Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Detection, error) {
	bounds := img.Bounds()
	boxed, lb := inference.LetterboxImage(img, d.config.InputSize)

	var dets []Detection
	err := d.pool.With(ctx, func(s *inference.Session) error {
		if err := inference.FillCHW(boxed, s.Input.GetData(), inference.ZeroMean, inference.UnitStd); err != nil {
			return fmt.Errorf("prepare input: %w", err)
		}
		if err := s.Run(); err != nil {
			return fmt.Errorf("run detector: %w", err)
		}
		dets = decodeOutput(s.Output.GetData(), d.layout, minConfidence, lb, bounds.Dx(), bounds.Dy(), d.config.Labels)
		return nil
	})
	if err != nil {
		return nil, err
	}

	kept := nonMaxSuppression(dets, d.config.IoUThreshold)
	return kept, nil
}

// Stats exposes the session pool counters.
func (d *YOLODetector) Stats() inference.Stats {
	return d.pool.Stats()
}

// Close releases the ONNX sessions.
func (d *YOLODetector) Close() error {
	return d.pool.Close()
}
