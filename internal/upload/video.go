package upload

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"go.uber.org/zap"

	"github.com/ayusman/ewaste/internal/detector"
	"github.com/ayusman/ewaste/internal/render"
)

const (
	// minSampledFrames is the number of frames short videos are sampled at.
	minSampledFrames = 15
	// progressEvery is how often, in frames, progress is logged.
	progressEvery = 100
)

// SampleStep returns how many frames apart detection runs for a video: four
// times per second, or often enough to cover minSampledFrames frames when
// the video is short.
func SampleStep(fps, frameCount int) int {
	step := max(1, fps/4)
	if frameCount < minSampledFrames*step {
		step = max(1, frameCount/minSampledFrames)
	}
	return step
}

// ProcessVideo samples frames of the video at inputPath, keeps the most
// confident detection per class and writes an annotated copy to outputPath.
// Frames between samples reuse the boxes of the nearest sampled frame that
// is less than half a step away.
func (p *Processor) ProcessVideo(ctx context.Context, inputPath, outputPath string, confidence float64) ([]detector.Detection, float64, int, int, error) {
	src, err := p.openVideo(inputPath)
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer src.Close()

	fps := int(src.FPS())
	width, height := src.Size()
	frameCount := src.FrameCount()
	duration := 0.0
	if fps > 0 {
		duration = float64(frameCount) / float64(fps)
	}

	step := SampleStep(fps, frameCount)
	p.logger.Info("video processing",
		zap.Int("fps", fps),
		zap.Int("frames", frameCount),
		zap.Int("step", step),
	)

	sink, err := p.createVideo(outputPath, float64(fps), width, height)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	defer sink.Close()

	best := make(map[string]detector.Detection)
	var order []string
	sampled := make(map[int][]string)
	processed := 0

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, 0, err
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, 0, 0, fmt.Errorf("failed to read frame %d: %w", idx, err)
		}

		var boxes []detector.Detection
		if idx%step == 0 {
			processed++
			dets, err := p.detector.Detect(ctx, frame, confidence)
			if err != nil {
				p.logger.Error("failed to process video frame", zap.Int("frame", idx), zap.Error(err))
			} else if len(dets) > 0 {
				for _, d := range dets {
					prev, seen := best[d.ClassName]
					if !seen {
						order = append(order, d.ClassName)
					}
					if !seen || d.Confidence > prev.Confidence {
						d.ImageWidth, d.ImageHeight = width, height
						best[d.ClassName] = d
					}
				}
				sampled[idx] = detector.ClassNames(dets)
				boxes = dets
			}
		} else if nearest, ok := nearestSample(sampled, idx, step/2); ok {
			for _, name := range sampled[nearest] {
				boxes = append(boxes, best[name])
			}
		}

		out := image.Image(frame)
		if len(boxes) > 0 {
			if out, err = render.DrawDetections(frame, boxes); err != nil {
				return nil, 0, 0, 0, err
			}
		}
		if err := sink.WriteFrame(out); err != nil {
			return nil, 0, 0, 0, fmt.Errorf("failed to write frame %d: %w", idx, err)
		}

		if (idx+1)%progressEvery == 0 {
			progress := 0.0
			if frameCount > 0 {
				progress = float64(idx+1) / float64(frameCount) * 100
			}
			p.logger.Info("video processing progress",
				zap.String("progress", fmt.Sprintf("%.1f%%", progress)),
				zap.Int("frame", idx+1),
				zap.Int("frames", frameCount),
			)
		}
	}

	dets := make([]detector.Detection, 0, len(order))
	for _, name := range order {
		dets = append(dets, best[name])
	}

	p.logger.Info("video processing complete",
		zap.Int("processed_frames", processed),
		zap.Int("classes", len(dets)),
	)
	return dets, duration, width, height, nil
}

// nearestSample returns the sampled frame closest to idx whose distance is
// below limit.
func nearestSample(sampled map[int][]string, idx, limit int) (int, bool) {
	nearest, found := 0, false
	for s := range sampled {
		d := s - idx
		if d < 0 {
			d = -d
		}
		if d < limit {
			nearest, found, limit = s, true, d
		}
	}
	return nearest, found
}
