// Package detector runs object detection on video frames and still images.
package detector

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"strings"
)

// Detection is a single bounding box in original image pixel coordinates.
type Detection struct {
	X1          float64 `json:"x1"`
	Y1          float64 `json:"y1"`
	X2          float64 `json:"x2"`
	Y2          float64 `json:"y2"`
	Confidence  float64 `json:"confidence"`
	ClassID     int     `json:"class_id"`
	ClassName   string  `json:"class_name"`
	ImageWidth  int     `json:"image_width,omitempty"`
	ImageHeight int     `json:"image_height,omitempty"`
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect returns the boxes in img scoring at least minConfidence.
	// Returns an empty slice if nothing is detected.
	Detect(ctx context.Context, img image.Image, minConfidence float64) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the YOLO detector.
type Config struct {
	// ModelPath is the ONNX export of the detector weights.
	ModelPath string

	// Labels maps class ids to names. Defaults to the COCO classes.
	Labels []string

	// InputSize is the square model input edge in pixels (default: 640).
	InputSize int

	// IoUThreshold is the overlap above which NMS suppresses a box.
	IoUThreshold float64

	// PoolSize is the number of concurrent ONNX sessions.
	PoolSize int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelPath:    "weights.onnx",
		Labels:       DefaultLabels(),
		InputSize:    640,
		IoUThreshold: 0.45,
		PoolSize:     2,
	}
}

// WithImageSize returns dets annotated with the source image size.
func WithImageSize(dets []Detection, width, height int) []Detection {
	for i := range dets {
		dets[i].ImageWidth = width
		dets[i].ImageHeight = height
	}
	return dets
}

// ClassNames returns the distinct class names in dets, in first-seen order.
func ClassNames(dets []Detection) []string {
	seen := make(map[string]struct{}, len(dets))
	names := make([]string, 0, len(dets))
	for _, d := range dets {
		if _, ok := seen[d.ClassName]; ok {
			continue
		}
		seen[d.ClassName] = struct{}{}
		names = append(names, d.ClassName)
	}
	return names
}

// MaxConfidenceByClass returns the highest confidence seen for each class.
func MaxConfidenceByClass(dets []Detection) map[string]float64 {
	best := make(map[string]float64, len(dets))
	for _, d := range dets {
		if c, ok := best[d.ClassName]; !ok || d.Confidence > c {
			best[d.ClassName] = d.Confidence
		}
	}
	return best
}

// LoadLabels reads one class name per line, skipping blank lines.
func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open labels: %w", err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			labels = append(labels, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("labels file %s is empty", path)
	}
	return labels, nil
}

// DefaultLabels returns the 80 COCO class names in model output order.
func DefaultLabels() []string {
	return []string{
		"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
		"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
		"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
		"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
		"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
		"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
		"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
		"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
		"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
		"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
		"toothbrush",
	}
}
