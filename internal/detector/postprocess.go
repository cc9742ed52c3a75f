package detector

import (
	"math"
	"sort"
	"strconv"

	"github.com/ayusman/ewaste/internal/inference"
)

// outputLayout describes a YOLO head tensor of shape [1, 4+classes, anchors].
type outputLayout struct {
	classes int
	anchors int
}

// anchorCount returns the number of predictions a YOLOv8-style head emits
// for a square input of the given size (strides 8, 16 and 32).
func anchorCount(inputSize int) int {
	total := 0
	for _, stride := range []int{8, 16, 32} {
		n := inputSize / stride
		total += n * n
	}
	return total
}

// decodeOutput converts raw head output into boxes in original image space.
// Each anchor keeps only its best class; anchors under minConfidence are dropped.
func decodeOutput(out []float32, layout outputLayout, minConfidence float64, lb inference.Letterbox, imgW, imgH int, labels []string) []Detection {
	n := layout.anchors
	var dets []Detection

	for a := 0; a < n; a++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < layout.classes; c++ {
			score := out[(4+c)*n+a]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || float64(bestScore) < minConfidence {
			continue
		}

		cx, cy := float64(out[a]), float64(out[n+a])
		w, h := float64(out[2*n+a]), float64(out[3*n+a])

		x1, y1 := lb.ToOriginal(cx-w/2, cy-h/2)
		x2, y2 := lb.ToOriginal(cx+w/2, cy+h/2)

		dets = append(dets, Detection{
			X1:         clamp(x1, 0, float64(imgW)),
			Y1:         clamp(y1, 0, float64(imgH)),
			X2:         clamp(x2, 0, float64(imgW)),
			Y2:         clamp(y2, 0, float64(imgH)),
			Confidence: float64(bestScore),
			ClassID:    bestClass,
			ClassName:  labelFor(labels, bestClass),
		})
	}

	return dets
}

// nonMaxSuppression keeps the highest scoring box of every overlapping group
// of the same class. The result is sorted by descending confidence.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	kept := make([]Detection, 0, len(dets))
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}
			if iou(dets[i], dets[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

// iou returns the intersection over union of two boxes.
func iou(a, b Detection) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	if inter == 0 {
		return 0
	}
	areaA := (a.X2 - a.X1) * (a.Y2 - a.Y1)
	areaB := (b.X2 - b.X1) * (b.Y2 - b.Y1)
	return inter / (areaA + areaB - inter)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func labelFor(labels []string, id int) string {
	if id >= 0 && id < len(labels) {
		return labels[id]
	}
	return "class_" + strconv.Itoa(id)
}
