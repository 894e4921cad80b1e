package anpr

import "log"

// RawDetection is the unnormalized output of the external CNN detector
// oracle: a class ID from its own label space plus a confidence score.
type RawDetection struct {
	Box        BBox
	Confidence float64
	ClassID    int
}

// Detector is the external vehicle-detection collaborator. Detect is given
// raw frame bytes plus its dimensions and returns every candidate object it
// found, before confidence/class/NMS filtering.
type Detector interface {
	Detect(data []byte, width, height int) ([]RawDetection, error)
}

// classMap assigns COCO-style class IDs (as used by the reference detector)
// to the vehicle taxonomy this system tracks.
var classMap = map[int]VehicleType{
	2: VehicleCar,
	3: VehicleMotorcycle,
	5: VehicleBus,
	7: VehicleTruck,
}

// DetectorAdapter normalizes a Detector's raw output: it keeps only the
// configured class IDs at or above the confidence threshold, and
// suppresses near-duplicate boxes via NMS at the configured IoU threshold.
type DetectorAdapter struct {
	detector   Detector
	confidence float64
	iouThresh  float64
	classes    map[int]bool
}

// NewDetectorAdapter constructs an adapter around an external Detector.
func NewDetectorAdapter(detector Detector, confidence, iouThresh float64, classes []int) *DetectorAdapter {
	set := make(map[int]bool, len(classes))
	for _, c := range classes {
		set[c] = true
	}
	return &DetectorAdapter{
		detector:   detector,
		confidence: confidence,
		iouThresh:  iouThresh,
		classes:    set,
	}
}

// Detect runs the underlying detector and returns normalized detections. A
// detector error is treated as transient: it is logged and reported to the
// caller as an empty result, never propagated as a fatal error.
func (a *DetectorAdapter) Detect(data []byte, width, height int) []Detection {
	raw, err := a.detector.Detect(data, width, height)
	if err != nil {
		log.Printf("detector: %v", err)
		return nil
	}

	filtered := make([]RawDetection, 0, len(raw))
	for _, r := range raw {
		if r.Confidence < a.confidence {
			continue
		}
		if len(a.classes) > 0 && !a.classes[r.ClassID] {
			continue
		}
		if !r.Box.Valid() {
			continue
		}
		filtered = append(filtered, r)
	}

	kept := nonMaxSuppress(filtered, a.iouThresh)

	out := make([]Detection, 0, len(kept))
	for _, r := range kept {
		vt, ok := classMap[r.ClassID]
		if !ok {
			vt = VehicleUnknown
		}
		out = append(out, Detection{Box: r.Box, Confidence: r.Confidence, VehicleType: vt})
	}
	return out
}

// nonMaxSuppress greedily keeps the highest-confidence box in each cluster
// of overlapping candidates, removing any other box whose IoU with a kept
// box meets or exceeds the threshold.
func nonMaxSuppress(dets []RawDetection, iouThresh float64) []RawDetection {
	if len(dets) <= 1 {
		return dets
	}

	ordered := make([]RawDetection, len(dets))
	copy(ordered, dets)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Confidence > ordered[i].Confidence {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	suppressed := make([]bool, len(ordered))
	kept := make([]RawDetection, 0, len(ordered))
	for i := range ordered {
		if suppressed[i] {
			continue
		}
		kept = append(kept, ordered[i])
		for j := i + 1; j < len(ordered); j++ {
			if suppressed[j] {
				continue
			}
			if iou(ordered[i].Box, ordered[j].Box) >= iouThresh {
				suppressed[j] = true
			}
		}
	}
	return kept
}
