//go:build cgo
// +build cgo

package anpr

import (
	"image"

	"gocv.io/x/gocv"
)

const (
	roiExpandFraction = 0.10
	roiMinWidth       = 200
)

func init() {
	extractPlateROI = extractPlateROIGocv
}

// extractPlateROIGocv rebuilds a gocv.Mat from a raw BGR24 frame, crops and
// preprocesses a track's bbox out of it, and returns the result as raw BGR24
// bytes ready for an OCROracle. It is the cgo-backed implementation behind
// the extractPlateROI hook declared in ocr.go.
func extractPlateROIGocv(frameData []byte, frameWidth, frameHeight int, box BBox) ([]byte, int, int, bool) {
	if !box.Valid() || frameWidth <= 0 || frameHeight <= 0 {
		return nil, 0, 0, false
	}

	frame, err := gocv.NewMatFromBytes(frameHeight, frameWidth, gocv.MatTypeCV8UC3, frameData)
	if err != nil {
		return nil, 0, 0, false
	}
	defer frame.Close()

	roi := extractROI(frame, box)
	defer roi.Close()
	if roi.Empty() {
		return nil, 0, 0, false
	}

	processed := preprocessPlate(roi)
	defer processed.Close()
	if processed.Empty() {
		return nil, 0, 0, false
	}

	return processed.ToBytes(), processed.Cols(), processed.Rows(), true
}

// extractROI crops a track's bbox out of a full BGR frame, expanded by 10%
// and clamped to the frame bounds.
func extractROI(frame gocv.Mat, box BBox) gocv.Mat {
	w, h := box.Width(), box.Height()
	expandX := w * roiExpandFraction
	expandY := h * roiExpandFraction

	x1 := clampF(box.X1-expandX, 0, float64(frame.Cols()))
	y1 := clampF(box.Y1-expandY, 0, float64(frame.Rows()))
	x2 := clampF(box.X2+expandX, 0, float64(frame.Cols()))
	y2 := clampF(box.Y2+expandY, 0, float64(frame.Rows()))

	rect := image.Rect(int(x1), int(y1), int(x2), int(y2))
	return frame.Region(rect)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// preprocessPlate prepares a cropped plate ROI for OCR: grayscale, upscale
// to a minimum width with cubic interpolation, CLAHE contrast
// normalization, denoising, and Otsu thresholding, reassembled as a
// 3-channel image the oracle can consume.
func preprocessPlate(roi gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)

	scaled := gray
	if gray.Cols() < roiMinWidth && gray.Cols() > 0 {
		scale := float64(roiMinWidth) / float64(gray.Cols())
		resized := gocv.NewMat()
		newSize := image.Pt(roiMinWidth, int(float64(gray.Rows())*scale))
		gocv.Resize(gray, &resized, newSize, 0, 0, gocv.InterpolationCubic)
		scaled = resized
		defer scaled.Close()
	}

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(scaled, &equalized)

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingWithParams(equalized, &denoised, 10, 7, 21)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(denoised, &thresh, 0, 255, gocv.ThresholdBinary+gocv.ThresholdOtsu)

	out := gocv.NewMat()
	gocv.CvtColor(thresh, &out, gocv.ColorGrayToBGR)
	return out
}
