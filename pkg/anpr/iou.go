package anpr

// iou computes intersection-over-union of two axis-aligned boxes. Disjoint
// boxes return exactly 0.0. iou is symmetric: iou(a,b) == iou(b,a).
func iou(a, b BBox) float64 {
	xi1 := max(a.X1, b.X1)
	yi1 := max(a.Y1, b.Y1)
	xi2 := min(a.X2, b.X2)
	yi2 := min(a.Y2, b.Y2)

	if xi2 < xi1 || yi2 < yi1 {
		return 0.0
	}

	intersection := (xi2 - xi1) * (yi2 - yi1)
	areaA := a.Area()
	areaB := b.Area()
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0.0
	}
	return intersection / union
}
