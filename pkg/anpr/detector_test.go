package anpr

import "testing"

type fakeDetector struct {
	raw []RawDetection
	err error
}

func (f *fakeDetector) Detect(data []byte, width, height int) ([]RawDetection, error) {
	return f.raw, f.err
}

func TestDetectorAdapter_FiltersByConfidenceAndClass(t *testing.T) {
	fd := &fakeDetector{raw: []RawDetection{
		{Box: BBox{0, 0, 10, 10}, Confidence: 0.9, ClassID: 2},  // car, kept
		{Box: BBox{20, 20, 30, 30}, Confidence: 0.1, ClassID: 2}, // low confidence
		{Box: BBox{40, 40, 50, 50}, Confidence: 0.9, ClassID: 1}, // not a tracked class
	}}
	a := NewDetectorAdapter(fd, 0.4, 0.5, []int{2, 3, 5, 7})

	got := a.Detect(nil, 640, 480)
	if len(got) != 1 {
		t.Fatalf("expected 1 detection, got %d: %+v", len(got), got)
	}
	if got[0].VehicleType != VehicleCar {
		t.Errorf("expected VehicleCar, got %s", got[0].VehicleType)
	}
}

func TestDetectorAdapter_ErrorYieldsEmptyResult(t *testing.T) {
	fd := &fakeDetector{err: errTest}
	a := NewDetectorAdapter(fd, 0.4, 0.5, []int{2})

	got := a.Detect(nil, 640, 480)
	if got != nil {
		t.Errorf("expected nil result on detector error, got %+v", got)
	}
}

func TestDetectorAdapter_NMSRemovesOverlappingLowerConfidence(t *testing.T) {
	fd := &fakeDetector{raw: []RawDetection{
		{Box: BBox{0, 0, 10, 10}, Confidence: 0.95, ClassID: 2},
		{Box: BBox{1, 1, 11, 11}, Confidence: 0.80, ClassID: 2}, // heavily overlapping, lower conf
		{Box: BBox{100, 100, 110, 110}, Confidence: 0.70, ClassID: 2},
	}}
	a := NewDetectorAdapter(fd, 0.4, 0.5, []int{2})

	got := a.Detect(nil, 640, 480)
	if len(got) != 2 {
		t.Fatalf("expected 2 detections after NMS, got %d: %+v", len(got), got)
	}
}

func TestDetectorAdapter_InvalidBoxDropped(t *testing.T) {
	fd := &fakeDetector{raw: []RawDetection{
		{Box: BBox{10, 10, 10, 10}, Confidence: 0.9, ClassID: 2}, // degenerate
	}}
	a := NewDetectorAdapter(fd, 0.4, 0.5, []int{2})

	got := a.Detect(nil, 640, 480)
	if len(got) != 0 {
		t.Errorf("expected degenerate box to be dropped, got %+v", got)
	}
}

var errTest = &testError{"detector failure"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
