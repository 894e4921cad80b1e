package anpr

import (
	"testing"
	"time"
)

func TestLevenshtein_Basic(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"ABC1234", "ABC1234", 0},
		{"ABC1234", "ABC1Z34", 1},
		{"", "ABC", 3},
		{"ABC", "", 3},
		{"KITTEN", "SITTING", 3},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		in       string
		wantText string
		wantOK   bool
	}{
		{"abc-1234", "ABC1234", true},
		{"ab", "", false},
		{"a1!", "", false},
		{" xy z9 ", "XYZ9", true},
	}
	for _, c := range cases {
		text, ok := cleanText(c.in)
		if ok != c.wantOK || (ok && text != c.wantText) {
			t.Errorf("cleanText(%q) = (%q, %v), want (%q, %v)", c.in, text, ok, c.wantText, c.wantOK)
		}
	}
}

func mkReadings(texts []string, conf float64) []PlateReading {
	out := make([]PlateReading, len(texts))
	base := time.Now()
	for i, tx := range texts {
		out[i] = PlateReading{Text: tx, Confidence: conf, Timestamp: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestFuseReadings_LargestGroupWins(t *testing.T) {
	readings := []PlateReading{
		{Text: "ABC1234", Confidence: 0.9},
		{Text: "ABC1234", Confidence: 0.85},
		{Text: "ABC1234", Confidence: 0.8},
		{Text: "ABC1Z34", Confidence: 0.7},
		{Text: "XYZ0000", Confidence: 0.95},
	}

	fused, ok := fuseReadings(readings, 3)
	if !ok {
		t.Fatal("expected a fused result")
	}
	if fused.Text != "ABC1234" {
		t.Errorf("expected fused text ABC1234, got %s", fused.Text)
	}
	if fused.NumSamples != 4 {
		t.Errorf("expected 4 samples in the winning group (ABC1234 x3 + ABC1Z34 x1 within distance 2), got %d", fused.NumSamples)
	}
}

func TestFuseReadings_BelowMinSamplesReturnsHighestConfidence(t *testing.T) {
	readings := []PlateReading{
		{Text: "ABC1234", Confidence: 0.6},
		{Text: "XYZ0000", Confidence: 0.95},
	}

	fused, ok := fuseReadings(readings, 3)
	if !ok {
		t.Fatal("expected a fused result")
	}
	if fused.Text != "XYZ0000" {
		t.Errorf("expected highest-confidence single reading XYZ0000, got %s", fused.Text)
	}
	if fused.NumSamples != 1 {
		t.Errorf("expected NumSamples 1 for a single-reading fallback, got %d", fused.NumSamples)
	}
}

func TestFuseReadings_Empty(t *testing.T) {
	if _, ok := fuseReadings(nil, 3); ok {
		t.Error("expected no result for empty readings")
	}
}

func TestOCREngine_CanProcess_RespectsMaxConcurrent(t *testing.T) {
	e := NewOCREngine(&fakeOracle{}, OCRConfig{Enabled: true, MaxConcurrent: 1, ThrottleFrames: 0})
	now := time.Now()

	if !e.CanProcess(now) {
		t.Fatal("expected first call to be admissible")
	}
	e.admit(now)

	if e.CanProcess(now) {
		t.Error("expected second call to be rejected while at max concurrency")
	}
	e.release()

	if !e.CanProcess(now.Add(time.Millisecond)) {
		t.Error("expected call to be admissible again after release")
	}
}

func TestOCREngine_CanProcess_RespectsThrottle(t *testing.T) {
	e := NewOCREngine(&fakeOracle{}, OCRConfig{Enabled: true, MaxConcurrent: 10, ThrottleFrames: 20})
	now := time.Now()

	if !e.CanProcess(now) {
		t.Fatal("expected first call admissible")
	}
	e.admit(now)
	e.release()

	if e.CanProcess(now.Add(500 * time.Millisecond)) {
		t.Error("expected call within throttle interval to be rejected")
	}
	if !e.CanProcess(now.Add(2 * time.Second)) {
		t.Error("expected call past throttle interval to be admissible")
	}
}

func TestOCREngine_CanProcess_DisabledAlwaysFalse(t *testing.T) {
	e := NewOCREngine(&fakeOracle{}, OCRConfig{Enabled: false, MaxConcurrent: 10})
	if e.CanProcess(time.Now()) {
		t.Error("expected disabled engine to never admit")
	}
}

type fakeOracle struct{}

func (f *fakeOracle) Recognize(img []byte, width, height int) (string, float64, error) {
	return "ABC1234", 0.9, nil
}
