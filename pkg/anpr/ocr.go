package anpr

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OCROracle is the external plate-recognition collaborator. Recognize is
// given an already-cropped, preprocessed plate ROI and returns raw text
// plus a confidence score.
type OCROracle interface {
	Recognize(img []byte, width, height int) (text string, confidence float64, err error)
}

// OCRConfig parameterizes admission throttling and reading fusion.
type OCRConfig struct {
	Enabled            bool
	ThrottleFrames     int
	MaxConcurrent      int
	MinPlateConfidence float64
	FusionMinSamples   int
	MaxSamples         int
}

// extractPlateROI crops and preprocesses a track's bbox out of a raw BGR24
// frame for OCR. Assigned by ocr_gocv.go's init() in cgo builds; left nil
// otherwise, in which case OCR recognition is simply never admitted.
var extractPlateROI func(frameData []byte, frameWidth, frameHeight int, box BBox) (data []byte, w, h int, ok bool)

// OCREngine throttles calls into an OCROracle and fuses the resulting
// readings into a single locked plate per track.
type OCREngine struct {
	oracle OCROracle
	cfg    OCRConfig

	mu           sync.Mutex
	lastCallTime time.Time
	active       atomic.Int32
}

// NewOCREngine constructs an engine around an external oracle.
func NewOCREngine(oracle OCROracle, cfg OCRConfig) *OCREngine {
	return &OCREngine{oracle: oracle, cfg: cfg}
}

// throttleInterval converts the configured frame-count throttle into a
// duration, assuming a nominal 20 FPS pipeline.
func (e *OCREngine) throttleInterval() time.Duration {
	return time.Duration(float64(e.cfg.ThrottleFrames) / 20.0 * float64(time.Second))
}

// CanProcess reports whether a new OCR call is currently admissible: the
// engine must be enabled, under its concurrency cap, and past its
// throttle interval since the last admitted call. A false result has no
// side effects.
func (e *OCREngine) CanProcess(now time.Time) bool {
	if !e.cfg.Enabled || e.oracle == nil {
		return false
	}
	if int(e.active.Load()) >= e.cfg.MaxConcurrent {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lastCallTime.IsZero() && now.Sub(e.lastCallTime) < e.throttleInterval() {
		return false
	}
	return true
}

// admit records that a call was accepted, advancing the throttle clock and
// the concurrency counter. Call release() when the call completes.
func (e *OCREngine) admit(now time.Time) {
	e.mu.Lock()
	e.lastCallTime = now
	e.mu.Unlock()
	e.active.Add(1)
}

func (e *OCREngine) release() {
	e.active.Add(-1)
}

// ProcessTrack attempts one throttled OCR call against a track's current
// bbox in the given frame. It is a no-op once the track's plate is already
// locked. The call runs synchronously on the caller's goroutine — the
// pipeline's single frame-processing loop is the only mutator of Track
// fields, and keeping the oracle call on that same goroutine avoids a race
// on Readings/PlateLocked/PlateText rather than chasing it with a mutex.
//
// attempted reports whether admission succeeded and the oracle was called;
// succeeded reports whether that call produced a usable reading; locked
// reports whether this call is the one that transitioned the track's plate
// from unlocked to locked, for callers that persist a plate record exactly
// once per lock.
func (e *OCREngine) ProcessTrack(frame Frame, t *Track, now time.Time) (attempted, succeeded, locked bool) {
	if t.PlateLocked || extractPlateROI == nil || !e.CanProcess(now) {
		return false, false, false
	}

	roiData, w, h, ok := extractPlateROI(frame.Data, frame.Width, frame.Height, t.Box)
	if !ok {
		return false, false, false
	}

	e.admit(now)
	defer e.release()
	attempted = true

	text, confidence, err := e.oracle.Recognize(roiData, w, h)
	if err != nil {
		return attempted, false, false
	}

	cleaned, ok := cleanText(text)
	if !ok || confidence < e.cfg.MinPlateConfidence {
		return attempted, false, false
	}

	t.AddReading(cleaned, confidence, now)
	if e.cfg.MaxSamples > 0 && len(t.Readings) > e.cfg.MaxSamples {
		t.Readings = t.Readings[len(t.Readings)-e.cfg.MaxSamples:]
	}

	fused, ok := fuseReadings(t.Readings, e.cfg.FusionMinSamples)
	if !ok {
		return attempted, true, false
	}
	if fused.NumSamples >= e.cfg.FusionMinSamples {
		t.PlateLocked = true
		t.PlateText = fused.Text
		t.PlateConfidence = fused.Confidence
		locked = true
	}

	return attempted, true, locked
}

// cleanText normalizes raw OCR output: uppercase, strip anything that
// isn't alphanumeric, and reject results shorter than 3 characters.
func cleanText(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if len(cleaned) < 3 {
		return "", false
	}
	return cleaned, true
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = minInt(minInt(del, ins), sub)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// FusedPlate is the outcome of fusing a track's accumulated OCR readings.
type FusedPlate struct {
	Text       string
	Confidence float64
	NumSamples int
}

// fuseReadings groups readings whose text is within edit distance 2 of the
// group's first member, in order of appearance, and returns the largest
// group's consensus. When the largest group has fewer than
// fusionMinSamples members, the single highest-confidence reading across
// all samples is returned instead.
func fuseReadings(readings []PlateReading, fusionMinSamples int) (FusedPlate, bool) {
	if len(readings) == 0 {
		return FusedPlate{}, false
	}

	type group struct {
		members []PlateReading
	}
	var groups []*group

	for _, r := range readings {
		placed := false
		for _, g := range groups {
			if levenshtein(r.Text, g.members[0].Text) <= 2 {
				g.members = append(g.members, r)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &group{members: []PlateReading{r}})
		}
	}

	best := groups[0]
	for _, g := range groups[1:] {
		if len(g.members) > len(best.members) {
			best = g
		}
	}

	if len(best.members) < fusionMinSamples {
		top := readings[0]
		for _, r := range readings[1:] {
			if r.Confidence > top.Confidence {
				top = r
			}
		}
		return FusedPlate{Text: top.Text, Confidence: top.Confidence, NumSamples: 1}, true
	}

	counts := make(map[string]int)
	order := make([]string, 0, len(best.members))
	var confSum float64
	var confN int
	for _, m := range best.members {
		if counts[m.Text] == 0 {
			order = append(order, m.Text)
		}
		counts[m.Text]++
	}

	mostCommon := order[0]
	for _, text := range order[1:] {
		if counts[text] > counts[mostCommon] {
			mostCommon = text
		}
	}
	for _, m := range best.members {
		if m.Text == mostCommon {
			confSum += m.Confidence
			confN++
		}
	}

	return FusedPlate{
		Text:       mostCommon,
		Confidence: confSum / float64(confN),
		NumSamples: len(best.members),
	}, true
}
