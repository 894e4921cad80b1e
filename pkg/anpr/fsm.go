package anpr

import (
	"sync"
	"time"
)

// FSMConfig parameterizes one camera's entry/exit detection.
type FSMConfig struct {
	EntryYThreshold      float64
	ExitYThreshold       float64
	MinDwellTime         time.Duration
	DedupWindow          time.Duration
	RequirePlateForEntry bool
	RequirePlateForExit  bool
}

// EventFSM drives the Outside -> Approaching -> Inside -> Exiting -> Logged
// progression for every track on one camera, and suppresses repeat
// entry/exit events for the same plate within the dedup window.
//
// PositionState is the only track field the FSM is permitted to mutate;
// geometry and plate fields are read-only from its perspective.
type EventFSM struct {
	cameraID int
	cfg      FSMConfig

	mu           sync.Mutex
	recentPlates map[string]time.Time
}

// NewEventFSM constructs an FSM for one camera.
func NewEventFSM(cameraID int, cfg FSMConfig) *EventFSM {
	return &EventFSM{
		cameraID:     cameraID,
		cfg:          cfg,
		recentPlates: make(map[string]time.Time),
	}
}

// isDuplicate and recordPlate share one cache keyed on plate text alone, not
// on (eventType, plate): an exit for a plate within the dedup window of its
// own entry (or another exit) is suppressed the same way a repeat entry is.
func (f *EventFSM) isDuplicate(plate string, now time.Time) bool {
	if plate == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	last, ok := f.recentPlates[plate]
	if !ok {
		return false
	}
	return now.Sub(last) < f.cfg.DedupWindow
}

func (f *EventFSM) recordPlate(plate string, now time.Time) {
	if plate == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentPlates[plate] = now
}

// CleanupOldEntries prunes dedup cache entries older than twice the dedup
// window, preventing unbounded growth over a long-running camera.
func (f *EventFSM) CleanupOldEntries(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := 2 * f.cfg.DedupWindow
	for k, ts := range f.recentPlates {
		if now.Sub(ts) > cutoff {
			delete(f.recentPlates, k)
		}
	}
}

// normalizedY is the track's vertical center position as a fraction of
// frame height, used to compare against the entry/exit thresholds.
func normalizedY(box BBox, frameHeight int) float64 {
	if frameHeight <= 0 {
		return 0
	}
	_, cy := box.Center()
	return cy / float64(frameHeight)
}

// ProcessTrack advances one track's position-state machine by one frame and
// returns a DurableEvent when a transition produces one. Position state
// only ever moves forward; it is applied after all other track fields for
// this frame have already been updated by the tracker.
func (f *EventFSM) ProcessTrack(t *Track, frameHeight int, now time.Time) *DurableEvent {
	ny := normalizedY(t.Box, frameHeight)

	switch t.PositionState {
	case Outside:
		if ny > f.cfg.EntryYThreshold {
			t.PositionState = Approaching
		}
		return nil

	case Approaching:
		dwell := now.Sub(t.FirstSeen)
		plateOK := t.PlateReady() || !f.cfg.RequirePlateForEntry
		if dwell >= f.cfg.MinDwellTime && plateOK {
			if f.isDuplicate(t.PlateText, now) {
				return nil
			}
			t.PositionState = Inside
			return f.buildEntryEvent(t, now)
		}
		return nil

	case Inside:
		if ny > f.cfg.ExitYThreshold {
			t.PositionState = Exiting
		}
		return nil

	case Exiting:
		plateOK := t.PlateReady() || !f.cfg.RequirePlateForExit
		if t.TimeSinceUpdate > 5 && plateOK {
			if f.isDuplicate(t.PlateText, now) {
				return nil
			}
			t.PositionState = Logged
			return f.buildExitEvent(t, now)
		}
		return nil

	default: // Logged
		return nil
	}
}

func (f *EventFSM) buildEntryEvent(t *Track, now time.Time) *DurableEvent {
	f.recordPlate(t.PlateText, now)
	return &DurableEvent{
		Type:            EventEntry,
		CameraID:        t.CameraID,
		TrackID:         t.TrackID,
		VehicleType:     t.VehicleType,
		PlateText:       t.PlateText,
		HasPlate:        t.PlateReady(),
		PlateConfidence: t.PlateConfidence,
		Timestamp:       now,
		Confidence:      t.Confidence,
		EntryTime:       t.FirstSeen,
		Metadata: map[string]any{
			"color": t.Color,
			"bbox":  t.Box,
		},
	}
}

func (f *EventFSM) buildExitEvent(t *Track, now time.Time) *DurableEvent {
	f.recordPlate(t.PlateText, now)
	return &DurableEvent{
		Type:            EventExit,
		CameraID:        t.CameraID,
		TrackID:         t.TrackID,
		VehicleType:     t.VehicleType,
		PlateText:       t.PlateText,
		HasPlate:        t.PlateReady(),
		PlateConfidence: t.PlateConfidence,
		Timestamp:       now,
		Confidence:      t.Confidence,
		EntryTime:       t.FirstSeen,
		ExitTime:        now,
		Duration:        now.Sub(t.FirstSeen),
		HasExit:         true,
		Metadata: map[string]any{
			"color": t.Color,
			"bbox":  t.Box,
		},
	}
}
