package anpr

import (
	"testing"
	"time"
)

func defaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MinHits: 3, MaxLostFrames: 5, IoUThreshold: 0.3}
}

func TestTracker_SingleVehicleEntry(t *testing.T) {
	tr := NewTracker(1, defaultTrackerConfig())
	now := time.Now()

	box := BBox{X1: 100, Y1: 100, X2: 200, Y2: 200}
	det := Detection{Box: box, Confidence: 0.9, VehicleType: VehicleCar}

	var tracks []*Track
	for i := 0; i < 3; i++ {
		tracks = tr.Update([]Detection{det}, now.Add(time.Duration(i)*time.Second))
	}

	if len(tracks) != 1 {
		t.Fatalf("expected 1 confirmed track after 3 hits, got %d", len(tracks))
	}
	if tracks[0].State != Confirmed {
		t.Errorf("expected Confirmed state, got %s", tracks[0].State)
	}
	if tracks[0].Hits != 3 {
		t.Errorf("expected 3 hits, got %d", tracks[0].Hits)
	}
}

func TestTracker_TentativeNotSurfaced(t *testing.T) {
	tr := NewTracker(1, defaultTrackerConfig())
	now := time.Now()

	det := Detection{Box: BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, Confidence: 0.8, VehicleType: VehicleCar}
	tracks := tr.Update([]Detection{det}, now)

	if len(tracks) != 0 {
		t.Errorf("expected tentative track to not be surfaced, got %d tracks", len(tracks))
	}
	if len(tr.Tracks()) != 1 {
		t.Errorf("expected tracker to retain 1 internal tentative track, got %d", len(tr.Tracks()))
	}
}

func TestTracker_LostThenDeletedAfterMaxAge(t *testing.T) {
	cfg := TrackerConfig{MinHits: 1, MaxLostFrames: 2, IoUThreshold: 0.3}
	tr := NewTracker(1, cfg)
	now := time.Now()

	det := Detection{Box: BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, Confidence: 0.8, VehicleType: VehicleCar}
	tracks := tr.Update([]Detection{det}, now)
	if len(tracks) != 1 || tracks[0].State != Confirmed {
		t.Fatalf("expected immediate confirm with MinHits=1, got %+v", tracks)
	}

	tracks = tr.Update(nil, now.Add(time.Second))
	if len(tracks) != 1 || tracks[0].State != Lost {
		t.Fatalf("expected Lost after one missed frame, got %+v", tracks)
	}

	tracks = tr.Update(nil, now.Add(2*time.Second))
	if len(tracks) != 1 || tracks[0].State != Lost {
		t.Fatalf("expected still Lost within MaxLostFrames, got %+v", tracks)
	}

	tracks = tr.Update(nil, now.Add(3*time.Second))
	if len(tracks) != 0 {
		t.Fatalf("expected track deleted beyond MaxLostFrames, got %+v", tracks)
	}
	if len(tr.Tracks()) != 0 {
		t.Errorf("expected deleted track removed from internal map, got %d", len(tr.Tracks()))
	}
}

func TestTracker_LostRecoversToConfirmedOnRematch(t *testing.T) {
	cfg := TrackerConfig{MinHits: 1, MaxLostFrames: 5, IoUThreshold: 0.3}
	tr := NewTracker(1, cfg)
	now := time.Now()
	box := BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}
	det := Detection{Box: box, Confidence: 0.8, VehicleType: VehicleCar}

	tr.Update([]Detection{det}, now)
	tr.Update(nil, now.Add(time.Second))
	tracks := tr.Update([]Detection{det}, now.Add(2*time.Second))

	if len(tracks) != 1 || tracks[0].State != Confirmed {
		t.Fatalf("expected re-matched Lost track to return to Confirmed, got %+v", tracks)
	}
	if tracks[0].TimeSinceUpdate != 0 {
		t.Errorf("expected TimeSinceUpdate reset to 0 on rematch, got %d", tracks[0].TimeSinceUpdate)
	}
}

func TestTracker_HitsNeverExceedAgePlusOne(t *testing.T) {
	tr := NewTracker(1, defaultTrackerConfig())
	now := time.Now()
	box := BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}

	for i := 0; i < 10; i++ {
		tr.Update([]Detection{{Box: box, Confidence: 0.8, VehicleType: VehicleCar}}, now.Add(time.Duration(i)*time.Second))
		for _, t2 := range tr.Tracks() {
			if t2.Hits > t2.Age+1 {
				t.Fatalf("invariant violated: hits=%d age=%d", t2.Hits, t2.Age)
			}
		}
	}
}

func TestTracker_MatchAtExactThresholdIsRejected(t *testing.T) {
	// Construct a detection box whose IoU against the track's predicted box
	// is exactly the configured threshold: such a candidate must not match,
	// since the comparison is strict >, not >=.
	cfg := TrackerConfig{MinHits: 1, MaxLostFrames: 5, IoUThreshold: 0.5}
	tr := NewTracker(1, cfg)
	now := time.Now()

	box := BBox{X1: 0, Y1: 0, X2: 30, Y2: 30}
	tr.Update([]Detection{{Box: box, Confidence: 0.9, VehicleType: VehicleCar}}, now)

	// A box shifted so the intersection-over-union with the original is
	// exactly 0.5: overlap area 600 over union area 1200.
	shifted := BBox{X1: 10, Y1: 0, X2: 40, Y2: 30}
	if v := iou(box, shifted); v != 0.5 {
		t.Fatalf("test fixture invalid: expected iou exactly 0.5, got %v", v)
	}

	tracks := tr.Update([]Detection{{Box: shifted, Confidence: 0.9, VehicleType: VehicleCar}}, now.Add(time.Second))

	// The original track must have gone unmatched (Lost, with MinHits=1 it
	// was already Confirmed), and the shifted detection must have spawned a
	// brand new track rather than rematching.
	if len(tracks) != 2 {
		t.Fatalf("expected original track (Lost) plus a new track (Confirmed) from the unmatched detection, got %d: %+v", len(tracks), tracks)
	}
}

func TestTracker_SecondVehicleGetsDistinctID(t *testing.T) {
	tr := NewTracker(1, TrackerConfig{MinHits: 1, MaxLostFrames: 5, IoUThreshold: 0.3})
	now := time.Now()

	dets := []Detection{
		{Box: BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, Confidence: 0.9, VehicleType: VehicleCar},
		{Box: BBox{X1: 500, Y1: 500, X2: 560, Y2: 560}, Confidence: 0.9, VehicleType: VehicleTruck},
	}

	tracks := tr.Update(dets, now)
	if len(tracks) != 2 {
		t.Fatalf("expected 2 confirmed tracks, got %d", len(tracks))
	}
	if tracks[0].TrackID == tracks[1].TrackID {
		t.Errorf("expected distinct track IDs, got %d and %d", tracks[0].TrackID, tracks[1].TrackID)
	}
}

func TestTracker_DetectionCountBoundsTrackGrowth(t *testing.T) {
	tr := NewTracker(1, TrackerConfig{MinHits: 1, MaxLostFrames: 5, IoUThreshold: 0.3})
	now := time.Now()

	before := len(tr.Tracks())
	dets := []Detection{
		{Box: BBox{X1: 0, Y1: 0, X2: 50, Y2: 50}, Confidence: 0.9, VehicleType: VehicleCar},
		{Box: BBox{X1: 500, Y1: 500, X2: 560, Y2: 560}, Confidence: 0.9, VehicleType: VehicleTruck},
	}
	tr.Update(dets, now)
	after := len(tr.Tracks())

	if after > before+len(dets) {
		t.Errorf("track growth exceeded detection count: before=%d after=%d dets=%d", before, after, len(dets))
	}
}
