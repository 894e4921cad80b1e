package anpr

import (
	"sort"
	"time"
)

// TrackerConfig parameterizes one camera's Tracker.
type TrackerConfig struct {
	MinHits       int     // hits required before Tentative -> Confirmed
	MaxLostFrames int     // frames a Lost track may go unmatched before Deleted
	IoUThreshold  float64 // minimum IoU for a valid match
}

// Tracker is a per-camera multi-object tracker: a Kalman filter per track,
// matched against each frame's detections by greedy IoU assignment.
//
// A Tracker is not safe for concurrent use; each camera owns exactly one.
type Tracker struct {
	cameraID int
	cfg      TrackerConfig

	tracks map[int]*Track
	nextID int
}

// NewTracker constructs a Tracker for the given camera.
func NewTracker(cameraID int, cfg TrackerConfig) *Tracker {
	return &Tracker{
		cameraID: cameraID,
		cfg:      cfg,
		tracks:   make(map[int]*Track),
		nextID:   1,
	}
}

type match struct {
	trackID int
	detIdx  int
	iou     float64
}

// Update advances every track one frame given this frame's detections, and
// returns the Confirmed and Lost tracks (Tentative and Deleted tracks are
// never surfaced to callers).
//
// Update order is fixed: predict all tracks, match by greedy IoU, update
// matched tracks, create tracks for unmatched detections, then age/demote
// unmatched tracks.
func (tr *Tracker) Update(detections []Detection, now time.Time) []*Track {
	ids := make([]int, 0, len(tr.tracks))
	for id := range tr.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		tr.tracks[id].Box = tr.tracks[id].kf.predict()
	}

	candidates := make([]match, 0, len(ids)*len(detections))
	for _, id := range ids {
		t := tr.tracks[id]
		for j, det := range detections {
			v := iou(t.Box, det.Box)
			if v > tr.cfg.IoUThreshold {
				candidates = append(candidates, match{trackID: id, detIdx: j, iou: v})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].iou != candidates[j].iou {
			return candidates[i].iou > candidates[j].iou
		}
		if candidates[i].trackID != candidates[j].trackID {
			return candidates[i].trackID < candidates[j].trackID
		}
		return candidates[i].detIdx < candidates[j].detIdx
	})

	matchedTrack := make(map[int]bool, len(ids))
	matchedDet := make(map[int]bool, len(detections))
	trackToDet := make(map[int]int, len(ids))

	for _, c := range candidates {
		if matchedTrack[c.trackID] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackID] = true
		matchedDet[c.detIdx] = true
		trackToDet[c.trackID] = c.detIdx
	}

	for _, id := range ids {
		t := tr.tracks[id]
		detIdx, ok := trackToDet[id]
		if !ok {
			continue
		}
		det := detections[detIdx]

		if err := t.kf.update(det.Box); err != nil {
			// invariant violation: abandon this track, keep processing the rest
			t.State = Deleted
			continue
		}
		t.Box = t.kf.bbox()
		t.VX, t.VY = t.kf.velocity()
		t.Hits++
		t.Age++
		t.TimeSinceUpdate = 0
		t.LastSeen = now
		t.Confidence = det.Confidence
		t.VehicleType = det.VehicleType

		switch t.State {
		case Tentative:
			if t.Hits >= tr.cfg.MinHits {
				t.State = Confirmed
			}
		case Lost:
			t.State = Confirmed
		}
	}

	for j, det := range detections {
		if matchedDet[j] {
			continue
		}
		id := tr.nextID
		tr.nextID++
		tr.tracks[id] = &Track{
			CameraID:    tr.cameraID,
			TrackID:     id,
			State:       Tentative,
			Box:         det.Box,
			Hits:        1,
			Age:         1,
			FirstSeen:   now,
			LastSeen:    now,
			Confidence:  det.Confidence,
			VehicleType: det.VehicleType,
			kf:          newKalmanFilter(det.Box),
		}
		if tr.cfg.MinHits <= 1 {
			tr.tracks[id].State = Confirmed
		}
	}

	for _, id := range ids {
		t := tr.tracks[id]
		if matchedTrack[id] {
			continue
		}
		t.Age++
		t.TimeSinceUpdate++

		switch t.State {
		case Tentative:
			t.State = Deleted
		case Confirmed:
			t.State = Lost
		case Lost:
			if t.TimeSinceUpdate > tr.cfg.MaxLostFrames {
				t.State = Deleted
			}
		}
	}

	result := make([]*Track, 0, len(tr.tracks))
	for id, t := range tr.tracks {
		if t.State == Deleted {
			delete(tr.tracks, id)
			continue
		}
		if t.State == Confirmed || t.State == Lost {
			result = append(result, t)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].TrackID < result[j].TrackID })
	return result
}

// Tracks returns every live (non-Deleted) track, regardless of state.
func (tr *Tracker) Tracks() []*Track {
	out := make([]*Track, 0, len(tr.tracks))
	for _, t := range tr.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}
