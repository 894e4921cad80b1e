package anpr

import "sync/atomic"

// Stats is a process-wide registry of atomic counters, exposed through the
// HTTP API and used by operators to gauge pipeline health without tailing
// logs.
type Stats struct {
	FramesCaptured atomic.Int64
	FramesDropped  atomic.Int64

	TracksCreated   atomic.Int64
	TracksConfirmed atomic.Int64
	TracksDeleted   atomic.Int64

	OCRCalls      atomic.Int64
	OCRSuccesses  atomic.Int64
	OCRFailures   atomic.Int64

	EventsEntry atomic.Int64
	EventsExit  atomic.Int64

	WSClients atomic.Int64
}

// NewStats constructs an empty counter registry.
func NewStats() *Stats {
	return &Stats{}
}

// StatsSnapshot is a point-in-time, plain-value copy of Stats suitable for
// JSON encoding.
type StatsSnapshot struct {
	FramesCaptured  int64 `json:"frames_captured"`
	FramesDropped   int64 `json:"frames_dropped"`
	TracksCreated   int64 `json:"tracks_created"`
	TracksConfirmed int64 `json:"tracks_confirmed"`
	TracksDeleted   int64 `json:"tracks_deleted"`
	OCRCalls        int64 `json:"ocr_calls"`
	OCRSuccesses    int64 `json:"ocr_successes"`
	OCRFailures     int64 `json:"ocr_failures"`
	EventsEntry     int64 `json:"events_entry"`
	EventsExit      int64 `json:"events_exit"`
	WSClients       int64 `json:"ws_clients"`
}

// Snapshot reads every counter into a plain struct.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesCaptured:  s.FramesCaptured.Load(),
		FramesDropped:   s.FramesDropped.Load(),
		TracksCreated:   s.TracksCreated.Load(),
		TracksConfirmed: s.TracksConfirmed.Load(),
		TracksDeleted:   s.TracksDeleted.Load(),
		OCRCalls:        s.OCRCalls.Load(),
		OCRSuccesses:    s.OCRSuccesses.Load(),
		OCRFailures:     s.OCRFailures.Load(),
		EventsEntry:     s.EventsEntry.Load(),
		EventsExit:      s.EventsExit.Load(),
		WSClients:       s.WSClients.Load(),
	}
}
