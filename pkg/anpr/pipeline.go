package anpr

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PipelineState mirrors the lifecycle of the whole processing pipeline.
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateRunning
	StateStopped
	StateClosed
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CameraSpec is everything the pipeline needs to wire up one configured
// camera, independent of how config.Config happens to be shaped.
type CameraSpec struct {
	ID         int
	Name       string
	Descriptor string
	FPS        int
	Width      int
	Height     int
}

// PipelineConfig carries every tunable the pipeline's components need,
// decoupled from the YAML config package so pkg/anpr has no import-time
// dependency on it.
type PipelineConfig struct {
	Cameras []CameraSpec

	FrameQueueSize int

	Detection struct {
		Confidence float64
		IoU        float64
		Classes    []int
	}
	Tracking TrackerConfig
	OCR      OCRConfig
	Events   FSMConfig

	DatabasePath string
}

// Pipeline is the top-level coordinator: it owns the frame bus, every
// camera's acquisition worker, tracker, OCR engine and FSM, the durable
// writer, and the process-wide stats registry.
type Pipeline struct {
	cfg PipelineConfig

	detector  Detector
	ocrOracle OCROracle

	mu    sync.RWMutex
	state PipelineState

	bus       *FrameBus
	cameraMgr *CameraManager
	writer    *Writer
	stats     *Stats

	trackers map[int]*Tracker
	ocrEngs  map[int]*OCREngine
	fsms     map[int]*EventFSM

	subscribers []chan *DurableEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline constructs a Pipeline. The detector and ocrOracle
// collaborators may be nil in OCR's case (OCR simply stays disabled); a
// nil detector means no track will ever be created.
func NewPipeline(cfg PipelineConfig, detector Detector, ocrOracle OCROracle) (*Pipeline, error) {
	writer, err := NewWriter(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("starting durable writer: %w", err)
	}

	p := &Pipeline{
		cfg:       cfg,
		detector:  detector,
		ocrOracle: ocrOracle,
		state:     StateIdle,
		bus:       NewFrameBus(cfg.FrameQueueSize),
		cameraMgr: NewCameraManager(),
		writer:    writer,
		stats:     NewStats(),
		trackers:  make(map[int]*Tracker),
		ocrEngs:   make(map[int]*OCREngine),
		fsms:      make(map[int]*EventFSM),
	}

	for _, cam := range cfg.Cameras {
		p.trackers[cam.ID] = NewTracker(cam.ID, cfg.Tracking)
		p.ocrEngs[cam.ID] = NewOCREngine(ocrOracle, cfg.OCR)
		p.fsms[cam.ID] = NewEventFSM(cam.ID, cfg.Events)

		cam := cam
		stream := NewCameraStream(cam.ID, cam.FPS, func() CameraSource {
			return NewOpenCVCamera(cam.ID, cam.Descriptor, cam.Width, cam.Height, cam.FPS)
		}, p.bus)
		p.cameraMgr.AddCamera(stream)

		p.writer.EnqueueCamera(&CameraRecord{
			ID:        cam.ID,
			Name:      cam.Name,
			Source:    cam.Descriptor,
			Status:    "configured",
			CreatedAt: time.Now(),
		})
	}

	return p, nil
}

// Subscribe returns a channel of durable events (entry/exit) as they are
// produced. Callers must drain it; a slow subscriber only misses events,
// it never blocks the pipeline.
func (p *Pipeline) Subscribe() <-chan *DurableEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *DurableEvent, 32)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Stats returns the pipeline's counter registry.
func (p *Pipeline) Stats() *Stats { return p.stats }

// CameraStatus is a per-camera connectivity snapshot for the read API.
type CameraStatus struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Source    string `json:"source"`
	Connected bool   `json:"connected"`
}

// CameraStatuses returns one entry per configured camera, reporting its
// current acquisition connectivity.
func (p *Pipeline) CameraStatuses() []CameraStatus {
	out := make([]CameraStatus, 0, len(p.cfg.Cameras))
	for _, cam := range p.cfg.Cameras {
		connected := false
		if stream, ok := p.cameraMgr.Stream(cam.ID); ok {
			connected = stream.IsConnected()
		}
		out = append(out, CameraStatus{
			ID:        cam.ID,
			Name:      cam.Name,
			Source:    cam.Descriptor,
			Connected: connected,
		})
	}
	return out
}

// HasCamera reports whether a camera ID is configured on this pipeline.
func (p *Pipeline) HasCamera(cameraID int) bool {
	for _, cam := range p.cfg.Cameras {
		if cam.ID == cameraID {
			return true
		}
	}
	return false
}

// Writer returns the durable writer, for read-path queries from the API layer.
func (p *Pipeline) Writer() *Writer { return p.writer }

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() PipelineState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Start launches camera acquisition and the frame-processing loop.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		return fmt.Errorf("pipeline already running")
	}
	if p.state == StateClosed {
		return fmt.Errorf("pipeline is closed")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.state = StateRunning

	p.cameraMgr.StartAll(p.ctx)

	p.wg.Add(1)
	go p.processLoop()

	p.wg.Add(1)
	go p.cleanupLoop()

	return nil
}

// Stop cancels acquisition and processing and waits for both to unwind.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return fmt.Errorf("pipeline is not running")
	}
	p.cancel()
	p.state = StateStopped
	p.mu.Unlock()

	p.cameraMgr.StopAll()
	p.wg.Wait()
	p.cameraMgr.Wait()
	return nil
}

// Close stops the pipeline (if running) and releases the durable writer and
// every subscriber channel. The Pipeline cannot be reused after Close.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already closed")
	}
	running := p.state == StateRunning
	p.state = StateClosed
	if running {
		p.cancel()
	}
	p.mu.Unlock()

	if running {
		p.cameraMgr.StopAll()
		p.wg.Wait()
		p.cameraMgr.Wait()
	}

	p.mu.Lock()
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	p.mu.Unlock()

	return p.writer.Close()
}

// processLoop drains the frame bus and runs each frame through detection,
// tracking, OCR admission, and the entry/exit FSM.
func (p *Pipeline) processLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case frame, ok := <-p.bus.Frames():
			if !ok {
				return
			}
			p.stats.FramesCaptured.Add(1)
			p.stats.FramesDropped.Store(p.bus.Dropped())
			p.handleFrame(frame)
		}
	}
}

func (p *Pipeline) handleFrame(frame Frame) {
	p.mu.RLock()
	tracker := p.trackers[frame.CameraID]
	fsm := p.fsms[frame.CameraID]
	ocrEng := p.ocrEngs[frame.CameraID]
	p.mu.RUnlock()
	if tracker == nil || fsm == nil {
		return
	}

	var detections []Detection
	if p.detector != nil {
		adapter := NewDetectorAdapter(p.detector, p.cfg.Detection.Confidence, p.cfg.Detection.IoU, p.cfg.Detection.Classes)
		detections = adapter.Detect(frame.Data, frame.Width, frame.Height)
	}

	now := time.Now()
	tracks := tracker.Update(detections, now)

	for _, t := range tracks {
		if ocrEng != nil {
			if attempted, succeeded, locked := ocrEng.ProcessTrack(frame, t, now); attempted {
				p.stats.OCRCalls.Add(1)
				if succeeded {
					p.stats.OCRSuccesses.Add(1)
				} else {
					p.stats.OCRFailures.Add(1)
				}
				if locked {
					p.writer.EnqueuePlate(&PlateRecord{
						CameraID:   t.CameraID,
						TrackID:    t.TrackID,
						PlateText:  t.PlateText,
						Confidence: t.PlateConfidence,
						NumSamples: len(t.Readings),
						ResolvedAt: now,
					})
				}
			}
		}
		if ev := fsm.ProcessTrack(t, frame.Height, now); ev != nil {
			p.writer.EnqueueTrack(&TrackRecord{
				CameraID:    t.CameraID,
				TrackID:     t.TrackID,
				VehicleType: t.VehicleType,
				FirstSeen:   t.FirstSeen,
				LastSeen:    t.LastSeen,
				Confidence:  t.Confidence,
				Color:       t.Color,
				Metadata:    map[string]any{"bbox": t.Box},
			})
			p.recordEvent(ev)
		}
	}
}

func (p *Pipeline) recordEvent(ev *DurableEvent) {
	switch ev.Type {
	case EventEntry:
		p.stats.EventsEntry.Add(1)
	case EventExit:
		p.stats.EventsExit.Add(1)
	}

	p.writer.Enqueue(ev)

	p.mu.RLock()
	subs := p.subscribers
	p.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// cleanupLoop periodically prunes each camera's dedup cache.
func (p *Pipeline) cleanupLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			p.mu.RLock()
			fsms := p.fsms
			p.mu.RUnlock()
			for _, f := range fsms {
				f.CleanupOldEntries(now)
			}
		}
	}
}
