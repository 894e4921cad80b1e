//go:build cgo
// +build cgo

package anpr

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// sourceKind classifies a camera descriptor string.
type sourceKind int

const (
	sourceDevice sourceKind = iota
	sourceNetwork
	sourceFile
)

// resolveSource classifies a configured camera source string: a bare
// integer is a local device index, an rtsp:// or http(s):// URL is a
// network stream, anything else is treated as a file path (used for
// recorded-footage fixtures and demos).
func resolveSource(descriptor string) (sourceKind, string) {
	if _, err := strconv.Atoi(descriptor); err == nil {
		return sourceDevice, descriptor
	}
	lower := strings.ToLower(descriptor)
	if strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return sourceNetwork, descriptor
	}
	return sourceFile, descriptor
}

// CameraSource is the acquisition contract a tracking worker depends on.
// Implementations are not required to be safe for concurrent use; each
// camera worker owns exactly one instance.
type CameraSource interface {
	Open() error
	Read() (Frame, error)
	Close() error
}

const fourccMJPEG = 0x47504A4D

// OpenCVCamera implements CameraSource over gocv.VideoCapture. Local
// device indices use the V4L2 backend and request an MJPEG codec for USB
// webcam compatibility; network and file sources are opened with the
// default (ANY) backend.
type OpenCVCamera struct {
	mu sync.Mutex

	cameraID   int
	descriptor string
	width      int
	height     int
	fps        int

	cap    *gocv.VideoCapture
	opened bool
}

// NewOpenCVCamera constructs a camera source bound to one configured camera.
func NewOpenCVCamera(cameraID int, descriptor string, width, height, fps int) *OpenCVCamera {
	return &OpenCVCamera{
		cameraID:   cameraID,
		descriptor: descriptor,
		width:      width,
		height:     height,
		fps:        fps,
	}
}

// Open resolves the configured source descriptor and opens the underlying
// capture device.
func (c *OpenCVCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera %d already opened", c.cameraID)
	}

	kind, value := resolveSource(c.descriptor)

	var vc *gocv.VideoCapture
	var err error

	switch kind {
	case sourceDevice:
		idx, convErr := strconv.Atoi(value)
		if convErr != nil {
			return fmt.Errorf("camera %d: invalid device index %q: %w", c.cameraID, value, convErr)
		}
		vc, err = gocv.OpenVideoCaptureWithAPI(idx, gocv.VideoCaptureV4L2)
		if err == nil {
			vc.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)
		}
	case sourceNetwork:
		vc, err = gocv.OpenVideoCapture(value)
	default:
		vc, err = gocv.OpenVideoCapture(value)
	}

	if err != nil {
		return fmt.Errorf("camera %d: opening %q: %w", c.cameraID, c.descriptor, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("camera %d: %q not available", c.cameraID, c.descriptor)
	}

	if c.width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.width))
	}
	if c.height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.height))
	}
	if c.fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.fps))
	}

	// probe read: a source that opens but never yields a frame is treated
	// as unavailable, matching the acquisition probe contract.
	probe := gocv.NewMat()
	ok := vc.Read(&probe)
	empty := probe.Empty()
	probe.Close()
	if !ok || empty {
		vc.Close()
		return fmt.Errorf("camera %d: %q opened but produced no frame", c.cameraID, c.descriptor)
	}

	c.cap = vc
	c.opened = true
	return nil
}

// Read captures a single frame and returns it as raw BGR24 bytes.
func (c *OpenCVCamera) Read() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return Frame{}, fmt.Errorf("camera %d: not opened", c.cameraID)
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := c.cap.Read(&mat); !ok {
		return Frame{}, fmt.Errorf("camera %d: read failed", c.cameraID)
	}
	if mat.Empty() {
		return Frame{}, fmt.Errorf("camera %d: empty frame", c.cameraID)
	}

	return Frame{
		CameraID: c.cameraID,
		Data:     mat.ToBytes(),
		Width:    mat.Cols(),
		Height:   mat.Rows(),
	}, nil
}

// Close releases the underlying capture device.
func (c *OpenCVCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}
	c.opened = false
	if c.cap != nil {
		return c.cap.Close()
	}
	return nil
}
