package anpr

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestReconnectDelay_ExponentialBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, maxReconnectDelay},
		{100, maxReconnectDelay},
	}
	for _, c := range cases {
		if got := reconnectDelay(c.attempts); got != c.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

// fakeCameraSource fails Open() for the first failOpens calls, then succeeds.
// Once opened, Read() fails after failReadsAfter successful reads (0 means
// never fails).
type fakeCameraSource struct {
	mu sync.Mutex

	failOpens     int
	opensSoFar    int
	failReadsAfter int
	readsSoFar    int
	opened        bool
}

func (f *fakeCameraSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opensSoFar++
	if f.opensSoFar <= f.failOpens {
		return fmt.Errorf("simulated open failure")
	}
	f.opened = true
	f.readsSoFar = 0
	return nil
}

func (f *fakeCameraSource) Read() (Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readsSoFar++
	if f.failReadsAfter > 0 && f.readsSoFar > f.failReadsAfter {
		return Frame{}, fmt.Errorf("simulated read failure")
	}
	return Frame{CameraID: 1, Width: 4, Height: 4}, nil
}

func (f *fakeCameraSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = false
	return nil
}

func TestCameraStream_ConnectsImmediatelyWhenOpenSucceeds(t *testing.T) {
	bus := NewFrameBus(4)
	src := &fakeCameraSource{}
	stream := NewCameraStream(1, 50, func() CameraSource { return src }, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	var ev CameraEvent
	select {
	case ev = <-stream.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect event")
	}
	if !ev.Connected {
		t.Errorf("expected connect event, got %+v", ev)
	}

	<-done
}

func TestCameraStream_RetriesOnOpenFailureThenConnectsOnce(t *testing.T) {
	bus := NewFrameBus(4)
	src := &fakeCameraSource{failOpens: 2}
	stream := NewCameraStream(1, 50, func() CameraSource { return src }, bus)

	// two failures cost reconnectDelay(1)+reconnectDelay(2) = 1s+2s
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	connects := 0
	disconnects := 0
	timeout := time.After(4 * time.Second)
loop:
	for {
		select {
		case ev := <-stream.Events():
			if ev.Connected {
				connects++
				break loop
			}
			disconnects++
		case <-timeout:
			break loop
		}
	}

	if connects != 1 {
		t.Errorf("expected exactly 1 connect event, got %d", connects)
	}
	if disconnects != 0 {
		t.Errorf("expected no disconnect events before the stream ever connected, got %d", disconnects)
	}

	cancel()
	<-done
}

func TestCameraStream_CaptureLoopPushesFrames(t *testing.T) {
	bus := NewFrameBus(100)
	src := &fakeCameraSource{}
	stream := NewCameraStream(1, 100, func() CameraSource { return src }, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()
	<-done

	count := 0
	for {
		select {
		case <-bus.Frames():
			count++
		default:
			goto drained
		}
	}
drained:
	if count == 0 {
		t.Error("expected at least one frame pushed to the bus")
	}
}

func TestCameraStream_DisconnectEmittedOnReadFailure(t *testing.T) {
	bus := NewFrameBus(10)
	src := &fakeCameraSource{failReadsAfter: 1}
	stream := NewCameraStream(1, 100, func() CameraSource { return src }, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		stream.Run(ctx)
		close(done)
	}()

	sawDisconnect := false
	timeout := time.After(300 * time.Millisecond)
loop:
	for {
		select {
		case ev := <-stream.Events():
			if !ev.Connected {
				sawDisconnect = true
				break loop
			}
		case <-timeout:
			break loop
		}
	}

	if !sawDisconnect {
		t.Error("expected a disconnect event after a read failure")
	}

	cancel()
	<-done
}

func TestCameraManager_IsAnyConnected(t *testing.T) {
	bus := NewFrameBus(4)
	m := NewCameraManager()
	src := &fakeCameraSource{}
	m.AddCamera(NewCameraStream(1, 50, func() CameraSource { return src }, bus))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	m.StartAll(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.IsAnyConnected() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsAnyConnected() {
		t.Error("expected at least one camera to report connected")
	}

	m.Wait()
}

func TestCameraManager_RemoveCameraStopsJustThatStream(t *testing.T) {
	bus := NewFrameBus(4)
	m := NewCameraManager()
	src1 := &fakeCameraSource{}
	src2 := &fakeCameraSource{}
	m.AddCamera(NewCameraStream(1, 50, func() CameraSource { return src1 }, bus))
	m.AddCamera(NewCameraStream(2, 50, func() CameraSource { return src2 }, bus))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartAll(ctx)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !m.IsAnyConnected() {
		time.Sleep(5 * time.Millisecond)
	}
	if !m.IsAnyConnected() {
		t.Fatal("expected at least one camera to report connected")
	}

	m.RemoveCamera(1)
	if _, ok := m.Stream(1); ok {
		t.Error("expected camera 1 to be unregistered after RemoveCamera")
	}
	if _, ok := m.Stream(2); !ok {
		t.Error("expected camera 2 to remain registered")
	}

	m.StopAll()
	m.Wait()
	if m.IsAnyConnected() {
		t.Error("expected no camera connected after StopAll")
	}
}
