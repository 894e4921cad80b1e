package anpr

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// kalmanFilter is a constant-velocity Kalman filter over an 8-dimensional
// state (cx, cy, w, h, vcx, vcy, vw, vh), tracking one box through a
// sequence of noisy bbox measurements (cx, cy, w, h).
//
// Initial covariance is 10*I, process noise is 0.1*I, measurement noise is
// 1*I, matching the model specified for the tracker.
type kalmanFilter struct {
	mu sync.Mutex

	state *mat.VecDense // 8x1
	p     *mat.Dense    // 8x8 covariance
	f     *mat.Dense    // 8x8 state transition
	h     *mat.Dense    // 4x8 measurement matrix
	q     *mat.Dense    // 8x8 process noise
	r     *mat.Dense    // 4x4 measurement noise
}

// newKalmanFilter seeds a filter from an initial bbox measurement, with zero
// initial velocity.
func newKalmanFilter(box BBox) *kalmanFilter {
	cx, cy := box.Center()
	w, h := box.Width(), box.Height()

	state := mat.NewVecDense(8, []float64{cx, cy, w, h, 0, 0, 0, 0})

	p := identity(8)
	p.Scale(10, p)

	f := identity(8)
	// position/size accumulate velocity each step
	f.Set(0, 4, 1)
	f.Set(1, 5, 1)
	f.Set(2, 6, 1)
	f.Set(3, 7, 1)

	hMat := mat.NewDense(4, 8, nil)
	for i := 0; i < 4; i++ {
		hMat.Set(i, i, 1)
	}

	q := identity(8)
	q.Scale(0.1, q)

	r := identity(4)

	return &kalmanFilter{
		state: state,
		p:     p,
		f:     f,
		h:     hMat,
		q:     q,
		r:     r,
	}
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// predict advances the filter one step and returns the predicted bbox.
func (kf *kalmanFilter) predict() BBox {
	kf.mu.Lock()
	defer kf.mu.Unlock()

	var newState mat.VecDense
	newState.MulVec(kf.f, kf.state)
	kf.state = &newState

	var fp mat.Dense
	fp.Mul(kf.f, kf.p)
	var fpft mat.Dense
	fpft.Mul(&fp, kf.f.T())
	fpft.Add(&fpft, kf.q)
	kf.p = &fpft

	return kf.bboxLocked()
}

// update applies the standard Kalman correction for a new bbox measurement.
func (kf *kalmanFilter) update(box BBox) error {
	kf.mu.Lock()
	defer kf.mu.Unlock()

	cx, cy := box.Center()
	measurement := mat.NewVecDense(4, []float64{cx, cy, box.Width(), box.Height()})

	var hx mat.VecDense
	hx.MulVec(kf.h, kf.state)

	var y mat.VecDense
	y.SubVec(measurement, &hx)

	var hp mat.Dense
	hp.Mul(kf.h, kf.p)
	var s mat.Dense
	s.Mul(&hp, kf.h.T())
	s.Add(&s, kf.r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("kalman innovation covariance not invertible: %w", err)
	}

	var pht mat.Dense
	pht.Mul(kf.p, kf.h.T())
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky mat.VecDense
	ky.MulVec(&k, &y)
	var newState mat.VecDense
	newState.AddVec(kf.state, &ky)
	kf.state = &newState

	ident := identity(8)
	var kh mat.Dense
	kh.Mul(&k, kf.h)
	var ikh mat.Dense
	ikh.Sub(ident, &kh)
	var newP mat.Dense
	newP.Mul(&ikh, kf.p)
	kf.p = &newP

	return nil
}

// bbox returns the current state's derived bbox.
func (kf *kalmanFilter) bbox() BBox {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	return kf.bboxLocked()
}

func (kf *kalmanFilter) bboxLocked() BBox {
	cx, cy, w, h := kf.state.AtVec(0), kf.state.AtVec(1), kf.state.AtVec(2), kf.state.AtVec(3)
	return BBox{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// velocity returns the filter's current (vcx, vcy) estimate.
func (kf *kalmanFilter) velocity() (vx, vy float64) {
	kf.mu.Lock()
	defer kf.mu.Unlock()
	return kf.state.AtVec(4), kf.state.AtVec(5)
}
