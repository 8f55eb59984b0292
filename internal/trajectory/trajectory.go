// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trajectory plans and runs rotate-then-advance maneuvers over a
// drive.Drive, each phase following a symmetric trapezoidal velocity
// profile in w(t) or v(t).
package trajectory

import (
	"math"
	"time"

	"github.com/aamcrae/rover/internal/hw"
)

// Drive is the subset of drive.Drive a Runner needs. Declared locally so
// this package does not import drive, matching the direction of the
// dependency in the rest of the control plane (drive composes wheels,
// trajectory drives drive).
type Drive interface {
	SetTwist(v, w float32)
	Update(dt float32, now time.Time)
}

// Config configures a Runner's default peak speeds.
type Config struct {
	VMaxDefault float32
	WMaxDefault float32
	VPeakScale  float32 // (0, 1]
	WPeakScale  float32
}

type state int

const (
	idle state = iota
	rotating
	advancing
	done
)

type phasePlan struct {
	dq       float32 // magnitude
	peakReq  float32
	peakReal float32
	t1, t2, tf float32
	negSign  bool
}

// Runner plans and executes one rotate-then-advance maneuver at a time
// over a Drive.
type Runner struct {
	cfg   Config
	drive Drive
	log   hw.Logger

	planRot phasePlan
	planLin phasePlan
	st      state

	t    float32
	v, w float32
}

// New builds a Runner driving drv.
func New(cfg Config, drv Drive, log hw.Logger) *Runner {
	if cfg.VPeakScale <= 0 {
		cfg.VPeakScale = 1
	}
	if cfg.WPeakScale <= 0 {
		cfg.WPeakScale = 1
	}
	return &Runner{cfg: cfg, drive: drv, log: log}
}

// PlanRotateAdvance plans a signed rotation of dtheta radians followed by
// a dist-meter (>=0) straight advance. A zero or negative wPeak/vPeak
// falls back to the Runner's configured defaults.
func (r *Runner) PlanRotateAdvance(dtheta, dist, wPeak, vPeak float32) {
	if wPeak <= 0 {
		wPeak = r.cfg.WMaxDefault * r.cfg.WPeakScale
	}
	if vPeak <= 0 {
		vPeak = r.cfg.VMaxDefault * r.cfg.VPeakScale
	}

	planPhase(&r.planRot, dtheta, wPeak)
	planPhase(&r.planLin, dist, vPeak)

	switch {
	case r.planRot.dq > 0:
		r.beginRotation()
	case r.planLin.dq > 0:
		r.beginAdvance()
	default:
		r.st = done
		r.v, r.w = 0, 0
	}

	if r.log != nil {
		r.log.Printf("trajectory: plan rot dq=%.4f peak=%.3f tf=%.3f | lin dq=%.4f peak=%.3f tf=%.3f",
			signed(r.planRot), r.planRot.peakReal, r.planRot.tf,
			signed(r.planLin), r.planLin.peakReal, r.planLin.tf)
	}
}

// PlanFromPointInRobotFrame plans a rotate-then-advance maneuver toward
// point (xR, yR) expressed in the robot's own frame: orient toward the
// point first, then advance straight to it.
func (r *Runner) PlanFromPointInRobotFrame(xR, yR, wPeak, vPeak float32) {
	dtheta := float32(math.Atan2(float64(yR), float64(xR)))
	dist := float32(math.Hypot(float64(xR), float64(yR)))
	r.PlanRotateAdvance(dtheta, dist, wPeak, vPeak)
}

// Cancel aborts the current plan immediately and zeroes the drive's
// twist.
func (r *Runner) Cancel() {
	r.st = done
	r.v, r.w = 0, 0
	r.drive.SetTwist(0, 0)
	if r.log != nil {
		r.log.Printf("trajectory: cancel")
	}
}

// Restart resets elapsed time for the phase currently running.
func (r *Runner) Restart() {
	switch r.st {
	case rotating:
		r.t = 0
		r.beginRotation()
	case advancing:
		r.t = 0
		r.beginAdvance()
	}
}

// Update advances the current phase by dt, sets the resulting twist on
// the drive, and calls the drive's own Update.
func (r *Runner) Update(dt float32, now time.Time) {
	if r.st == done || r.st == idle {
		r.drive.SetTwist(0, 0)
		r.drive.Update(dt, now)
		return
	}
	r.advanceTime(dt)
	r.drive.SetTwist(r.v, r.w)
	r.drive.Update(dt, now)
}

func (r *Runner) IsFinished() bool  { return r.st == done }
func (r *Runner) IsRotating() bool  { return r.st == rotating }
func (r *Runner) IsAdvancing() bool { return r.st == advancing }

func (r *Runner) DthetaPlan() float32 { return signed(r.planRot) }
func (r *Runner) DistPlan() float32   { return signed(r.planLin) }
func (r *Runner) VCmd() float32       { return r.v }
func (r *Runner) WCmd() float32       { return r.w }
func (r *Runner) TInPhase() float32   { return r.t }

// TfPhase returns the planned duration of whichever phase is active.
func (r *Runner) TfPhase() float32 {
	if r.st == advancing {
		return r.planLin.tf
	}
	return r.planRot.tf
}

// computeSymmetricTrapezoid derives a symmetric trapezoid (t1 = tf/3,
// t2 = 2*tf/3, tf = 1.5*dqAbs/qdotPeakReq) that moves dqAbs at peak
// qdotPeakReq. Every plan always takes the requested peak at face value
// rather than degrading to a triangle, so tf shrinks rather than the
// peak for short moves.
func computeSymmetricTrapezoid(dqAbs, qdotPeakReq float32) (qdotPeakReal, t1, t2, tf float32) {
	if dqAbs <= 0 || qdotPeakReq <= 0 {
		return 0, 0, 0, 0
	}
	tf = 1.5 * (dqAbs / qdotPeakReq)
	t1 = tf / 3
	t2 = 2 * t1
	qdotPeakReal = qdotPeakReq
	return
}

func evalSymmetricTrapezoid(t, t1, t2, tf, qdotPeak float32) float32 {
	if tf <= 0 || qdotPeak <= 0 || t <= 0 || t >= tf {
		return 0
	}
	switch {
	case t < t1:
		return qdotPeak * (t / t1)
	case t < t2:
		return qdotPeak
	default:
		tr := tf - t
		T := tf - t2
		return qdotPeak * (tr / T)
	}
}

func planPhase(p *phasePlan, dq, peakReq float32) {
	p.negSign = dq < 0
	p.dq = absf(dq)
	p.peakReq = absf(peakReq)
	p.peakReal, p.t1, p.t2, p.tf = computeSymmetricTrapezoid(p.dq, p.peakReq)
}

func (r *Runner) beginRotation() {
	r.st = rotating
	r.t = 0
	if r.log != nil {
		r.log.Printf("trajectory: begin rotation dq=%.4f peak=%.3f t1=%.3f t2=%.3f tf=%.3f",
			signed(r.planRot), r.planRot.peakReal, r.planRot.t1, r.planRot.t2, r.planRot.tf)
	}
}

func (r *Runner) beginAdvance() {
	r.st = advancing
	r.t = 0
	if r.log != nil {
		r.log.Printf("trajectory: begin advance dq=%.4f peak=%.3f t1=%.3f t2=%.3f tf=%.3f",
			signed(r.planLin), r.planLin.peakReal, r.planLin.t1, r.planLin.t2, r.planLin.tf)
	}
}

func (r *Runner) advanceTime(dt float32) {
	r.t += dt

	switch r.st {
	case rotating:
		wMag := evalSymmetricTrapezoid(r.t, r.planRot.t1, r.planRot.t2, r.planRot.tf, r.planRot.peakReal)
		if r.planRot.negSign {
			r.w = -wMag
		} else {
			r.w = wMag
		}
		r.v = 0
		if r.t >= r.planRot.tf {
			r.w = 0
			if r.planLin.dq > 0 {
				r.beginAdvance()
			} else {
				r.st = done
			}
		}
	case advancing:
		vMag := evalSymmetricTrapezoid(r.t, r.planLin.t1, r.planLin.t2, r.planLin.tf, r.planLin.peakReal)
		if r.planLin.negSign {
			r.v = -vMag
		} else {
			r.v = vMag
		}
		r.w = 0
		if r.t >= r.planLin.tf {
			r.v = 0
			r.st = done
		}
	}
}

func signed(p phasePlan) float32 {
	if p.negSign {
		return -p.dq
	}
	return p.dq
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
