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

// Package drive orchestrates a right and left wheel into a differential
// drive: a twist (v, w) goes through acceleration ramps and a wheel-omega
// rescale before being split into per-wheel angular velocity references,
// and a four-phase coordinated state machine drives both wheels'
// alignment or calibration routines by spinning the rig in place.
package drive

import (
	"time"

	"github.com/aamcrae/rover/internal/hw"
	"github.com/aamcrae/rover/internal/nvs"
	"github.com/aamcrae/rover/internal/wheel"
)

// Config configures a Drive.
type Config struct {
	WheelRadius float32 // r, meters
	TrackWidth  float32 // L, meters

	VMax, WMax float32

	VAccMax, WAccMax float32 // 0 disables that ramp
	ClampTwist       bool

	OmegaWheelMax            float32 // <=0 disables the rescale
	RescaleTwistToWheelLimit bool

	AutoCoordinatedAlignOnBoot bool
	AlignLapsBoot              uint8
	AlignAssistW               float32

	CalibAssistW float32
}

type coordState int

const (
	coordIdle coordState = iota
	coordAlignR
	coordAlignL
	coordCalibR
	coordCalibL
)

// Drive is a two-wheel differential-drive orchestrator.
type Drive struct {
	cfg   Config
	log   hw.Logger
	right *wheel.Wheel
	left  *wheel.Wheel

	vRef, wRef float32
	vCmd, wCmd float32
	omegaRCmd, omegaLCmd float32

	coord     coordState
	coordLaps uint8
	coordW    float32
}

// New builds a Drive over an already-constructed right and left wheel.
func New(cfg Config, right, left *wheel.Wheel, log hw.Logger) *Drive {
	return &Drive{cfg: cfg, log: log, right: right, left: left}
}

// Begin propagates Begin to both wheels (each with its own persistence
// namespace) and, if configured, launches a coordinated alignment pass
// when either wheel has LUT correction enabled and a ready pattern.
func (d *Drive) Begin(rightStore, leftStore nvs.Store, now time.Time) error {
	if err := d.right.Begin(rightStore, now); err != nil {
		return err
	}
	if err := d.left.Begin(leftStore, now); err != nil {
		return err
	}
	if d.log != nil {
		d.log.Printf("drive: begin r=%.4f L=%.4f vMax=%.2f wMax=%.2f omegaMax=%.2f",
			d.cfg.WheelRadius, d.cfg.TrackWidth, d.cfg.VMax, d.cfg.WMax, d.cfg.OmegaWheelMax)
	}
	if d.cfg.AutoCoordinatedAlignOnBoot {
		okR := d.right.UseLUT() && d.right.PatternReady()
		okL := d.left.UseLUT() && d.left.PatternReady()
		if okR || okL {
			d.StartCoordinatedAlignment(d.cfg.AlignLapsBoot, d.cfg.AlignAssistW)
		}
	}
	return nil
}

// SetTwist sets the external (v, w) reference. Ignored while a
// coordinated routine is running.
func (d *Drive) SetTwist(vMps, wRadps float32) {
	if d.IsCoordinatedRoutineRunning() {
		return
	}
	d.vRef = vMps
	d.wRef = wRadps
	if d.cfg.ClampTwist {
		d.vRef = clampf(d.vRef, -d.cfg.VMax, d.cfg.VMax)
		d.wRef = clampf(d.wRef, -d.cfg.WMax, d.cfg.WMax)
	}
}

func (d *Drive) Stop() { d.SetTwist(0, 0) }

func (d *Drive) Neutral() {
	d.right.Neutral()
	d.left.Neutral()
}

// Update advances one control step. While a coordinated routine is
// running, the twist path is bypassed entirely in favor of the spin
// reference the routine computes.
func (d *Drive) Update(dt float32, now time.Time) {
	if d.IsCoordinatedRoutineRunning() {
		d.coordUpdate(dt, now)
		return
	}

	d.applyLimitsAndRamps(dt)
	d.omegaRCmd, d.omegaLCmd = d.computeWheelOmegasFromTwist(d.vCmd, d.wCmd)

	if d.cfg.OmegaWheelMax > 0 && d.cfg.RescaleTwistToWheelLimit {
		d.maybeRescaleToWheelLimit()
	}

	d.right.SetOmegaRef(d.omegaRCmd)
	d.left.SetOmegaRef(d.omegaLCmd)
	d.right.Update(dt, now)
	d.left.Update(dt, now)
}

func (d *Drive) VRef() float32    { return d.vRef }
func (d *Drive) WRef() float32    { return d.wRef }
func (d *Drive) VCmd() float32    { return d.vCmd }
func (d *Drive) WCmd() float32    { return d.wCmd }
func (d *Drive) OmegaR() float32  { return d.omegaRCmd }
func (d *Drive) OmegaL() float32  { return d.omegaLCmd }
func (d *Drive) WheelR() *wheel.Wheel { return d.right }
func (d *Drive) WheelL() *wheel.Wheel { return d.left }

func (d *Drive) applyLimitsAndRamps(dt float32) {
	if d.cfg.VAccMax > 0 {
		dvMax := d.cfg.VAccMax * dt
		dv := d.vRef - d.vCmd
		switch {
		case dv > dvMax:
			d.vCmd += dvMax
		case dv < -dvMax:
			d.vCmd -= dvMax
		default:
			d.vCmd = d.vRef
		}
	} else {
		d.vCmd = d.vRef
	}

	if d.cfg.WAccMax > 0 {
		dwMax := d.cfg.WAccMax * dt
		dw := d.wRef - d.wCmd
		switch {
		case dw > dwMax:
			d.wCmd += dwMax
		case dw < -dwMax:
			d.wCmd -= dwMax
		default:
			d.wCmd = d.wRef
		}
	} else {
		d.wCmd = d.wRef
	}

	if d.cfg.ClampTwist {
		d.vCmd = clampf(d.vCmd, -d.cfg.VMax, d.cfg.VMax)
		d.wCmd = clampf(d.wCmd, -d.cfg.WMax, d.cfg.WMax)
	}
}

func (d *Drive) computeWheelOmegasFromTwist(v, w float32) (wR, wL float32) {
	r := d.cfg.WheelRadius
	if r <= 1e-9 {
		r = 1e-3
	}
	halfL := 0.5 * d.cfg.TrackWidth
	wR = (v + halfL*w) / r
	wL = (v - halfL*w) / r
	return
}

// maybeRescaleToWheelLimit scales v and w down by a common factor so
// that the larger-magnitude wheel omega sits exactly at the limit,
// preserving both the commanded curvature and the sign of v and w.
func (d *Drive) maybeRescaleToWheelLimit() {
	aR, aL := absf(d.omegaRCmd), absf(d.omegaLCmd)
	aMax := aR
	if aL > aMax {
		aMax = aL
	}
	limit := d.cfg.OmegaWheelMax
	if aMax <= limit || limit <= 0 {
		return
	}
	k := limit / aMax
	d.vCmd *= k
	d.wCmd *= k
	d.omegaRCmd, d.omegaLCmd = d.computeWheelOmegasFromTwist(d.vCmd, d.wCmd)
	if d.log != nil {
		d.log.Printf("drive: rescale v,w by %.3f to keep |omega|<=%.2f", k, limit)
	}
}

// IsCoordinatedRoutineRunning reports whether any phase of a coordinated
// alignment or calibration is in progress.
func (d *Drive) IsCoordinatedRoutineRunning() bool { return d.coord != coordIdle }

// StartCoordinatedAlignment drives the right wheel (falling back to the
// left) through a spin-in-place alignment pass, then the other wheel if
// it also has a usable pattern.
func (d *Drive) StartCoordinatedAlignment(lapsN uint8, wAssist float32) bool {
	if d.IsCoordinatedRoutineRunning() || lapsN == 0 {
		return false
	}
	if wAssist <= 0 {
		wAssist = d.cfg.AlignAssistW
	}
	if d.right.PatternReady() {
		d.coordEnter(coordAlignR, lapsN, wAssist)
		return true
	}
	if d.left.PatternReady() {
		d.coordEnter(coordAlignL, lapsN, wAssist)
		return true
	}
	return false
}

// StartCoordinatedCalibration drives the right wheel, then the left
// wheel, through a spin-in-place calibration pass.
func (d *Drive) StartCoordinatedCalibration(lapsN uint8, wAssist float32) bool {
	if d.IsCoordinatedRoutineRunning() || lapsN == 0 {
		return false
	}
	if wAssist <= 0 {
		wAssist = d.cfg.CalibAssistW
	}
	d.coordEnter(coordCalibR, lapsN, wAssist)
	return true
}

// AbortCoordinatedRoutine cancels any running phase and returns to idle.
func (d *Drive) AbortCoordinatedRoutine() {
	if !d.IsCoordinatedRoutineRunning() {
		return
	}
	d.coordExit()
	if d.log != nil {
		d.log.Printf("drive: coordinated routine aborted")
	}
}

func (d *Drive) coordEnter(st coordState, laps uint8, wAssist float32) {
	d.coord = st
	d.coordLaps = laps
	d.coordW = absf(wAssist)

	switch st {
	case coordAlignR:
		if !d.right.PatternReady() {
			d.coord = coordIdle
			return
		}
		d.right.StartAlignment(laps)
		if d.log != nil {
			d.log.Printf("drive: align R start %d laps w=+%.3f", laps, d.coordW)
		}
	case coordAlignL:
		if !d.left.PatternReady() {
			d.coord = coordIdle
			return
		}
		d.left.StartAlignment(laps)
		if d.log != nil {
			d.log.Printf("drive: align L start %d laps w=-%.3f", laps, d.coordW)
		}
	case coordCalibR:
		d.right.StartCalibration(laps)
		if d.log != nil {
			d.log.Printf("drive: calib R start %d laps w=+%.3f", laps, d.coordW)
		}
	case coordCalibL:
		d.left.StartCalibration(laps)
		if d.log != nil {
			d.log.Printf("drive: calib L start %d laps w=-%.3f", laps, d.coordW)
		}
	}
}

func (d *Drive) coordExit() {
	d.coord = coordIdle
	d.coordLaps = 0
	d.coordW = 0
	d.right.SetOmegaRef(0)
	d.left.SetOmegaRef(0)
	d.vCmd, d.wCmd, d.vRef, d.wRef = 0, 0, 0, 0
}

func (d *Drive) coordUpdate(dt float32, now time.Time) {
	var wSpin float32
	switch d.coord {
	case coordAlignR, coordCalibR:
		wSpin = +d.coordW
	case coordAlignL, coordCalibL:
		wSpin = -d.coordW
	}

	d.vRef, d.wRef = 0, wSpin
	d.applyLimitsAndRamps(dt)
	d.omegaRCmd, d.omegaLCmd = d.computeWheelOmegasFromTwist(d.vCmd, d.wCmd)

	d.right.SetOmegaRef(d.omegaRCmd)
	d.left.SetOmegaRef(d.omegaLCmd)
	d.right.Update(dt, now)
	d.left.Update(dt, now)

	switch d.coord {
	case coordAlignR:
		if !d.right.IsAligning() {
			if d.left.PatternReady() {
				d.coordEnter(coordAlignL, d.coordLaps, d.coordW)
			} else {
				d.coordExit()
			}
		}
	case coordAlignL:
		if !d.left.IsAligning() {
			d.coordExit()
		}
	case coordCalibR:
		if !d.right.IsCalibrating() {
			d.coordEnter(coordCalibL, d.coordLaps, d.coordW)
		}
	case coordCalibL:
		if !d.left.IsCalibrating() {
			d.coordExit()
		}
	default:
		d.coordExit()
	}
}

func clampf(x, a, b float32) float32 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
