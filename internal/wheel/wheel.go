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

// Package wheel composes one motor, one encoder pipeline (pulse capture,
// sector calibrator, velocity estimator) and one velocity PID into a
// single closed loop driven by a signed angular-velocity reference.
package wheel

import (
	"time"

	"github.com/aamcrae/rover/internal/calib"
	"github.com/aamcrae/rover/internal/hw"
	"github.com/aamcrae/rover/internal/motor"
	"github.com/aamcrae/rover/internal/nvs"
	"github.com/aamcrae/rover/internal/pidvel"
	"github.com/aamcrae/rover/internal/pulse"
	"github.com/aamcrae/rover/internal/velocity"
)

// Config configures a Wheel. AssistOnBoot/AssistU gate the open-loop
// assist hold used during calibration and alignment, and during the
// automatic boot-time alignment attempt.
type Config struct {
	AssistOnBoot bool
	AssistU      float32

	DirEpsU    float32
	DirHoldMs  uint32

	AutoAlignOnBoot bool
	AlignLapsBoot   uint8
}

type assistMode int

const (
	assistNone assistMode = iota
	assistCal
	assistAlign
)

// Wheel is the closed loop for a single wheel.
type Wheel struct {
	cfg Config
	log hw.Logger

	mot *motor.Motor
	cap *pulse.Capture
	cal *calib.Calibrator
	est *velocity.Estimator
	pid pidvel.Controller

	omegaRef    float32
	refSign     int8
	lastRefSign int8

	assist        assistMode
	assistPrevU   float32
	wasCalibrating bool
	wasAligning    bool

	dir             int8
	routineDir      int8
	lastStrongCmdAt time.Time

	store nvs.Store
}

// New composes a Wheel over already-constructed collaborators. All of
// mot, cap, cal, est and pid must be non-nil.
func New(cfg Config, mot *motor.Motor, cap *pulse.Capture, cal *calib.Calibrator, est *velocity.Estimator, pid pidvel.Controller, log hw.Logger) *Wheel {
	return &Wheel{
		cfg: cfg, log: log,
		mot: mot, cap: cap, cal: cal, est: est, pid: pid,
		refSign: +1, lastRefSign: +1, dir: +1, routineDir: +1,
	}
}

// Begin loads persisted calibration state and attempts an automatic
// boot-time alignment in the wheel's current operating direction, if
// configured and a usable pattern exists for that direction.
func (w *Wheel) Begin(store nvs.Store, now time.Time) error {
	w.store = store
	if err := w.cal.Load(store); err != nil {
		return err
	}
	if w.log != nil {
		w.log.Printf("wheel: begin useFwd=%v useRev=%v pattFwd=%v pattRev=%v assist=%.2f",
			w.cal.UseLUTFwd(), w.cal.UseLUTRev(), w.cal.PatternFwdReady(), w.cal.PatternRevReady(), w.cfg.AssistU)
	}
	w.maybeAutoAlignOnBoot(now)
	return nil
}

// SetOmegaRef sets the signed angular-velocity reference (rad/s). A sign
// change triggers a bumpless PID reset at zero output.
func (w *Wheel) SetOmegaRef(omegaRef float32) {
	w.omegaRef = omegaRef
	if omegaRef >= 0 {
		w.refSign = +1
	} else {
		w.refSign = -1
	}
	if w.refSign != w.lastRefSign {
		w.pid.Reset(0)
		w.lastRefSign = w.refSign
		if w.log != nil {
			w.log.Printf("wheel: ref sign change -> PID reset")
		}
	}
}

func (w *Wheel) OmegaRef() float32 { return w.omegaRef }

// Update advances the encoder/velocity estimate, the motor slew limiter,
// the direction-hysteresis logic, and the velocity PID by dt, at time now.
func (w *Wheel) Update(dt float32, now time.Time) {
	w.est.Update(now, w.store)
	w.mot.Update(dt)

	if w.cal.IsCalibrating() || w.cal.IsAligning() {
		w.est.SetStepDirection(int(w.routineDir))
	} else {
		w.applyDirectionLogic(now)
	}

	wRefMag := absf(w.omegaRef)
	wMeasMag := w.est.Omega()
	if wMeasMag < 0 {
		wMeasMag = -wMeasMag
	}
	uMag := w.pid.Update(wRefMag, wMeasMag)

	if w.assist == assistNone {
		uSigned := uMag
		if w.refSign < 0 {
			uSigned = -uMag
		}
		w.mot.SetCommand(uSigned)
	}
	// While assist is active the PID still runs every tick so its error
	// history keeps advancing, but its output is overridden: the motor
	// command was already set directly by assistBegin.

	w.assistTrackEnd()
}

// StartCalibration begins a lapsN-lap calibration pass in the wheel's
// current operating direction.
func (w *Wheel) StartCalibration(lapsN uint8) bool {
	dir := w.dir
	w.routineDir = dir
	ok := w.cal.StartCalibrationDir(lapsN, int(dir))
	if ok {
		if w.log != nil {
			w.log.Printf("wheel: calibration start %d laps dir=%+d", lapsN, dir)
		}
		w.est.SetStepDirection(int(dir))
		if w.cfg.AssistOnBoot {
			w.assistBegin(true, dir)
		}
	}
	return ok
}

// StartAlignment begins a lapsN-lap alignment pass in the wheel's current
// operating direction, failing if that direction has no usable pattern.
func (w *Wheel) StartAlignment(lapsN uint8) bool {
	dir := w.dir
	pattReady := w.cal.PatternFwdReady()
	if dir < 0 {
		pattReady = w.cal.PatternRevReady()
	}
	if !pattReady {
		return false
	}
	w.routineDir = dir
	ok := w.cal.StartAlignmentDir(lapsN, int(dir))
	if ok {
		if w.log != nil {
			w.log.Printf("wheel: alignment start %d laps dir=%+d", lapsN, dir)
		}
		w.est.SetStepDirection(int(dir))
		if w.cfg.AssistOnBoot {
			w.assistBegin(false, dir)
		}
	}
	return ok
}

func (w *Wheel) IsCalibrating() bool { return w.cal.IsCalibrating() }
func (w *Wheel) IsAligning() bool    { return w.cal.IsAligning() }

func (w *Wheel) UseLUT() bool       { return w.cal.UseLUTFwd() || w.cal.UseLUTRev() }
func (w *Wheel) PatternReady() bool { return w.cal.PatternFwdReady() || w.cal.PatternRevReady() }

func (w *Wheel) SetUseLUT(on bool) error {
	w.cal.SetUseLUTFwd(on)
	w.cal.SetUseLUTRev(on)
	return w.cal.Save(w.store)
}

func (w *Wheel) ClearLUT() error { return w.cal.Clear(w.store) }

func (w *Wheel) DumpLUT(log hw.Logger)          { w.cal.DumpLUT(log) }
func (w *Wheel) DumpSectorStats(log hw.Logger)  { w.cal.DumpSectorStats(log) }

// Omega, Rpm return the estimator's most recent speed estimate, which is
// a magnitude unless the estimator's Invert option is set.
func (w *Wheel) Omega() float32 { return w.est.Omega() }
func (w *Wheel) Rpm() float32   { return w.est.Rpm() }

// Command returns the signed applied motor command.
func (w *Wheel) Command() float32 { return w.mot.CommandApplied() }

func (w *Wheel) CommandMag() float32 { return absf(w.mot.CommandApplied()) }

// SignApplied reports the sign of the applied command, defaulting to +1
// when it is exactly zero.
func (w *Wheel) SignApplied() int8 {
	if w.mot.CommandApplied() >= 0 {
		return +1
	}
	return -1
}

func (w *Wheel) SectorIdx() uint16 { return w.est.SectorIdx() }

// Neutral commands zero without waiting for the next Update.
func (w *Wheel) Neutral() { w.mot.Stop() }

func (w *Wheel) ResetPID(u0 float32) { w.pid.Reset(u0) }

func (w *Wheel) applyDirectionLogic(now time.Time) {
	uA := w.mot.CommandApplied()
	if absf(uA) > w.cfg.DirEpsU {
		s := int8(+1)
		if uA < 0 {
			s = -1
		}
		if s != w.dir {
			w.dir = s
			w.est.SetStepDirection(int(w.dir))
			if w.log != nil {
				w.log.Printf("wheel: stepDir = %+d", w.dir)
			}
		}
		w.lastStrongCmdAt = now
	}
	// When the command is small, the last direction is retained to avoid
	// flapping near zero; no action is needed here because w.dir is simply
	// left unchanged until a strong command arrives. DirHoldMs is not
	// consulted.
}

func (w *Wheel) assistBegin(isCal bool, dir int8) {
	w.assistPrevU = w.mot.CommandTarget()
	if isCal {
		w.assist = assistCal
	} else {
		w.assist = assistAlign
	}
	uSigned := w.cfg.AssistU
	if dir < 0 {
		uSigned = -uSigned
	}
	w.mot.SetCommand(uSigned)
	w.est.SetStepDirection(int(dir))
	if w.log != nil {
		w.log.Printf("wheel: assist hold u=%.2f dir=%+d", uSigned, dir)
	}
}

func (w *Wheel) assistTrackEnd() {
	isCal := w.cal.IsCalibrating()
	isAlign := w.cal.IsAligning()

	if w.assist == assistCal && w.wasCalibrating && !isCal {
		w.mot.SetCommand(w.assistPrevU)
		w.assist = assistNone
		if w.log != nil {
			w.log.Printf("wheel: assist calibration done, restoring command")
		}
	}
	if w.assist == assistAlign && w.wasAligning && !isAlign {
		w.mot.SetCommand(w.assistPrevU)
		w.assist = assistNone
		if w.log != nil {
			w.log.Printf("wheel: assist alignment done, restoring command")
		}
	}
	w.wasCalibrating = isCal
	w.wasAligning = isAlign
}

func (w *Wheel) maybeAutoAlignOnBoot(now time.Time) {
	if !w.cfg.AutoAlignOnBoot {
		return
	}
	dir := w.dir
	use := w.cal.UseLUTFwd()
	patt := w.cal.PatternFwdReady()
	if dir < 0 {
		use = w.cal.UseLUTRev()
		patt = w.cal.PatternRevReady()
	}
	if !use || !patt {
		return
	}
	n := w.cfg.AlignLapsBoot
	if w.cal.StartAlignmentDir(n, int(dir)) {
		if w.log != nil {
			w.log.Printf("wheel: auto-align on boot %d laps dir=%+d", n, dir)
		}
		w.routineDir = dir
		w.est.SetStepDirection(int(dir))
		if w.cfg.AssistOnBoot {
			w.assistBegin(false, dir)
		}
	}
}

func absf(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
