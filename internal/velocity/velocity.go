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

// Package velocity turns a pulse.Capture snapshot into rpm/rad-per-second
// estimates, routing pulses through a sector calibrator along the way.
package velocity

import (
	"math"
	"time"

	"github.com/aamcrae/rover/internal/calib"
	"github.com/aamcrae/rover/internal/nvs"
	"github.com/aamcrae/rover/internal/pulse"
)

// Config configures an Estimator.
type Config struct {
	PPR           uint16
	AlphaPeriod   float32 // EMA weight for new samples, (0,1]
	TimeoutStop   time.Duration
	Invert        bool
}

// Estimator consumes a pulse.Capture, corrects each pulse's period through
// a calib.Calibrator, maintains an EMA of the period, and derives rpm/omega
// along with the running sector index.
type Estimator struct {
	cfg Config
	cap *pulse.Capture
	cal *calib.Calibrator

	lastConsumed uint32
	periodEmaUs  float32
	rpm          float32
	omega        float32
	lastSeen     time.Time
	sectorIdx    uint16
	stepDir      int
}

// New creates an Estimator reading from cap and correcting through cal.
func New(cfg Config, cap *pulse.Capture, cal *calib.Calibrator) *Estimator {
	return &Estimator{cfg: cfg, cap: cap, cal: cal, stepDir: +1}
}

// SetStepDirection selects whether the sector index advances (+1) or
// retreats (-1) per consumed pulse, matching the direction the wheel is
// actually turning.
func (e *Estimator) SetStepDirection(dir int) {
	if dir >= 0 {
		e.stepDir = +1
	} else {
		e.stepDir = -1
	}
}

func (e *Estimator) StepDirection() int { return e.stepDir }

// SectorIdx returns the current uncorrected sector index.
func (e *Estimator) SectorIdx() uint16 { return e.sectorIdx }

// Rpm, Omega return the most recent smoothed speed estimate. Both are
// non-negative unless Config.Invert is set, which negates them; otherwise
// sign is carried separately by the caller.
func (e *Estimator) Rpm() float32   { return e.rpm }
func (e *Estimator) Omega() float32 { return e.omega }

// Zero resets all derived state.
func (e *Estimator) Zero() {
	e.lastConsumed = 0
	e.periodEmaUs = 0
	e.rpm = 0
	e.omega = 0
	e.sectorIdx = 0
	e.stepDir = +1
}

// Update drains newly captured pulses since the last call, feeding the
// calibrator during calibration/alignment and advancing rpm/omega/sector
// state. now is used for the stall timeout.
func (e *Estimator) Update(now time.Time, store nvs.Store) {
	snap := e.cap.Read()
	if snap.Count == e.lastConsumed {
		if !e.lastSeen.IsZero() && now.Sub(e.lastSeen) > e.cfg.TimeoutStop {
			e.rpm = 0
			e.omega = 0
			e.periodEmaUs = 0
		}
		return
	}
	pulses := snap.Count - e.lastConsumed
	e.lastConsumed = snap.Count
	for i := uint32(0); i < pulses; i++ {
		e.applyPeriod(float32(snap.PeriodUs), now, store)
	}
}

func (e *Estimator) applyPeriod(dtUs float32, now time.Time, store nvs.Store) {
	dt := dtUs
	if e.cal != nil {
		if e.cal.IsCalibrating() || e.cal.IsAligning() {
			e.cal.FeedPeriod(e.sectorIdx, dt)
			if e.cal.IsCalibrating() {
				e.cal.FinishCalibrationIfReady(store)
			}
			if e.cal.IsAligning() {
				if _, _, ok := e.cal.FinishAlignmentIfReady(store); ok {
					// Bumpless restart: the sector boundaries just
					// shifted by the recovered offset, so the period
					// EMA built up against the old alignment no
					// longer corresponds to the new one.
					e.periodEmaUs = 0
					e.rpm = 0
					e.omega = 0
				}
			}
		}
		dt = e.cal.CorrectDt(e.sectorIdx, e.stepDir, dt)
	}

	if e.periodEmaUs <= 0 {
		e.periodEmaUs = dt
	} else {
		a := e.cfg.AlphaPeriod
		e.periodEmaUs = (1-a)*e.periodEmaUs + a*dt
	}

	if e.periodEmaUs > 0 {
		revPerSec := 1.0e6 / (float32(e.cfg.PPR) * e.periodEmaUs)
		rpm := 60.0 * revPerSec
		omega := 2.0 * float32(math.Pi) * revPerSec
		if e.cfg.Invert {
			rpm = -rpm
			omega = -omega
		}
		e.rpm = rpm
		e.omega = omega
		e.lastSeen = now
	}

	if e.stepDir > 0 {
		e.sectorIdx = (e.sectorIdx + 1) % e.cfg.PPR
	} else if e.sectorIdx == 0 {
		e.sectorIdx = e.cfg.PPR - 1
	} else {
		e.sectorIdx--
	}
}
