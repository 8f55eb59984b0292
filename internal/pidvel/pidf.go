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

package pidvel

// PIDF is the parallel-form PID with derivative-on-measurement (so a step
// change in reference does not spike the derivative term), a first-order
// filter on the derivative, trapezoidal integration, and clamping
// anti-windup: the integral simply stops accumulating further in the
// direction that is already saturating the output.
type PIDF struct {
	cfg Config

	integral  float32
	prevMeas  float32
	prevErr   float32
	dFiltered float32
	u         float32
	hasPrev   bool
}

func newPIDF(cfg Config) *PIDF {
	return &PIDF{cfg: cfg}
}

func (p *PIDF) Update(refMag, measMag float32) float32 {
	e := refMag - measMag
	ts := p.cfg.Ts
	if ts <= 1e-9 {
		ts = 1e-3
	}

	var dMeas float32
	if p.hasPrev {
		dMeas = (measMag - p.prevMeas) / ts
	}
	tf := p.cfg.Tf
	if tf > 0 {
		alpha := ts / (tf + ts)
		p.dFiltered += alpha * (dMeas - p.dFiltered)
	} else {
		p.dFiltered = dMeas
	}

	var dI float32
	if p.hasPrev {
		dI = p.cfg.Ki * ts * (e + p.prevErr) / 2
	}
	proposedIntegral := p.integral + dI

	// Derivative term opposes measurement change, not error change.
	uUnclamped := p.cfg.Kp*e + proposedIntegral - p.cfg.Kd*p.dFiltered

	u := uUnclamped
	if p.cfg.Clamp {
		u = clampf(uUnclamped, p.cfg.UMin, p.cfg.UMax)
	}

	intoClamp := (uUnclamped > u && dI > 0) || (uUnclamped < u && dI < 0)
	if !p.cfg.AntiWindup || !intoClamp {
		p.integral = proposedIntegral
	}
	// else: saturating and this step's integral pushes further into the
	// clamp, so the integral is left at its previous value.

	p.prevErr = e
	p.prevMeas = measMag
	p.hasPrev = true
	p.u = u
	return u
}

func (p *PIDF) Reset(u0 float32) {
	p.integral = 0
	p.prevErr = 0
	p.dFiltered = 0
	p.hasPrev = false
	p.u = u0
}

func (p *PIDF) U() float32 { return p.u }
