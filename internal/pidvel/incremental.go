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

// incrementalPID is the velocity-form PID:
//
//	u[n] = u[n-1] + c0*e[n] + c1*e[n-1] + c2*e[n-2]
//
// with
//
//	c0 =  Kp + Kd/Ts
//	c1 = -Kp + Ki*Ts - 2*Kd/Ts
//	c2 =  Kd/Ts
//
// There is no separate integral state: the recursion itself accumulates
// u[n-1], so a bumpless Reset only has to set u[n-1] to u0 and clear
// e[n-1] and e[n-2].
type incrementalPID struct {
	cfg Config

	e, e1, e2 float32
	u, uPrev  float32

	c0, c1, c2 float32
}

func newIncremental(cfg Config) *incrementalPID {
	p := &incrementalPID{cfg: cfg}
	p.recomputeCoeffs()
	return p
}

func (p *incrementalPID) recomputeCoeffs() {
	ts := p.cfg.Ts
	if ts <= 1e-9 {
		ts = 1e-3
	}
	p.c0 = p.cfg.Kp + p.cfg.Kd/ts
	p.c1 = -p.cfg.Kp + p.cfg.Ki*ts - 2*p.cfg.Kd/ts
	p.c2 = p.cfg.Kd / ts
}

func (p *incrementalPID) Update(refMag, measMag float32) float32 {
	e := refMag - measMag
	u := p.uPrev + p.c0*e + p.c1*p.e1 + p.c2*p.e2
	if p.cfg.Clamp {
		u = clampf(u, p.cfg.UMin, p.cfg.UMax)
	}
	p.e2 = p.e1
	p.e1 = e
	p.e = e
	p.uPrev = u
	p.u = u
	return u
}

func (p *incrementalPID) Reset(u0 float32) {
	p.e = 0
	p.e1 = 0
	p.e2 = 0
	p.uPrev = u0
	p.u = u0
}

func (p *incrementalPID) U() float32 { return p.u }
