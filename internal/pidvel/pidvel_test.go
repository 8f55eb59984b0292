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

import "testing"

func TestNewSelectsDiscretization(t *testing.T) {
	if _, ok := New(Config{Mode: Incremental}).(*incrementalPID); !ok {
		t.Errorf("New with Mode=Incremental did not return *incrementalPID")
	}
	if _, ok := New(Config{Mode: Filtered}).(*PIDF); !ok {
		t.Errorf("New with Mode=Filtered did not return *PIDF")
	}
}

func TestIncrementalProportionalStep(t *testing.T) {
	p := newIncremental(Config{Kp: 1, Ts: 0.01, UMin: 0, UMax: 1, Clamp: true})
	u := p.Update(1, 0)
	if u <= 0 {
		t.Errorf("Update(1,0) with Kp=1: want positive output, got %v", u)
	}
}

func TestIncrementalClamps(t *testing.T) {
	p := newIncremental(Config{Kp: 100, Ts: 0.01, UMin: 0, UMax: 1, Clamp: true})
	u := p.Update(1, 0)
	if u != 1 {
		t.Errorf("Update with large Kp: want clamp to UMax=1, got %v", u)
	}
}

func TestIncrementalReset(t *testing.T) {
	p := newIncremental(Config{Kp: 1, Ki: 1, Kd: 1, Ts: 0.01, UMax: 100, Clamp: true})
	p.Update(1, 0)
	p.Update(1, 0.2)
	p.Reset(0.5)
	if p.U() != 0.5 {
		t.Errorf("Reset(0.5): U() = %v, want 0.5", p.U())
	}
	if p.e1 != 0 || p.e2 != 0 {
		t.Errorf("Reset did not clear error history: e1=%v e2=%v", p.e1, p.e2)
	}
}

func TestPIDFProportionalStep(t *testing.T) {
	p := newPIDF(Config{Kp: 1, Ts: 0.01, UMin: 0, UMax: 1, Clamp: true})
	u := p.Update(1, 0)
	if u <= 0 {
		t.Errorf("Update(1,0) with Kp=1: want positive output, got %v", u)
	}
}

func TestPIDFDerivativeOnMeasurement(t *testing.T) {
	// A step change in reference with an unchanged measurement must not
	// spike the derivative term, since the derivative is computed from
	// the measurement rather than the error.
	p := newPIDF(Config{Kp: 0, Kd: 10, Ts: 0.01, UMax: 1000, Clamp: true})
	p.Update(0, 0.5)
	u := p.Update(5, 0.5)
	if u != 0 {
		t.Errorf("derivative-on-measurement: reference step produced nonzero output %v", u)
	}
}

func TestPIDFAntiWindupHoldsIntegralWhileSaturating(t *testing.T) {
	p := newPIDF(Config{Ki: 10, Ts: 0.1, UMin: 0, UMax: 1, Clamp: true, AntiWindup: true})
	p.Update(1, 0)
	// The first update has no previous error to integrate; the second
	// brings the output exactly to UMax without clamping.
	p.Update(1, 0)
	held := p.integral
	for i := 0; i < 5; i++ {
		p.Update(1, 0)
	}
	if p.integral != held {
		t.Errorf("anti-windup: integral grew from %v to %v while saturating", held, p.integral)
	}
}

func TestPIDFWithoutAntiWindupIntegralGrows(t *testing.T) {
	p := newPIDF(Config{Ki: 10, Ts: 0.1, UMin: 0, UMax: 1, Clamp: true, AntiWindup: false})
	p.Update(1, 0)
	first := p.integral
	p.Update(1, 0)
	if p.integral <= first {
		t.Errorf("without anti-windup: integral did not keep accumulating, first=%v second=%v", first, p.integral)
	}
}

func TestPIDFReset(t *testing.T) {
	p := newPIDF(Config{Kp: 1, Ki: 1, Ts: 0.01, UMax: 100, Clamp: true})
	p.Update(1, 0)
	p.Reset(0.25)
	if p.U() != 0.25 {
		t.Errorf("Reset(0.25): U() = %v, want 0.25", p.U())
	}
	if p.integral != 0 || p.hasPrev {
		t.Errorf("Reset did not clear internal history: integral=%v hasPrev=%v", p.integral, p.hasPrev)
	}
}

func TestClampf(t *testing.T) {
	cases := []struct{ x, a, b, want float32 }{
		{5, 0, 1, 1},
		{-5, 0, 1, 0},
		{0.5, 0, 1, 0.5},
	}
	for _, c := range cases {
		if got := clampf(c.x, c.a, c.b); got != c.want {
			t.Errorf("clampf(%v,%v,%v) = %v, want %v", c.x, c.a, c.b, got, c.want)
		}
	}
}
