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

package trajectory

import (
	"testing"
	"time"
)

type fakeDrive struct {
	v, w    float32
	updates int
}

func (f *fakeDrive) SetTwist(v, w float32)          { f.v, f.w = v, w }
func (f *fakeDrive) Update(dt float32, now time.Time) { f.updates++ }

func TestComputeSymmetricTrapezoidShape(t *testing.T) {
	peak, t1, t2, tf := computeSymmetricTrapezoid(3, 1)
	if peak != 1 {
		t.Errorf("peak = %v, want 1 (plans always take the requested peak)", peak)
	}
	if tf != 4.5 {
		t.Errorf("tf = %v, want 4.5 (1.5 * dq/peak)", tf)
	}
	if t1 != tf/3 || t2 != 2*tf/3 {
		t.Errorf("t1=%v t2=%v, want tf/3=%v and 2tf/3=%v", t1, t2, tf/3, 2*tf/3)
	}
}

func TestComputeSymmetricTrapezoidDegenerate(t *testing.T) {
	if peak, t1, t2, tf := computeSymmetricTrapezoid(0, 1); peak != 0 || t1 != 0 || t2 != 0 || tf != 0 {
		t.Errorf("zero distance: got %v %v %v %v, want all 0", peak, t1, t2, tf)
	}
	if peak, _, _, _ := computeSymmetricTrapezoid(1, 0); peak != 0 {
		t.Errorf("zero peak: got peak=%v, want 0", peak)
	}
}

func TestEvalSymmetricTrapezoidPhases(t *testing.T) {
	// t1=1, t2=2, tf=3, peak=2: ramp up to t1, plateau to t2, ramp down to tf.
	if got := evalSymmetricTrapezoid(0.5, 1, 2, 3, 2); got != 1 {
		t.Errorf("ramp-up half way: got %v, want 1", got)
	}
	if got := evalSymmetricTrapezoid(1.5, 1, 2, 3, 2); got != 2 {
		t.Errorf("plateau: got %v, want 2", got)
	}
	if got := evalSymmetricTrapezoid(2.5, 1, 2, 3, 2); got != 1 {
		t.Errorf("ramp-down half way: got %v, want 1", got)
	}
	if got := evalSymmetricTrapezoid(3, 1, 2, 3, 2); got != 0 {
		t.Errorf("at tf: got %v, want 0 (boundary excluded)", got)
	}
	if got := evalSymmetricTrapezoid(0, 1, 2, 3, 2); got != 0 {
		t.Errorf("at t=0: got %v, want 0", got)
	}
}

func TestPlanRotateAdvanceSignsAndPhaseOrder(t *testing.T) {
	d := &fakeDrive{}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.PlanRotateAdvance(-1.0, 2.0, 0, 0)

	if !r.IsRotating() {
		t.Fatalf("after planning a nonzero rotation: want IsRotating")
	}
	if r.DthetaPlan() != -1.0 {
		t.Errorf("DthetaPlan() = %v, want -1.0", r.DthetaPlan())
	}
	if r.DistPlan() != 2.0 {
		t.Errorf("DistPlan() = %v, want 2.0", r.DistPlan())
	}

	now := time.Unix(0, 0)
	for i := 0; i < 1000 && r.IsRotating(); i++ {
		r.Update(0.01, now)
	}
	if r.IsRotating() {
		t.Fatalf("rotation phase never finished")
	}
	if !r.IsAdvancing() {
		t.Fatalf("after rotation finishes with a nonzero planned distance: want IsAdvancing")
	}

	for i := 0; i < 1000 && !r.IsFinished(); i++ {
		r.Update(0.01, now)
	}
	if !r.IsFinished() {
		t.Fatalf("advance phase never finished")
	}
	if d.v != 0 || d.w != 0 {
		t.Errorf("after maneuver finishes: v=%v w=%v, want both 0", d.v, d.w)
	}
}

func TestPlanRotateAdvanceSkipsZeroPhases(t *testing.T) {
	d := &fakeDrive{}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.PlanRotateAdvance(0, 0, 0, 0)
	if !r.IsFinished() {
		t.Errorf("zero rotation and zero distance: want IsFinished immediately")
	}
}

func TestPlanRotateAdvanceSkipsRotationWhenDthetaZero(t *testing.T) {
	d := &fakeDrive{}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.PlanRotateAdvance(0, 1.0, 0, 0)
	if r.IsRotating() {
		t.Errorf("zero rotation with nonzero distance: want to start advancing directly")
	}
	if !r.IsAdvancing() {
		t.Errorf("want IsAdvancing true")
	}
}

func TestCancelZeroesTwistAndStopsPlan(t *testing.T) {
	d := &fakeDrive{}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.PlanRotateAdvance(1.0, 1.0, 0, 0)
	r.Cancel()
	if !r.IsFinished() {
		t.Errorf("Cancel: want IsFinished")
	}
	if d.v != 0 || d.w != 0 {
		t.Errorf("Cancel: drive twist v=%v w=%v, want both 0", d.v, d.w)
	}
}

func TestUpdateWhenIdleHoldsZeroTwist(t *testing.T) {
	d := &fakeDrive{v: 5, w: 5}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.Update(0.01, time.Unix(0, 0))
	if d.v != 0 || d.w != 0 {
		t.Errorf("Update while idle: v=%v w=%v, want both 0", d.v, d.w)
	}
	if d.updates != 1 {
		t.Errorf("Update while idle: drive.Update called %d times, want 1", d.updates)
	}
}

func TestRestartResetsElapsedTimeOfActivePhase(t *testing.T) {
	d := &fakeDrive{}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.PlanRotateAdvance(1.0, 0, 0, 0)
	now := time.Unix(0, 0)
	r.Update(0.2, now)
	if r.TInPhase() == 0 {
		t.Fatalf("expected nonzero elapsed time before Restart")
	}
	r.Restart()
	if r.TInPhase() != 0 {
		t.Errorf("TInPhase() after Restart = %v, want 0", r.TInPhase())
	}
}

func TestPlanFromPointInRobotFrame(t *testing.T) {
	d := &fakeDrive{}
	r := New(Config{WMaxDefault: 1, VMaxDefault: 1}, d, nil)
	r.PlanFromPointInRobotFrame(1, 0, 0, 0)
	if r.DthetaPlan() != 0 {
		t.Errorf("point straight ahead: DthetaPlan() = %v, want 0", r.DthetaPlan())
	}
	if r.DistPlan() != 1 {
		t.Errorf("point straight ahead: DistPlan() = %v, want 1", r.DistPlan())
	}
}
