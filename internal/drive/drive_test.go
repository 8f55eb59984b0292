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

package drive

import (
	"testing"
	"time"

	"github.com/aamcrae/rover/internal/calib"
	"github.com/aamcrae/rover/internal/motor"
	"github.com/aamcrae/rover/internal/nvs"
	"github.com/aamcrae/rover/internal/pidvel"
	"github.com/aamcrae/rover/internal/pulse"
	"github.com/aamcrae/rover/internal/velocity"
	"github.com/aamcrae/rover/internal/wheel"
)

type fakeChannel struct {
	maxDuty uint32
	duty    uint32
}

func (f *fakeChannel) SetDuty(d uint32) error { f.duty = d; return nil }
func (f *fakeChannel) MaxDuty() uint32        { return f.maxDuty }
func (f *fakeChannel) Close() error           { return nil }

// testWheel bundles a wheel with the raw pulse capture feeding it, so a
// test can drive calibration/alignment to completion by injecting edges
// directly rather than through real hardware.
type testWheel struct {
	w   *wheel.Wheel
	cap *pulse.Capture
}

// feedOneLap pushes four evenly-spaced edges (one PPR=4 lap) through the
// capture, each followed by an Update so every edge is consumed as its
// own sector period.
func (tw *testWheel) feedOneLap(now time.Time) {
	last := tw.cap.Read().LastUs
	for k := 0; k < 4; k++ {
		last += 1000
		tw.cap.OnEdge(last)
		tw.w.Update(0.01, now)
	}
}

func newTestWheel(t *testing.T, lutReady bool) *testWheel {
	t.Helper()
	in1 := &fakeChannel{maxDuty: 1000}
	in2 := &fakeChannel{maxDuty: 1000}
	mot, err := motor.New(motor.Config{Drive: motor.SignMagnitude}, in1, in2, nil)
	if err != nil {
		t.Fatalf("motor.New: %v", err)
	}
	cap := pulse.New(0)
	cal := calib.New(calib.Config{PPR: 4, MaxLaps: 4}, nil)
	store := nvs.NewMemory()
	if lutReady {
		// Build an uneven LUT (sector 1 slow) the same way
		// TestCalibrationPPR4TrimmedMeanLUT does, so PatternFwdReady
		// is true; the use flags stay off.
		if !cal.StartCalibrationDir(4, +1) {
			t.Fatalf("StartCalibrationDir failed")
		}
		periods := [4]float32{100, 200, 100, 100}
		for lap := 0; lap < 4; lap++ {
			for k := 0; k < 4; k++ {
				cal.FeedPeriod(uint16(k), periods[k])
			}
		}
		if !cal.FinishCalibrationIfReady(store) {
			t.Fatalf("FinishCalibrationIfReady: want true")
		}
	}
	est := velocity.New(velocity.Config{PPR: 4, AlphaPeriod: 1, TimeoutStop: time.Second}, cap, cal)
	pid := pidvel.New(pidvel.Config{Mode: pidvel.Incremental, Kp: 1})
	w := wheel.New(wheel.Config{}, mot, cap, cal, est, pid, nil)
	if err := w.Begin(store, time.Unix(0, 0)); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return &testWheel{w: w, cap: cap}
}

func newTestDrive(t *testing.T, cfg Config, lutReady bool) (*Drive, *testWheel, *testWheel) {
	t.Helper()
	right := newTestWheel(t, lutReady)
	left := newTestWheel(t, lutReady)
	return New(cfg, right.w, left.w, nil), right, left
}

func TestComputeWheelOmegasFromTwist(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2}, false)
	wR, wL := d.computeWheelOmegasFromTwist(1.0, 0)
	if wR != wL {
		t.Errorf("pure forward twist: wR=%v wL=%v, want equal", wR, wL)
	}
	wR, wL = d.computeWheelOmegasFromTwist(0, 1.0)
	if wR <= 0 || wL >= 0 {
		t.Errorf("pure spin twist: wR=%v wL=%v, want wR>0 wL<0", wR, wL)
	}
}

func TestMaybeRescaleToWheelLimitPreservesDirection(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, OmegaWheelMax: 5}, false)
	d.vCmd, d.wCmd = 1.0, 2.0
	d.omegaRCmd, d.omegaLCmd = d.computeWheelOmegasFromTwist(d.vCmd, d.wCmd)
	beforeSignR, beforeSignL := d.omegaRCmd > 0, d.omegaLCmd > 0

	d.maybeRescaleToWheelLimit()

	if absf(d.omegaRCmd) > 5.0001 || absf(d.omegaLCmd) > 5.0001 {
		t.Errorf("after rescale: omegaR=%v omegaL=%v, want both within limit 5", d.omegaRCmd, d.omegaLCmd)
	}
	if (d.omegaRCmd > 0) != beforeSignR || (d.omegaLCmd > 0) != beforeSignL {
		t.Errorf("rescale flipped a wheel's sign: R %v->%v L %v->%v", beforeSignR, d.omegaRCmd > 0, beforeSignL, d.omegaLCmd > 0)
	}
	gotMax := absf(d.omegaRCmd)
	if absf(d.omegaLCmd) > gotMax {
		gotMax = absf(d.omegaLCmd)
	}
	if gotMax < 4.999 {
		t.Errorf("rescale: larger wheel omega = %v, want pinned at the limit 5", gotMax)
	}
}

func TestMaybeRescaleToWheelLimitNoopUnderLimit(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, OmegaWheelMax: 100}, false)
	d.vCmd, d.wCmd = 0.1, 0.1
	d.omegaRCmd, d.omegaLCmd = d.computeWheelOmegasFromTwist(d.vCmd, d.wCmd)
	wantR, wantL := d.omegaRCmd, d.omegaLCmd
	d.maybeRescaleToWheelLimit()
	if d.omegaRCmd != wantR || d.omegaLCmd != wantL {
		t.Errorf("rescale under limit: changed omegaR/L from %v/%v to %v/%v", wantR, wantL, d.omegaRCmd, d.omegaLCmd)
	}
}

func TestSetTwistIgnoredWhileCoordinatedRoutineRunning(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, CalibAssistW: 0.5}, false)
	if !d.StartCoordinatedCalibration(1, 0) {
		t.Fatalf("StartCoordinatedCalibration failed")
	}
	d.SetTwist(1, 1)
	if d.VRef() != 0 || d.WRef() != 0 {
		t.Errorf("SetTwist during coordinated routine: vRef=%v wRef=%v, want both 0", d.VRef(), d.WRef())
	}
}

func TestCoordinatedCalibrationRunsRightThenLeft(t *testing.T) {
	d, right, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, CalibAssistW: 0.5}, false)
	if !d.StartCoordinatedCalibration(1, 0) {
		t.Fatalf("StartCoordinatedCalibration failed")
	}
	if d.coord != coordCalibR {
		t.Fatalf("coord = %v, want coordCalibR", d.coord)
	}
	if !right.w.IsCalibrating() {
		t.Fatalf("right wheel did not start calibrating")
	}

	now := time.Unix(0, 0)
	d.Update(0.01, now)
	if d.right.OmegaRef() <= 0 {
		t.Errorf("right wheel omega ref during coordCalibR = %v, want positive (spin right side forward)", d.right.OmegaRef())
	}

	for i := 0; i < 6 && right.w.IsCalibrating(); i++ {
		right.feedOneLap(now)
		d.Update(0.01, now)
	}
	if right.w.IsCalibrating() {
		t.Fatalf("right wheel calibration did not finish within the loop")
	}
	if d.coord != coordCalibL {
		t.Errorf("coord after right finishes = %v, want coordCalibL", d.coord)
	}
}

func TestAbortCoordinatedRoutineReturnsToIdle(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, CalibAssistW: 0.5}, false)
	d.StartCoordinatedCalibration(1, 0)
	d.AbortCoordinatedRoutine()
	if d.IsCoordinatedRoutineRunning() {
		t.Errorf("AbortCoordinatedRoutine: routine still running")
	}
	if d.coord != coordIdle {
		t.Errorf("coord after abort = %v, want coordIdle", d.coord)
	}
}

func TestStartCoordinatedAlignmentRequiresReadyPattern(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, AlignAssistW: 0.5}, false)
	if d.StartCoordinatedAlignment(1, 0) {
		t.Errorf("StartCoordinatedAlignment with no calibrated pattern on either wheel: want false")
	}
}

func TestStartCoordinatedAlignmentUsesReadyWheel(t *testing.T) {
	d, _, _ := newTestDrive(t, Config{WheelRadius: 0.05, TrackWidth: 0.2, AlignAssistW: 0.5}, true)
	if !d.StartCoordinatedAlignment(1, 0) {
		t.Fatalf("StartCoordinatedAlignment: want true with a ready pattern")
	}
	if d.coord != coordAlignR {
		t.Errorf("coord = %v, want coordAlignR", d.coord)
	}
}
