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

package motor

import "testing"

type fakeChannel struct {
	maxDuty uint32
	duty    uint32
}

func (f *fakeChannel) SetDuty(d uint32) error { f.duty = d; return nil }
func (f *fakeChannel) MaxDuty() uint32        { return f.maxDuty }
func (f *fakeChannel) Close() error           { return nil }

func newTestMotor(t *testing.T, cfg Config) (*Motor, *fakeChannel, *fakeChannel) {
	t.Helper()
	in1 := &fakeChannel{maxDuty: 1000}
	in2 := &fakeChannel{maxDuty: 1000}
	m, err := New(cfg, in1, in2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, in1, in2
}

func TestNewRejectsMaxDutyMismatch(t *testing.T) {
	in1 := &fakeChannel{maxDuty: 1000}
	in2 := &fakeChannel{maxDuty: 500}
	if _, err := New(Config{}, in1, in2, nil); err == nil {
		t.Errorf("New with mismatched MaxDuty: want error, got nil")
	}
}

func TestSignMagnitudeDrivesSingleChannel(t *testing.T) {
	m, in1, in2 := newTestMotor(t, Config{Drive: SignMagnitude})
	m.SetCommand(0.5)
	m.Update(1)
	if in1.duty == 0 || in2.duty != 0 {
		t.Errorf("forward command: in1=%d in2=%d, want in1>0 in2==0", in1.duty, in2.duty)
	}

	m.SetCommand(-0.5)
	m.Update(1)
	if in2.duty == 0 || in1.duty != 0 {
		t.Errorf("reverse command: in1=%d in2=%d, want in1==0 in2>0", in1.duty, in2.duty)
	}
}

func TestLockedAntiPhaseSplitsBothChannels(t *testing.T) {
	m, in1, in2 := newTestMotor(t, Config{Drive: LockedAntiPhase})
	m.SetCommand(1)
	m.Update(1)
	if in1.duty != in1.maxDuty {
		t.Errorf("full forward: in1=%d, want %d", in1.duty, in1.maxDuty)
	}
	if in2.duty != 0 {
		t.Errorf("full forward: in2=%d, want 0", in2.duty)
	}
}

func TestDeadbandZeroesSmallCommands(t *testing.T) {
	m, in1, in2 := newTestMotor(t, Config{Drive: SignMagnitude, Deadband: 0.1, Neutral: Coast})
	m.SetCommand(0.05)
	m.Update(1)
	if in1.duty != 0 || in2.duty != 0 {
		t.Errorf("command below deadband: in1=%d in2=%d, want both 0", in1.duty, in2.duty)
	}
}

func TestMinOutputFloorsPastDeadband(t *testing.T) {
	m, in1, _ := newTestMotor(t, Config{Drive: SignMagnitude, Deadband: 0.1, MinOutput: 0.3})
	m.SetCommand(0.11)
	m.Update(1)
	got := float32(in1.duty) / float32(in1.maxDuty)
	if got < 0.29 {
		t.Errorf("command just past deadband: applied duty fraction %v, want >= MinOutput 0.3", got)
	}
}

func TestSlewRateLimitsStepChange(t *testing.T) {
	m, in1, _ := newTestMotor(t, Config{Drive: SignMagnitude, SlewRatePerSec: 1})
	m.SetCommand(1)
	m.Update(0.1) // 0.1s at 1/s slew => applied should be ~0.1, not 1
	got := float32(in1.duty) / float32(in1.maxDuty)
	if got > 0.2 {
		t.Errorf("after one slew-limited step: applied duty fraction %v, want <= ~0.1", got)
	}
}

func TestCoastNeutralZeroesBothChannels(t *testing.T) {
	m, in1, in2 := newTestMotor(t, Config{Drive: SignMagnitude, Neutral: Coast})
	m.SetCommand(1)
	m.Update(1)
	m.Stop()
	if in1.duty != 0 || in2.duty != 0 {
		t.Errorf("Stop with Coast neutral: in1=%d in2=%d, want both 0", in1.duty, in2.duty)
	}
}

func TestBrakeNeutralDrivesBothChannelsHigh(t *testing.T) {
	m, in1, in2 := newTestMotor(t, Config{Drive: SignMagnitude, Neutral: Brake})
	m.SetCommand(1)
	m.Update(1)
	m.Stop()
	if in1.duty != in1.maxDuty || in2.duty != in2.maxDuty {
		t.Errorf("Stop with Brake neutral: in1=%d in2=%d, want both %d", in1.duty, in2.duty, in1.maxDuty)
	}
}

func TestInvertFlipsCommandSign(t *testing.T) {
	m, in1, in2 := newTestMotor(t, Config{Drive: SignMagnitude, Invert: true})
	m.SetCommand(0.5)
	m.Update(1)
	if in1.duty != 0 || in2.duty == 0 {
		t.Errorf("inverted forward command: in1=%d in2=%d, want in1==0 in2>0", in1.duty, in2.duty)
	}
}

func TestDisabledMotorIgnoresUpdate(t *testing.T) {
	m, in1, _ := newTestMotor(t, Config{Drive: SignMagnitude})
	m.SetEnabled(false)
	m.SetCommand(1)
	m.Update(1)
	if in1.duty != 0 {
		t.Errorf("Update while disabled: in1=%d, want 0", in1.duty)
	}
}
