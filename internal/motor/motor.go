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

// Package motor drives a two-input H-bridge (IN1/IN2) from a signed duty
// command in [-1, +1], in either sign-magnitude or locked-antiphase mode,
// with deadband remapping, a minimum-output floor, slew-rate limiting and
// coast/brake neutral behaviour.
package motor

import (
	"fmt"

	"github.com/aamcrae/rover/internal/hw"
)

// NeutralMode selects what the bridge does at u == 0.
type NeutralMode int

const (
	Coast NeutralMode = iota
	Brake
)

// DriveMode selects how a nonzero command is mapped onto IN1/IN2.
type DriveMode int

const (
	SignMagnitude DriveMode = iota
	LockedAntiPhase
)

// Config configures a Motor.
type Config struct {
	Invert         bool
	Deadband       float32 // |u| below this maps to 0, suggested 0..0.2
	MinOutput      float32 // duty floor once past the deadband, suggested 0..0.3
	SlewRatePerSec float32 // max |Δu| per second, 0 disables slewing
	Neutral        NeutralMode
	Drive          DriveMode
}

// Motor drives a pair of hw.PWMChannel outputs (IN1, IN2) from a signed
// command. Both channels must share the same MaxDuty.
type Motor struct {
	cfg     Config
	in1     hw.PWMChannel
	in2     hw.PWMChannel
	log     hw.Logger
	maxDuty uint32

	uTarget  float32
	uApplied float32
	enabled  bool
}

// New builds a Motor over the two PWM channels that drive a bridge's IN1
// and IN2 inputs. Both channels are put into their neutral state.
func New(cfg Config, in1, in2 hw.PWMChannel, log hw.Logger) (*Motor, error) {
	if in1.MaxDuty() != in2.MaxDuty() {
		return nil, fmt.Errorf("motor: IN1/IN2 maxDuty mismatch: %d != %d", in1.MaxDuty(), in2.MaxDuty())
	}
	m := &Motor{cfg: cfg, in1: in1, in2: in2, log: log, maxDuty: in1.MaxDuty(), enabled: true}
	m.neutral()
	return m, nil
}

// SetEnabled disables output entirely. The target command is kept, so
// after re-enabling, Update slews from zero back toward it.
func (m *Motor) SetEnabled(en bool) {
	if m.enabled == en {
		return
	}
	m.enabled = en
	if !en {
		m.writeIn1(0)
		m.writeIn2(0)
		m.uApplied = 0
		if m.log != nil {
			m.log.Printf("motor: disabled")
		}
	} else if m.log != nil {
		m.log.Printf("motor: enabled")
	}
}

func (m *Motor) Enabled() bool { return m.enabled }

// SetCommand sets the target command; Update applies slew-rate limiting
// toward it.
func (m *Motor) SetCommand(uSigned float32) {
	if m.cfg.Invert {
		uSigned = -uSigned
	}
	m.uTarget = clamp1(uSigned)
}

func (m *Motor) CommandTarget() float32  { return m.uTarget }
func (m *Motor) CommandApplied() float32 { return m.uApplied }

// Stop sets the command to zero and applies it immediately, bypassing the
// slew limiter.
func (m *Motor) Stop() {
	m.uTarget = 0
	m.uApplied = 0
	m.neutral()
}

// Update advances the slew-limited applied command by dt and writes the
// resulting duty to both channels.
func (m *Motor) Update(dt float32) {
	if !m.enabled {
		return
	}
	target := m.uTarget
	if m.cfg.SlewRatePerSec > 0 && dt > 0 {
		maxStep := m.cfg.SlewRatePerSec * dt
		err := target - m.uApplied
		switch {
		case err > maxStep:
			m.uApplied += maxStep
		case err < -maxStep:
			m.uApplied -= maxStep
		default:
			m.uApplied = target
		}
	} else {
		m.uApplied = target
	}

	uOut := applyDeadbandMin(m.uApplied, m.cfg.Deadband, m.cfg.MinOutput)
	m.applyOutputs(uOut)
}

func applyDeadbandMin(x, deadband, minOut float32) float32 {
	ax := x
	if ax < 0 {
		ax = -ax
	}
	if ax < deadband {
		return 0
	}
	s := (ax - deadband) / (1 - deadband)
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	y := minOut + (1-minOut)*s
	if x >= 0 {
		return y
	}
	return -y
}

func (m *Motor) applyOutputs(u float32) {
	if u == 0 {
		m.neutral()
		return
	}

	mag := u
	if mag < 0 {
		mag = -mag
	}
	duty := uint32(mag*float32(m.maxDuty) + 0.5)
	if duty > m.maxDuty {
		duty = m.maxDuty
	}

	if m.cfg.Drive == SignMagnitude {
		if u > 0 {
			m.writeIn1(duty)
			m.writeIn2(0)
		} else {
			m.writeIn1(0)
			m.writeIn2(duty)
		}
		return
	}

	d1f := 0.5 + 0.5*u
	d2f := 0.5 - 0.5*u
	d1 := clampDuty(d1f, m.maxDuty)
	d2 := clampDuty(d2f, m.maxDuty)
	m.writeIn1(d1)
	m.writeIn2(d2)
}

func clampDuty(frac float32, maxDuty uint32) uint32 {
	if frac < 0 {
		frac = 0
	}
	d := uint32(frac*float32(maxDuty) + 0.5)
	if d > maxDuty {
		d = maxDuty
	}
	return d
}

func (m *Motor) neutral() {
	switch m.cfg.Neutral {
	case Coast:
		m.writeIn1(0)
		m.writeIn2(0)
	case Brake:
		m.writeIn1(m.maxDuty)
		m.writeIn2(m.maxDuty)
	}
}

func (m *Motor) writeIn1(d uint32) {
	if err := m.in1.SetDuty(d); err != nil && m.log != nil {
		m.log.Printf("motor: IN1 SetDuty(%d): %v", d, err)
	}
}

func (m *Motor) writeIn2(d uint32) {
	if err := m.in2.SetDuty(d); err != nil && m.log != nil {
		m.log.Printf("motor: IN2 SetDuty(%d): %v", d, err)
	}
}

func clamp1(x float32) float32 {
	if x < -1 {
		return -1
	}
	if x > 1 {
		return 1
	}
	return x
}
