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

// Package rigconfig reads per-wheel and per-rig configuration from an
// ini-style config file, one section per wheel plus a "rig" section for
// the drive geometry and limits.
package rigconfig

import (
	"fmt"
	"time"

	"github.com/aamcrae/config"
)

// WheelPins names the GPIO/PWM resources a wheel section binds.
type WheelPins struct {
	PwmIn1   int
	PwmIn2   int
	Encoder  int
}

// WheelConfig is everything read from one wheel's config section.
type WheelConfig struct {
	Name string
	Pins WheelPins

	PPR     int
	MaxLaps int
	UseLUT  bool

	Deadband       float64
	MinOutput      float64
	SlewRatePerSec float64
	Invert         bool
	Brake          bool // neutral mode: true=Brake, false=Coast
	AntiPhase      bool // drive mode: true=LockedAntiPhase, false=SignMagnitude

	Kp, Ki, Kd float64
	Tf         float64
	Ts         time.Duration
	Filtered   bool // PID discretization: true=Filtered, false=Incremental

	AssistOnBoot    bool
	AssistU         float64
	DirEpsU         float64
	DirHoldMs       int
	AutoAlignOnBoot bool
	AlignLapsBoot   int
}

// RigConfig is the drive-level geometry and limits, read from the "rig"
// section.
type RigConfig struct {
	WheelRadius float64
	TrackWidth  float64

	VMax, WMax       float64
	VAccMax, WAccMax float64
	ClampTwist       bool

	OmegaWheelMax            float64
	RescaleTwistToWheelLimit bool

	AutoCoordinatedAlignOnBoot bool
	AlignLapsBoot              int
	AlignAssistW               float64
	CalibAssistW               float64

	UpdatePeriod time.Duration
}

// ReadWheel parses a wheel's config section.
//
// Sample config:
//  [right]
//  pwm=18,19          # IN1, IN2 GPIO/PWM unit numbers
//  encoder=21         # Hall sensor GPIO
//  ppr=4              # pulses per revolution
//  maxlaps=4          # calibration/alignment lap buffer size
//  pid=2.5,0.8,0.05   # Kp, Ki, Kd
//  ts=10ms            # PID sample period
func ReadWheel(conf *config.Config, name string) (*WheelConfig, error) {
	s := conf.GetSection(name)
	if s == nil {
		return nil, fmt.Errorf("no config for %s", name)
	}
	w := &WheelConfig{Name: name}

	n, err := s.Parse("pwm", "%d,%d", &w.Pins.PwmIn1, &w.Pins.PwmIn2)
	if err != nil {
		return nil, fmt.Errorf("%s: pwm: %v", name, err)
	}
	if n != 2 {
		return nil, fmt.Errorf("%s: pwm: argument count", name)
	}
	if n, err = s.Parse("encoder", "%d", &w.Pins.Encoder); err != nil {
		return nil, fmt.Errorf("%s: encoder: %v", name, err)
	} else if n != 1 {
		return nil, fmt.Errorf("%s: encoder: argument count", name)
	}
	if n, err = s.Parse("ppr", "%d", &w.PPR); err != nil {
		return nil, fmt.Errorf("%s: ppr: %v", name, err)
	} else if n != 1 {
		return nil, fmt.Errorf("%s: ppr: argument count", name)
	}
	if n, err = s.Parse("maxlaps", "%d", &w.MaxLaps); err != nil {
		return nil, fmt.Errorf("%s: maxlaps: %v", name, err)
	} else if n != 1 {
		return nil, fmt.Errorf("%s: maxlaps: argument count", name)
	}
	if n, err = s.Parse("pid", "%f,%f,%f", &w.Kp, &w.Ki, &w.Kd); err != nil {
		return nil, fmt.Errorf("%s: pid: %v", name, err)
	} else if n != 3 {
		return nil, fmt.Errorf("%s: pid: argument count", name)
	}

	ts, err := s.GetArg("ts")
	if err != nil {
		return nil, fmt.Errorf("%s: ts: %v", name, err)
	}
	w.Ts, err = time.ParseDuration(ts)
	if err != nil {
		return nil, fmt.Errorf("%s: ts: %v", name, err)
	}

	w.MinOutput = 0.08
	w.Deadband = 0.02
	w.AssistU = 0.5
	w.DirEpsU = 0.05
	w.DirHoldMs = 200
	w.AlignLapsBoot = 3
	w.AssistOnBoot = true
	w.AutoAlignOnBoot = true
	w.UseLUT = true

	if v, err := s.GetArg("deadband"); err == nil {
		fmt.Sscanf(v, "%f", &w.Deadband)
	}
	if v, err := s.GetArg("minoutput"); err == nil {
		fmt.Sscanf(v, "%f", &w.MinOutput)
	}
	if v, err := s.GetArg("slewrate"); err == nil {
		fmt.Sscanf(v, "%f", &w.SlewRatePerSec)
	}
	if v, err := s.GetArg("tf"); err == nil {
		fmt.Sscanf(v, "%f", &w.Tf)
	}
	if v, err := s.GetArg("assistu"); err == nil {
		fmt.Sscanf(v, "%f", &w.AssistU)
	}
	if v, err := s.GetArg("direpsu"); err == nil {
		fmt.Sscanf(v, "%f", &w.DirEpsU)
	}
	if v, err := s.GetArg("dirholdms"); err == nil {
		fmt.Sscanf(v, "%d", &w.DirHoldMs)
	}
	if v, err := s.GetArg("alignlapsboot"); err == nil {
		fmt.Sscanf(v, "%d", &w.AlignLapsBoot)
	}
	if v, err := s.GetArg("invert"); err == nil {
		w.Invert = v == "true" || v == "1"
	}
	if v, err := s.GetArg("brake"); err == nil {
		w.Brake = v == "true" || v == "1"
	}
	if v, err := s.GetArg("antiphase"); err == nil {
		w.AntiPhase = v == "true" || v == "1"
	}
	if v, err := s.GetArg("filtered"); err == nil {
		w.Filtered = v == "true" || v == "1"
	}
	if v, err := s.GetArg("assistonboot"); err == nil {
		w.AssistOnBoot = v == "true" || v == "1"
	}
	if v, err := s.GetArg("autoalignonboot"); err == nil {
		w.AutoAlignOnBoot = v == "true" || v == "1"
	}
	if v, err := s.GetArg("uselut"); err == nil {
		w.UseLUT = v == "true" || v == "1"
	}

	return w, nil
}

// ReadRig parses the "rig" section shared by both wheels.
func ReadRig(conf *config.Config, name string) (*RigConfig, error) {
	s := conf.GetSection(name)
	if s == nil {
		return nil, fmt.Errorf("no config for %s", name)
	}
	r := &RigConfig{
		ClampTwist:               true,
		RescaleTwistToWheelLimit: true,
	}

	n, err := s.Parse("geometry", "%f,%f", &r.WheelRadius, &r.TrackWidth)
	if err != nil {
		return nil, fmt.Errorf("%s: geometry: %v", name, err)
	}
	if n != 2 {
		return nil, fmt.Errorf("%s: geometry: argument count", name)
	}
	if n, err = s.Parse("twistmax", "%f,%f", &r.VMax, &r.WMax); err != nil {
		return nil, fmt.Errorf("%s: twistmax: %v", name, err)
	} else if n != 2 {
		return nil, fmt.Errorf("%s: twistmax: argument count", name)
	}

	up, err := s.GetArg("update")
	if err != nil {
		return nil, fmt.Errorf("%s: update: %v", name, err)
	}
	r.UpdatePeriod, err = time.ParseDuration(up)
	if err != nil {
		return nil, fmt.Errorf("%s: update: %v", name, err)
	}

	r.VAccMax = 1.5
	r.WAccMax = 10.0
	r.OmegaWheelMax = 120.0
	r.AutoCoordinatedAlignOnBoot = true
	r.AlignLapsBoot = 3
	r.AlignAssistW = 2.0
	r.CalibAssistW = 2.0

	if v, err := s.GetArg("vaccmax"); err == nil {
		fmt.Sscanf(v, "%f", &r.VAccMax)
	}
	if v, err := s.GetArg("waccmax"); err == nil {
		fmt.Sscanf(v, "%f", &r.WAccMax)
	}
	if v, err := s.GetArg("omegawheelmax"); err == nil {
		fmt.Sscanf(v, "%f", &r.OmegaWheelMax)
	}
	if v, err := s.GetArg("alignlapsboot"); err == nil {
		fmt.Sscanf(v, "%d", &r.AlignLapsBoot)
	}
	if v, err := s.GetArg("alignassistw"); err == nil {
		fmt.Sscanf(v, "%f", &r.AlignAssistW)
	}
	if v, err := s.GetArg("calibassistw"); err == nil {
		fmt.Sscanf(v, "%f", &r.CalibAssistW)
	}
	if v, err := s.GetArg("clamptwist"); err == nil {
		r.ClampTwist = v == "true" || v == "1"
	}
	if v, err := s.GetArg("rescale"); err == nil {
		r.RescaleTwistToWheelLimit = v == "true" || v == "1"
	}
	if v, err := s.GetArg("autocoordalignonboot"); err == nil {
		r.AutoCoordinatedAlignOnBoot = v == "true" || v == "1"
	}

	return r, nil
}
