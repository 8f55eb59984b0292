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

// Package pidvel implements wheel-speed PID controllers that operate on
// magnitudes: a reference and measured speed go in, a duty magnitude in
// [uMin, uMax] comes out. The sign of the commanded speed is applied by
// the caller, not by the controller.
package pidvel

// Controller is a magnitude-domain velocity PID. Discretization is an
// implementation detail selected at construction time via Config.
type Controller interface {
	// Update advances one sample period, with refMag and measMag both
	// non-negative, and returns the new output magnitude.
	Update(refMag, measMag float32) float32
	// Reset clears the error history and sets the reported output to u0.
	// Incremental resumes its recursion from u0; Filtered zeroes its
	// integral, so its next output does not depend on u0.
	Reset(u0 float32)
	U() float32
}

// Discretization selects which Controller implementation a Config builds.
type Discretization int

const (
	// Incremental is the closed-form velocity-form PID.
	Incremental Discretization = iota
	// Filtered is the parallel PIDF form with derivative-on-measurement
	// and trapezoidal integration.
	Filtered
)

// Config configures either PID form.
type Config struct {
	Kp, Ki, Kd float32
	Tf         float32 // derivative filter time constant, Filtered only
	Ts         float32 // sample period, seconds
	UMin, UMax float32
	Clamp      bool
	Mode       Discretization
	// AntiWindup enables clamping anti-windup on the Filtered form's
	// integral term; ignored by Incremental, which has no separate
	// integral state to clamp.
	AntiWindup bool
}

// New builds the Controller selected by cfg.Mode.
func New(cfg Config) Controller {
	if cfg.Mode == Filtered {
		return newPIDF(cfg)
	}
	return newIncremental(cfg)
}

func clampf(x, a, b float32) float32 {
	if x < a {
		return a
	}
	if x > b {
		return b
	}
	return x
}
