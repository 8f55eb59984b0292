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

// Package hw declares the hardware collaborator interfaces that the
// control-plane packages are built against, so that real sysfs/LEDC backed
// drivers and the simulator can be swapped in without touching control
// logic.
package hw

import "time"

// PulseEdge is the callback a PulseSource invokes for every accepted edge.
// It is called from whatever goroutine the driver runs its polling or
// interrupt-equivalent loop on; the simulator calls it from the goroutine
// that steps the rig, which in cmd/simulate is the control loop itself.
type PulseEdge func(tsUs int64)

// PulseSource is a Hall-effect (or equivalent) wheel encoder input.
// Open arranges for edge reports to start arriving on cb; Close stops them.
type PulseSource interface {
	Open(cb PulseEdge) error
	Close() error
}

// PWMChannel is a single H-bridge input driven at a fixed frequency and
// resolution. SetDuty takes a duty count in [0, MaxDuty()].
type PWMChannel interface {
	SetDuty(duty uint32) error
	MaxDuty() uint32
	Close() error
}

// DigitalOut is a single GPIO output, implemented by GpioDigitalOut.
type DigitalOut interface {
	Set(v int) error
}

// Clock abstracts time.Now so tests can inject a fake clock.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock, backed by the time package.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Logger is the injected logging sink every control-plane component
// accepts. A nil Logger is valid and silences output.
type Logger interface {
	Printf(format string, v ...any)
}
