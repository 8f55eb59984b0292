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

// Package sim is a software two-wheel rig: simulated PWM bridges and Hall
// encoders that stand in for internal/hw's sysfs-backed drivers, plus a
// simple first-order wheel physics model and a pose integrator so the
// control plane can be exercised, and watched, without real hardware.
package sim

import (
	"sync"

	"github.com/aamcrae/rover/internal/hw"
)

// bridge is the shared state two BridgeChannels (IN1, IN2) write into; it
// derives the signed command the wheel physics model consumes the same
// way a sign-magnitude or locked-antiphase H-bridge would drive a real
// motor.
type bridge struct {
	mu      sync.Mutex
	maxDuty uint32
	duty1   uint32
	duty2   uint32
}

func newBridge(maxDuty uint32) *bridge {
	return &bridge{maxDuty: maxDuty}
}

// signedCommand returns the net signed command in [-1, 1] implied by the
// two channels' most recent duty, treating whichever channel carries more
// duty as driving in its polarity.
func (b *bridge) signedCommand() float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.maxDuty == 0 {
		return 0
	}
	f1 := float32(b.duty1) / float32(b.maxDuty)
	f2 := float32(b.duty2) / float32(b.maxDuty)
	return f1 - f2
}

// BridgeChannel is one of a bridge's two hw.PWMChannel inputs.
type BridgeChannel struct {
	b     *bridge
	isIn2 bool
}

func (c *BridgeChannel) SetDuty(duty uint32) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.isIn2 {
		c.b.duty2 = duty
	} else {
		c.b.duty1 = duty
	}
	return nil
}

func (c *BridgeChannel) MaxDuty() uint32 { return c.b.maxDuty }
func (c *BridgeChannel) Close() error    { return nil }

// NewBridge returns the two hw.PWMChannel halves (IN1, IN2) of one
// simulated H-bridge.
func NewBridge(maxDuty uint32) (in1, in2 *BridgeChannel) {
	b := newBridge(maxDuty)
	return &BridgeChannel{b: b}, &BridgeChannel{b: b, isIn2: true}
}

// Encoder is a simulated Hall-effect PulseSource: Open records the
// callback the wheel physics model invokes as the simulated shaft crosses
// sector boundaries.
type Encoder struct {
	mu sync.Mutex
	cb hw.PulseEdge
}

func (e *Encoder) Open(cb hw.PulseEdge) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
	return nil
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = nil
	return nil
}

func (e *Encoder) fire(tsUs int64) {
	e.mu.Lock()
	cb := e.cb
	e.mu.Unlock()
	if cb != nil {
		cb(tsUs)
	}
}

// WheelPhysics is a first-order angular-velocity model of one wheel:
// the signed bridge command maps linearly to a target omega, which the
// actual omega chases with time constant Tau. SectorError lets each of
// PPR sectors take longer or shorter to cross than an even split, to
// exercise the sector calibrator against realistic magnet spacing.
type WheelPhysics struct {
	cfg         WheelPhysicsConfig
	bridge      *bridge
	enc         *Encoder
	omega       float32 // actual angular velocity, rad/s, signed
	angle       float32 // accumulated shaft angle, rad, signed
	lastSectorF float32 // fractional sector position at last Step
	tsUs        int64
}

// WheelPhysicsConfig configures a WheelPhysics model.
type WheelPhysicsConfig struct {
	PPR         uint16
	OmegaAtFull float32    // rad/s produced by |command| == 1
	Tau         float32    // first-order lag time constant, seconds
	SectorError []float32  // per-sector multiplicative spacing error, len==PPR; nil means uniform
}

// NewWheelPhysics builds a WheelPhysics driven by in1/in2's bridge and
// reporting pulses through enc.
func NewWheelPhysics(cfg WheelPhysicsConfig, in1, in2 *BridgeChannel, enc *Encoder) *WheelPhysics {
	return &WheelPhysics{cfg: cfg, bridge: in1.b, enc: enc}
}

// Step advances the model by dt seconds (dt > 0), updating omega toward
// the bridge's current command and firing encoder edges for every sector
// boundary the shaft crosses, each offset by nowUs plus that boundary's
// fraction of dt.
func (p *WheelPhysics) Step(dt float32, nowUs int64) {
	if dt <= 0 {
		return
	}
	cmd := p.bridge.signedCommand()
	target := cmd * p.cfg.OmegaAtFull
	tau := p.cfg.Tau
	if tau <= 0 {
		p.omega = target
	} else {
		alpha := dt / (tau + dt)
		p.omega += alpha * (target - p.omega)
	}

	prevAngle := p.angle
	p.angle += p.omega * dt

	ppr := float32(p.cfg.PPR)
	if ppr <= 0 {
		return
	}
	sectorWidth := twoPi / ppr

	prevSector := prevAngle / sectorWidth
	curSector := p.angle / sectorWidth

	step := 1
	if curSector < prevSector {
		step = -1
	}
	for {
		var nextBoundary float32
		if step > 0 {
			nextBoundary = floor32(prevSector) + 1
			if nextBoundary > curSector {
				break
			}
		} else {
			nextBoundary = ceil32(prevSector) - 1
			if nextBoundary < curSector {
				break
			}
		}
		frac := float32(0)
		if curSector != prevSector {
			frac = (nextBoundary - prevSector) / (curSector - prevSector)
		}
		errMul := float32(1)
		if p.cfg.SectorError != nil {
			k := int(nextBoundary) % int(ppr)
			if k < 0 {
				k += int(ppr)
			}
			errMul = p.cfg.SectorError[k]
		}
		dtUs := int64(dt * 1e6 * frac * errMul)
		p.enc.fire(nowUs + dtUs)
		prevSector = nextBoundary
	}
}

func (p *WheelPhysics) Omega() float32 { return p.omega }
func (p *WheelPhysics) Angle() float32 { return p.angle }

const twoPi = 2 * 3.14159265358979323846

func floor32(x float32) float32 {
	i := float32(int64(x))
	if x < 0 && i != x {
		i--
	}
	return i
}

func ceil32(x float32) float32 {
	i := float32(int64(x))
	if x > 0 && i != x {
		i++
	}
	return i
}
