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

// Package pulse captures wheel encoder edges from whatever goroutine the
// hardware driver runs its polling loop on, and exposes a short,
// mutex-guarded snapshot to the control loop.
package pulse

import (
	"sync"

	"github.com/aamcrae/rover/internal/hw"
)

// Capture is the sole writer of the pulse snapshot; OnEdge is its write
// path and Read is its read path. The two may run concurrently.
type Capture struct {
	mu        sync.Mutex
	count     uint32
	periodUs  uint32
	lastUs    int64
	minGapUs  int64
	hasLast   bool
}

// New creates a Capture that ignores edges arriving less than minGapUs
// after the previous accepted edge.
func New(minGapUs int64) *Capture {
	return &Capture{minGapUs: minGapUs}
}

// OnEdge records one accepted hardware edge. It is safe to call from any
// goroutine, including one standing in for interrupt context.
func (c *Capture) OnEdge(tsUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasLast {
		gap := tsUs - c.lastUs
		if c.minGapUs > 0 && gap < c.minGapUs {
			return
		}
		c.periodUs = uint32(gap)
	}
	c.lastUs = tsUs
	c.hasLast = true
	c.count++
}

// Snapshot is the triple the control loop reads under the same critical
// section the hardware driver writes under.
type Snapshot struct {
	Count    uint32
	PeriodUs uint32
	LastUs   int64
}

// Read returns the current snapshot.
func (c *Capture) Read() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Count: c.count, PeriodUs: c.periodUs, LastUs: c.lastUs}
}

// Zero clears the accumulated count, period and last-edge timestamp, so
// the next edge starts a fresh period measurement.
func (c *Capture) Zero() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = 0
	c.periodUs = 0
	c.lastUs = 0
	c.hasLast = false
}

// Driver wires a hw.PulseSource's edges into a Capture.
type Driver struct {
	src hw.PulseSource
	cap *Capture
}

// NewDriver opens src and forwards its edges into cap.
func NewDriver(src hw.PulseSource, cap *Capture) (*Driver, error) {
	d := &Driver{src: src, cap: cap}
	if err := src.Open(cap.OnEdge); err != nil {
		return nil, err
	}
	return d, nil
}

// Close stops the underlying hardware source.
func (d *Driver) Close() error { return d.src.Close() }
