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

package pulse

import (
	"testing"

	"github.com/aamcrae/rover/internal/hw"
)

func TestOnEdgeAccumulatesCountAndPeriod(t *testing.T) {
	c := New(0)
	c.OnEdge(1000)
	c.OnEdge(1500)
	c.OnEdge(2200)
	snap := c.Read()
	if snap.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.Count)
	}
	if snap.PeriodUs != 700 {
		t.Errorf("PeriodUs = %d, want 700", snap.PeriodUs)
	}
	if snap.LastUs != 2200 {
		t.Errorf("LastUs = %d, want 2200", snap.LastUs)
	}
}

func TestOnEdgeIgnoresEdgesWithinMinGap(t *testing.T) {
	c := New(500)
	c.OnEdge(1000)
	c.OnEdge(1200) // gap 200 < minGap 500, ignored
	snap := c.Read()
	if snap.Count != 1 {
		t.Errorf("Count = %d, want 1 (second edge should be rejected)", snap.Count)
	}
	c.OnEdge(1600) // gap 600 >= 500, accepted
	snap = c.Read()
	if snap.Count != 2 {
		t.Errorf("Count = %d, want 2", snap.Count)
	}
}

func TestZeroClearsState(t *testing.T) {
	c := New(0)
	c.OnEdge(1000)
	c.OnEdge(2000)
	c.Zero()
	snap := c.Read()
	if snap.Count != 0 || snap.PeriodUs != 0 || snap.LastUs != 0 {
		t.Errorf("Zero did not clear state: %+v", snap)
	}
	// A fresh edge after Zero must not compute a period against the
	// pre-Zero timestamp.
	c.OnEdge(5000)
	snap = c.Read()
	if snap.PeriodUs != 0 {
		t.Errorf("first edge after Zero produced a period: %d, want 0", snap.PeriodUs)
	}
}

type fakeSource struct {
	cb     hw.PulseEdge
	closed bool
}

func (f *fakeSource) Open(cb hw.PulseEdge) error { f.cb = cb; return nil }
func (f *fakeSource) Close() error               { f.closed = true; return nil }

func TestDriverForwardsEdgesIntoCapture(t *testing.T) {
	src := &fakeSource{}
	cap := New(0)
	d, err := NewDriver(src, cap)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	src.cb(1234)
	if cap.Read().Count != 1 {
		t.Errorf("edge forwarded through Driver did not reach Capture")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !src.closed {
		t.Errorf("Driver.Close did not close the underlying source")
	}
}
