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

package hw

import (
	"fmt"
	"time"

	gpio "github.com/aamcrae/gpio"
)

// GpioPulseSource is a PulseSource backed by a sysfs GPIO pin configured for
// edge-triggered reads, blocking on Get() in its own goroutine the way a
// KY-003 open-collector Hall sensor is read.
type GpioPulseSource struct {
	pin     int
	g       *gpio.Gpio
	done    chan struct{}
	running bool
}

// NewGpioPulseSource opens gpio as an edge-triggered input. rising selects
// the edge polarity counted as a pulse (false counts falling edges, the
// common case for an open-collector Hall sensor pulled high).
func NewGpioPulseSource(pin int, rising bool) (*GpioPulseSource, error) {
	g, err := gpio.Pin(pin)
	if err != nil {
		return nil, fmt.Errorf("gpio %d: %v", pin, err)
	}
	edge := gpio.FALLING
	if rising {
		edge = gpio.RISING
	}
	if err := g.Edge(edge); err != nil {
		g.Close()
		return nil, fmt.Errorf("gpio %d: edge: %v", pin, err)
	}
	return &GpioPulseSource{pin: pin, g: g}, nil
}

// Open starts the polling goroutine that invokes cb for every accepted edge.
func (s *GpioPulseSource) Open(cb PulseEdge) error {
	if s.running {
		return fmt.Errorf("gpio %d: already open", s.pin)
	}
	s.done = make(chan struct{})
	s.running = true
	go s.poll(cb)
	return nil
}

func (s *GpioPulseSource) poll(cb PulseEdge) {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		_, err := s.g.Get()
		if err != nil {
			return
		}
		cb(time.Now().UnixMicro())
	}
}

// Close stops polling and releases the GPIO.
func (s *GpioPulseSource) Close() error {
	if s.running {
		close(s.done)
		s.running = false
	}
	s.g.Close()
	return nil
}

// GpioDigitalOut is a DigitalOut backed by a sysfs GPIO output pin.
type GpioDigitalOut struct {
	g *gpio.Gpio
}

// NewGpioDigitalOut opens gpio as an output pin.
func NewGpioDigitalOut(pin int) (*GpioDigitalOut, error) {
	g, err := gpio.OutputPin(pin)
	if err != nil {
		return nil, fmt.Errorf("gpio %d: %v", pin, err)
	}
	return &GpioDigitalOut{g: g}, nil
}

func (o *GpioDigitalOut) Set(v int) error { return o.g.Set(v) }
func (o *GpioDigitalOut) Close() error    { o.g.Close(); return nil }
