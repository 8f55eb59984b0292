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

// Rover control daemon: reads a two-wheel rig's configuration, drives it
// at a fixed update rate, and accepts twist/calibration commands on
// stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	aconfig "github.com/aamcrae/config"

	"github.com/aamcrae/rover/internal/calib"
	"github.com/aamcrae/rover/internal/drive"
	"github.com/aamcrae/rover/internal/hw"
	"github.com/aamcrae/rover/internal/motor"
	"github.com/aamcrae/rover/internal/nvs"
	"github.com/aamcrae/rover/internal/pidvel"
	"github.com/aamcrae/rover/internal/pulse"
	"github.com/aamcrae/rover/internal/rigconfig"
	"github.com/aamcrae/rover/internal/velocity"
	"github.com/aamcrae/rover/internal/wheel"
)

var (
	configFile = flag.String("config", "", "Configuration file")
	nvsDir     = flag.String("nvs", "/var/lib/rover", "Calibration data directory")
)

type stdLog struct{}

func (stdLog) Printf(format string, v ...any) { log.Printf(format, v...) }

func main() {
	flag.Parse()
	conf, err := aconfig.ParseFile(*configFile)
	if err != nil {
		log.Fatalf("%s: %v", *configFile, err)
	}
	rc, err := rigconfig.ReadRig(conf, "rig")
	if err != nil {
		log.Fatalf("rig config: %v", err)
	}

	lg := stdLog{}
	right, err := buildWheel(conf, "right", lg)
	if err != nil {
		log.Fatalf("right wheel: %v", err)
	}
	left, err := buildWheel(conf, "left", lg)
	if err != nil {
		log.Fatalf("left wheel: %v", err)
	}

	dcfg := drive.Config{
		WheelRadius:                float32(rc.WheelRadius),
		TrackWidth:                 float32(rc.TrackWidth),
		VMax:                       float32(rc.VMax),
		WMax:                       float32(rc.WMax),
		VAccMax:                    float32(rc.VAccMax),
		WAccMax:                    float32(rc.WAccMax),
		ClampTwist:                 rc.ClampTwist,
		OmegaWheelMax:              float32(rc.OmegaWheelMax),
		RescaleTwistToWheelLimit:   rc.RescaleTwistToWheelLimit,
		AutoCoordinatedAlignOnBoot: rc.AutoCoordinatedAlignOnBoot,
		AlignLapsBoot:              uint8(rc.AlignLapsBoot),
		AlignAssistW:               float32(rc.AlignAssistW),
		CalibAssistW:               float32(rc.CalibAssistW),
	}
	d := drive.New(dcfg, right.wheel, left.wheel, lg)

	rightStore, err := nvs.NewFileStore(*nvsDir + "/right")
	if err != nil {
		log.Fatalf("nvs: %v", err)
	}
	leftStore, err := nvs.NewFileStore(*nvsDir + "/left")
	if err != nil {
		log.Fatalf("nvs: %v", err)
	}

	now := time.Now()
	if err := d.Begin(rightStore, leftStore, now); err != nil {
		log.Fatalf("drive begin: %v", err)
	}

	period := rc.UpdatePeriod
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	dtSec := float32(period.Seconds())

	go runLoop(d, period, dtSec)
	runREPL(d)
}

type wheelStack struct {
	wheel *wheel.Wheel
	store string
}

func buildWheel(conf *aconfig.Config, name string, lg hw.Logger) (*wheelStack, error) {
	wc, err := rigconfig.ReadWheel(conf, name)
	if err != nil {
		return nil, err
	}

	in1, err := hw.NewHwPwm(wc.Pins.PwmIn1, 20000, 8, lg)
	if err != nil {
		return nil, fmt.Errorf("pwm in1: %v", err)
	}
	in2, err := hw.NewHwPwm(wc.Pins.PwmIn2, 20000, 8, lg)
	if err != nil {
		return nil, fmt.Errorf("pwm in2: %v", err)
	}
	mcfg := motor.Config{
		Deadband:       float32(wc.Deadband),
		MinOutput:      float32(wc.MinOutput),
		SlewRatePerSec: float32(wc.SlewRatePerSec),
		Invert:         wc.Invert,
	}
	if wc.Brake {
		mcfg.Neutral = motor.Brake
	}
	if wc.AntiPhase {
		mcfg.Drive = motor.LockedAntiPhase
	}
	mot, err := motor.New(mcfg, in1, in2, lg)
	if err != nil {
		return nil, fmt.Errorf("motor: %v", err)
	}

	src, err := hw.NewGpioPulseSource(wc.Pins.Encoder, false)
	if err != nil {
		return nil, fmt.Errorf("encoder: %v", err)
	}
	cap := pulse.New(0)
	if _, err := pulse.NewDriver(src, cap); err != nil {
		return nil, fmt.Errorf("encoder driver: %v", err)
	}

	cal := calib.New(calib.Config{
		PPR:             uint16(wc.PPR),
		MaxLaps:         uint8(wc.MaxLaps),
		UseLUTByDefault: wc.UseLUT,
	}, lg)

	est := velocity.New(velocity.Config{
		PPR:         uint16(wc.PPR),
		AlphaPeriod: 0.3,
		TimeoutStop: 500 * time.Millisecond,
	}, cap, cal)

	pidMode := pidvel.Incremental
	if wc.Filtered {
		pidMode = pidvel.Filtered
	}
	pid := pidvel.New(pidvel.Config{
		Kp:    float32(wc.Kp),
		Ki:    float32(wc.Ki),
		Kd:    float32(wc.Kd),
		Tf:    float32(wc.Tf),
		Ts:    float32(wc.Ts.Seconds()),
		UMin:  0,
		UMax:  1,
		Clamp: true,
		Mode:  pidMode,
	})

	wcfg := wheel.Config{
		AssistOnBoot:    wc.AssistOnBoot,
		AssistU:         float32(wc.AssistU),
		DirEpsU:         float32(wc.DirEpsU),
		DirHoldMs:       uint32(wc.DirHoldMs),
		AutoAlignOnBoot: wc.AutoAlignOnBoot,
		AlignLapsBoot:   uint8(wc.AlignLapsBoot),
	}
	w := wheel.New(wcfg, mot, cap, cal, est, pid, lg)
	return &wheelStack{wheel: w, store: name}, nil
}

func runLoop(d *drive.Drive, period time.Duration, dtSec float32) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for now := range ticker.C {
		d.Update(dtSec, now)
	}
}

func runREPL(d *drive.Drive) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("rover: ready ('help' for commands)")
	for {
		fmt.Print("> ")
		text, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		text = strings.TrimSpace(text)
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			fmt.Println("  twist <v> <w>  - set linear/angular velocity")
			fmt.Println("  stop           - zero the twist")
			fmt.Println("  neutral        - cut motor output immediately")
			fmt.Println("  align <laps>   - coordinated alignment")
			fmt.Println("  calib <laps>   - coordinated calibration")
			fmt.Println("  abort          - abort a running coordinated routine")
			fmt.Println("  q              - quit")
		case "twist":
			var v, w float64
			if n, err := fmt.Sscanf(strings.Join(fields[1:], " "), "%f %f", &v, &w); err != nil || n != 2 {
				fmt.Println("usage: twist <v> <w>")
				continue
			}
			d.SetTwist(float32(v), float32(w))
		case "stop":
			d.Stop()
		case "neutral":
			d.Neutral()
		case "align":
			laps := 3
			if len(fields) > 1 {
				fmt.Sscanf(fields[1], "%d", &laps)
			}
			if !d.StartCoordinatedAlignment(uint8(laps), 0) {
				fmt.Println("could not start alignment")
			}
		case "calib":
			laps := 3
			if len(fields) > 1 {
				fmt.Sscanf(fields[1], "%d", &laps)
			}
			if !d.StartCoordinatedCalibration(uint8(laps), 0) {
				fmt.Println("could not start calibration")
			}
		case "abort":
			d.AbortCoordinatedRoutine()
		case "q":
			return
		default:
			fmt.Println("unrecognised command")
		}
	}
}
