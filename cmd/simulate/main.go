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

// Simulator: runs a full drive.Drive over internal/sim's software rig
// instead of real hardware, serving a debug image of the rig's pose and
// telemetry over HTTP.
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
	"github.com/aamcrae/rover/internal/sim"
	"github.com/aamcrae/rover/internal/velocity"
	"github.com/aamcrae/rover/internal/wheel"
)

var (
	configFile = flag.String("config", "", "Configuration file")
	addr       = flag.String("http", ":8080", "Debug image server address")
	omegaFull  = flag.Float64("omega_full", 6.0, "Simulated wheel omega at command magnitude 1 (rad/s)")
	tau        = flag.Float64("tau", 0.15, "Simulated wheel physics time constant (s)")
)

type stdLog struct{}

func (stdLog) Printf(format string, v ...any) { log.Printf(format, v...) }

// app couples a drive.Drive to the sim.Rig it rides on, so a debug image
// request can snapshot both.
type app struct {
	d   *drive.Drive
	rig *sim.Rig
}

func (a *app) Snapshot() sim.Telemetry {
	return sim.Telemetry{
		Pose:        a.rig.Pose(),
		OmegaR:      a.d.WheelR().Omega(),
		OmegaL:      a.d.WheelL().Omega(),
		CommandR:    a.d.WheelR().Command(),
		CommandL:    a.d.WheelL().Command(),
		Calibrating: a.d.WheelR().IsCalibrating() || a.d.WheelL().IsCalibrating(),
		Aligning:    a.d.WheelR().IsAligning() || a.d.WheelL().IsAligning(),
	}
}

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
	in1R, in2R := sim.NewBridge(1 << 8)
	in1L, in2L := sim.NewBridge(1 << 8)
	encR := &sim.Encoder{}
	encL := &sim.Encoder{}

	right, err := buildSimWheel(conf, "right", in1R, in2R, encR, lg)
	if err != nil {
		log.Fatalf("right wheel: %v", err)
	}
	left, err := buildSimWheel(conf, "left", in1L, in2L, encL, lg)
	if err != nil {
		log.Fatalf("left wheel: %v", err)
	}

	physR := sim.NewWheelPhysics(sim.WheelPhysicsConfig{
		PPR:         physPPR(conf, "right"),
		OmegaAtFull: float32(*omegaFull),
		Tau:         float32(*tau),
	}, in1R, in2R, encR)
	physL := sim.NewWheelPhysics(sim.WheelPhysicsConfig{
		PPR:         physPPR(conf, "left"),
		OmegaAtFull: float32(*omegaFull),
		Tau:         float32(*tau),
	}, in1L, in2L, encL)

	rig := &sim.Rig{
		WheelRadius: float32(rc.WheelRadius),
		TrackWidth:  float32(rc.TrackWidth),
		Right:       physR,
		Left:        physL,
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
	d := drive.New(dcfg, right, left, lg)

	rightStore := nvs.NewMemory()
	leftStore := nvs.NewMemory()

	now := time.Now()
	if err := d.Begin(rightStore, leftStore, now); err != nil {
		log.Fatalf("drive begin: %v", err)
	}

	a := &app{d: d, rig: rig}
	srv := sim.NewServer(a)
	go func() {
		if err := srv.ListenAndServe(*addr); err != nil {
			log.Fatalf("http: %v", err)
		}
	}()

	period := rc.UpdatePeriod
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	dtSec := float32(period.Seconds())

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		nowUs := int64(0)
		for t := range ticker.C {
			rig.Step(dtSec, nowUs)
			nowUs += int64(period / time.Microsecond)
			d.Update(dtSec, t)
		}
	}()

	runREPL(d)
}

func physPPR(conf *aconfig.Config, name string) uint16 {
	wc, err := rigconfig.ReadWheel(conf, name)
	if err != nil {
		return 20
	}
	return uint16(wc.PPR)
}

func buildSimWheel(conf *aconfig.Config, name string, in1, in2 *sim.BridgeChannel, enc *sim.Encoder, lg hw.Logger) (*wheel.Wheel, error) {
	wc, err := rigconfig.ReadWheel(conf, name)
	if err != nil {
		return nil, err
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

	cap := pulse.New(0)
	if _, err := pulse.NewDriver(enc, cap); err != nil {
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
	return wheel.New(wcfg, mot, cap, cal, est, pid, lg), nil
}

func runREPL(d *drive.Drive) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("simulate: ready ('help' for commands)")
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
