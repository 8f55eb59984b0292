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

// Calibration utility: drives a single wheel through calibration and
// alignment passes and lets the sector lookup table be inspected,
// enabled/disabled, or cleared from the command line.
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
	wheelName  = flag.String("wheel", "", "Wheel section to calibrate e.g right, left")
	nvsDir     = flag.String("nvs", "/var/lib/rover", "Calibration data directory")
	period     = flag.Duration("period", 10*time.Millisecond, "Control loop period")
)

type stdLog struct{}

func (stdLog) Printf(format string, v ...any) { log.Printf(format, v...) }

func main() {
	flag.Parse()
	if *wheelName == "" {
		log.Fatalf("-wheel is required")
	}
	conf, err := aconfig.ParseFile(*configFile)
	if err != nil {
		log.Fatalf("%s: %v", *configFile, err)
	}
	lg := stdLog{}
	w, cal, err := buildWheel(conf, *wheelName, lg)
	if err != nil {
		log.Fatalf("%s: %v", *wheelName, err)
	}

	store, err := nvs.NewFileStore(*nvsDir + "/" + *wheelName)
	if err != nil {
		log.Fatalf("nvs: %v", err)
	}
	if err := w.Begin(store, time.Now()); err != nil {
		log.Fatalf("begin: %v", err)
	}

	dtSec := float32(period.Seconds())
	go func() {
		ticker := time.NewTicker(*period)
		defer ticker.Stop()
		for now := range ticker.C {
			w.Update(dtSec, now)
		}
	}()

	runREPL(w, cal, lg)
}

func buildWheel(conf *aconfig.Config, name string, lg hw.Logger) (*wheel.Wheel, *calib.Calibrator, error) {
	wc, err := rigconfig.ReadWheel(conf, name)
	if err != nil {
		return nil, nil, err
	}

	in1, err := hw.NewHwPwm(wc.Pins.PwmIn1, 20000, 8, lg)
	if err != nil {
		return nil, nil, fmt.Errorf("pwm in1: %v", err)
	}
	in2, err := hw.NewHwPwm(wc.Pins.PwmIn2, 20000, 8, lg)
	if err != nil {
		return nil, nil, fmt.Errorf("pwm in2: %v", err)
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
		return nil, nil, fmt.Errorf("motor: %v", err)
	}

	src, err := hw.NewGpioPulseSource(wc.Pins.Encoder, false)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder: %v", err)
	}
	cap := pulse.New(0)
	if _, err := pulse.NewDriver(src, cap); err != nil {
		return nil, nil, fmt.Errorf("encoder driver: %v", err)
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
	return wheel.New(wcfg, mot, cap, cal, est, pid, lg), cal, nil
}

func runREPL(w *wheel.Wheel, cal *calib.Calibrator, lg hw.Logger) {
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("calibrate: ready ('help' for commands)")
	for {
		fmt.Printf("[omega=%.3f cmd=%+.2f sector=%d cal=%v align=%v] > ",
			w.Omega(), w.Command(), w.SectorIdx(), w.IsCalibrating(), w.IsAligning())
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
			fmt.Println("  calib <laps>  - start a calibration pass")
			fmt.Println("  align <laps>  - start an alignment pass")
			fmt.Println("  lut on|off    - enable/disable the sector lookup table")
			fmt.Println("  clear         - clear persisted calibration")
			fmt.Println("  dump          - dump the lookup table and sector stats")
			fmt.Println("  status        - print current state")
			fmt.Println("  q             - quit")
		case "calib":
			laps := 3
			if len(fields) > 1 {
				fmt.Sscanf(fields[1], "%d", &laps)
			}
			if !w.StartCalibration(uint8(laps)) {
				fmt.Println("could not start calibration")
			}
		case "align":
			laps := 3
			if len(fields) > 1 {
				fmt.Sscanf(fields[1], "%d", &laps)
			}
			if !w.StartAlignment(uint8(laps)) {
				fmt.Println("could not start alignment (no pattern for this direction)")
			}
		case "lut":
			if len(fields) < 2 {
				fmt.Println("usage: lut on|off")
				continue
			}
			if err := w.SetUseLUT(fields[1] == "on"); err != nil {
				fmt.Printf("lut: %v\n", err)
			}
		case "clear":
			if err := w.ClearLUT(); err != nil {
				fmt.Printf("clear: %v\n", err)
			}
		case "dump":
			w.DumpLUT(lg)
			w.DumpSectorStats(lg)
		case "status":
			fmt.Printf("useLUT=%v patternReady=%v\n", w.UseLUT(), w.PatternReady())
		case "q":
			return
		default:
			fmt.Println("unrecognised command")
		}
	}
}
