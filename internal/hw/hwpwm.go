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
	"os"
	"os/user"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pwmBaseDir      = "/sys/class/pwm/pwmchip0/"
	pwmExportFile   = pwmBaseDir + "export"
	pwmUnexportFile = pwmBaseDir + "unexport"
	periodFile      = "/period"
	dutyFile        = "/duty_cycle"
	enableFile      = "/enable"
)

const verifyTimeout = 2 * time.Second

// runningAsRoot reports whether the current process is root. Non-root
// processes must wait for udev to fix up the sysfs group permissions on a
// freshly exported channel before the kernel will let them open it.
func runningAsRoot() bool {
	u, err := user.Current()
	return err == nil && u.Uid == "0"
}

// HwPwm is a PWMChannel backed by the Linux sysfs PWM class, one channel
// per H-bridge input.
type HwPwm struct {
	unit     int
	base     string
	verify   bool
	pFile    *os.File
	dFile    *os.File
	periodNs int64
	dutyNs   int64
	maxDuty  uint32
	log      Logger
}

// NewHwPwm exports PWM channel unit and configures it for the given
// frequency and resolution. The resolution only determines MaxDuty's scale;
// sysfs PWM itself is always driven in nanosecond units internally. log may
// be nil.
func NewHwPwm(unit int, freqHz uint32, resolutionBits uint8, log Logger) (*HwPwm, error) {
	p := &HwPwm{unit: unit, periodNs: -1, dutyNs: -1, verify: !runningAsRoot(), log: log}
	p.base = fmt.Sprintf("%spwm%d", pwmBaseDir, unit)
	p.maxDuty = (uint32(1) << resolutionBits) - 1
	if p.verify && p.log != nil {
		p.log.Printf("pwm%d: not running as root, will wait for sysfs permissions after export", unit)
	}

	periodPath := p.base + periodFile
	if err := p.export(periodPath); err != nil {
		return nil, fmt.Errorf("pwm%d: export: %w", unit, err)
	}
	var err error
	p.pFile, err = os.OpenFile(periodPath, os.O_RDWR, 0600)
	if err != nil {
		p.unexport()
		return nil, fmt.Errorf("pwm%d: open period: %w", unit, err)
	}
	dutyPath := p.base + dutyFile
	if err := p.verifyFile(dutyPath); err != nil {
		p.pFile.Close()
		p.unexport()
		return nil, fmt.Errorf("pwm%d: %w", unit, err)
	}
	p.dFile, err = os.OpenFile(dutyPath, os.O_RDWR, 0600)
	if err != nil {
		p.pFile.Close()
		p.unexport()
		return nil, fmt.Errorf("pwm%d: open duty_cycle: %w", unit, err)
	}
	periodNs := int64(time.Second) / int64(freqHz)
	if err := p.setPeriodDuty(periodNs, 0); err != nil {
		p.pFile.Close()
		p.dFile.Close()
		p.unexport()
		return nil, fmt.Errorf("pwm%d: initial period/duty: %w", unit, err)
	}
	if err := writeFile(p.base+enableFile, "1"); err != nil {
		p.pFile.Close()
		p.dFile.Close()
		p.unexport()
		return nil, fmt.Errorf("pwm%d: enable: %w", unit, err)
	}
	return p, nil
}

// MaxDuty returns the largest duty count SetDuty accepts.
func (p *HwPwm) MaxDuty() uint32 { return p.maxDuty }

// SetDuty sets the PWM duty as a fraction of MaxDuty.
func (p *HwPwm) SetDuty(duty uint32) error {
	if duty > p.maxDuty {
		duty = p.maxDuty
	}
	dutyNs := p.periodNs * int64(duty) / int64(p.maxDuty)
	return p.setPeriodDuty(p.periodNs, dutyNs)
}

// setPeriodDuty writes the period and duty cycle, ordering the writes so
// that duty_cycle is never briefly greater than the current period.
func (p *HwPwm) setPeriodDuty(periodNs, dutyNs int64) error {
	if dutyNs > p.periodNs {
		if err := p.write(p.pFile, periodNs); err != nil {
			return err
		}
		if err := p.write(p.dFile, dutyNs); err != nil {
			return err
		}
	} else {
		if dutyNs != p.dutyNs {
			if err := p.write(p.dFile, dutyNs); err != nil {
				return err
			}
		}
		if periodNs != p.periodNs {
			if err := p.write(p.pFile, periodNs); err != nil {
				return err
			}
		}
	}
	p.periodNs = periodNs
	p.dutyNs = dutyNs
	return nil
}

func (p *HwPwm) write(f *os.File, v int64) error {
	_, err := f.WriteAt([]byte(fmt.Sprintf("%d", v)), 0)
	return err
}

// Close disables the channel and unexports it.
func (p *HwPwm) Close() error {
	writeFile(p.base+enableFile, "0")
	p.pFile.Close()
	p.dFile.Close()
	if err := p.unexport(); err != nil {
		return fmt.Errorf("pwm%d: unexport: %w", p.unit, err)
	}
	return nil
}

func (p *HwPwm) unexport() error {
	return writeFile(pwmUnexportFile, fmt.Sprintf("%d", p.unit))
}

// export checks whether the channel's sysfs directory already exists and
// is accessible, and if not, writes the unit number to the chip's export
// file and, for a non-root process, waits for udev to grant access.
func (p *HwPwm) export(f string) error {
	err := unix.Access(f, unix.W_OK|unix.R_OK)
	if err == nil {
		return nil
	}
	err = writeFile(pwmExportFile, fmt.Sprintf("%d", p.unit))
	if err == nil && p.verify {
		return p.verifyFile(f)
	}
	return err
}

func writeFile(fname, s string) error {
	f, err := os.OpenFile(fname, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(s))
	return err
}

// verifyFile waits for f to become writable, retrying until verifyTimeout.
func (p *HwPwm) verifyFile(f string) error {
	var tout time.Duration
	sl := time.Millisecond
	for tout = 0; tout < verifyTimeout; tout += sl {
		if err := unix.Access(f, unix.W_OK); err == nil {
			return nil
		}
		time.Sleep(sl)
	}
	return fmt.Errorf("%s: not writable", f)
}
