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

// Package calib corrects magnet-spacing non-uniformity in a Hall-effect
// wheel encoder by learning a per-sector scale lookup table, separately for
// each direction of rotation, and aligning the sector index to a repeatable
// phase using a normalized pattern match.
package calib

import (
	"encoding/binary"
	"math"

	"github.com/aamcrae/rover/internal/hw"
	"github.com/aamcrae/rover/internal/nvs"
)

const (
	keyUseFwd = "use_fwd"
	keyUseRev = "use_rev"
	keyOffFwd = "off_fwd"
	keyOffRev = "off_rev"
	keyLutFwd = "lut_fwd"
	keyLutRev = "lut_rev"

	// legacy single-LUT keys, recognized on read only.
	legacyKeyUse = "use_lut"
	legacyKeyLut = "lut"
)

// Config configures a Calibrator.
type Config struct {
	PPR             uint16
	MaxLaps         uint8
	UseLUTByDefault bool
}

// Calibrator owns the dual forward/reverse sector LUTs, their derived
// normalized patterns, per-direction alignment offsets, and the multi-lap
// calibration/alignment state machines that feed them.
type Calibrator struct {
	cfg Config
	log hw.Logger

	sFwd, sRev []float32
	pFwd, pRev []float32
	pFwdReady  bool
	pRevReady  bool
	useFwd     bool
	useRev     bool
	offFwd     uint16
	offRev     uint16

	calibActive  bool
	calibDir     int
	calibTargetN uint8
	calibLap     uint8
	dtBuf        [][]float32 // [ppr][maxLaps]
	dtFilled     [][]bool

	alignActive  bool
	alignDir     int
	alignTargetN uint8
	alignLap     uint8
	alignBuf     [][]float32
}

// New allocates a Calibrator for cfg.PPR sectors and cfg.MaxLaps calibration
// laps. All buffers are sized once and never reallocated.
func New(cfg Config, log hw.Logger) *Calibrator {
	c := &Calibrator{cfg: cfg, log: log}
	n := int(cfg.PPR)
	c.sFwd = make([]float32, n)
	c.sRev = make([]float32, n)
	c.pFwd = make([]float32, n)
	c.pRev = make([]float32, n)
	for k := 0; k < n; k++ {
		c.sFwd[k] = 1.0
		c.sRev[k] = 1.0
	}
	c.dtBuf = make([][]float32, n)
	c.dtFilled = make([][]bool, n)
	c.alignBuf = make([][]float32, n)
	for k := 0; k < n; k++ {
		c.dtBuf[k] = make([]float32, cfg.MaxLaps)
		c.dtFilled[k] = make([]bool, cfg.MaxLaps)
		c.alignBuf[k] = make([]float32, cfg.MaxLaps)
	}
	return c
}

// Load reads the persisted LUTs, use flags and offsets from store. A
// missing LUT stays flat and a missing use flag defaults to
// cfg.UseLUTByDefault. When neither per-direction LUT is present but a
// legacy single-LUT record (use_lut/lut) is, that LUT is adopted as both
// the forward and reverse LUT, both use flags are taken from use_lut, and
// the per-direction keys are left to be written on the next Save.
func (c *Calibrator) Load(store nvs.Store) error {
	c.useFwd = store.GetBool(keyUseFwd, c.cfg.UseLUTByDefault)
	c.useRev = store.GetBool(keyUseRev, c.cfg.UseLUTByDefault)
	c.offFwd = store.GetUint16(keyOffFwd, 0)
	c.offRev = store.GetUint16(keyOffRev, 0)

	haveFwd := c.loadLUT(store, keyLutFwd, c.sFwd)
	haveRev := c.loadLUT(store, keyLutRev, c.sRev)

	if !haveFwd && !haveRev && store.Has(legacyKeyLut) {
		if c.loadLUT(store, legacyKeyLut, c.sFwd) {
			copy(c.sRev, c.sFwd)
			legacyUse := store.GetBool(legacyKeyUse, c.cfg.UseLUTByDefault)
			c.useFwd = legacyUse
			c.useRev = legacyUse
			if c.log != nil {
				c.log.Printf("[calib] migrated legacy single LUT to fwd/rev")
			}
		}
	}
	c.buildPattern(c.sFwd, c.pFwd, &c.pFwdReady)
	c.buildPattern(c.sRev, c.pRev, &c.pRevReady)
	return nil
}

func (c *Calibrator) loadLUT(store nvs.Store, key string, dst []float32) bool {
	need := len(dst) * 4
	b, ok := store.GetBytes(key)
	if !ok || len(b) != need {
		for k := range dst {
			dst[k] = 1.0
		}
		return false
	}
	for k := range dst {
		bits := binary.LittleEndian.Uint32(b[k*4:])
		dst[k] = math.Float32frombits(bits)
	}
	return true
}

func encodeLUT(src []float32) []byte {
	b := make([]byte, len(src)*4)
	for k, v := range src {
		binary.LittleEndian.PutUint32(b[k*4:], math.Float32bits(v))
	}
	return b
}

// Save persists both LUTs, use flags and offsets, and rebuilds the derived
// patterns.
func (c *Calibrator) Save(store nvs.Store) error {
	if err := store.PutBool(keyUseFwd, c.useFwd); err != nil {
		return err
	}
	if err := store.PutBool(keyUseRev, c.useRev); err != nil {
		return err
	}
	if err := store.PutUint16(keyOffFwd, c.offFwd); err != nil {
		return err
	}
	if err := store.PutUint16(keyOffRev, c.offRev); err != nil {
		return err
	}
	if err := store.PutBytes(keyLutFwd, encodeLUT(c.sFwd)); err != nil {
		return err
	}
	if err := store.PutBytes(keyLutRev, encodeLUT(c.sRev)); err != nil {
		return err
	}
	c.buildPattern(c.sFwd, c.pFwd, &c.pFwdReady)
	c.buildPattern(c.sRev, c.pRev, &c.pRevReady)
	return nil
}

// Clear resets both LUTs to flat, disables LUT correction and persists the
// cleared state.
func (c *Calibrator) Clear(store nvs.Store) error {
	for k := range c.sFwd {
		c.sFwd[k] = 1.0
		c.sRev[k] = 1.0
	}
	c.useFwd = false
	c.useRev = false
	c.offFwd = 0
	c.offRev = 0
	return c.Save(store)
}

func (c *Calibrator) buildPattern(lut, pattern []float32, ready *bool) {
	var sum, minv, maxv float32
	minv = math.MaxFloat32
	maxv = -math.MaxFloat32
	for k, s := range lut {
		p := float32(1.0)
		if s != 0 {
			p = 1.0 / s
		}
		pattern[k] = p
		sum += p
		if p < minv {
			minv = p
		}
		if p > maxv {
			maxv = p
		}
	}
	mean := float32(1.0)
	if sum > 0 {
		mean = sum / float32(len(lut))
	}
	for k := range pattern {
		pattern[k] /= mean
	}
	*ready = (maxv - minv) > 1e-3
}

// UseLUTFwd, UseLUTRev report whether per-sector correction is applied for
// that direction of rotation.
func (c *Calibrator) UseLUTFwd() bool { return c.useFwd }
func (c *Calibrator) UseLUTRev() bool { return c.useRev }

// SetUseLUTFwd, SetUseLUTRev toggle per-direction LUT correction without
// touching the LUT contents themselves.
func (c *Calibrator) SetUseLUTFwd(on bool) { c.useFwd = on }
func (c *Calibrator) SetUseLUTRev(on bool) { c.useRev = on }

// PatternFwdReady, PatternRevReady report whether that direction's LUT has
// enough spread to be worth aligning against.
func (c *Calibrator) PatternFwdReady() bool { return c.pFwdReady }
func (c *Calibrator) PatternRevReady() bool { return c.pRevReady }

// CorrectDt applies the per-sector scale and alignment offset for the given
// direction (dir >= 0 is forward). k is the uncorrected sector index.
func (c *Calibrator) CorrectDt(k uint16, dir int, dtUs float32) float32 {
	lut, use, off := c.sFwd, c.useFwd, c.offFwd
	if dir < 0 {
		lut, use, off = c.sRev, c.useRev, c.offRev
	}
	if !use {
		return dtUs
	}
	kc := (k + off) % c.cfg.PPR
	return dtUs * lut[kc]
}

// StartCalibrationDir begins a lapsN-lap calibration pass for the given
// direction. It fails if lapsN is out of [1, MaxLaps] or a pass is already
// running.
func (c *Calibrator) StartCalibrationDir(lapsN uint8, dir int) bool {
	if lapsN == 0 || lapsN > c.cfg.MaxLaps || c.calibActive {
		return false
	}
	c.calibDir = dir
	c.calibTargetN = lapsN
	c.calibLap = 0
	c.calibActive = true
	for k := 0; k < int(c.cfg.PPR); k++ {
		for j := uint8(0); j < lapsN; j++ {
			c.dtBuf[k][j] = 0
			c.dtFilled[k][j] = false
		}
	}
	if c.log != nil {
		c.log.Printf("[calib] start N=%d dir=%+d", lapsN, dir)
	}
	return true
}

func (c *Calibrator) IsCalibrating() bool { return c.calibActive }
func (c *Calibrator) IsAligning() bool    { return c.alignActive }

// FeedPeriod records one sector's measured pulse period during whichever
// of calibration/alignment is currently active, advancing the lap counter
// when sectorK wraps back to the last sector.
func (c *Calibrator) FeedPeriod(sectorK uint16, dtUs float32) {
	if c.calibActive && c.calibLap < c.calibTargetN {
		c.dtBuf[sectorK][c.calibLap] = dtUs
		c.dtFilled[sectorK][c.calibLap] = true
		if sectorK == c.cfg.PPR-1 {
			c.calibLap++
			if c.log != nil {
				c.log.Printf("[calib] lap %d/%d", c.calibLap, c.calibTargetN)
			}
		}
	}
	if c.alignActive && c.alignLap < c.alignTargetN {
		c.alignBuf[sectorK][c.alignLap] = dtUs
		if sectorK == c.cfg.PPR-1 {
			c.alignLap++
			if c.log != nil {
				c.log.Printf("[align] lap %d/%d", c.alignLap, c.alignTargetN)
			}
		}
	}
}

// FinishCalibrationIfReady computes the new LUT for the calibrating
// direction once all laps have been fed, using a per-sector trimmed mean
// across laps, and returns true if a LUT was produced.
func (c *Calibrator) FinishCalibrationIfReady(store nvs.Store) bool {
	if !c.calibActive || c.calibLap < c.calibTargetN {
		return false
	}
	n := int(c.cfg.PPR)
	sectorMean := make([]float32, n)
	var globalSum float32
	var globalCount int
	tmp := make([]float32, c.calibTargetN)
	for k := 0; k < n; k++ {
		m := 0
		for j := uint8(0); j < c.calibTargetN; j++ {
			if c.dtFilled[k][j] {
				tmp[m] = c.dtBuf[k][j]
				m++
			}
		}
		mk := float32(0)
		if m > 0 {
			mk = trimmedMean(tmp[:m])
		}
		sectorMean[k] = mk
		if mk > 0 {
			globalSum += mk
			globalCount++
		}
	}
	ok := globalCount > 0
	if ok {
		globalMean := globalSum / float32(globalCount)
		lut := c.sFwd
		if c.calibDir < 0 {
			lut = c.sRev
		}
		for k := 0; k < n; k++ {
			mk := sectorMean[k]
			if mk <= 0 {
				mk = globalMean
			}
			lut[k] = globalMean / mk
		}
		c.Save(store)
		if c.log != nil {
			c.log.Printf("[calib] done dir=%+d", c.calibDir)
		}
	}
	c.calibActive = false
	return ok
}

// trimmedMean discards the single minimum and maximum sample (when there
// are more than two) before averaging, so one bad lap cannot skew a
// sector's estimate.
func trimmedMean(vals []float32) float32 {
	n := len(vals)
	if n == 0 {
		return 0
	}
	if n <= 2 {
		var s float32
		for _, v := range vals {
			s += v
		}
		return s / float32(n)
	}
	iMin, iMax := 0, 0
	for i := 1; i < n; i++ {
		if vals[i] < vals[iMin] {
			iMin = i
		}
		if vals[i] > vals[iMax] {
			iMax = i
		}
	}
	var s float32
	var cnt int
	for i, v := range vals {
		if i == iMin || i == iMax {
			continue
		}
		s += v
		cnt++
	}
	if cnt == 0 {
		return 0
	}
	return s / float32(cnt)
}

// StartAlignmentDir begins a lapsN-lap alignment pass for the given
// direction. It fails unless that direction's pattern is ready.
func (c *Calibrator) StartAlignmentDir(lapsN uint8, dir int) bool {
	ready := c.pFwdReady
	if dir < 0 {
		ready = c.pRevReady
	}
	if !ready || lapsN == 0 || lapsN > c.cfg.MaxLaps || c.alignActive {
		return false
	}
	c.alignDir = dir
	c.alignTargetN = lapsN
	c.alignLap = 0
	c.alignActive = true
	for k := 0; k < int(c.cfg.PPR); k++ {
		for j := uint8(0); j < lapsN; j++ {
			c.alignBuf[k][j] = 0
		}
	}
	if c.log != nil {
		c.log.Printf("[align] start N=%d dir=%+d", lapsN, dir)
	}
	return true
}

// FinishAlignmentIfReady finds, per lap, the circular shift that best
// matches that lap's normalized window against the reference pattern (L1
// distance), then takes the offset with the most votes across laps,
// breaking ties toward the single best-scoring lap. It persists the
// resulting offset for the aligning direction.
func (c *Calibrator) FinishAlignmentIfReady(store nvs.Store) (offset uint16, score float32, ok bool) {
	if !c.alignActive || c.alignLap < c.alignTargetN {
		return 0, 0, false
	}
	ppr := c.cfg.PPR
	pattern := c.pFwd
	if c.alignDir < 0 {
		pattern = c.pRev
	}
	votes := make([]uint16, ppr)
	bestGlobalScore := float32(math.MaxFloat32)
	var bestGlobalOff uint16

	for j := uint8(0); j < c.alignTargetN; j++ {
		off, sc, good := bestOffsetSingleLap(c.alignBuf, j, ppr, pattern)
		if !good {
			continue
		}
		votes[off]++
		if sc < bestGlobalScore {
			bestGlobalScore = sc
			bestGlobalOff = off
		}
		if c.log != nil {
			c.log.Printf("[align] lap %d bestOff=%d score=%.4f", j+1, off, sc)
		}
	}

	finalOff := bestGlobalOff
	var maxVotes uint16
	tie := false
	for k, v := range votes {
		if v > maxVotes {
			maxVotes = v
			finalOff = uint16(k)
			tie = false
		} else if v > 0 && v == maxVotes {
			tie = true
		}
	}
	if tie {
		finalOff = bestGlobalOff
	}

	if c.alignDir >= 0 {
		c.offFwd = finalOff
	} else {
		c.offRev = finalOff
	}
	c.Save(store)
	c.alignActive = false
	if c.log != nil {
		c.log.Printf("[align] done offset=%d score=%.4f", finalOff, bestGlobalScore)
	}
	return finalOff, bestGlobalScore, true
}

func bestOffsetSingleLap(buf [][]float32, lap uint8, ppr uint16, pattern []float32) (bestOff uint16, bestScore float32, ok bool) {
	var sum float32
	for k := uint16(0); k < ppr; k++ {
		sum += buf[k][lap]
	}
	if sum <= 0 {
		return 0, 0, false
	}
	mean := sum / float32(ppr)

	bestScore = math.MaxFloat32
	for shift := uint16(0); shift < ppr; shift++ {
		var err float32
		for k := uint16(0); k < ppr; k++ {
			win := buf[k][lap] / mean
			exp := pattern[(k+shift)%ppr]
			e := win - exp
			if e < 0 {
				e = -e
			}
			err += e
		}
		score := err / float32(ppr)
		if score < bestScore {
			bestScore = score
			bestOff = shift
		}
	}
	return bestOff, bestScore, true
}

// DumpLUT writes both LUTs to log, one line per sector.
func (c *Calibrator) DumpLUT(log hw.Logger) {
	if log == nil {
		return
	}
	log.Printf("useFwd=%v useRev=%v", c.useFwd, c.useRev)
	for k := uint16(0); k < c.cfg.PPR; k++ {
		log.Printf("sFwd[%2d]=%.6f sRev[%2d]=%.6f", k, c.sFwd[k], k, c.sRev[k])
	}
}

// DumpSectorStats writes the per-sector mean/min/max/count from the most
// recent calibration pass to log.
func (c *Calibrator) DumpSectorStats(log hw.Logger) {
	if log == nil {
		return
	}
	if c.calibTargetN == 0 {
		log.Printf("no calibration stats yet")
		return
	}
	for k := uint16(0); k < c.cfg.PPR; k++ {
		var sum, minv, maxv float32
		minv = math.MaxFloat32
		maxv = -math.MaxFloat32
		var cnt int
		for j := uint8(0); j < c.calibTargetN; j++ {
			v := c.dtBuf[k][j]
			if v > 0 {
				sum += v
				cnt++
				if v < minv {
					minv = v
				}
				if v > maxv {
					maxv = v
				}
			}
		}
		mean := float32(0)
		if cnt > 0 {
			mean = sum / float32(cnt)
		}
		log.Printf("k=%2d: mean=%.1f (min=%.1f max=%.1f) n=%d", k, mean, minv, maxv, cnt)
	}
}
