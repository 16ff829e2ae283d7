// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package calibration

import (
	"math"
	"math/cmplx"

	"github.com/espargos/sounder/internal/wire"
)

// Calibration holds the derived per-antenna, per-subcarrier phase
// correction (and per-antenna timestamp correction) needed to treat an
// array's boards as one coherent, time-aligned receiver.
//
// Shapes are flat slices over (board, row, col[, subcarrier]), matching
// the layout cluster.Cluster itself uses.
type Calibration struct {
	ChannelPrimary, ChannelSecondary int
	boardCount                      int

	phase       []complex64 // len boardCount*RowsPerBoard*AntennasPerRow*wire.HT40Samples
	phaseFlat   []complex64 // len boardCount*RowsPerBoard*AntennasPerRow
	timeOffsets []float64   // len boardCount*RowsPerBoard*AntennasPerRow
}

const slotsPerBoard = wire.RowsPerBoard * wire.AntennasPerRow

// Derive computes a Calibration from reference (phase-coherent) HT40 CSI
// measurements and their corresponding sensor/host timestamp offsets.
//
// calibValuesHT40 is flat over (board, row, col, subcarrier) — the
// phase-coherent average of many calibration-signal captures per
// antenna, e.g. via numeric.AverageIterative. timestampOffsets is flat
// over (board, row, col): the mean (sensor_timestamp - host_timestamp)
// observed for that antenna during the calibration run.
//
// When cableLengths/cableVelocityFactors are non-nil (one entry per
// board), an additional per-board feeder-cable phase term is removed
// from the derived calibration so that boards wired with different
// cable lengths still end up phase-aligned; this does not correct for
// the boards' differing *propagation delay* (i.e. no term is added to
// timeOffsets for this), which remains a known limitation for per-board
// calibration of multi-board arrays.
func Derive(channelPrimary, channelSecondary, boardCount int, calibValuesHT40 []complex64, timestampOffsets []float64, cableLengths, cableVelocityFactors []float64) *Calibration {
	freqs := FrequenciesHT40(channelPrimary, channelSecondary)
	traceWavelengths := CalibTraceWavelength(freqs)

	propCalibEachBoard := make([]complex64, wire.RowsPerBoard*wire.AntennasPerRow*wire.HT40Samples)
	for r := 0; r < wire.RowsPerBoard; r++ {
		for col := 0; col < wire.AntennasPerRow; col++ {
			length := calibTraceLength[r][col]
			for s, wl := range traceWavelengths {
				idx := (r*wire.AntennasPerRow+col)*wire.HT40Samples + s
				propCalibEachBoard[idx] = complex64(cmplx.Exp(complex(0, -2*math.Pi*length/wl)))
			}
		}
	}

	var cableWavelengths [][]float64
	if cableLengths != nil {
		cableWavelengths = CableWavelength(freqs, cableVelocityFactors)
	}

	c := &Calibration{
		ChannelPrimary:   channelPrimary,
		ChannelSecondary: channelSecondary,
		boardCount:       boardCount,
		phase:            make([]complex64, boardCount*slotsPerBoard*wire.HT40Samples),
		phaseFlat:        make([]complex64, boardCount*slotsPerBoard),
		timeOffsets:      make([]float64, boardCount*slotsPerBoard),
	}

	for b := 0; b < boardCount; b++ {
		for r := 0; r < wire.RowsPerBoard; r++ {
			for col := 0; col < wire.AntennasPerRow; col++ {
				slot := b*slotsPerBoard + r*wire.AntennasPerRow + col
				rcIdx := r*wire.AntennasPerRow + col

				// The reference signal takes calibTraceLength[r][col]/
				// calibTraceGroupVelocity seconds to reach this antenna
				// over the on-PCB trace; remove that delay so the stored
				// offset reflects only the sensor/host clock skew.
				traceDelay := calibTraceLength[r][col] / calibTraceGroupVelocity
				c.timeOffsets[slot] = timestampOffsets[slot] - traceDelay

				var flatSum complex64
				for s := 0; s < wire.HT40Samples; s++ {
					measured := calibValuesHT40[slot*wire.HT40Samples+s]
					prop := propCalibEachBoard[rcIdx*wire.HT40Samples+s]

					if cableWavelengths != nil {
						cablePhase := complex64(cmplx.Exp(complex(0, -2*math.Pi*cableLengths[b]/cableWavelengths[b][s])))
						prop *= cablePhase
					}

					coeffWithoutPropDelay := measured * complex64(cmplx.Conj(complex128(prop)))
					corr := complex64(cmplx.Exp(complex(0, -cmplx.Phase(complex128(coeffWithoutPropDelay)))))

					c.phase[slot*wire.HT40Samples+s] = corr
					flatSum += corr
				}
				c.phaseFlat[slot] = flatSum
			}
		}
	}

	return c
}

// ApplyHT40 multiplies every subcarrier of an HT40 CSI tensor (flat over
// board, row, col, subcarrier) by its derived per-subcarrier phase
// correction, in place of an exact copy semantics: a new slice is
// returned, values is left untouched.
func (c *Calibration) ApplyHT40(values []complex64) []complex64 {
	out := make([]complex64, len(values))
	for i, v := range values {
		out[i] = v * c.phase[i]
	}
	return out
}

// ApplyHT40Flat applies the single summed phase-correction factor per
// antenna (rather than per-subcarrier) across every subcarrier of values
// — a coarser correction useful when only one phase offset per antenna
// is wanted (e.g. for narrowband consumers).
func (c *Calibration) ApplyHT40Flat(values []complex64) []complex64 {
	out := make([]complex64, len(values))
	n := wire.HT40Samples
	for slot := 0; slot < len(values)/n; slot++ {
		factor := c.phaseFlat[slot]
		for s := 0; s < n; s++ {
			out[slot*n+s] = values[slot*n+s] * factor
		}
	}
	return out
}

// ApplyLLTF applies the single summed per-antenna phase correction
// (ApplyHT40Flat's phaseFlat) across every subcarrier of an L-LTF tensor
// (flat over board, row, col, subcarrier, wire.LLTFSamples wide per
// slot). L-LTF is narrowband enough that the per-subcarrier HT40
// correction doesn't apply; the flat, per-antenna factor is what's
// available for it.
func (c *Calibration) ApplyLLTF(values []complex64) []complex64 {
	out := make([]complex64, len(values))
	n := wire.LLTFSamples
	for slot := 0; slot < len(values)/n; slot++ {
		factor := c.phaseFlat[slot]
		for s := 0; s < n; s++ {
			out[slot*n+s] = values[slot*n+s] * factor
		}
	}
	return out
}

// ApplyTimestamps subtracts the derived per-antenna sensor/host clock
// offset from raw sensor timestamps, flat over (board, row, col).
func (c *Calibration) ApplyTimestamps(timestamps []float64) []float64 {
	out := make([]float64, len(timestamps))
	for i, t := range timestamps {
		out[i] = t - c.timeOffsets[i]
	}
	return out
}
