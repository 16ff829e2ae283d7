// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package numeric

import (
	"math"
	"math/cmplx"
)

// PeakShiftOptions tunes the coarse time-domain peak search used by
// ShiftToFirstPeak/ShiftToFirstPeakSync. The zero value is not useful;
// use DefaultPeakShiftOptions.
type PeakShiftOptions struct {
	MaxDelayTaps      float64
	SearchResolution  int
	PeakThreshold     float64
}

// DefaultPeakShiftOptions matches the defaults used throughout the
// reference demos this package's algorithms are grounded on.
var DefaultPeakShiftOptions = PeakShiftOptions{
	MaxDelayTaps:     3,
	SearchResolution: 40,
	PeakThreshold:    0.4,
}

func shiftVectors(n int, opts PeakShiftOptions) [][]complex128 {
	subcarrierRange := make([]float64, n)
	for i := range subcarrierRange {
		subcarrierRange[i] = float64(i-n/2) + 1
	}

	out := make([][]complex128, opts.SearchResolution)
	for i := 0; i < opts.SearchResolution; i++ {
		var shift float64
		if opts.SearchResolution > 1 {
			shift = -opts.MaxDelayTaps + float64(i)*opts.MaxDelayTaps/float64(opts.SearchResolution-1)
		}
		row := make([]complex128, n)
		for s, sc := range subcarrierRange {
			row[s] = cmplx.Exp(complex(0, shift*2*math.Pi*sc/float64(n)))
		}
		out[i] = row
	}
	return out
}

// ShiftToFirstPeak shifts one antenna's frequency-domain CSI so that the
// first peak of its channel impulse response lands at delay tap 0: a
// cheap, per-antenna alternative to a full time-of-arrival estimate when
// only coarse alignment (not an absolute delay value) is needed.
func ShiftToFirstPeak(csi []complex64, opts PeakShiftOptions) []complex64 {
	n := len(csi)
	vectors := shiftVectors(n, opts)

	powers := make([]float64, len(vectors))
	maxPower := 0.0
	for i, vec := range vectors {
		var sum complex128
		for s, v := range vec {
			sum += v * complex128(csi[s])
		}
		powers[i] = cmplx.Abs(sum)
		if powers[i] > maxPower {
			maxPower = powers[i]
		}
	}

	best := len(vectors) - 1
	for i, p := range powers {
		if p > opts.PeakThreshold*maxPower {
			best = i
			break
		}
	}

	out := make([]complex64, n)
	for s, v := range vectors[best] {
		out[s] = complex64(v) * csi[s]
	}
	return out
}

// ShiftToFirstPeakSync shifts every antenna in csis by one common delay,
// the earliest searched shift at which the combined (summed-power)
// impulse response across antennas exceeds PeakThreshold times its
// maximum: the synchronized counterpart of ShiftToFirstPeak, usable when
// all antennas share a coherent time reference (e.g. after calibration).
func ShiftToFirstPeakSync(csis [][]complex64, opts PeakShiftOptions) [][]complex64 {
	if len(csis) == 0 {
		return nil
	}
	n := len(csis[0])
	vectors := shiftVectors(n, opts)

	powers := make([]float64, len(vectors))
	maxPower := 0.0
	for i, vec := range vectors {
		total := 0.0
		for _, csi := range csis {
			var sum complex128
			for s, v := range vec {
				sum += v * complex128(csi[s])
			}
			total += cmplx.Abs(sum) * cmplx.Abs(sum)
		}
		powers[i] = total
		if total > maxPower {
			maxPower = total
		}
	}

	best := len(vectors) - 1
	for i, p := range powers {
		if p > opts.PeakThreshold*maxPower {
			best = i
			break
		}
	}

	out := make([][]complex64, len(csis))
	for a, csi := range csis {
		row := make([]complex64, n)
		for s, v := range vectors[best] {
			row[s] = complex64(v) * csi[s]
		}
		out[a] = row
	}
	return out
}
