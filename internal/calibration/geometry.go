// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package calibration derives and applies the per-antenna phase and
// timestamp corrections needed to turn raw board CSI into an array that
// behaves like one coherent receiver.
package calibration

import (
	"math"

	"github.com/espargos/sounder/internal/wire"
)

// calibTraceLength holds, per [row][col], the length (in meters) of the
// on-PCB calibration signal trace feeding each antenna.
var calibTraceLength = [wire.RowsPerBoard][wire.AntennasPerRow]float64{
	{0.0708462, 0.0229349, 0.0786856, 0.1423600},
	{0.0838888, 0.0295291, 0.0671322, 0.1308537},
}

const (
	calibTraceDielectricConstant = 4.3
	calibTraceWidth              = 0.2
	calibTraceHeight             = 0.119
)

// calibTraceGroupVelocity is the propagation velocity of the calibration
// signal on the sensor PCB's microstrip trace, derived from the
// trace geometry's effective dielectric constant.
var calibTraceGroupVelocity = func() float64 {
	eps := (calibTraceDielectricConstant+1)/2 +
		(calibTraceDielectricConstant-1)/2*math.Pow(1+12*(calibTraceHeight/calibTraceWidth), -0.5)
	return wire.SpeedOfLight / math.Sqrt(eps)
}()

// FrequenciesHT40 returns the carrier frequency, in Hz, of every
// subcarrier slot in a reassembled HT40 spectrum (including the
// interpolated gap), centered between the primary and secondary channels.
func FrequenciesHT40(channelPrimary, channelSecondary int) []float64 {
	centerPrimary := wire.WifiChannel1Frequency + wire.WifiChannelSpacing*float64(channelPrimary-1)
	centerSecondary := wire.WifiChannel1Frequency + wire.WifiChannelSpacing*float64(channelSecondary-1)
	centerHT40 := (centerPrimary + centerSecondary) / 2

	n := wire.HT40Samples
	out := make([]float64, n)
	start := floorDiv(-n, 2)
	for i := 0; i < n; i++ {
		out[i] = centerHT40 + float64(start+i)*wire.WifiSubcarrierSpacing
	}
	return out
}

// floorDiv is integer division rounding toward negative infinity
// (Python's `//`), unlike Go's native truncating `/`.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// CalibTraceWavelength returns the on-PCB calibration trace wavelength
// for each of the given subcarrier frequencies.
func CalibTraceWavelength(frequencies []float64) []float64 {
	out := make([]float64, len(frequencies))
	for i, f := range frequencies {
		out[i] = calibTraceGroupVelocity / f
	}
	return out
}

// CableWavelength returns, per board, the wavelength on that board's
// feeder cable (of the given velocity factor) for each subcarrier
// frequency: shape [boardCount][len(frequencies)].
func CableWavelength(frequencies []float64, velocityFactors []float64) [][]float64 {
	out := make([][]float64, len(velocityFactors))
	for b, vf := range velocityFactors {
		row := make([]float64, len(frequencies))
		for i, f := range frequencies {
			row[i] = wire.SpeedOfLight / f * vf
		}
		out[b] = row
	}
	return out
}
