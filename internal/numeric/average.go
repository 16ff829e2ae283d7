// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package numeric provides the small signal-processing building blocks
// shared by calibration and the illustrative root-MUSIC consumer:
// phase-coherent averaging, HT40 gap interpolation and first-peak
// alignment.
package numeric

import "math/cmplx"

// AverageIterative combines many CSI observations of the same quantity
// (e.g. repeated calibration-signal captures of one antenna) into a
// single phase-coherent estimate, tolerant of each observation carrying
// an arbitrary, unknown common phase offset (such as the transmitter's
// free-running oscillator phase at capture time).
//
// points must all have the same length; weights, if non-nil, must have
// len(points) entries and sum to a sensible normalization (equal
// weighting is used when nil). iterations controls how many alternating
// phase/magnitude refinement passes to run; 10 matches what a
// convergence check on typical calibration captures needs.
func AverageIterative(points [][]complex64, weights []float64, iterations int) []complex64 {
	n := len(points)
	if n == 0 {
		return nil
	}
	dim := len(points[0])

	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1.0 / float64(n)
		}
	}

	phi := make([]float64, n)
	w := make([]complex128, dim)

	for iter := 0; iter < iterations; iter++ {
		for k := range w {
			w[k] = 0
		}
		for i, row := range points {
			factor := cmplx.Rect(weights[i], -phi[i])
			for k, v := range row {
				w[k] += factor * complex128(v)
			}
		}

		for i, row := range points {
			var dot complex128
			for k, v := range row {
				dot += cmplx.Conj(w[k]) * complex128(v)
			}
			phi[i] = cmplx.Phase(dot)
		}
	}

	out := make([]complex64, dim)
	for k, v := range w {
		out[k] = complex64(v)
	}
	return out
}
