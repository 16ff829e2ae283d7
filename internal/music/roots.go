// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package music

import "math/cmplx"

// durandKerner finds every root of the polynomial with coefficients
// coeffs (highest degree first, as produced by polyCoeffsFromTraces)
// using the Durand-Kerner (Weierstrass) simultaneous-iteration method.
//
// gonum's eigensolvers only cover real and Hermitian matrices, so a
// companion-matrix approach would need a non-Hermitian complex
// eigensolver that isn't available; realifying a non-Hermitian complex
// matrix the way hermitianEigen does for the covariance matrix doesn't
// work here; the result is the union of a root's value and its complex
// conjugate with no way to tell which is which from the spectrum alone.
// Durand-Kerner needs only complex arithmetic and polynomial
// evaluation, so it sidesteps the problem entirely.
func durandKerner(coeffs []complex128, maxIterations int) []complex128 {
	degree := len(coeffs) - 1
	if degree <= 0 {
		return nil
	}

	lead := coeffs[0]
	if lead == 0 {
		// Strip leading zero coefficients; a genuinely zero leading term
		// just means a lower-degree polynomial.
		for len(coeffs) > 1 && coeffs[0] == 0 {
			coeffs = coeffs[1:]
		}
		degree = len(coeffs) - 1
		if degree <= 0 {
			return nil
		}
		lead = coeffs[0]
	}

	monic := make([]complex128, len(coeffs))
	for i, c := range coeffs {
		monic[i] = c / lead
	}

	eval := func(z complex128) complex128 {
		v := complex(0, 0)
		for _, c := range monic {
			v = v*z + c
		}
		return v
	}

	roots := make([]complex128, degree)
	seed := complex(0.4, 0.9)
	p := complex(1.0, 0.0)
	for k := range roots {
		p *= seed
		roots[k] = p
	}

	const tol = 1e-12
	for iter := 0; iter < maxIterations; iter++ {
		maxShift := 0.0
		for i := range roots {
			denom := complex(1, 0)
			for j := range roots {
				if i != j {
					denom *= roots[i] - roots[j]
				}
			}
			if denom == 0 {
				continue
			}
			shift := eval(roots[i]) / denom
			roots[i] -= shift
			if d := cmplx.Abs(shift); d > maxShift {
				maxShift = d
			}
		}
		if maxShift < tol {
			break
		}
	}

	return roots
}
