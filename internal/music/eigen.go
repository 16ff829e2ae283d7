// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package music estimates per-antenna time-of-arrival (ToA) from
// calibrated HT40 CSI using the root-MUSIC super-resolution algorithm,
// as an illustrative consumer of a Pool/Backlog's reassembled spectra.
package music

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// hermitianEigen computes the eigendecomposition of the n×n Hermitian
// matrix h (row-major), returning eigenvalues in descending order and
// their corresponding unit eigenvectors (columns of the Python
// reference's eigvec, here one []complex128 per eigenvalue).
//
// gonum's mat package has no native complex Hermitian eigensolver, so h
// is lifted to the real symmetric 2n×2n matrix [[Re(h),-Im(h)],[Im(h),
// Re(h)]]: this is the standard realification of a Hermitian matrix as
// an R-linear map on C^n ≅ R^2n, and it has the same eigenvalues as h,
// each with doubled multiplicity, with an eigenvector (x;y) of the real
// matrix corresponding to the complex eigenvector x+iy of h. See
// DESIGN.md for the derivation.
func hermitianEigen(h []complex128, n int) ([]float64, [][]complex128) {
	m := make([]float64, (2*n)*(2*n))
	at := func(i, j int) complex128 { return h[i*n+j] }
	set := func(i, j int, v float64) { m[i*(2*n)+j] = v }

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := at(i, j)
			set(i, j, real(v))
			set(i, j+n, -imag(v))
			set(i+n, j, imag(v))
			set(i+n, j+n, real(v))
		}
	}

	sym := mat.NewSymDense(2*n, m)

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return make([]float64, n), make([][]complex128, n)
	}

	values := eig.Values(nil) // ascending
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	type pair struct {
		val float64
		vec []complex128
	}

	const tol = 1e-9
	var pairs []pair
	used := make([]bool, 2*n)

	for i := 0; i < 2*n; i++ {
		if used[i] {
			continue
		}
		// Find this eigenvalue's double-multiplicity partner among the
		// remaining columns so we only keep one representative per
		// distinct Hermitian eigenvalue.
		partner := -1
		for j := i + 1; j < 2*n; j++ {
			if !used[j] && math.Abs(values[j]-values[i]) < tol*(1+math.Abs(values[i])) {
				partner = j
				break
			}
		}
		used[i] = true
		if partner >= 0 {
			used[partner] = true
		}

		vec := make([]complex128, n)
		for r := 0; r < n; r++ {
			x := vectors.At(r, i)
			y := vectors.At(r+n, i)
			vec[r] = complex(x, y)
		}
		pairs = append(pairs, pair{val: values[i], vec: vec})
	}

	// Descending, to match the Python reference's [...,::-1] convention.
	for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	}

	vals := make([]float64, len(pairs))
	vecs := make([][]complex128, len(pairs))
	for i, p := range pairs {
		vals[i] = p.val
		vecs[i] = p.vec
	}
	return vals, vecs
}
