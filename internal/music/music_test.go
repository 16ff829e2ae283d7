// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package music

import (
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/espargos/sounder/internal/wire"
)

// syntheticLOS builds a stack of HT40 datapoints for a single simulated
// board, every antenna slot carrying one line-of-sight path with the
// given time of arrival. A small per-datapoint amplitude wobble breaks
// the exact rank-1 degeneracy a noiseless single source would otherwise
// produce, the way real repeated measurements do.
func syntheticLOS(boardCount, datapointCount int, toa float64) []complex64 {
	rows, cols := wire.RowsPerBoard, wire.AntennasPerRow
	slots := boardCount * rows * cols
	out := make([]complex64, datapointCount*slots*wire.HT40Samples)

	for d := 0; d < datapointCount; d++ {
		amplitude := 1.0 + 0.05*float64(d)
		for s := 0; s < slots; s++ {
			for sub := 0; sub < wire.HT40Samples; sub++ {
				phase := -2 * math.Pi * toa * wire.WifiSubcarrierSpacing * float64(sub)
				v := amplitude * cmplx.Exp(complex(0, phase))
				out[(d*slots+s)*wire.HT40Samples+sub] = complex64(v)
			}
		}
	}
	return out
}

func TestEstimateToAsRecoversKnownDelay(t *testing.T) {
	const boardCount = 1
	const datapointCount = 6
	const toa = 5e-7 // 500ns, well within the unambiguous range of 1/WifiSubcarrierSpacing

	ht40 := syntheticLOS(boardCount, datapointCount, toa)

	est := New(Config{MaxSourceCount: 2, ChunkSize: 40})
	out, err := est.EstimateToAs("", ht40, datapointCount, boardCount)
	require.NoError(t, err)
	require.Len(t, out, boardCount*wire.RowsPerBoard*wire.AntennasPerRow)

	for _, got := range out {
		require.InDelta(t, toa, got, 5e-8, "ToA estimate should recover the injected delay")
	}
}

func TestEstimateToAsPerBoardAverage(t *testing.T) {
	const boardCount = 2
	const datapointCount = 6
	const toa = -3e-7

	ht40 := syntheticLOS(boardCount, datapointCount, toa)

	est := New(Config{MaxSourceCount: 2, ChunkSize: 40, PerBoardAverage: true})
	out, err := est.EstimateToAs("", ht40, datapointCount, boardCount)
	require.NoError(t, err)

	rows, cols := wire.RowsPerBoard, wire.AntennasPerRow
	for b := 0; b < boardCount; b++ {
		first := out[b*rows*cols]
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				require.Equal(t, first, out[(b*rows+r)*cols+c], "every antenna on a board must report the board's single estimate")
			}
		}
		require.InDelta(t, toa, first, 5e-8)
	}
}

func TestEstimateToAsRejectsMismatchedLength(t *testing.T) {
	est := New(DefaultConfig())
	_, err := est.EstimateToAs("", make([]complex64, 3), 2, 1)
	require.Error(t, err)
}

func TestEstimateToAsCachesByKey(t *testing.T) {
	const boardCount = 1
	const datapointCount = 4
	ht40 := syntheticLOS(boardCount, datapointCount, 1e-7)

	est := New(Config{MaxSourceCount: 2, ChunkSize: 40, CacheTTL: time.Minute})

	first, err := est.EstimateToAs("cluster-a", ht40, datapointCount, boardCount)
	require.NoError(t, err)

	// A second request under the same key, even with different underlying
	// data, must return the cached result rather than recomputing.
	stale := syntheticLOS(boardCount, datapointCount, 1.4e-6)
	second, err := est.EstimateToAs("cluster-a", stale, datapointCount, boardCount)
	require.NoError(t, err)
	require.Equal(t, first, second)

	third, err := est.EstimateToAs("cluster-b", stale, datapointCount, boardCount)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestDurandKernerFindsKnownRoots(t *testing.T) {
	// (z-2)(z+3) = z^2 + z - 6
	coeffs := []complex128{1, 1, -6}
	roots := durandKerner(coeffs, 200)
	require.Len(t, roots, 2)

	found2, foundNeg3 := false, false
	for _, r := range roots {
		if cmplx.Abs(r-complex(2, 0)) < 1e-6 {
			found2 = true
		}
		if cmplx.Abs(r-complex(-3, 0)) < 1e-6 {
			foundNeg3 = true
		}
	}
	require.True(t, found2)
	require.True(t, foundNeg3)
}
