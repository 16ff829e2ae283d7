// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package music

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"
	"time"

	"github.com/espargos/sounder/internal/cluster"
	"github.com/espargos/sounder/internal/wire"
	"github.com/espargos/sounder/pkg/lrucache"
)

// Config tunes the root-MUSIC ToA estimator.
type Config struct {
	// MaxSourceCount caps the number of propagation paths root-MUSIC is
	// allowed to resolve, even if the Rissanen MDL criterion picks more.
	MaxSourceCount int
	// ChunkSize is the number of adjacent subcarriers folded into one
	// spatial-smoothing chunk when building the covariance matrix. Zero
	// means "use the whole spectrum as a single chunk".
	ChunkSize int
	// PerBoardAverage, if set, estimates one ToA per board by pooling
	// every antenna on that board into the covariance matrix, instead of
	// estimating a ToA per antenna.
	PerBoardAverage bool
	// CacheTTL, if positive, caches the ToA result for a given cluster
	// key for that long. Zero disables caching.
	CacheTTL time.Duration
	// DurandKernerIterations bounds the root-finding iteration count.
	DurandKernerIterations int
}

// DefaultConfig mirrors the reference estimator's defaults.
func DefaultConfig() Config {
	return Config{
		MaxSourceCount:         2,
		ChunkSize:              36,
		CacheTTL:               2 * time.Second,
		DurandKernerIterations: 200,
	}
}

// Estimator estimates per-antenna (or per-board) line-of-sight time of
// arrival from a stack of HT40 CSI datapoints, using the root-MUSIC
// super-resolution algorithm.
type Estimator struct {
	cfg   Config
	cache *lrucache.Cache
}

// New builds an Estimator. A non-positive cfg.CacheTTL disables result
// caching entirely.
func New(cfg Config) *Estimator {
	if cfg.MaxSourceCount <= 0 {
		cfg.MaxSourceCount = 2
	}
	if cfg.DurandKernerIterations <= 0 {
		cfg.DurandKernerIterations = 200
	}
	e := &Estimator{cfg: cfg}
	if cfg.CacheTTL > 0 {
		e.cache = lrucache.New(1 << 20)
	}
	return e
}

// EstimateToAs estimates the ToA of every antenna slot (or, in
// PerBoardAverage mode, of every board) from datapointCount stacked HT40
// spectra. ht40 is flat in (datapoint, board, row, col, subcarrier)
// order, the same layout Backlog.GetHT40 produces. The returned slice is
// always slots = boardCount*wire.RowsPerBoard*wire.AntennasPerRow long,
// in (board, row, col) order; in PerBoardAverage mode every slot on a
// board carries that board's single estimate.
//
// key identifies the cluster/backlog this data came from and is only
// used as a cache key; pass "" to bypass caching for this call.
func (e *Estimator) EstimateToAs(key cluster.Key, ht40 []complex64, datapointCount, boardCount int) ([]float64, error) {
	slots := boardCount * wire.RowsPerBoard * wire.AntennasPerRow
	if datapointCount <= 0 || slots == 0 {
		return nil, fmt.Errorf("music: no datapoints to estimate from")
	}
	if len(ht40) != datapointCount*slots*wire.HT40Samples {
		return nil, fmt.Errorf("music: ht40 length %d does not match %d datapoints x %d slots x %d subcarriers",
			len(ht40), datapointCount, slots, wire.HT40Samples)
	}

	if e.cache != nil && key != "" {
		v := e.cache.Get(string(key), func() (interface{}, time.Duration, int) {
			out, err := e.estimate(ht40, datapointCount, boardCount)
			return estimateResult{out: out, err: err}, e.cfg.CacheTTL, slots
		})
		res := v.(estimateResult)
		return res.out, res.err
	}

	return e.estimate(ht40, datapointCount, boardCount)
}

type estimateResult struct {
	out []float64
	err error
}

func (e *Estimator) estimate(ht40 []complex64, datapointCount, boardCount int) ([]float64, error) {
	subcarriers := wire.HT40Samples
	chunkSize := e.cfg.ChunkSize
	if chunkSize <= 0 || chunkSize > subcarriers {
		chunkSize = subcarriers
	}
	chunkCount := subcarriers / chunkSize
	if chunkCount == 0 {
		return nil, fmt.Errorf("music: chunk size %d larger than %d subcarriers", chunkSize, subcarriers)
	}
	padding := (subcarriers - chunkCount*chunkSize) / 2

	rows, cols := wire.RowsPerBoard, wire.AntennasPerRow
	slots := boardCount * rows * cols
	out := make([]float64, slots)

	sample := func(d, slot, sub int) complex128 {
		v := ht40[(d*slots+slot)*subcarriers+sub]
		return complex(float64(real(v)), float64(imag(v)))
	}

	for b := 0; b < boardCount; b++ {
		if e.cfg.PerBoardAverage {
			antennaSlots := make([]int, 0, rows*cols)
			for r := 0; r < rows; r++ {
				for c := 0; c < cols; c++ {
					antennaSlots = append(antennaSlots, (b*rows+r)*cols+c)
				}
			}
			toa := e.estimateOne(sample, antennaSlots, datapointCount, chunkSize, chunkCount, padding)
			for _, s := range antennaSlots {
				out[s] = toa
			}
			continue
		}

		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				s := (b*rows+r)*cols + c
				out[s] = e.estimateOne(sample, []int{s}, datapointCount, chunkSize, chunkCount, padding)
			}
		}
	}

	return out, nil
}

// estimateOne computes a single root-MUSIC ToA estimate from the
// covariance matrix built by pooling antennaSlots (a single antenna, or
// every antenna on a board when averaging per-board) across every
// datapoint and chunk.
func (e *Estimator) estimateOne(sample func(d, slot, sub int) complex128, antennaSlots []int, datapointCount, chunkSize, chunkCount, padding int) float64 {
	n := chunkSize
	r := make([]complex128, n*n)

	normalization := float64(datapointCount * len(antennaSlots))
	for _, slot := range antennaSlots {
		for d := 0; d < datapointCount; d++ {
			for ch := 0; ch < chunkCount; ch++ {
				base := padding + ch*chunkSize
				for i := 0; i < n; i++ {
					vi := sample(d, slot, base+i)
					for j := 0; j < n; j++ {
						vj := sample(d, slot, base+j)
						r[i*n+j] += vi * cmplx.Conj(vj)
					}
				}
			}
		}
	}
	for i := range r {
		r[i] /= complex(normalization, 0)
	}

	// Forward-backward correlation matrix smoothing: average R with its
	// conjugate under a full index reversal of both axes, the same
	// transform as np.flip(np.conj(R), axis=(-2,-1)).
	fb := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			fb[i*n+j] = (r[i*n+j] + cmplx.Conj(r[(n-1-i)*n+(n-1-j)])) / 2
		}
	}

	eigvals, eigvecs := hermitianEigen(fb, n)

	sourceCount := e.rissanenMDL(eigvals, chunkCount*datapointCount)
	if sourceCount > e.cfg.MaxSourceCount {
		sourceCount = e.cfg.MaxSourceCount
	}

	noise := eigvecs[sourceCount:]
	if len(noise) == 0 {
		return 0
	}

	c := make([]complex128, n*n)
	for _, vec := range noise {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				c[i*n+j] += vec[i] * cmplx.Conj(vec[j])
			}
		}
	}

	coeffs := polyCoeffsFromTraces(c, n)
	roots := durandKerner(coeffs, e.cfg.DurandKernerIterations)

	type scored struct {
		root  complex128
		power float64
	}
	var inside []scored
	for _, root := range roots {
		mag := cmplx.Abs(root)
		if mag < 1 {
			inside = append(inside, scored{root: root, power: 1 / (1 - mag)})
		}
	}
	sort.Slice(inside, func(i, j int) bool { return inside[i].power > inside[j].power })

	if sourceCount > len(inside) {
		sourceCount = len(inside)
	}
	if sourceCount == 0 {
		return 0
	}

	top := min(sourceCount, 2)
	best := math.Inf(1)
	for _, s := range inside[:sourceCount] {
		toa := -cmplx.Phase(s.root) / (2 * math.Pi) / wire.WifiSubcarrierSpacing
		if toa < best {
			best = toa
		}
		top--
		if top == 0 {
			break
		}
	}
	return best
}

// rissanenMDL picks the number of coherent sources present in a
// forward-backward-smoothed covariance matrix's eigenvalue spectrum
// (Li & Pahlavan, "Super-resolution TOA estimation with diversity for
// indoor geolocation"). eigvals must already be sorted descending, as
// hermitianEigen returns them.
func (e *Estimator) rissanenMDL(eigvals []float64, m int) int {
	l := 10
	if l > len(eigvals) {
		l = len(eigvals)
	}
	if l == 0 {
		return 0
	}

	mdl := make([]float64, l)
	for k := 0; k < l; k++ {
		count := float64(l - k)
		var logSum, sum float64
		for i := k; i < l; i++ {
			v := eigvals[i] + 1e-6
			logSum += math.Log(v)
			sum += v
		}
		mdl[k] = -float64(m)*count*(logSum/count-math.Log(sum/count)) +
			0.25*float64(k)*(2*float64(l)-float64(k)+1)*math.Log(float64(m))
	}

	best := 0
	for k := 1; k < l; k++ {
		if mdl[k] < mdl[best] {
			best = k
		}
	}
	return best
}

// polyCoeffsFromTraces builds the root-MUSIC noise-subspace polynomial's
// coefficients (highest degree first) from the off-diagonal trace sums
// of C = Qn*Qn^H, mirroring the reference's use of np.trace(C, offset=d).
func polyCoeffsFromTraces(c []complex128, n int) []complex128 {
	upper := make([]complex128, n-1)
	for d := 1; d < n; d++ {
		var sum complex128
		for i := 0; i < n-d; i++ {
			sum += c[i*n+(i+d)]
		}
		upper[d-1] = sum
	}

	var diag complex128
	for i := 0; i < n; i++ {
		diag += c[i*n+i]
	}

	coeffs := make([]complex128, 0, 2*n-1)
	for i := len(upper) - 1; i >= 0; i-- {
		coeffs = append(coeffs, upper[i])
	}
	coeffs = append(coeffs, diag)
	for _, v := range upper {
		coeffs = append(coeffs, cmplx.Conj(v))
	}
	return coeffs
}
