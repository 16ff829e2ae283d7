// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backlog

import (
	"math"

	"github.com/espargos/sounder/pkg/resampler"
)

// DownsampleRSSI returns a shape-preserving view of the backlog's RSSI
// history, collapsed to one value per stored cluster (the mean RSSI
// across every antenna that reported a reading) and reduced to at most
// targetPoints points via the largest-triangle-three-bucket algorithm.
// The resampler leaves series shorter than 100 points unchanged, so such
// a series is returned whole even when it is longer than targetPoints.
// Meant for cheap external consumption, e.g. a status dashboard, not for
// anything that needs per-antenna fidelity.
func (b *Backlog) DownsampleRSSI(targetPoints int) ([]float64, error) {
	if b.slots == 0 {
		return nil, nil
	}
	rssi := b.GetRSSI()
	n := len(rssi) / b.slots
	if n == 0 {
		return nil, nil
	}

	series := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		count := 0
		for _, v := range rssi[i*b.slots : (i+1)*b.slots] {
			if !math.IsNaN(float64(v)) {
				sum += float64(v)
				count++
			}
		}
		if count == 0 {
			series[i] = math.NaN()
			continue
		}
		series[i] = sum / float64(count)
	}

	if targetPoints <= 0 || len(series) <= targetPoints {
		return series, nil
	}

	step := (len(series) + targetPoints - 1) / targetPoints
	out, _, err := resampler.LargestTriangleThreeBucket(series, 1, step)
	if err != nil {
		return nil, err
	}
	return out, nil
}
