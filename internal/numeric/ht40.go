// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package numeric

import "github.com/espargos/sounder/internal/wire"

// InterpolateHT40Gap fills the unreported subcarrier slots between the
// two bonded 20MHz halves of an HT40 spectrum with a linear interpolation
// between the two slots bordering the gap. values must be exactly
// wire.HT40Samples long.
func InterpolateHT40Gap(values []complex64) {
	left := values[wire.HT40GapStart-1]
	right := values[wire.HT40GapEnd]
	span := float32(wire.HT40GapEnd - (wire.HT40GapStart - 1))

	for i := wire.HT40GapStart; i < wire.HT40GapEnd; i++ {
		frac := float32(i-(wire.HT40GapStart-1)) / span
		values[i] = complex64(complex(frac, 0))*right + complex64(complex(1-frac, 0))*left
	}
}

// InterpolateHT40GapFlat applies InterpolateHT40Gap to every
// wire.HT40Samples-wide row of a flat tensor.
func InterpolateHT40GapFlat(values []complex64) {
	n := wire.HT40Samples
	for off := 0; off+n <= len(values); off += n {
		InterpolateHT40Gap(values[off : off+n])
	}
}
