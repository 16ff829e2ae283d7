// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cluster reassembles per-antenna CSI fragments streamed from
// every board in an array into one dense, completion-tracked tensor per
// over-the-air (or calibration) frame.
package cluster

import (
	"fmt"

	"github.com/espargos/sounder/internal/wire"
)

// Key identifies which cluster a fragment belongs to: one 802.11 frame,
// as seen (possibly many times, once per sensor) across an array.
type Key string

// KeyOf derives the cluster key for one fragment from its addressing and
// sequence-control fields, the same identity espargos uses to group
// fragments of the same over-the-air frame together.
func KeyOf(sourceMAC, destMAC [6]byte, seq wire.SeqCtrl) Key {
	return Key(fmt.Sprintf("%x-%x-%03x-%01x", sourceMAC, destMAC, seq.Seg, seq.Frag))
}
