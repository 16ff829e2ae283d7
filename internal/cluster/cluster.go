// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cluster

import (
	"errors"
	"math"
	"math/cmplx"
	"time"

	"github.com/espargos/sounder/internal/wire"
)

// ErrIncomplete is returned by operations that require every antenna in
// the cluster to have reported CSI (e.g. HT40 reassembly) when that is
// not yet the case.
var ErrIncomplete = errors.New("cluster: incomplete")

// Cluster reassembles the per-antenna CSI fragments of one 802.11 frame
// (or calibration packet) across every board of an array into a dense
// tensor, tracking which antenna slots have reported in yet.
type Cluster struct {
	SourceMAC [6]byte
	DestMAC   [6]byte
	SeqCtrl   wire.SeqCtrl

	hostTimestamp time.Time
	boardCount    int

	serialized []*wire.SerializedCSI // flat [boardCount][RowsPerBoard][AntennasPerRow]
	complex    []complex64           // flat, same shape, *wire.CSIBufSamples
	completion []bool
	completeN  int
	rssi       []float32
}

// New creates an empty cluster for boardCount boards, with every antenna
// slot initialized as not-yet-reported (RSSI NaN, CSI unset).
func New(sourceMAC, destMAC [6]byte, seq wire.SeqCtrl, boardCount int) *Cluster {
	slots := boardCount * wire.RowsPerBoard * wire.AntennasPerRow
	c := &Cluster{
		SourceMAC:     sourceMAC,
		DestMAC:       destMAC,
		SeqCtrl:       seq,
		hostTimestamp: time.Now(),
		boardCount:    boardCount,
		serialized:    make([]*wire.SerializedCSI, slots),
		complex:       make([]complex64, slots*wire.CSIBufSamples),
		completion:    make([]bool, slots),
		rssi:          make([]float32, slots),
	}
	for i := range c.rssi {
		c.rssi[i] = float32(math.NaN())
	}
	return c
}

func (c *Cluster) slotIndex(board, row, col int) int {
	return (board*wire.RowsPerBoard+row)*wire.AntennasPerRow + col
}

// Add records the CSI reported by one antenna, identified by the board
// number it was received from and the controller-assigned esp_num that
// encodes its row/column position within the board.
func (c *Cluster) Add(boardNum int, espNum uint32, sc wire.SerializedCSI, csiCplx []complex64) error {
	row := 1 - int(espNum)/wire.AntennasPerRow
	col := wire.AntennasPerRow - 1 - int(espNum)%wire.AntennasPerRow
	if boardNum < 0 || boardNum >= c.boardCount || row < 0 || row >= wire.RowsPerBoard || col < 0 || col >= wire.AntennasPerRow {
		return errors.New("cluster: esp_num/board_num out of range")
	}

	idx := c.slotIndex(boardNum, row, col)
	scCopy := sc
	c.serialized[idx] = &scCopy
	copy(c.complex[idx*wire.CSIBufSamples:(idx+1)*wire.CSIBufSamples], csiCplx)

	if !c.completion[idx] {
		c.completion[idx] = true
		c.completeN++
	}

	rx, err := sc.RxCtrl()
	if err == nil {
		c.rssi[idx] = float32(rx.RSSI)
	}
	return nil
}

// ForEachCompleteSensor invokes cb for every antenna slot that has
// reported CSI so far, in (board, row, col) order.
func (c *Cluster) ForEachCompleteSensor(cb func(board, row, col int, sc *wire.SerializedCSI)) {
	for b := 0; b < c.boardCount; b++ {
		for r := 0; r < wire.RowsPerBoard; r++ {
			for a := 0; a < wire.AntennasPerRow; a++ {
				idx := c.slotIndex(b, r, a)
				if sc := c.serialized[idx]; sc != nil {
					cb(b, r, a, sc)
				}
			}
		}
	}
}

// FirstCompleteSensor returns the record from the first antenna slot (in
// board/row/col order) that has reported CSI, or nil if none has.
func (c *Cluster) FirstCompleteSensor() *wire.SerializedCSI {
	for _, sc := range c.serialized {
		if sc != nil {
			return sc
		}
	}
	return nil
}

// GetCompletion returns the per-antenna completion mask, flat in
// (board, row, col) order.
func (c *Cluster) GetCompletion() []bool {
	return c.completion
}

// GetCompletionAll reports whether every antenna slot in the cluster has
// reported CSI.
func (c *Cluster) GetCompletionAll() bool {
	return c.completeN == len(c.completion)
}

// GetAge is the time elapsed since the cluster was first created (i.e.
// since its first fragment arrived).
func (c *Cluster) GetAge() time.Duration {
	return time.Since(c.hostTimestamp)
}

// GetHostTimestamp is the host-local time the cluster was first created.
func (c *Cluster) GetHostTimestamp() time.Time {
	return c.hostTimestamp
}

// GetSensorTimestamps returns the per-antenna sensor clock timestamps, in
// seconds, flat in (board, row, col) order; slots with no CSI yet read as
// NaN.
//
// The timestamp is built from three rx_ctrl/serializedCSI fields: a
// microsecond base (rx_ctrl's global_timestamp_us if the firmware
// populates it, else the outer record's legacy Timestamp), plus
// rxstart_time_cyc ticks at 80MHz, plus the finer rxstart_time_cyc_dec
// sub-cycle ticks at 640MHz (folded to its signed firmware convention),
// minus a fixed 20800ns radio-to-latch hardware lag. float64 carries
// enough precision for ~10ns resolution across a 24 hour host clock
// (the relevant range is seconds since process start, not since the
// Unix epoch), so no extended-precision type is needed here.
func (c *Cluster) GetSensorTimestamps() []float64 {
	out := make([]float64, len(c.serialized))
	for i, sc := range c.serialized {
		if sc == nil {
			out[i] = math.NaN()
			continue
		}
		rx, err := sc.RxCtrl()
		if err != nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = sensorTimestamp(sc.Timestamp, rx)
	}
	return out
}

func sensorTimestamp(legacyTimestampUs uint32, rx wire.RxCtrl) float64 {
	baseUs := float64(legacyTimestampUs)
	if rx.GlobalTimestampUs != 0 {
		baseUs = float64(rx.GlobalTimestampUs)
	}

	return baseUs/1e6 +
		float64(rx.RxStartTimeCyc)/wire.RxStartTimeCycHz +
		float64(rx.FoldedRxStartTimeCycDec())/wire.RxStartTimeCycDecHz -
		wire.HardwareTimestampLagNs*1e-9
}

// GetRSSI returns the per-antenna RSSI in dBm, flat in (board, row, col)
// order; slots with no CSI yet read as NaN.
func (c *Cluster) GetRSSI() []float32 {
	return c.rssi
}

// BoardCount is the number of boards this cluster spans.
func (c *Cluster) BoardCount() int { return c.boardCount }

// IsHT40 reports whether the frame occupied a 40MHz-bonded channel,
// according to the first antenna slot that has reported in.
func (c *Cluster) IsHT40() bool {
	first := c.FirstCompleteSensor()
	if first == nil {
		return false
	}
	rx, err := first.RxCtrl()
	return err == nil && rx.CWB
}

// GetSecondaryChannelRelative returns the secondary channel's position
// relative to the primary: 0 (no bonding), +1 (above) or -1 (below).
func (c *Cluster) GetSecondaryChannelRelative() int {
	first := c.FirstCompleteSensor()
	if first == nil {
		return 0
	}
	rx, err := first.RxCtrl()
	if err != nil {
		return 0
	}
	return rx.SecondaryChannelOffset()
}

// GetPrimaryChannel returns the WiFi channel number of the primary
// 20MHz channel, according to the first antenna slot that has reported in.
func (c *Cluster) GetPrimaryChannel() int {
	first := c.FirstCompleteSensor()
	if first == nil {
		return 0
	}
	rx, err := first.RxCtrl()
	if err != nil {
		return 0
	}
	return int(rx.Channel)
}

// GetSecondaryChannel returns the WiFi channel number of the secondary
// 20MHz channel in an HT40 frame.
func (c *Cluster) GetSecondaryChannel() int {
	return c.GetPrimaryChannel() + 4*c.GetSecondaryChannelRelative()
}

func (c *Cluster) slotSamples(board, row, col int) []complex64 {
	idx := c.slotIndex(board, row, col)
	return c.complex[idx*wire.CSIBufSamples : (idx+1)*wire.CSIBufSamples]
}

// lltfOffset/Samples etc. mirror the subcarrier layout of wire.csi_buf_t.
const (
	lltfOffset        = 6
	lltfSampleCount   = 53
	htltfHigherOffset = lltfOffset + lltfSampleCount + 7
	htltfHigherCount  = 57
	htltfGuardCount   = 11
	htltfLowerOffset  = htltfHigherOffset + htltfHigherCount + htltfGuardCount
	htltfLowerCount   = 57
)

// DeserializeLLTF returns the L-LTF subcarriers for every antenna slot,
// as a flat []complex64 grouped in (board, row, col, subcarrier) order.
func (c *Cluster) DeserializeLLTF() []complex64 {
	out := make([]complex64, len(c.serialized)*lltfSampleCount)
	for i := range c.serialized {
		copy(out[i*lltfSampleCount:(i+1)*lltfSampleCount],
			c.complex[i*wire.CSIBufSamples+lltfOffset:i*wire.CSIBufSamples+lltfOffset+lltfSampleCount])
	}
	return out
}

// DeserializeHT40 reassembles the bonded 40MHz spectrum for every antenna
// slot: the two 20MHz halves placed on either side of a zeroed gap
// (numeric.InterpolateHT40Gap fills it), with the secondary channel's pi/2 pilot-symbol phase shift
// corrected for. Requires IsHT40 and a determined secondary-channel
// location; returns ErrIncomplete otherwise.
func (c *Cluster) DeserializeHT40() ([]complex64, error) {
	if !c.IsHT40() {
		return nil, ErrIncomplete
	}
	loc := c.GetSecondaryChannelRelative()
	if loc == 0 {
		return nil, ErrIncomplete
	}

	out := make([]complex64, len(c.serialized)*wire.HT40Samples)
	pilotShift := complex64(cmplx.Exp(complex(0, -1*3.14159265358979323846/2)))

	for i := range c.serialized {
		idx := i * wire.CSIBufSamples
		lower := c.complex[idx+htltfLowerOffset : idx+htltfLowerOffset+htltfLowerCount]
		higher := c.complex[idx+htltfHigherOffset : idx+htltfHigherOffset+htltfHigherCount]

		dst := out[i*wire.HT40Samples : (i+1)*wire.HT40Samples]
		// Lower half occupies the first htltfLowerCount slots, higher half
		// the last htltfHigherCount slots; the gap between them is left
		// zeroed here for numeric.InterpolateHT40Gap to fill in.
		copy(dst[:htltfLowerCount], lower)
		copy(dst[len(dst)-htltfHigherCount:], higher)

		// The first part of dst holds the htltf_lower samples, the last
		// part holds htltf_higher; the pilot phase correction lands on
		// whichever physical half sits on the secondary channel's side.
		if loc == 1 {
			for j := 0; j < htltfLowerCount; j++ {
				dst[j] *= pilotShift
			}
		} else {
			for j := len(dst) - htltfHigherCount; j < len(dst); j++ {
				dst[j] *= pilotShift
			}
		}
	}

	return out, nil
}
