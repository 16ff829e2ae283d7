// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "encoding/binary"

// RxCtrl is the subset of the ESP32 `wifi_pkt_rx_ctrl_t` metadata this
// runtime cares about. The on-wire structure is 36 bytes, packed bit by
// bit (no byte alignment) in firmware byte order; fields not read here
// are skipped rather than named.
type RxCtrl struct {
	RSSI              int8
	MCS               uint8
	CWB               bool // true if the packet occupies a 40MHz-bonded channel
	Channel           uint8
	SecondaryChannel  uint8 // 0 = none, 1 = above primary, 2 = below primary
	RxStartTimeCyc    uint8
	// GlobalTimestampUs is a free-running microsecond host timestamp added
	// by newer controller firmware, carried in the word the older
	// wifi_pkt_rx_ctrl_t layout left reserved at byte offset 16. Zero on
	// firmware that doesn't populate it, in which case the per-antenna
	// timestamp falls back to the outer serializedCSI.Timestamp field.
	GlobalTimestampUs uint32
	// RxStartTimeCycDec is the raw 11-bit sub-cycle counter packed into
	// bits 20..30 of the word at byte offset 24, counting at
	// RxStartTimeCycDecHz. It is an unsigned 0..2047 reading here; callers
	// fold it into the firmware's signed [-1024, 1023] convention.
	RxStartTimeCycDec uint16
	NoiseFloor        int8
}

// DecodeRxCtrl reads the fixed-layout rx_ctrl metadata out of buf.
// buf must be exactly rxCtrlSize bytes, as sliced out of a serializedCSI
// record by DecodeSerializedCSI.
func DecodeRxCtrl(buf []byte) (RxCtrl, error) {
	if len(buf) != rxCtrlSize {
		return RxCtrl{}, ShortFrameError{Want: rxCtrlSize, Got: len(buf)}
	}

	var c RxCtrl
	c.RSSI = int8(buf[0])
	c.MCS = buf[4] & 0x7f
	c.CWB = buf[4]&0x80 != 0
	c.Channel = buf[10] & 0x0f
	c.SecondaryChannel = (buf[10] >> 4) & 0x0f
	c.RxStartTimeCyc = buf[11] & 0x7f
	c.GlobalTimestampUs = binary.LittleEndian.Uint32(buf[16:20])
	c.RxStartTimeCycDec = uint16((binary.LittleEndian.Uint32(buf[24:28]) >> 20) & 0x7ff)
	c.NoiseFloor = int8(buf[28])
	return c, nil
}

// EncodeRxCtrl writes c's fields into a fresh rxCtrlSize-byte buffer at
// their known offsets, the inverse of DecodeRxCtrl. Fields this runtime
// does not track are left zeroed.
func EncodeRxCtrl(c RxCtrl) []byte {
	buf := make([]byte, rxCtrlSize)
	buf[0] = byte(c.RSSI)
	buf[4] = c.MCS & 0x7f
	if c.CWB {
		buf[4] |= 0x80
	}
	buf[10] = (c.Channel & 0x0f) | (c.SecondaryChannel&0x0f)<<4
	buf[11] = c.RxStartTimeCyc & 0x7f
	binary.LittleEndian.PutUint32(buf[16:20], c.GlobalTimestampUs)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.RxStartTimeCycDec&0x7ff)<<20)
	buf[28] = byte(c.NoiseFloor)
	return buf
}

// FoldedRxStartTimeCycDec returns RxStartTimeCycDec folded from its raw
// 0..2047 encoding into the firmware's signed [-1024, 1023] range.
func (c RxCtrl) FoldedRxStartTimeCycDec() int32 {
	v := int32(c.RxStartTimeCycDec)
	if v >= 1024 {
		v -= 2048
	}
	return v
}

// SecondaryChannelOffset translates the raw four-bit SecondaryChannel field
// into a signed channel-number offset relative to the primary channel:
// 0 (no bonding), +1 (secondary above primary) or -1 (secondary below).
func (c RxCtrl) SecondaryChannelOffset() int {
	switch c.SecondaryChannel {
	case 1:
		return 1
	case 2:
		return -1
	default:
		return 0
	}
}
