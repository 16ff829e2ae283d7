// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildRxCtrl builds a 36-byte rx_ctrl fixture with the given field values
// planted at their known bit offsets, everything else zeroed.
func buildRxCtrl(rssi int8, mcs uint8, cwb bool, channel, secondary uint8, noiseFloor int8) []byte {
	buf := make([]byte, rxCtrlSize)
	buf[0] = byte(rssi)
	buf[4] = mcs & 0x7f
	if cwb {
		buf[4] |= 0x80
	}
	buf[10] = (channel & 0x0f) | (secondary&0x0f)<<4
	buf[28] = byte(noiseFloor)
	return buf
}

func TestDecodeRxCtrl(t *testing.T) {
	buf := buildRxCtrl(-42, 7, true, 6, 1, -90)
	c, err := DecodeRxCtrl(buf)
	require.NoError(t, err)
	require.Equal(t, int8(-42), c.RSSI)
	require.Equal(t, uint8(7), c.MCS)
	require.True(t, c.CWB)
	require.Equal(t, uint8(6), c.Channel)
	require.Equal(t, uint8(1), c.SecondaryChannel)
	require.Equal(t, 1, c.SecondaryChannelOffset())
	require.Equal(t, int8(-90), c.NoiseFloor)
}

func TestEncodeDecodeRxCtrlRoundTrip(t *testing.T) {
	c := RxCtrl{
		RSSI: -61, MCS: 5, CWB: true, Channel: 11, SecondaryChannel: 2,
		RxStartTimeCyc: 12, GlobalTimestampUs: 123456789, RxStartTimeCycDec: 1500,
		NoiseFloor: -93,
	}
	out, err := DecodeRxCtrl(EncodeRxCtrl(c))
	require.NoError(t, err)
	require.Equal(t, c, out)
}

func TestFoldedRxStartTimeCycDec(t *testing.T) {
	require.Equal(t, int32(0), RxCtrl{RxStartTimeCycDec: 0}.FoldedRxStartTimeCycDec())
	require.Equal(t, int32(1023), RxCtrl{RxStartTimeCycDec: 1023}.FoldedRxStartTimeCycDec())
	require.Equal(t, int32(-1024), RxCtrl{RxStartTimeCycDec: 1024}.FoldedRxStartTimeCycDec())
	require.Equal(t, int32(-1), RxCtrl{RxStartTimeCycDec: 2047}.FoldedRxStartTimeCycDec())
}

func TestDecodeRxCtrlShort(t *testing.T) {
	_, err := DecodeRxCtrl(make([]byte, 10))
	require.Error(t, err)
	var shortErr ShortFrameError
	require.ErrorAs(t, err, &shortErr)
}

func TestSecondaryChannelOffset(t *testing.T) {
	require.Equal(t, 0, RxCtrl{SecondaryChannel: 0}.SecondaryChannelOffset())
	require.Equal(t, 1, RxCtrl{SecondaryChannel: 1}.SecondaryChannelOffset())
	require.Equal(t, -1, RxCtrl{SecondaryChannel: 2}.SecondaryChannelOffset())
}

// buildSerializedCSI assembles a complete serializedCSI byte record so the
// round-trip test exercises every field offset at once.
func buildSerializedCSI(t *testing.T) []byte {
	t.Helper()

	buf := make([]byte, SerializedCSISize)
	binary.LittleEndian.PutUint32(buf[0:], typeHeaderCSI)
	copy(buf[4:4+rxCtrlSize], buildRxCtrl(-50, 0, true, 6, 1, -92))

	off := 4 + rxCtrlSize
	copy(buf[off:off+6], []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01})
	off += 6
	copy(buf[off:off+6], []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	off += 6

	// seq_ctrl: frag=3, seg=0x123
	seq := uint16(3) | (0x123 << 4)
	binary.LittleEndian.PutUint16(buf[off:], seq)
	off += 2

	binary.LittleEndian.PutUint32(buf[off:], 123456789)
	off += 4

	buf[off] = 1 // is_calib
	off++
	buf[off] = 0 // first_word_invalid
	off++

	for i := 0; i < csiBufBytes; i++ {
		buf[off+i] = byte(i % 7)
	}

	return buf
}

func TestDecodeSerializedCSIRoundTrip(t *testing.T) {
	raw := buildSerializedCSI(t)
	s, err := DecodeSerializedCSI(raw)
	require.NoError(t, err)

	require.True(t, s.IsCSIRecord())
	require.Equal(t, SeqCtrl{Frag: 3, Seg: 0x123}, s.SeqCtrl)
	require.Equal(t, uint32(123456789), s.Timestamp)
	require.True(t, s.IsCalib)
	require.False(t, s.FirstWordInvalid)

	rx, err := s.RxCtrl()
	require.NoError(t, err)
	require.Equal(t, int8(-50), rx.RSSI)
	require.True(t, rx.CWB)

	samples, err := s.CSIBuf()
	require.NoError(t, err)
	require.Len(t, samples, CSIBufSamples)
	// byte pair (0,1) -> im=0, re=1
	require.Equal(t, complex64(complex(1, 0)), samples[0])
}

func TestDecodeSerializedCSIShort(t *testing.T) {
	_, err := DecodeSerializedCSI(make([]byte, 10))
	require.Error(t, err)
}

func TestSplitStreamMessage(t *testing.T) {
	record := buildSerializedCSI(t)
	packetBuf := make([]byte, StreamPacketSize)
	binary.LittleEndian.PutUint32(packetBuf, 5)
	copy(packetBuf[4:], record)

	message := append(append([]byte{}, packetBuf...), packetBuf...)
	packets, err := SplitStreamMessage(message)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	require.Equal(t, uint32(5), packets[0].EspNum)

	s, err := DecodeSerializedCSI(packets[0].Buf[:])
	require.NoError(t, err)
	require.True(t, s.IsCSIRecord())
}

func TestSplitStreamMessageMisaligned(t *testing.T) {
	_, err := SplitStreamMessage(make([]byte, StreamPacketSize+1))
	require.Error(t, err)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	raw := buildSerializedCSI(t)
	s, err := DecodeSerializedCSI(raw)
	require.NoError(t, err)

	require.Equal(t, raw, EncodeSerializedCSI(s))
}

// TestCSISampleByteOrder pins the decode formula directly:
// decode(buf)[k] = buf[2k+1] + j*buf[2k].
func TestCSISampleByteOrder(t *testing.T) {
	raw := make([]byte, csiBufBytes)
	for i := range raw {
		raw[i] = byte((i*37 + 5) % 251)
	}

	samples, err := DecodeCSIBuf(raw)
	require.NoError(t, err)

	for k := 0; k < CSIBufSamples; k++ {
		want := complex(float32(int8(raw[2*k+1])), float32(int8(raw[2*k])))
		require.Equal(t, complex64(want), samples[k], "sample %d", k)
	}
}

func TestBadMagicError(t *testing.T) {
	err := BadMagicError{Want: typeHeaderCSI, Got: 0x1}
	require.Contains(t, err.Error(), "bad magic")
}
