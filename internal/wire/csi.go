// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import "encoding/binary"

// SeqCtrl is the 802.11 sequence-control field: a 4-bit fragment number
// and a 12-bit sequence number, packed little-endian into 2 bytes.
type SeqCtrl struct {
	Frag uint8
	Seg  uint16
}

func decodeSeqCtrl(buf []byte) SeqCtrl {
	raw := binary.LittleEndian.Uint16(buf)
	return SeqCtrl{
		Frag: uint8(raw & 0x0f),
		Seg:  (raw >> 4) & 0x0fff,
	}
}

// SerializedCSI is one CSI record as produced by the ESPARGOS firmware,
// after it has been extracted from its 512-byte stream envelope.
type SerializedCSI struct {
	TypeHeader       uint32
	RxCtrlRaw        [rxCtrlSize]byte
	SourceMAC        [6]byte
	DestMAC          [6]byte
	SeqCtrl          SeqCtrl
	Timestamp        uint32 // microseconds, monotonic per-sensor clock
	IsCalib          bool
	FirstWordInvalid bool
	Buf              [csiBufBytes]byte
}

// RxCtrl decodes this record's radio metadata.
func (s *SerializedCSI) RxCtrl() (RxCtrl, error) {
	return DecodeRxCtrl(s.RxCtrlRaw[:])
}

// DecodeSerializedCSI parses one serializedCSI record from buf. The
// caller is responsible for validating TypeHeader against the expected
// CSI magic number; records with a mismatched header are a normal
// occurrence (the stream buffer also carries other record types) and
// are not treated as an error here.
func DecodeSerializedCSI(buf []byte) (SerializedCSI, error) {
	if len(buf) < SerializedCSISize {
		return SerializedCSI{}, ShortFrameError{Want: SerializedCSISize, Got: len(buf)}
	}

	var s SerializedCSI
	off := 0
	s.TypeHeader = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	copy(s.RxCtrlRaw[:], buf[off:off+rxCtrlSize])
	off += rxCtrlSize
	copy(s.SourceMAC[:], buf[off:off+6])
	off += 6
	copy(s.DestMAC[:], buf[off:off+6])
	off += 6
	s.SeqCtrl = decodeSeqCtrl(buf[off : off+2])
	off += 2
	s.Timestamp = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	s.IsCalib = buf[off] != 0
	off++
	s.FirstWordInvalid = buf[off] != 0
	off++
	copy(s.Buf[:], buf[off:off+csiBufBytes])

	return s, nil
}

// EncodeSerializedCSI serializes s back into its 442-byte wire layout,
// the inverse of DecodeSerializedCSI.
func EncodeSerializedCSI(s SerializedCSI) []byte {
	buf := make([]byte, SerializedCSISize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], s.TypeHeader)
	off += 4
	copy(buf[off:off+rxCtrlSize], s.RxCtrlRaw[:])
	off += rxCtrlSize
	copy(buf[off:off+6], s.SourceMAC[:])
	off += 6
	copy(buf[off:off+6], s.DestMAC[:])
	off += 6
	binary.LittleEndian.PutUint16(buf[off:], uint16(s.SeqCtrl.Frag&0x0f)|(s.SeqCtrl.Seg&0x0fff)<<4)
	off += 2
	binary.LittleEndian.PutUint32(buf[off:], s.Timestamp)
	off += 4
	if s.IsCalib {
		buf[off] = 1
	}
	off++
	if s.FirstWordInvalid {
		buf[off] = 1
	}
	off++
	copy(buf[off:off+csiBufBytes], s.Buf[:])
	return buf
}

// IsCSIRecord reports whether TypeHeader matches the magic value that
// marks a buffer as holding CSI data (as opposed to some other firmware
// message type sharing the same stream envelope).
func (s *SerializedCSI) IsCSIRecord() bool {
	return s.TypeHeader == typeHeaderCSI
}

// DecodeCSIBuf converts the raw (im, re) int8 sample pairs in Buf into
// complex64 channel coefficients, one per subcarrier slot (including the
// guard bands, which the firmware always zeroes).
//
// The ESP32 emits each sample as two int8 bytes, imaginary part first;
// the conversion here reads byte 2k as the imaginary and byte 2k+1 as
// the real part of sample k, with no further sign or rotation convention
// applied. Any such convention only amounts
// to an overall phase/conjugate factor, and since both the calibration
// reference measurements and the over-the-air data pass through this
// same conversion, the choice is self-consistent for every computation
// downstream of it.
func DecodeCSIBuf(raw []byte) ([]complex64, error) {
	if len(raw) != csiBufBytes {
		return nil, ShortFrameError{Want: csiBufBytes, Got: len(raw)}
	}

	out := make([]complex64, CSIBufSamples)
	for i := range out {
		im := int8(raw[2*i])
		re := int8(raw[2*i+1])
		out[i] = complex(float32(re), float32(im))
	}
	return out, nil
}

// CSIBuf decodes this record's channel coefficients.
func (s *SerializedCSI) CSIBuf() ([]complex64, error) {
	return DecodeCSIBuf(s.Buf[:])
}

// StreamPacket is one (esp_num, buf) frame as sent by the controller over
// the CSI WebSocket stream; buf nests a serializedCSI record, zero-padded
// to StreamPacketSize's fixed 512-byte payload.
type StreamPacket struct {
	EspNum uint32
	Buf    [spiBufferSize]byte
}

// DecodeStreamPacket parses one fixed-size controller stream packet.
func DecodeStreamPacket(buf []byte) (StreamPacket, error) {
	if len(buf) != StreamPacketSize {
		return StreamPacket{}, ShortFrameError{Want: StreamPacketSize, Got: len(buf)}
	}

	var p StreamPacket
	p.EspNum = binary.LittleEndian.Uint32(buf)
	copy(p.Buf[:], buf[4:])
	return p, nil
}

// EncodeStreamPacket serializes p back into its 516-byte wire layout,
// the inverse of DecodeStreamPacket.
func EncodeStreamPacket(p StreamPacket) []byte {
	buf := make([]byte, StreamPacketSize)
	binary.LittleEndian.PutUint32(buf, p.EspNum)
	copy(buf[4:], p.Buf[:])
	return buf
}

// SplitStreamMessage splits one WebSocket message into its constituent
// fixed-size stream packets. A message whose length is not a clean
// multiple of StreamPacketSize is malformed.
func SplitStreamMessage(message []byte) ([]StreamPacket, error) {
	if len(message)%StreamPacketSize != 0 {
		return nil, ShortFrameError{Want: StreamPacketSize, Got: len(message) % StreamPacketSize}
	}

	packets := make([]StreamPacket, 0, len(message)/StreamPacketSize)
	for off := 0; off < len(message); off += StreamPacketSize {
		p, err := DecodeStreamPacket(message[off : off+StreamPacketSize])
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}
