// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire decodes the binary frames produced by an ESPARGOS
// sensor board controller and streamed over its WebSocket endpoint.
package wire

const (
	// AntennasPerRow is the number of antennas behind one SPI controller on a board.
	AntennasPerRow = 4
	// RowsPerBoard is the number of SPI controllers (rows) on one board.
	RowsPerBoard = 2
	// AntennasPerBoard is the total antenna count on a single board.
	AntennasPerBoard = AntennasPerRow * RowsPerBoard

	// SpeedOfLight in a vacuum, m/s.
	SpeedOfLight = 299792458

	// AntennaSeparation is the center-to-center distance between antennas, in meters.
	AntennaSeparation = 0.06

	// HT40GapSubcarriers is the DC-gap width, in subcarriers, between the
	// bonded primary and secondary 20MHz channels in HT40 mode. The
	// reassembled spectrum reserves twice this many interpolated slots
	// for the gap (HT40GapStart up to HT40GapEnd).
	HT40GapSubcarriers = 3

	// WifiChannel1Frequency is the center frequency of 2.4GHz WiFi channel 1, Hz.
	WifiChannel1Frequency = 2.412e9
	// WifiChannelSpacing is the spacing between adjacent channel numbers, Hz.
	WifiChannelSpacing = 5e6
	// WifiSubcarrierSpacing is the spacing between OFDM subcarriers, Hz.
	WifiSubcarrierSpacing = 312.5e3

	// spiBufferSize is the fixed payload size of one controller stream packet.
	spiBufferSize = 512
	// typeHeaderCSI identifies a serializedCSI record inside the stream buffer.
	typeHeaderCSI = 0x5a1f19b1

	// CSIMagic is typeHeaderCSI exported for callers that need to build a
	// well-formed stream packet themselves (e.g. a board simulator feeding
	// a test WebSocket endpoint).
	CSIMagic = typeHeaderCSI

	// rxCtrlSize is the true packed size of the radio rx_ctrl metadata,
	// one byte short of its naive field sum due to a firmware alignment quirk.
	rxCtrlSize = 36

	// RxStartTimeCycHz is the clock rate of rx_ctrl's rxstart_time_cyc
	// counter: 80MHz.
	RxStartTimeCycHz = 80e6
	// RxStartTimeCycDecHz is the clock rate of rx_ctrl's finer
	// rxstart_time_cyc_dec sub-cycle counter: 640MHz.
	RxStartTimeCycDecHz = 640e6
	// HardwareTimestampLagNs is the fixed radio-to-timestamp-latch
	// processing delay subtracted from every derived per-antenna timestamp.
	HardwareTimestampLagNs = 20800

	// lltfGuardBelowSamples, lltfSamples etc. are subcarrier counts (complex
	// samples, i.e. half the byte count) within the raw CSI buffer.
	lltfGuardBelowSamples = 6
	lltfSamples           = 53
	lltfGuardAboveSamples = 7
	htltfHigherSamples    = 57
	htltfGuardSamples     = 11
	htltfLowerSamples     = 57

	// CSIBufSamples is the total number of complex samples in one CSI buffer.
	CSIBufSamples = lltfGuardBelowSamples + lltfSamples + lltfGuardAboveSamples +
		htltfHigherSamples + htltfGuardSamples + htltfLowerSamples

	// LLTFSamples is the subcarrier count of the narrowband L-LTF portion
	// of a CSI buffer, as returned by cluster.Cluster.DeserializeLLTF.
	LLTFSamples = lltfSamples
	// csiBufBytes is CSIBufSamples as (im,re) int8 pairs.
	csiBufBytes = CSIBufSamples * 2

	// HT40Samples is the subcarrier count of a reassembled HT40 spectrum,
	// including the interpolated gap between the two 20MHz halves.
	HT40Samples = htltfLowerSamples + HT40GapSubcarriers*2 + htltfHigherSamples

	// HT40GapStart/HT40GapEnd bound the subcarrier slots, within a
	// reassembled HT40Samples-wide spectrum, that sit in the gap between
	// the two bonded 20MHz halves and need interpolation rather than
	// having been reported directly by a sensor.
	HT40GapStart = htltfLowerSamples
	HT40GapEnd   = htltfLowerSamples + HT40GapSubcarriers*2

	// SerializedCSISize is the byte size of one serializedCSI record.
	SerializedCSISize = 4 /* type header */ + rxCtrlSize + 6 + 6 /* macs */ + 2 /* seq_ctrl */ + 4 /* timestamp */ + 1 + 1 /* bools */ + csiBufBytes

	// StreamPacketSize is the byte size of one controller stream packet (esp_num + buf).
	StreamPacketSize = 4 + spiBufferSize
)
