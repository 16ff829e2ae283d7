// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/espargos/sounder/internal/boardclient"
	"github.com/espargos/sounder/internal/cluster"
	"github.com/espargos/sounder/internal/wire"
)

// newTestBoard stands up a fake board HTTP control plane and dials it,
// so Calibrate's SetCalib round-trips exercise the real boardclient code
// without any actual ESPARGOS hardware.
func newTestBoard(t *testing.T, num int, name string) *Board {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/identify", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "ESPARGOS") })
	mux.HandleFunc("/get_netconf", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"hostname": name})
	})
	mux.HandleFunc("/get_ip_info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"ip": "127.0.0.1"})
	})
	mux.HandleFunc("/get_wificonf", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "{}") })
	mux.HandleFunc("/set_calib", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "ok") })

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	host := srv.Listener.Addr().String()
	client, err := boardclient.Dial(host)
	require.NoError(t, err)

	return NewBoard(num, client)
}

// buildCSIPacket constructs a decoded CSI packet for one antenna slot,
// identified by board number and esp_num, belonging to an HT40 frame on
// the given primary/secondary channel with an identical source/dest MAC
// and sequence so every slot lands in the same cluster.
func buildCSIPacket(t *testing.T, boardNum int, espNum uint32, primary, secondary uint8, isCalib bool) boardclient.Packet {
	t.Helper()

	rx := wire.RxCtrl{CWB: true, Channel: primary, SecondaryChannel: secondary}
	var rxRaw [36]byte
	copy(rxRaw[:], wire.EncodeRxCtrl(rx))

	var buf [382]byte
	for i := range buf {
		buf[i] = byte(i % 5)
	}

	sc := wire.SerializedCSI{
		TypeHeader:       0, // irrelevant once already decoded into a Packet
		RxCtrlRaw:        rxRaw,
		SourceMAC:        [6]byte{1, 2, 3, 4, 5, 6},
		DestMAC:          [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		SeqCtrl:          wire.SeqCtrl{Frag: 0, Seg: 1},
		Timestamp:        1_000_000,
		IsCalib:          isCalib,
		FirstWordInvalid: false,
		Buf:              buf,
	}

	return boardclient.Packet{EspNum: espNum, SerializedCSI: sc, BoardNum: boardNum}
}

// pushFullCluster pushes a complete set of antenna packets for every
// slot of every board in 0..boardCount-1, so the resulting cluster is
// immediately complete.
func pushFullCluster(t *testing.T, p *Pool, boardCount int, isCalib bool) {
	t.Helper()
	for b := 0; b < boardCount; b++ {
		for esp := uint32(0); esp < uint32(wire.AntennasPerBoard); esp++ {
			p.inputQueue.Push(buildCSIPacket(t, b, esp, 6, 1, isCalib))
		}
	}
}

func newTestPool(t *testing.T, boardCount int) *Pool {
	boards := make([]*Board, boardCount)
	for i := range boards {
		boards[i] = newTestBoard(t, i, fmt.Sprintf("board-%d", i))
	}
	return New(boards)
}

// TestCallbackFiresAtMostOnce verifies property 3: a callback fires once
// for a cluster whose packets all arrive before dispatch. Once that fully
// claimed cluster is evicted, re-sending the same packets forms a new
// cluster instance, for which the callback fires once more.
func TestCallbackFiresAtMostOnce(t *testing.T) {
	p := newTestPool(t, 1)

	var fireCount int
	p.AddCSICallback(CompletionAll, func(cl *cluster.Cluster) { fireCount++ })

	pushFullCluster(t, p, 1, false)
	p.Run()
	require.Equal(t, 1, fireCount)

	// A duplicate full report for the exact same slots (same cluster
	// identity) arrives after dispatch already evicted the cluster as
	// fully claimed, so it starts a new cluster instance.
	pushFullCluster(t, p, 1, false)
	p.Run()
	require.Equal(t, 2, fireCount, "a new cluster instance is created once the old one is evicted, so it fires again")
}

// TestCallbackPredicatePartialCompletion verifies scenario S2: a
// predicate-based callback fires as soon as its own condition is met,
// even if the cluster is not yet fully complete.
func TestCallbackPredicatePartialCompletion(t *testing.T) {
	p := newTestPool(t, 2)

	var gotCompletion []bool
	p.AddCSICallback(CompletionAtLeast(wire.AntennasPerBoard, time.Hour), func(cl *cluster.Cluster) {
		gotCompletion = cl.GetCompletion()
	})

	// Only board 0 reports; board 1 never does. CompletionAtLeast(8, ...)
	// should still fire once board 0's 8 antennas are in.
	for esp := uint32(0); esp < uint32(wire.AntennasPerBoard); esp++ {
		p.inputQueue.Push(buildCSIPacket(t, 0, esp, 6, 1, false))
	}
	p.Run()

	require.NotNil(t, gotCompletion)
	complete := 0
	for _, ok := range gotCompletion {
		if ok {
			complete++
		}
	}
	require.Equal(t, wire.AntennasPerBoard, complete)
}

// TestCalibratePerBoardFailsWithoutReferenceSignal verifies scenario S1:
// if a board never reports a complete calibration cluster, Calibrate
// fails for that board rather than silently producing a bad calibration.
func TestCalibratePerBoardFailsWithoutReferenceSignal(t *testing.T) {
	p := newTestPool(t, 2)

	// Only board 0 gets a complete calibration cluster; board 1 gets nothing.
	for esp := uint32(0); esp < uint32(wire.AntennasPerBoard); esp++ {
		p.inputQueue.Push(buildCSIPacket(t, 0, esp, 6, 1, true))
	}

	_, err := p.Calibrate(CalibrateOptions{PerBoard: true, Duration: time.Millisecond})
	require.Error(t, err)

	var failed CalibrationFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, "board-1", failed.Board)
}

// TestCalibratePerBoardSucceeds verifies the successful path of scenario
// S1: once every board has a complete reference capture, Calibrate
// derives and installs a usable Calibration.
func TestCalibratePerBoardSucceeds(t *testing.T) {
	p := newTestPool(t, 2)
	pushFullCluster(t, p, 2, true)

	cal, err := p.Calibrate(CalibrateOptions{PerBoard: true, Duration: time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, cal)
	require.Same(t, cal, p.Calibration())

	out := cal.ApplyHT40(make([]complex64, 2*wire.RowsPerBoard*wire.AntennasPerRow*wire.HT40Samples))
	require.Len(t, out, 2*wire.RowsPerBoard*wire.AntennasPerRow*wire.HT40Samples)
}
