// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package backlog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/espargos/sounder/internal/boardclient"
	"github.com/espargos/sounder/internal/pool"
	"github.com/espargos/sounder/internal/wire"
)

// fakeBoard serves the HTTP control-plane handshake and a CSI WebSocket
// endpoint that replays whatever frames are pushed onto its send channel,
// so a Pool built against it exercises the real dial/stream/decode path
// with no actual ESPARGOS hardware.
type fakeBoard struct {
	srv  *httptest.Server
	send chan []byte
}

func newFakeBoard(t *testing.T, name string) *fakeBoard {
	t.Helper()

	fb := &fakeBoard{send: make(chan []byte, 64)}
	upgrader := websocket.Upgrader{}

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
	mux.HandleFunc("/csi", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for msg := range fb.send {
			if conn.WriteMessage(websocket.BinaryMessage, msg) != nil {
				return
			}
		}
	})

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		close(fb.send)
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBoard) dial(t *testing.T, num int) *pool.Board {
	t.Helper()
	client, err := boardclient.Dial(fb.srv.Listener.Addr().String())
	require.NoError(t, err)
	return pool.NewBoard(num, client)
}

// pushCluster sends one complete cluster (every antenna slot of every
// board) as a single WebSocket message per board, all sharing sourceMAC
// so they reassemble into one cluster.
func pushCluster(t *testing.T, boards []*fakeBoard, sourceMAC [6]byte) {
	t.Helper()

	rxRaw := wire.EncodeRxCtrl(wire.RxCtrl{CWB: true, Channel: 6, SecondaryChannel: 1})
	var buf [382]byte
	for i := range buf {
		buf[i] = byte(i % 5)
	}

	for _, fb := range boards {
		var message []byte
		for esp := uint32(0); esp < uint32(wire.AntennasPerBoard); esp++ {
			var rxCopy [36]byte
			copy(rxCopy[:], rxRaw)

			sc := wire.SerializedCSI{
				TypeHeader: wire.CSIMagic,
				RxCtrlRaw:  rxCopy,
				SourceMAC:  sourceMAC,
				DestMAC:    [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
				SeqCtrl:    wire.SeqCtrl{Frag: 0, Seg: 1},
				Timestamp:  1_000_000,
				Buf:        buf,
			}

			var spiBuf [512]byte
			copy(spiBuf[:], wire.EncodeSerializedCSI(sc))
			message = append(message, wire.EncodeStreamPacket(wire.StreamPacket{EspNum: esp, Buf: spiBuf})...)
		}
		fb.send <- message
	}
}

func newTestPool(t *testing.T, boardCount int) (*pool.Pool, []*fakeBoard) {
	t.Helper()
	fakes := make([]*fakeBoard, boardCount)
	boards := make([]*pool.Board, boardCount)
	for i := 0; i < boardCount; i++ {
		fakes[i] = newFakeBoard(t, fmt.Sprintf("board-%d", i))
		boards[i] = fakes[i].dial(t, i)
	}
	p := pool.New(boards)
	require.NoError(t, p.Start())
	t.Cleanup(p.Stop)
	return p, fakes
}

// runUntil polls p.Run until cond is satisfied or the deadline elapses,
// since frames arrive over a real WebSocket connection asynchronously.
func runUntil(t *testing.T, p *pool.Pool, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.Run()
		if cond() {
			return
		}
	}
	t.Fatal("condition never became true")
}

// TestBacklogRingOverwritesOldest verifies Testable Property 7 and
// scenario S4: once the ring is full, storing a new cluster overwrites
// the oldest slot, and reads stay oldest-first with a bounded length.
func TestBacklogRingOverwritesOldest(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	b := New(p, Options{EnableHT40: false, Calibrate: false, Size: 3})

	boardCount, rows, antennas := p.Shape()
	slots := boardCount * rows * antennas

	macs := [][6]byte{{1, 0, 0, 0, 0, 1}, {1, 0, 0, 0, 0, 2}, {1, 0, 0, 0, 0, 3}, {1, 0, 0, 0, 0, 4}}
	for i, mac := range macs {
		want := i + 1
		if want > 3 {
			want = 3
		}
		pushCluster(t, fakes, mac)
		runUntil(t, p, func() bool {
			got := b.GetMACs()
			return len(b.GetTimestamps()) == want*slots && len(got) > 0 && got[len(got)-1] == mac
		})
	}

	require.True(t, b.Nonempty())
	require.Len(t, b.GetTimestamps(), 3*slots)
	require.Equal(t, macs[1:], b.GetMACs())

	latest, ok := b.GetLatestTimestamp()
	require.True(t, ok)
	require.InDelta(t, 1_000_000.0/1e6-wire.HardwareTimestampLagNs*1e-9, latest, 1e-9)
}

// TestBacklogMACFilter verifies scenario S5: a backlog with a MAC filter
// installed only stores clusters whose source MAC matches.
func TestBacklogMACFilter(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	b := New(p, Options{EnableHT40: false, Calibrate: false, Size: 10})
	require.NoError(t, b.SetMACFilter(`^aa:bb:cc`))

	nonMatching := [6]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	pushCluster(t, fakes, nonMatching)
	for i := 0; i < 5; i++ {
		p.Run()
	}
	require.False(t, b.Nonempty(), "non-matching source MAC must not be stored")

	matching := [6]byte{0xaa, 0xbb, 0xcc, 0x44, 0x55, 0x66}
	pushCluster(t, fakes, matching)
	runUntil(t, p, b.Nonempty)
}

// TestBacklogLLTFAndMACs verifies that EnableLLTF populates GetLLTF with
// one wire.LLTFSamples-wide slot per antenna, and that GetMACs reports
// the source MAC of every stored cluster, oldest first.
func TestBacklogLLTFAndMACs(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	b := New(p, Options{EnableLLTF: true, Calibrate: false, Size: 10})

	boardCount, rows, antennas := p.Shape()
	slots := boardCount * rows * antennas

	mac1 := [6]byte{1, 0, 0, 0, 0, 1}
	pushCluster(t, fakes, mac1)
	runUntil(t, p, func() bool { return len(b.GetMACs()) == 1 })

	require.Len(t, b.GetLLTF(), slots*wire.LLTFSamples)
	require.Equal(t, [][6]byte{mac1}, b.GetMACs())

	mac2 := [6]byte{1, 0, 0, 0, 0, 2}
	pushCluster(t, fakes, mac2)
	runUntil(t, p, func() bool { return len(b.GetMACs()) == 2 })

	require.Len(t, b.GetLLTF(), 2*slots*wire.LLTFSamples)
	require.Equal(t, [][6]byte{mac1, mac2}, b.GetMACs())
}

// TestBacklogUpdateCallback verifies that registered update callbacks
// fire exactly once per stored cluster.
func TestBacklogUpdateCallback(t *testing.T) {
	p, fakes := newTestPool(t, 1)
	b := New(p, Options{Size: 10})

	var calls int
	b.AddUpdateCallback(func() { calls++ })

	pushCluster(t, fakes, [6]byte{9, 9, 9, 9, 9, 9})
	runUntil(t, p, b.Nonempty)

	require.Equal(t, 1, calls)
}
