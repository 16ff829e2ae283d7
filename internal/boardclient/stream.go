// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package boardclient

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/espargos/sounder/internal/wire"
	"github.com/espargos/sounder/pkg/log"
)

const (
	recvTimeout   = 200 * time.Millisecond
	silenceLimit  = 5 * time.Second
	closeDeadline = 500 * time.Millisecond
)

// Stream owns the WebSocket connection carrying one board's CSI frames
// and fans decoded packets out to every registered consumer queue.
type Stream struct {
	client *Client
	boardNum int

	mu        sync.Mutex
	consumers []*ConsumerQueue
	connected bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewStream creates a stream reader for client, tagged with boardNum (the
// position this board occupies within its Pool's array).
func NewStream(client *Client, boardNum int) *Stream {
	return &Stream{
		client:   client,
		boardNum: boardNum,
		done:     make(chan struct{}),
	}
}

// AddConsumer registers a queue to receive every decoded packet from this
// board's stream. Must be called before Start.
func (s *Stream) AddConsumer(q *ConsumerQueue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumers = append(s.consumers, q)
}

// Start dials the board's CSI WebSocket endpoint and begins the read loop
// in a background goroutine.
func (s *Stream) Start() error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.client.Host+"/csi", nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(conn)

	log.Infof("boardclient[%s]: started CSI stream for %s", s.client.SessionID, s.client.Name())
	return nil
}

// Connected reports whether this stream's read loop currently holds a
// live WebSocket connection to its board.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Stop signals the read loop to exit and waits for it to finish.
func (s *Stream) Stop() {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if !wasConnected {
		return
	}

	close(s.done)
	s.wg.Wait()
	log.Infof("boardclient[%s]: stopped CSI stream for %s", s.client.SessionID, s.client.Name())
}

func (s *Stream) run(conn *websocket.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	var silence time.Duration
	for {
		select {
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeDeadline))
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(recvTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				silence += recvTimeout
				if silence > silenceLimit {
					log.Warnf("boardclient[%s]: websocket silent for %s, disconnecting", s.client.SessionID, silence)
					return
				}
				continue
			}
			log.Warnf("boardclient[%s]: websocket read error: %v", s.client.SessionID, err)
			return
		}

		silence = 0
		s.handleMessage(message)
	}
}

func (s *Stream) handleMessage(message []byte) {
	packets, err := wire.SplitStreamMessage(message)
	if err != nil {
		log.Warnf("boardclient[%s]: malformed stream message: %v", s.client.SessionID, err)
		return
	}

	s.mu.Lock()
	consumers := append([]*ConsumerQueue(nil), s.consumers...)
	s.mu.Unlock()

	for _, p := range packets {
		sc, err := wire.DecodeSerializedCSI(p.Buf[:])
		if err != nil {
			continue
		}
		if !sc.IsCSIRecord() {
			continue
		}

		pkt := Packet{EspNum: p.EspNum, SerializedCSI: sc, BoardNum: s.boardNum}
		for _, c := range consumers {
			c.Push(pkt)
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
