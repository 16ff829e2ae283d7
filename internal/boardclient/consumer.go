// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package boardclient

import (
	"sync"
	"time"

	"github.com/espargos/sounder/internal/wire"
)

// Packet is one decoded CSI record handed from a board's stream reader to
// a registered consumer, tagged with the board number the Pool assigned
// to this board within its array.
type Packet struct {
	EspNum        uint32
	SerializedCSI wire.SerializedCSI
	BoardNum      int
}

// ConsumerQueue is a mutex+condvar guarded packet queue, the same
// producer/consumer handoff idiom used to drain the board readers into
// a pool's single processing loop. A board's stream reader appends to it
// under Lock and signals Cond; the consumer (the Pool) waits on Cond and
// drains the queue.
type ConsumerQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []Packet
}

// NewConsumerQueue returns an empty, ready-to-use queue.
func NewConsumerQueue() *ConsumerQueue {
	q := &ConsumerQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends one packet and wakes any goroutine blocked in Drain.
func (q *ConsumerQueue) Push(p Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.cond.Signal()
}

// Drain waits up to timeout for at least one queued packet (returning
// immediately if one is already queued), then returns and clears
// everything currently queued. A nil/empty return means the wait timed
// out with nothing to show for it.
func (q *ConsumerQueue) Drain(timeout time.Duration) []Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		waitWithTimeout(q.cond, &q.mu, timeout)
	}

	if len(q.items) == 0 {
		return nil
	}

	out := q.items
	q.items = nil
	return out
}

// waitWithTimeout wakes cond.Wait either when it is Signal'd/Broadcast
// normally, or after d elapses, whichever comes first. mu must already
// be held by the caller, exactly as sync.Cond.Wait requires.
func waitWithTimeout(cond *sync.Cond, mu *sync.Mutex, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		mu.Lock()
		cond.Broadcast()
		mu.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}
