// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"sync"
	"time"

	"github.com/espargos/sounder/internal/boardclient"
	"github.com/espargos/sounder/internal/calibration"
	"github.com/espargos/sounder/internal/cluster"
	"github.com/espargos/sounder/internal/wire"
	"github.com/espargos/sounder/pkg/log"
)

// defaultDrainTimeout bounds how long one Run iteration blocks waiting
// for packets before returning, so a caller driving Run in a loop can
// still observe a stop signal promptly.
const defaultDrainTimeout = 500 * time.Millisecond

// defaultClusterTimeout is how long an incomplete cluster is kept around
// waiting for stragglers before it is evicted unfired, overridable via
// SetClusterTimeout (wired from ArrayConfig.OTACacheTimeout).
const defaultClusterTimeout = 5 * time.Second

// Stats is a snapshot of a Pool's running counters, exposed both to the
// metrics collector and to anything that wants a cheap health check.
type Stats struct {
	PacketsHandled    uint64
	OTAClustersOpen   int
	CalibClustersOpen int
	LastPacketAt      time.Time
}

// Pool fans the CSI stream of every board in an array into reassembled
// clusters, and dispatches completed over-the-air clusters to whichever
// CSICallbacks are registered for them.
//
// Calibration-signal packets are reassembled into a separate cache and
// never reach the registered callbacks; they are consumed internally by
// Calibrate.
type Pool struct {
	boards []*Board

	inputQueue     *boardclient.ConsumerQueue
	clusterTimeout time.Duration

	mu         sync.Mutex
	otaCache   *clusterCache
	calibCache *clusterCache
	callbacks  []*CSICallback

	calMu sync.RWMutex
	cal   *calibration.Calibration

	statsMu sync.Mutex
	stats   Stats
}

// New builds a Pool over boards, which must already be numbered 0..N-1
// consistently with how they were dialed (board.Num). Boards are not
// started; call Start once every consumer that should see packets from
// the very first frame has been registered.
func New(boards []*Board) *Pool {
	q := boardclient.NewConsumerQueue()
	for _, b := range boards {
		b.Stream.AddConsumer(q)
	}
	return &Pool{
		boards:         boards,
		inputQueue:     q,
		clusterTimeout: defaultClusterTimeout,
		otaCache:       newClusterCache(),
		calibCache:     newClusterCache(),
	}
}

// SetClusterTimeout overrides how long an incomplete cluster is kept
// around waiting for stragglers before it is evicted unfired. Must be
// called before Start; it is not safe to change once the dispatch loop
// is running.
func (p *Pool) SetClusterTimeout(d time.Duration) {
	p.clusterTimeout = d
}

// Boards returns the array's boards, in board-number order.
func (p *Pool) Boards() []*Board { return p.boards }

// Shape returns (boardCount, RowsPerBoard, AntennasPerRow), the
// dimensions of every tensor this Pool's clusters produce.
func (p *Pool) Shape() (int, int, int) {
	return len(p.boards), wire.RowsPerBoard, wire.AntennasPerRow
}

// Start connects every board's CSI stream. Returns the first dial error
// encountered, if any; boards already started remain running.
func (p *Pool) Start() error {
	for _, b := range p.boards {
		if err := b.Stream.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop disconnects every board's CSI stream.
func (p *Pool) Stop() {
	for _, b := range p.boards {
		b.Stream.Stop()
	}
}

// AddCSICallback registers fn to run, at most once per cluster, the
// first time predicate is satisfied for that cluster's completion state.
func (p *Pool) AddCSICallback(predicate Predicate, fn func(*cluster.Cluster)) *CSICallback {
	cb := newCSICallback(predicate, fn)
	p.mu.Lock()
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
	return cb
}

// SetCalibration installs the calibration currently applied to this
// Pool's reassembled clusters' HT40/timestamp data by consumers that
// choose to use it; Pool itself hands out raw, uncalibrated clusters and
// leaves applying the correction to the caller (e.g. internal/backlog).
func (p *Pool) SetCalibration(cal *calibration.Calibration) {
	p.calMu.Lock()
	p.cal = cal
	p.calMu.Unlock()
}

// Calibration returns the calibration most recently installed via
// SetCalibration or computed by Calibrate, or nil if none yet.
func (p *Pool) Calibration() *calibration.Calibration {
	p.calMu.RLock()
	defer p.calMu.RUnlock()
	return p.cal
}

// Stats returns a snapshot of the pool's running counters.
func (p *Pool) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Run drains whatever packets are currently queued (waiting up to
// defaultDrainTimeout if none are), reassembles them into clusters, and
// dispatches any cluster that now satisfies a registered callback. It is
// meant to be called in a loop by the owner of this Pool (see
// internal/backlog); each call does a bounded amount of work so the
// caller can interleave other bookkeeping between iterations.
func (p *Pool) Run() {
	p.runOnce(defaultDrainTimeout)
}

func (p *Pool) runOnce(drainTimeout time.Duration) {
	packets := p.inputQueue.Drain(drainTimeout)
	if len(packets) == 0 {
		return
	}
	p.handlePackets(packets)
}

func (p *Pool) handlePackets(packets []boardclient.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pkt := range packets {
		csiCplx, err := pkt.SerializedCSI.CSIBuf()
		if err != nil {
			log.Warnf("pool: dropping packet with malformed CSI buffer: %v", err)
			continue
		}

		cache := p.otaCache
		if pkt.SerializedCSI.IsCalib {
			cache = p.calibCache
		}

		key := cluster.KeyOf(pkt.SerializedCSI.SourceMAC, pkt.SerializedCSI.DestMAC, pkt.SerializedCSI.SeqCtrl)
		cl, ok := cache.get(key)
		if !ok {
			cl = cluster.New(pkt.SerializedCSI.SourceMAC, pkt.SerializedCSI.DestMAC, pkt.SerializedCSI.SeqCtrl, len(p.boards))
			cache.put(key, cl)
		}

		if err := cl.Add(pkt.BoardNum, pkt.EspNum, pkt.SerializedCSI, csiCplx); err != nil {
			log.Warnf("pool: %v", err)
			continue
		}
	}

	p.statsMu.Lock()
	p.stats.PacketsHandled += uint64(len(packets))
	p.stats.LastPacketAt = time.Now()
	p.statsMu.Unlock()

	p.dispatchLocked(p.otaCache)

	p.statsMu.Lock()
	p.stats.OTAClustersOpen = p.otaCache.len()
	p.stats.CalibClustersOpen = p.calibCache.len()
	p.statsMu.Unlock()
}

// dispatchLocked offers every cluster currently in cache to every
// registered callback, then evicts clusters that either every callback
// has already fired for, or that have aged past clusterTimeout without
// anyone claiming them. p.mu must be held.
func (p *Pool) dispatchLocked(cache *clusterCache) {
	for _, key := range append([]cluster.Key(nil), cache.keys()...) {
		cl, ok := cache.get(key)
		if !ok {
			continue
		}

		allFired := len(p.callbacks) > 0
		for _, cb := range p.callbacks {
			if !cb.tryFire(key, cl) {
				allFired = false
			}
		}

		if allFired || cl.GetAge() > p.clusterTimeout {
			cache.delete(key)
			for _, cb := range p.callbacks {
				cb.forget(key)
			}
		}
	}
}

// drainCalibCache removes and returns every cluster currently in the
// calibration cache, clearing it. Used by Calibrate to collect reference
// measurements accumulated over a calibration run.
func (p *Pool) drainCalibCache() []*cluster.Cluster {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*cluster.Cluster, 0, p.calibCache.len())
	for _, key := range p.calibCache.keys() {
		cl, _ := p.calibCache.get(key)
		out = append(out, cl)
	}
	p.calibCache.clear()
	return out
}
