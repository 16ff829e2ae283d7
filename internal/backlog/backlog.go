// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package backlog keeps a fixed-capacity, oldest-first ring buffer of
// recently reassembled CSI clusters, fed by a pool.Pool's callback
// mechanism and drained by whatever external consumer wants recent
// history (e.g. a root-MUSIC estimator or a debugging dashboard).
package backlog

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"sync"

	"github.com/espargos/sounder/internal/cluster"
	"github.com/espargos/sounder/internal/pool"
	"github.com/espargos/sounder/internal/wire"
	"github.com/espargos/sounder/pkg/log"
)

// Options configures a Backlog.
type Options struct {
	// EnableHT40 stores reassembled HT40 spectra in addition to
	// timestamps and RSSI. Disable it to save memory when only the
	// timing/RSSI side channel is needed.
	EnableHT40 bool
	// EnableLLTF stores the narrowband L-LTF subcarriers in addition to
	// timestamps and RSSI. Unlike EnableHT40, this never needs a
	// determined secondary channel, so it's available for every frame.
	EnableLLTF bool
	// Calibrate applies the pool's installed calibration to HT40/L-LTF
	// CSI and sensor timestamps before storing them. The pool must
	// already have a calibration installed (see pool.Pool.Calibrate or
	// SetCalibration); clusters that arrive while none is installed are
	// dropped with a logged warning.
	Calibrate bool
	// Size is the ring buffer's capacity in clusters. Defaults to 100
	// if zero.
	Size int
}

const defaultSize = 100

// Backlog stores the last Size reassembled clusters from a pool.Pool in
// parallel ring buffers (HT40 CSI, L-LTF CSI, per-antenna timestamps,
// RSSI, source MAC), all indexed by a shared head/fillLevel pair.
type Backlog struct {
	p          *pool.Pool
	enableHT40 bool
	enableLLTF bool
	calibrate  bool
	size       int
	boardCount int
	slots      int // boardCount * RowsPerBoard * AntennasPerRow

	mu               sync.Mutex
	storageHT40      []complex64 // size * slots * wire.HT40Samples
	storageLLTF      []complex64 // size * slots * wire.LLTFSamples
	storageTimestamp []float64   // size * slots
	storageRSSI      []float32   // size * slots
	storageMAC       [][6]byte   // size
	head             int
	fillLevel        int
	latest           int // -1 when empty, else index of most recent write

	filterMu sync.Mutex
	macFilter *regexp.Regexp

	cbMu      sync.Mutex
	callbacks []func()

	csiCallback *pool.CSICallback

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Backlog over p and registers it as a CSI consumer. The
// backlog itself does not drive p's packet processing; call Start to
// spawn the goroutine that does, or drive p.Run() yourself and just use
// the backlog as a passive sink.
func New(p *pool.Pool, opts Options) *Backlog {
	size := opts.Size
	if size == 0 {
		size = defaultSize
	}

	boardCount, rows, antennas := p.Shape()
	slots := boardCount * rows * antennas

	b := &Backlog{
		p:                p,
		enableHT40:       opts.EnableHT40,
		enableLLTF:       opts.EnableLLTF,
		calibrate:        opts.Calibrate,
		size:             size,
		boardCount:       boardCount,
		slots:            slots,
		storageHT40:      make([]complex64, size*slots*wire.HT40Samples),
		storageLLTF:      make([]complex64, size*slots*wire.LLTFSamples),
		storageTimestamp: make([]float64, size*slots),
		storageRSSI:      make([]float32, size*slots),
		storageMAC:       make([][6]byte, size),
		latest:           -1,
	}

	b.csiCallback = p.AddCSICallback(pool.CompletionAll, b.onCluster)
	return b
}

// AddUpdateCallback registers fn to be invoked, synchronously and in
// registration order, every time a new cluster is stored.
func (b *Backlog) AddUpdateCallback(fn func()) {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

// SetMACFilter restricts stored clusters to those whose source MAC
// address, formatted as "aa:bb:cc:dd:ee:ff", matches pattern. Pass an
// empty pattern to clear the filter.
func (b *Backlog) SetMACFilter(pattern string) error {
	b.filterMu.Lock()
	defer b.filterMu.Unlock()

	if pattern == "" {
		b.macFilter = nil
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("backlog: invalid MAC filter: %w", err)
	}
	b.macFilter = re
	return nil
}

func macString(mac [6]byte) string {
	return net.HardwareAddr(mac[:]).String()
}

func (b *Backlog) onCluster(cl *cluster.Cluster) {
	b.filterMu.Lock()
	filter := b.macFilter
	b.filterMu.Unlock()

	if filter != nil && !filter.MatchString(macString(cl.SourceMAC)) {
		return
	}

	sensorTimestamps := cl.GetSensorTimestamps()
	storedTimestamps := sensorTimestamps
	if b.calibrate {
		cal := b.p.Calibration()
		if cal == nil {
			log.Warnf("backlog: dropping cluster, calibration requested but none installed")
			return
		}
		storedTimestamps = cal.ApplyTimestamps(sensorTimestamps)
	}

	var ht40 []complex64
	storeHT40 := b.enableHT40 && cl.IsHT40()
	if storeHT40 {
		var err error
		ht40, err = cl.DeserializeHT40()
		if err != nil {
			log.Warnf("backlog: dropping HT40 payload: %v", err)
			storeHT40 = false
		} else if b.calibrate {
			cal := b.p.Calibration()
			if cal == nil {
				log.Warnf("backlog: dropping cluster, calibration requested but none installed")
				return
			}
			ht40 = cal.ApplyHT40(ht40)
		}
	}

	var lltf []complex64
	if b.enableLLTF {
		lltf = cl.DeserializeLLTF()
		if b.calibrate {
			cal := b.p.Calibration()
			if cal == nil {
				log.Warnf("backlog: dropping cluster, calibration requested but none installed")
				return
			}
			lltf = cal.ApplyLLTF(lltf)
		}
	}

	rssi := cl.GetRSSI()

	b.mu.Lock()
	defer b.mu.Unlock()

	tsOff := b.head * b.slots
	copy(b.storageTimestamp[tsOff:tsOff+b.slots], storedTimestamps)
	copy(b.storageRSSI[tsOff:tsOff+b.slots], rssi)
	b.storageMAC[b.head] = cl.SourceMAC

	nanCSI := complex(float32(math.NaN()), float32(math.NaN()))

	htOff := b.head * b.slots * wire.HT40Samples
	htDst := b.storageHT40[htOff : htOff+b.slots*wire.HT40Samples]
	if storeHT40 {
		copy(htDst, ht40)
	} else {
		for i := range htDst {
			htDst[i] = nanCSI
		}
	}

	ltOff := b.head * b.slots * wire.LLTFSamples
	ltDst := b.storageLLTF[ltOff : ltOff+b.slots*wire.LLTFSamples]
	if b.enableLLTF {
		copy(ltDst, lltf)
	} else {
		for i := range ltDst {
			ltDst[i] = nanCSI
		}
	}

	b.latest = b.head
	b.head = (b.head + 1) % b.size
	if b.fillLevel < b.size {
		b.fillLevel++
	}

	b.cbMu.Lock()
	cbs := append([]func(){}, b.callbacks...)
	b.cbMu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// oldestFirstIndices returns the fillLevel occupied slot indices, oldest
// first, equivalent to Python's np.roll(storage, -head)[-filllevel:].
func (b *Backlog) oldestFirstIndices() []int {
	out := make([]int, b.fillLevel)
	start := (b.head - b.fillLevel + b.size) % b.size
	for i := range out {
		out[i] = (start + i) % b.size
	}
	return out
}

// GetHT40 returns reassembled HT40 CSI for every stored cluster, oldest
// first: a slice of length fillLevel*slots*wire.HT40Samples. Slot s of
// cluster i starts at i*slots*wire.HT40Samples + s*wire.HT40Samples.
func (b *Backlog) GetHT40() []complex64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.oldestFirstIndices()
	width := b.slots * wire.HT40Samples
	out := make([]complex64, len(idx)*width)
	for i, src := range idx {
		copy(out[i*width:(i+1)*width], b.storageHT40[src*width:(src+1)*width])
	}
	return out
}

// GetLLTF returns reassembled L-LTF CSI for every stored cluster, oldest
// first: a slice of length fillLevel*slots*wire.LLTFSamples. Slot s of
// cluster i starts at i*slots*wire.LLTFSamples + s*wire.LLTFSamples.
func (b *Backlog) GetLLTF() []complex64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.oldestFirstIndices()
	width := b.slots * wire.LLTFSamples
	out := make([]complex64, len(idx)*width)
	for i, src := range idx {
		copy(out[i*width:(i+1)*width], b.storageLLTF[src*width:(src+1)*width])
	}
	return out
}

// GetMACs returns the source MAC address of every stored cluster, oldest
// first: a slice of length fillLevel.
func (b *Backlog) GetMACs() [][6]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.oldestFirstIndices()
	out := make([][6]byte, len(idx))
	for i, src := range idx {
		out[i] = b.storageMAC[src]
	}
	return out
}

// GetRSSI returns per-antenna RSSI for every stored cluster, oldest
// first: a slice of length fillLevel*slots.
func (b *Backlog) GetRSSI() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.oldestFirstIndices()
	out := make([]float32, len(idx)*b.slots)
	for i, src := range idx {
		copy(out[i*b.slots:(i+1)*b.slots], b.storageRSSI[src*b.slots:(src+1)*b.slots])
	}
	return out
}

// GetTimestamps returns per-antenna sensor timestamps (seconds, possibly
// calibration-adjusted) for every stored cluster, oldest first: a slice
// of length fillLevel*slots.
func (b *Backlog) GetTimestamps() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.oldestFirstIndices()
	out := make([]float64, len(idx)*b.slots)
	for i, src := range idx {
		copy(out[i*b.slots:(i+1)*b.slots], b.storageTimestamp[src*b.slots:(src+1)*b.slots])
	}
	return out
}

// GetLatestTimestamp returns the mean, over all antennas, of the
// timestamp of the most recently stored cluster. The second return
// value is false if the backlog is still empty.
func (b *Backlog) GetLatestTimestamp() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest < 0 {
		return 0, false
	}

	off := b.latest * b.slots
	sum := 0.0
	n := 0
	for _, v := range b.storageTimestamp[off : off+b.slots] {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Nonempty reports whether at least one cluster has been stored.
func (b *Backlog) Nonempty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest >= 0
}

// Start spawns the goroutine that repeatedly drives the underlying
// pool's Run, feeding this backlog. Must be called before the backlog
// will observe any data unless the caller drives p.Run() itself.
func (b *Backlog) Start() {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	go func() {
		defer close(b.doneCh)
		for {
			select {
			case <-b.stopCh:
				return
			default:
				b.p.Run()
			}
		}
	}()
	log.Infof("backlog: started background pool-drain goroutine")
}

// Stop signals the background goroutine started by Start to exit and
// waits for it to finish.
func (b *Backlog) Stop() {
	b.runMu.Lock()
	if !b.running {
		b.runMu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.runMu.Unlock()

	<-b.doneCh
}
