// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/espargos/sounder/internal/calibration"
	"github.com/espargos/sounder/internal/cluster"
	"github.com/espargos/sounder/internal/numeric"
	"github.com/espargos/sounder/internal/wire"
	"github.com/espargos/sounder/pkg/log"
)

// CalibrationFailedError is returned by Calibrate when a board reported
// no complete calibration-signal clusters during the calibration window
// (e.g. it isn't wired to the reference transmitter, or the run was too
// short for any frame to complete across every antenna).
type CalibrationFailedError struct {
	Board string
}

func (e CalibrationFailedError) Error() string {
	return fmt.Sprintf("pool: calibration failed, board %q received no complete reference signal", e.Board)
}

// CalibrateOptions configures one Calibrate run.
type CalibrateOptions struct {
	// PerBoard computes an independent phase calibration per board; the
	// zero value selects whole-array calibration. This is the only mode
	// that tolerates boards not sharing a
	// common feeder-cable phase reference; it ignores CableLengths and
	// CableVelocityFactors, since removing a per-board cable phase term
	// twice (once here, once implicitly via the per-board reference
	// capture) would double-count it.
	PerBoard bool
	Duration time.Duration

	// CableLengths/CableVelocityFactors, one entry per board, are only
	// honored when PerBoard is false: in that mode, a single whole-array
	// calibration is derived and these remove each board's differing
	// feeder-cable phase contribution. They do not correct for
	// differing cable *propagation delay* between boards.
	CableLengths         []float64
	CableVelocityFactors []float64
}

const averageIterations = 10

// Calibrate runs a calibration capture for opts.Duration (during which
// every board is asked to transmit its phase-reference signal), then
// derives and installs a Calibration from whatever complete reference
// clusters were collected. Returns CalibrationFailedError if any board
// (in PerBoard mode) or the whole array (otherwise) produced zero
// complete clusters.
func (p *Pool) Calibrate(opts CalibrateOptions) (*calibration.Calibration, error) {
	runID := uuid.New()
	log.Infof("pool[%s]: starting calibration (per_board=%v, duration=%s)", runID, opts.PerBoard, opts.Duration)

	p.mu.Lock()
	p.calibCache.clear()
	p.mu.Unlock()

	for _, b := range p.boards {
		if err := b.Client.SetCalib(true); err != nil {
			return nil, fmt.Errorf("pool[%s]: enabling calibration signal: %w", runID, err)
		}
	}

	// Every pass drains and reassembles whatever is queued, waiting at
	// most until either defaultDrainTimeout or the calibration deadline,
	// whichever is sooner; this guarantees at least one pass runs (so
	// packets already queued before Calibrate was called are not
	// dropped) while still respecting opts.Duration tightly rather than
	// always paying the full drain timeout on the last iteration.
	deadline := time.Now().Add(opts.Duration)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if remaining > defaultDrainTimeout {
			remaining = defaultDrainTimeout
		}
		p.runOnce(remaining)
		if !time.Now().Before(deadline) {
			break
		}
	}

	for _, b := range p.boards {
		if err := b.Client.SetCalib(false); err != nil {
			log.Warnf("pool[%s]: disabling calibration signal on %s: %v", runID, b.Name(), err)
		}
	}

	clusters := p.drainCalibCache()
	boardCount := len(p.boards)
	slotsPerBoard := wire.RowsPerBoard * wire.AntennasPerRow

	var cal *calibration.Calibration
	var err error
	if opts.PerBoard {
		cal, err = p.calibratePerBoard(runID, clusters, boardCount, slotsPerBoard)
	} else {
		cal, err = p.calibrateWholeArray(runID, clusters, boardCount, slotsPerBoard, opts.CableLengths, opts.CableVelocityFactors)
	}
	if err != nil {
		return nil, err
	}

	p.SetCalibration(cal)
	log.Infof("pool[%s]: calibration complete", runID)
	return cal, nil
}

func channelsOf(clusters []*cluster.Cluster) (int, int) {
	for _, cl := range clusters {
		if cl.FirstCompleteSensor() != nil {
			return cl.GetPrimaryChannel(), cl.GetSecondaryChannel()
		}
	}
	return 0, 0
}

func (p *Pool) calibratePerBoard(runID uuid.UUID, clusters []*cluster.Cluster, boardCount, slotsPerBoard int) (*calibration.Calibration, error) {
	channelPrimary, channelSecondary := channelsOf(clusters)

	allPhase := make([]complex64, 0, boardCount*slotsPerBoard*wire.HT40Samples)
	allTimestamps := make([]float64, 0, boardCount*slotsPerBoard)

	for b, board := range p.boards {
		var completeClusters [][]complex64
		var timestampOffsets [][]float64

		for _, cl := range clusters {
			completion := cl.GetCompletion()
			boardComplete := true
			for s := 0; s < slotsPerBoard; s++ {
				if !completion[b*slotsPerBoard+s] {
					boardComplete = false
					break
				}
			}
			if !boardComplete {
				continue
			}

			ht40, err := cl.DeserializeHT40()
			if err != nil {
				continue
			}
			row := append([]complex64(nil), ht40[b*slotsPerBoard*wire.HT40Samples:(b+1)*slotsPerBoard*wire.HT40Samples]...)
			completeClusters = append(completeClusters, row)

			sensorTs := cl.GetSensorTimestamps()
			hostTs := float64(cl.GetHostTimestamp().UnixNano()) / 1e9
			offsets := make([]float64, slotsPerBoard)
			for s := 0; s < slotsPerBoard; s++ {
				offsets[s] = sensorTs[b*slotsPerBoard+s] - hostTs
			}
			timestampOffsets = append(timestampOffsets, offsets)
		}

		log.Infof("pool[%s]: board %s: %d complete calibration clusters", runID, board.Name(), len(completeClusters))
		if len(completeClusters) == 0 {
			return nil, CalibrationFailedError{Board: board.Name()}
		}

		allPhase = append(allPhase, numeric.AverageIterative(completeClusters, nil, averageIterations)...)
		allTimestamps = append(allTimestamps, meanPerSlot(timestampOffsets, slotsPerBoard)...)
	}

	return calibration.Derive(channelPrimary, channelSecondary, boardCount, allPhase, allTimestamps, nil, nil), nil
}

func (p *Pool) calibrateWholeArray(runID uuid.UUID, clusters []*cluster.Cluster, boardCount, slotsPerBoard int, cableLengths, cableVelocityFactors []float64) (*calibration.Calibration, error) {
	channelPrimary, channelSecondary := channelsOf(clusters)
	totalSlots := boardCount * slotsPerBoard

	var completeClusters [][]complex64
	var timestampOffsets [][]float64

	for _, cl := range clusters {
		if !cl.GetCompletionAll() {
			continue
		}

		ht40, err := cl.DeserializeHT40()
		if err != nil {
			continue
		}
		completeClusters = append(completeClusters, ht40)

		sensorTs := cl.GetSensorTimestamps()
		hostTs := float64(cl.GetHostTimestamp().UnixNano()) / 1e9
		offsets := make([]float64, totalSlots)
		for s := 0; s < totalSlots; s++ {
			offsets[s] = sensorTs[s] - hostTs
		}
		timestampOffsets = append(timestampOffsets, offsets)
	}

	log.Infof("pool[%s]: whole-array calibration: %d/%d complete clusters", runID, len(completeClusters), len(clusters))
	if len(completeClusters) == 0 {
		return nil, CalibrationFailedError{Board: "all"}
	}

	phase := numeric.AverageIterative(completeClusters, nil, averageIterations)
	timestamps := meanPerSlot(timestampOffsets, totalSlots)

	return calibration.Derive(channelPrimary, channelSecondary, boardCount, phase, timestamps, cableLengths, cableVelocityFactors), nil
}

func meanPerSlot(rows [][]float64, n int) []float64 {
	out := make([]float64, n)
	if len(rows) == 0 {
		return out
	}
	for _, row := range rows {
		for i, v := range row {
			out[i] += v
		}
	}
	for i := range out {
		out[i] /= float64(len(rows))
	}
	return out
}
