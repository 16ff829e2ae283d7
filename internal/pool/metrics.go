// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a Pool's running counters as Prometheus metrics. It
// implements prometheus.Collector directly rather than using plain
// prometheus.*Vec instruments, since every value it reports (packets
// handled, open OTA and calibration clusters, board count, calibration
// state) is read from the Pool's own state at scrape time rather than accumulated independently.
type Collector struct {
	pool *Pool

	packetsHandled    *prometheus.Desc
	otaClustersOpen   *prometheus.Desc
	calibClustersOpen *prometheus.Desc
	boardCount        *prometheus.Desc
	calibrated        *prometheus.Desc
}

// NewCollector builds a Collector reading from pool. Register it with a
// prometheus.Registry to expose these series.
func NewCollector(pool *Pool) *Collector {
	return &Collector{
		pool: pool,
		packetsHandled: prometheus.NewDesc(
			"espargos_pool_packets_handled_total",
			"Total CSI packets reassembled by this pool since start.",
			nil, nil),
		otaClustersOpen: prometheus.NewDesc(
			"espargos_pool_ota_clusters_open",
			"Over-the-air clusters currently awaiting completion or callback dispatch.",
			nil, nil),
		calibClustersOpen: prometheus.NewDesc(
			"espargos_pool_calib_clusters_open",
			"Calibration-signal clusters currently buffered.",
			nil, nil),
		boardCount: prometheus.NewDesc(
			"espargos_pool_board_count",
			"Number of boards wired into this pool's array.",
			nil, nil),
		calibrated: prometheus.NewDesc(
			"espargos_pool_calibrated",
			"Whether a calibration has been derived and installed (1) or not (0).",
			nil, nil),
	}
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.packetsHandled
	descs <- c.otaClustersOpen
	descs <- c.calibClustersOpen
	descs <- c.boardCount
	descs <- c.calibrated
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	stats := c.pool.Stats()

	metrics <- prometheus.MustNewConstMetric(c.packetsHandled, prometheus.CounterValue, float64(stats.PacketsHandled))
	metrics <- prometheus.MustNewConstMetric(c.otaClustersOpen, prometheus.GaugeValue, float64(stats.OTAClustersOpen))
	metrics <- prometheus.MustNewConstMetric(c.calibClustersOpen, prometheus.GaugeValue, float64(stats.CalibClustersOpen))
	metrics <- prometheus.MustNewConstMetric(c.boardCount, prometheus.GaugeValue, float64(len(c.pool.Boards())))

	calibrated := 0.0
	if c.pool.Calibration() != nil {
		calibrated = 1.0
	}
	metrics <- prometheus.MustNewConstMetric(c.calibrated, prometheus.GaugeValue, calibrated)
}
