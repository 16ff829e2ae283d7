// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pool fans a board array's decoded CSI fragments into
// reassembled clusters and dispatches completed ones to registered
// consumers.
package pool

import (
	"github.com/espargos/sounder/internal/cluster"
)

// clusterCache is an insertion-ordered map of in-flight clusters, the Go
// equivalent of the Python implementation's OrderedDict-backed cache.
// Order matters only for deterministic iteration during stale-eviction
// sweeps; lookups and inserts are O(1) via the index map.
type clusterCache struct {
	order   []cluster.Key
	entries map[cluster.Key]*cluster.Cluster
}

func newClusterCache() *clusterCache {
	return &clusterCache{entries: map[cluster.Key]*cluster.Cluster{}}
}

func (c *clusterCache) get(key cluster.Key) (*cluster.Cluster, bool) {
	cl, ok := c.entries[key]
	return cl, ok
}

func (c *clusterCache) put(key cluster.Key, cl *cluster.Cluster) {
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = cl
}

func (c *clusterCache) delete(key cluster.Key) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *clusterCache) clear() {
	c.order = nil
	c.entries = map[cluster.Key]*cluster.Cluster{}
}

func (c *clusterCache) keys() []cluster.Key {
	return c.order
}

func (c *clusterCache) len() int {
	return len(c.order)
}
