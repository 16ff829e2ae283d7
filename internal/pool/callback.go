// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import (
	"sync"
	"time"

	"github.com/espargos/sounder/internal/cluster"
)

// Predicate decides whether a cluster is ready to be handed to a
// callback, given its per-antenna completion mask and its age since the
// first fragment arrived. Common predicates are "every antenna has
// reported" or "at least N antennas have reported, or M milliseconds
// have passed".
type Predicate func(completion []bool, age time.Duration) bool

// CompletionAll is a Predicate that requires every antenna slot to have
// reported CSI.
func CompletionAll(completion []bool, _ time.Duration) bool {
	for _, ok := range completion {
		if !ok {
			return false
		}
	}
	return true
}

// CompletionAtLeast returns a Predicate that fires once at least n
// antenna slots have reported, or once maxAge has elapsed, whichever
// comes first.
func CompletionAtLeast(n int, maxAge time.Duration) Predicate {
	return func(completion []bool, age time.Duration) bool {
		if age >= maxAge {
			return true
		}
		count := 0
		for _, ok := range completion {
			if ok {
				count++
			}
		}
		return count >= n
	}
}

// CSICallback is a registered consumer of reassembled over-the-air
// clusters. It fires at most once per cluster (Testable Property 3):
// once its Predicate is satisfied for a given cluster, Fn runs and the
// callback is marked fired so a later, fuller state of the same cluster
// never re-triggers it.
type CSICallback struct {
	mu        sync.Mutex
	predicate Predicate
	fn        func(*cluster.Cluster)
	fired     map[cluster.Key]bool
}

func newCSICallback(predicate Predicate, fn func(*cluster.Cluster)) *CSICallback {
	return &CSICallback{
		predicate: predicate,
		fn:        fn,
		fired:     map[cluster.Key]bool{},
	}
}

// tryFire evaluates the callback against cl, identified by key, and runs
// it if the predicate is now satisfied and it has not already fired for
// this key. Reports whether the callback has fired for key (either now
// or previously).
func (cb *CSICallback) tryFire(key cluster.Key, cl *cluster.Cluster) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.fired[key] {
		return true
	}
	if !cb.predicate(cl.GetCompletion(), cl.GetAge()) {
		return false
	}
	cb.fired[key] = true
	cb.fn(cl)
	return true
}

func (cb *CSICallback) forget(key cluster.Key) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.fired, key)
}
