// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool

import "github.com/espargos/sounder/internal/boardclient"

// Board is one sensor board as it participates in a Pool's array: its
// HTTP control handle plus its CSI stream reader, tagged with the
// position (board number) it occupies among its array's boards. The
// board number is what cluster.Cluster.Add uses to place a fragment in
// the right slot of the reassembled tensor.
type Board struct {
	Num    int
	Client *boardclient.Client
	Stream *boardclient.Stream
}

// NewBoard wraps a dialed client into a Board at position num, wiring up
// its stream reader.
func NewBoard(num int, client *boardclient.Client) *Board {
	return &Board{
		Num:    num,
		Client: client,
		Stream: boardclient.NewStream(client, num),
	}
}

// Name is the board's display name (its configured hostname).
func (b *Board) Name() string {
	return b.Client.Name()
}
