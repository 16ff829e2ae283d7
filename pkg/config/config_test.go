// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validConfig = `{
	"name": "living-room",
	"boards": [
		{"host": "192.168.1.10", "row": 0, "col": 0, "cable_length": 1.2, "cable_velocity_factor": 0.66},
		{"host": "192.168.1.11", "row": 0, "col": 1, "cable_length": 1.5, "cable_velocity_factor": 0.66}
	],
	"calibration_duration": "5s",
	"calibrate_per_board": false,
	"backlog_size": 100,
	"backlog_enable_ht40": true,
	"backlog_enable_lltf": true,
	"ota_cache_timeout": "2s"
}`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(json.RawMessage(validConfig))
	require.NoError(t, err)
	require.Equal(t, "living-room", cfg.Name)
	require.Len(t, cfg.Boards, 2)
	require.Equal(t, "192.168.1.10", cfg.Boards[0].Host)
	require.Equal(t, 0.66, cfg.Boards[0].CableVelocityFactor)
	require.Equal(t, 5*1e9, float64(cfg.CalibrationDuration.Get()))
	require.Equal(t, 100, cfg.BacklogSize)
	require.True(t, cfg.BacklogEnableHT40)
	require.True(t, cfg.BacklogEnableLLTF)
	require.Equal(t, 2*time.Second, cfg.OTACacheTimeout.Get())
}

func TestLoadRejectsMissingBoards(t *testing.T) {
	_, err := Load(json.RawMessage(`{"name": "empty", "boards": []}`))
	require.Error(t, err)
}

func TestLoadRejectsMissingHost(t *testing.T) {
	_, err := Load(json.RawMessage(`{"name": "bad", "boards": [{"row": 0, "col": 0}]}`))
	require.Error(t, err)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(json.RawMessage(`{"name": "bad", "boards": [{"host": "h"}], "bogus_field": true}`))
	require.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	_, err := Load(json.RawMessage(`{"name": "bad", "boards": [{"host": "h"}], "calibration_duration": "nope"}`))
	require.Error(t, err)
}
