// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the JSON configuration of one
// ESPARGOS sensor array: its boards, their cable geometry, and the
// daemon's calibration/backlog/cache defaults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/espargos/sounder/pkg/log"
)

// BoardConfig describes one sensor board's network address and its
// position and cable geometry within the array.
type BoardConfig struct {
	Host                string  `json:"host"`
	Row                 int     `json:"row"`
	Col                 int     `json:"col"`
	CableLength         float64 `json:"cable_length"`
	CableVelocityFactor float64 `json:"cable_velocity_factor"`
}

// ArrayConfig is the daemon's configuration for one Pool: the boards
// that make it up plus calibration/backlog/cache defaults.
type ArrayConfig struct {
	Name   string        `json:"name"`
	Boards []BoardConfig `json:"boards"`

	// CalibrationDuration is how long Pool.Calibrate captures the
	// reference signal for before deriving a Calibration from it.
	CalibrationDuration Duration `json:"calibration_duration"`
	// CalibratePerBoard selects pool.CalibrateOptions.PerBoard.
	CalibratePerBoard bool `json:"calibrate_per_board"`

	// BacklogSize is the ring buffer capacity passed to backlog.Options.
	BacklogSize int `json:"backlog_size"`
	// BacklogEnableHT40 selects backlog.Options.EnableHT40.
	BacklogEnableHT40 bool `json:"backlog_enable_ht40"`
	// BacklogEnableLLTF selects backlog.Options.EnableLLTF.
	BacklogEnableLLTF bool `json:"backlog_enable_lltf"`

	// OTACacheTimeout bounds how long an incomplete over-the-air cluster
	// is kept in the Pool's cache waiting for stragglers before it is
	// evicted unfired (pool.Pool.SetClusterTimeout); zero keeps the
	// Pool's own 5s default. Unrelated to music.Config.CacheTTL, which
	// bounds how long a computed ToA estimate may be served from cache.
	OTACacheTimeout Duration `json:"ota_cache_timeout"`
}

// Duration is a time.Duration that unmarshals from JSON as a Go
// duration string (e.g. "30s"), the same convention the teacher's own
// configuration types use instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Get returns d as a time.Duration.
func (d Duration) Get() time.Duration { return time.Duration(d) }

// ConfigSchema is the inline JSON Schema validated against before
// decoding, in the teacher's pkg/nats config-loading idiom.
const ConfigSchema = `{
    "type": "object",
    "description": "Configuration for one ESPARGOS sensor array.",
    "properties": {
        "name": {
            "description": "Human-readable name for this array.",
            "type": "string"
        },
        "boards": {
            "description": "The sensor boards making up this array.",
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "host": { "type": "string" },
                    "row": { "type": "integer" },
                    "col": { "type": "integer" },
                    "cable_length": { "type": "number" },
                    "cable_velocity_factor": { "type": "number" }
                },
                "required": ["host"]
            },
            "minItems": 1
        },
        "calibration_duration": { "type": "string" },
        "calibrate_per_board": { "type": "boolean" },
        "backlog_size": { "type": "integer", "minimum": 1 },
        "backlog_enable_ht40": { "type": "boolean" },
        "backlog_enable_lltf": { "type": "boolean" },
        "ota_cache_timeout": { "type": "string" }
    },
    "required": ["name", "boards"]
}`

var schema = func() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", bytes.NewReader([]byte(ConfigSchema))); err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	return compiler.MustCompile("config.schema.json")
}()

// Load validates raw against ConfigSchema, then decodes it into an
// ArrayConfig. Unknown fields are rejected, mirroring the teacher's
// strict decoding of its own JSON configuration blocks.
func Load(raw json.RawMessage) (*ArrayConfig, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		log.Errorf("config.Load() - failed to decode: %v", err)
		return nil, err
	}

	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("config: schema validation failed: %w", err)
	}

	var cfg ArrayConfig
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode failed: %w", err)
	}

	if len(cfg.Boards) == 0 {
		return nil, fmt.Errorf("config: array %q has no boards", cfg.Name)
	}

	return &cfg, nil
}
