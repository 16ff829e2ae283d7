// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package boardclient talks to one ESPARGOS sensor board: the small HTTP
// control plane for identification and configuration, and the WebSocket
// CSI stream.
package boardclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/espargos/sounder/pkg/log"
)

// ErrUnexpectedResponse is returned when a board's HTTP control endpoint
// does not answer the way an ESPARGOS controller is expected to.
var ErrUnexpectedResponse = errors.New("boardclient: unexpected response from board")

// NetConf is the subset of a board's `get_netconf` response this runtime uses.
type NetConf struct {
	Hostname string `json:"hostname"`
}

// IPInfo is the subset of a board's `get_ip_info` response this runtime uses.
type IPInfo struct {
	IP string `json:"ip"`
}

// Client is a handle to one ESPARGOS board's HTTP control plane.
type Client struct {
	Host string

	// SessionID tags every log line for this board with an opaque,
	// short-lived correlation id; it carries no protocol meaning.
	SessionID xid.ID

	httpClient *http.Client

	NetConf  NetConf
	IPInfo   IPInfo
	WifiConf json.RawMessage
}

// Dial performs the identification handshake against a board's HTTP
// control plane: `identify`, `get_netconf`, `get_ip_info`, `get_wificonf`.
func Dial(host string) (*Client, error) {
	c := &Client{
		Host:       host,
		SessionID:  xid.New(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	ident, err := c.fetch("identify", nil)
	if err != nil {
		return nil, fmt.Errorf("boardclient: identify %s: %w", host, err)
	}
	if ident != "ESPARGOS" {
		return nil, fmt.Errorf("%w: identify returned %q", ErrUnexpectedResponse, ident)
	}

	netconfRaw, err := c.fetch("get_netconf", nil)
	if err != nil {
		return nil, fmt.Errorf("boardclient: get_netconf %s: %w", host, err)
	}
	if err := json.Unmarshal([]byte(netconfRaw), &c.NetConf); err != nil {
		return nil, fmt.Errorf("boardclient: decode netconf: %w", err)
	}

	ipInfoRaw, err := c.fetch("get_ip_info", nil)
	if err != nil {
		return nil, fmt.Errorf("boardclient: get_ip_info %s: %w", host, err)
	}
	if err := json.Unmarshal([]byte(ipInfoRaw), &c.IPInfo); err != nil {
		return nil, fmt.Errorf("boardclient: decode ip_info: %w", err)
	}

	wifiConfRaw, err := c.fetch("get_wificonf", nil)
	if err != nil {
		return nil, fmt.Errorf("boardclient: get_wificonf %s: %w", host, err)
	}
	c.WifiConf = json.RawMessage(wifiConfRaw)

	log.Infof("boardclient[%s]: identified ESPARGOS at %s as %s", c.SessionID, c.IPInfo.IP, c.Name())
	return c, nil
}

// Name is the board's configured hostname, used as its display/log name.
func (c *Client) Name() string {
	return c.NetConf.Hostname
}

// SetCalib toggles calibration-signal transmission on the board.
func (c *Client) SetCalib(enable bool) error {
	payload := "0"
	if enable {
		payload = "1"
	}

	res, err := c.fetch("set_calib", []byte(payload))
	if err != nil {
		return fmt.Errorf("boardclient: set_calib %s: %w", c.Host, err)
	}
	if res != "ok" {
		return fmt.Errorf("%w: set_calib returned %q", ErrUnexpectedResponse, res)
	}
	return nil
}

func (c *Client) fetch(path string, data []byte) (string, error) {
	method := http.MethodGet
	var body io.Reader
	if data != nil {
		method = http.MethodPost
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, "http://"+c.Host+"/"+path, body)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("boardclient: %s%s: HTTP %d", c.Host, path, resp.StatusCode)
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
