// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Config is the general.* block described in §6, decoded the way
// SilvaMendes-go-rtpengine decodes its loosely-typed NG protocol parameters
// with mapstructure instead of a hand-rolled switch over map[string]any.
type Config struct {
	LocalIP string `mapstructure:"local_ip"`
	SDPIP   string `mapstructure:"sdp_ip"`

	RTPPortRange string `mapstructure:"rtp_port_range"`

	Events bool `mapstructure:"events"`

	DSCPAudioRTP int `mapstructure:"dscp_audio_rtp"`
	DSCPVideoRTP int `mapstructure:"dscp_video_rtp"`

	localAddr net.IP
	sdpAddr   net.IP
	portMin   uint16
	portMax   uint16
}

// ParseConfig decodes a loosely-typed settings blob (as read off a config
// file by the caller) into a validated Config, failing init on bad IP or an
// inverted port range per §7's "Configuration" error kind.
func ParseConfig(raw map[string]any) (*Config, error) {
	cfg := &Config{RTPPortRange: "10000-60000"}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("nosip: config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("nosip: decoding config: %w", err)
	}

	if cfg.LocalIP != "" {
		cfg.localAddr = net.ParseIP(cfg.LocalIP)
		if cfg.localAddr == nil {
			return nil, fmt.Errorf("nosip: invalid general.local_ip %q", cfg.LocalIP)
		}
	}

	sdpIP := cfg.SDPIP
	if sdpIP == "" {
		sdpIP = cfg.LocalIP
	}
	if sdpIP != "" {
		cfg.sdpAddr = net.ParseIP(sdpIP)
		if cfg.sdpAddr == nil {
			return nil, fmt.Errorf("nosip: invalid general.sdp_ip %q", sdpIP)
		}
	}

	min, max, err := parsePortRange(cfg.RTPPortRange)
	if err != nil {
		return nil, err
	}
	cfg.portMin, cfg.portMax = min, max

	return cfg, nil
}

func parsePortRange(s string) (min, max uint16, err error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("nosip: invalid general.rtp_port_range %q", s)
	}
	lo, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("nosip: invalid general.rtp_port_range %q: %w", s, err)
	}
	hi, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("nosip: invalid general.rtp_port_range %q: %w", s, err)
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("nosip: invalid general.rtp_port_range %q: max < min", s)
	}
	return uint16(lo), uint16(hi), nil
}

// LocalAddr returns the parsed general.local_ip, or nil when it should be
// autodetected by the caller's socket layer.
func (c *Config) LocalAddr() net.IP { return c.localAddr }

// SDPAddr returns the address advertised in rewritten descriptions.
func (c *Config) SDPAddr() net.IP { return c.sdpAddr }

// PortRange returns the parsed (min, max) RTP port bounds as configured;
// media.NewPortRange is what coerces min to even.
func (c *Config) PortRange() (min, max uint16) { return c.portMin, c.portMax }
