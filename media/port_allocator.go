// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"fmt"
	"net"
	"sync/atomic"
)

// PortRange is a process-wide even-aligned UDP port range that
// PortAllocator hands pairs out of. Min is normalized to an even number and
// Max must be >= Min on construction.
type PortRange struct {
	Min uint16
	Max uint16
}

// NewPortRange coerces min to even and validates max >= min, the way
// general.rtp_port_range is parsed from its "min-max" config form.
func NewPortRange(min, max uint16) (PortRange, error) {
	if min%2 != 0 {
		min++
	}
	if max < min {
		return PortRange{}, fmt.Errorf("media: invalid port range %d-%d", min, max)
	}
	return PortRange{Min: min, Max: max}, nil
}

// ErrNoPortsAvailable is returned once the allocator cursor has made a full
// lap of the configured range without finding a bindable even/odd pair.
var ErrNoPortsAvailable = fmt.Errorf("media: no ports available in range")

// PortAllocator hands out (rtp,rtcp) socket pairs bound to consecutive ports
// p, p+1 with p even, advancing a shared monotonic cursor across every
// session in the process. It is the Go-side analogue of
// media.RTPPortStart/RTPPortEnd/rtpPortOffset in the teacher, generalized
// into an injectable type instead of package globals so tests (and multiple
// independent bridges in one process) don't share state.
type PortAllocator struct {
	rng    PortRange
	cursor atomic.Uint32

	// BindAddr is the base address new sockets are bound to; only its IP and
	// Zone are used, Port is overwritten per attempt. Family (4 vs 6) is
	// taken from this address.
	BindAddr net.IP

	// DSCPAudio / DSCPVideo are raw DSCP codepoints (general.dscp_audio_rtp /
	// general.dscp_video_rtp, 0-63); setIPTOS shifts each left by 2 to build
	// the IP_TOS/TCLASS byte per §4.1. Zero disables the sockopt.
	DSCPAudio int
	DSCPVideo int
}

// NewPortAllocator seeds the cursor at rng.Min.
func NewPortAllocator(rng PortRange, bindAddr net.IP) *PortAllocator {
	a := &PortAllocator{rng: rng, BindAddr: bindAddr}
	a.cursor.Store(uint32(rng.Min))
	return a
}

// AllocatedPair is the result of a successful AllocatePair call.
type AllocatedPair struct {
	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn
	RTPPort  int
	RTCPPort int
}

// Close releases both sockets of the pair.
func (p *AllocatedPair) Close() error {
	var e1, e2 error
	if p.RTPConn != nil {
		e1 = p.RTPConn.Close()
	}
	if p.RTCPConn != nil {
		e2 = p.RTCPConn.Close()
	}
	if e1 != nil {
		return e1
	}
	return e2
}

// AllocatePair advances the shared cursor atomically, trying each even port
// in turn until it finds one where both p and p+1 bind successfully, or
// wraps once past its own starting point and fails with
// ErrNoPortsAvailable. isVideo selects which DSCP value (if any) is applied
// via IP_TOS, per §4.1.
func (a *PortAllocator) AllocatePair(isVideo bool) (*AllocatedPair, error) {
	span := uint32(a.rng.Max) - uint32(a.rng.Min)
	if span < 1 {
		return nil, ErrNoPortsAvailable
	}
	// Number of even slots in [Min,Max]
	slots := span/2 + 1

	start := a.nextCursor()
	tried := uint32(0)
	for tried < slots {
		port := start + 2*tried
		// wrap back into range
		for port > uint32(a.rng.Max) {
			port -= (slots * 2)
		}
		tried++

		pair, err := a.tryBind(uint16(port), isVideo)
		if err == nil {
			return pair, nil
		}
	}
	return nil, ErrNoPortsAvailable
}

// nextCursor returns the port to try first, normalized into [Min,Max], then
// advances the shared cursor by 2 for the next caller. The first call
// returns rng.Min, matching the Generate/Manipulate operation's requirement
// that the first allocation out of a fresh range land on Min.
func (a *PortAllocator) nextCursor() uint32 {
	cur := a.cursor.Load()
	span := uint32(a.rng.Max) - uint32(a.rng.Min) + 1
	// Normalize into [Min,Max]
	offset := (cur - uint32(a.rng.Min)) % span
	if offset%2 != 0 {
		offset++
		if offset >= span {
			offset = 0
		}
	}
	a.cursor.Add(2)
	return uint32(a.rng.Min) + offset
}

func (a *PortAllocator) tryBind(rtpPort uint16, isVideo bool) (*AllocatedPair, error) {
	rtpConn, err := a.listen(rtpPort)
	if err != nil {
		return nil, err
	}

	rtcpConn, err := a.listen(rtpPort + 1)
	if err != nil {
		// A partially bound pair is closed and retried, never reused across
		// port numbers.
		rtpConn.Close()
		return nil, err
	}

	dscp := a.DSCPAudio
	if isVideo {
		dscp = a.DSCPVideo
	}
	if dscp > 0 {
		setIPTOS(rtpConn, dscp)
		setIPTOS(rtcpConn, dscp)
	}

	return &AllocatedPair{
		RTPConn:  rtpConn,
		RTCPConn: rtcpConn,
		RTPPort:  int(rtpPort),
		RTCPPort: int(rtpPort) + 1,
	}, nil
}

func (a *PortAllocator) listen(port uint16) (*net.UDPConn, error) {
	network := "udp4"
	if a.BindAddr != nil && a.BindAddr.To4() == nil {
		network = "udp6"
	}
	return net.ListenUDP(network, &net.UDPAddr{IP: a.BindAddr, Port: int(port)})
}
