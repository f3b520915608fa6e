// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabridge/nosip/media"
)

func TestRelayWorkerForwardsIngressRTP(t *testing.T) {
	host := newFakeHost()
	reg := NewRegistry(host)
	s := reg.Create("relay-1")

	rng, err := media.NewPortRange(23000, 23100)
	require.NoError(t, err)
	alloc := media.NewPortAllocator(rng, net.ParseIP("127.0.0.1"))
	pair, err := alloc.AllocatePair(false)
	require.NoError(t, err)

	s.mu.Lock()
	s.Audio.RTPConn = pair.RTPConn
	s.Audio.RTCPConn = pair.RTCPConn
	s.Audio.LocalRTPPort = pair.RTPPort
	s.Audio.SendAllowed = true
	s.Audio.ReceiveAllowed = true
	s.Audio.RemoteIP = "" // no remote yet: don't connect, just listen
	s.mu.Unlock()

	worker := NewRelayWorker(s, reg)
	go worker.Run()
	t.Cleanup(func() {
		s.MarkDestroyed()
		s.Wake()
	})

	peerConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: pair.RTPPort})
	require.NoError(t, err)
	defer peerConn.Close()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: 100,
			Timestamp:      8000,
			SSRC:           0xfeedface,
			PayloadType:    0,
		},
		Payload: []byte("hello"),
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = peerConn.Write(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return host.rtpCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	s.mu.Lock()
	assert.True(t, s.Audio.PeerSSRCSet)
	assert.Equal(t, uint32(0xfeedface), s.Audio.PeerSSRC)
	s.mu.Unlock()
}

func TestRelayWorkerParsesAudioLevelExtension(t *testing.T) {
	host := newFakeHost()
	reg := NewRegistry(host)
	s := reg.Create("relay-3")

	rng, err := media.NewPortRange(23200, 23300)
	require.NoError(t, err)
	alloc := media.NewPortAllocator(rng, net.ParseIP("127.0.0.1"))
	pair, err := alloc.AllocatePair(false)
	require.NoError(t, err)

	s.mu.Lock()
	s.Audio.RTPConn = pair.RTPConn
	s.Audio.RTCPConn = pair.RTCPConn
	s.Audio.LocalRTPPort = pair.RTPPort
	s.Audio.SendAllowed = true
	s.Audio.ReceiveAllowed = true
	s.Audio.HasAudioLevelExt = true
	s.Audio.AudioLevelExtID = 1
	s.mu.Unlock()

	worker := NewRelayWorker(s, reg)
	go worker.Run()
	t.Cleanup(func() {
		s.MarkDestroyed()
		s.Wake()
	})

	peerConn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: pair.RTPPort})
	require.NoError(t, err)
	defer peerConn.Close()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:          2,
			Extension:        true,
			ExtensionProfile: 0xBEDE,
			SequenceNumber:   1,
			Timestamp:        8000,
			SSRC:             0xaaaaaaaa,
			PayloadType:      0,
		},
		Payload: []byte("hi"),
	}
	require.NoError(t, pkt.SetExtension(1, []byte{0x2a})) // voice=0, level=0x2a

	buf, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = peerConn.Write(buf)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return host.rtpCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	host.mu.Lock()
	ext := host.relayedExts[0]
	host.mu.Unlock()
	assert.True(t, ext.HasAudioLevel)
	assert.Equal(t, uint8(0x2a), ext.AudioLevel.Level)
}

func TestRelayWorkerExitsOnHangup(t *testing.T) {
	host := newFakeHost()
	reg := NewRegistry(host)
	s := reg.Create("relay-2")

	done := make(chan struct{})
	worker := NewRelayWorker(s, reg)
	go func() {
		worker.Run()
		close(done)
	}()

	s.MarkHangingUp()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay worker did not exit after hangup")
	}
	assert.True(t, s.IsDestroyed())
}
