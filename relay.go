// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mediabridge/nosip/media"
)

const relayReadBufSize = 1500

// icmpBrokenThreshold is the "after 100 consecutive errors" rule from §4.5
// item 5.
const icmpBrokenThreshold = 100

type relayPacket struct {
	isVideo bool
	isRTCP  bool
	data    []byte
}

// RelayWorker is the one cooperative task per session from §2 item 5 and
// §4.5. Instead of a single-threaded epoll-style multiplex over up to four
// sockets, the idiomatic Go shape is one reader goroutine per socket
// feeding a shared channel, selected alongside the session's wakeup channel
// in one loop — functionally the same multiplexing, expressed the way Go
// programs actually multiplex blocking I/O sources.
type RelayWorker struct {
	session  *Session
	registry *Registry
	log      zerolog.Logger
}

// NewRelayWorker builds a worker bound to s and reg. Callers start it with
// `go worker.Run()`.
func NewRelayWorker(s *Session, reg *Registry) *RelayWorker {
	return &RelayWorker{
		session:  s,
		registry: reg,
		log:      log.With().Str("component", "relay").Str("session", s.Handle).Logger(),
	}
}

// Run is the worker's main loop. It returns once the session is marked
// hanging up or destroyed, after performing media cleanup under the
// session mutex per §4.4.
func (w *RelayWorker) Run() {
	s := w.session
	pktCh := make(chan relayPacket, 256)
	var wg sync.WaitGroup

	s.mu.Lock()
	conns := []*net.UDPConn{s.Audio.RTPConn, s.Audio.RTCPConn, s.Video.RTPConn, s.Video.RTCPConn}
	s.mu.Unlock()

	w.startReader(&wg, pktCh, conns[0], false, false)
	w.startReader(&wg, pktCh, conns[1], false, true)
	w.startReader(&wg, pktCh, conns[2], true, false)
	w.startReader(&wg, pktCh, conns[3], true, true)

	w.reresolve()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-s.WakeupChan():
			if s.ConsumeUpdated() {
				w.reresolve()
			}
		case p := <-pktCh:
			w.handlePacket(p)
		case <-ticker.C:
		}

		if s.IsDestroyed() || s.IsHangingUp() {
			break loop
		}
	}

	s.mu.Lock()
	s.cleanupMediaLocked()
	s.mu.Unlock()

	wg.Wait()

	if s.MarkDestroyed() {
		s.Release()
	}
	w.log.Debug().Msg("relay worker exited")
}

func (w *RelayWorker) startReader(wg *sync.WaitGroup, ch chan<- relayPacket, conn *net.UDPConn, isVideo, isRTCP bool) {
	if conn == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, relayReadBufSize)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				w.handleReadError(err, isVideo, isRTCP)
				s := w.session
				if !isRTCP && errors.Is(err, syscall.ECONNREFUSED) && !s.IsHangingUp() && !s.IsDestroyed() {
					continue
				}
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case ch <- relayPacket{isVideo: isVideo, isRTCP: isRTCP, data: data}:
			default:
				// backpressure: drop rather than stall the socket reader
			}
		}
	}()
}

// handleReadError implements the POLLERR/POLLHUP handling in §4.5 item 5:
// an ICMP port-unreachable on the RTCP socket closes only that socket; on
// the RTP socket, after icmpBrokenThreshold consecutive occurrences the
// session is declared broken and the host is asked to close the peer
// connection.
func (w *RelayWorker) handleReadError(err error, isVideo, isRTCP bool) {
	s := w.session
	if s.IsDestroyed() || s.IsHangingUp() {
		return // expected: our own cleanup closed the socket
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		return
	}

	m := s.mediaFor(isVideo)

	if isRTCP {
		s.mu.Lock()
		if m.RTCPConn != nil {
			m.RTCPConn.Close()
			m.RTCPConn = nil
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	m.icmpErrorCount++
	broken := m.icmpErrorCount >= icmpBrokenThreshold
	s.mu.Unlock()

	if broken {
		w.log.Warn().Bool("video", isVideo).Msg("too many consecutive ICMP errors, closing peer connection")
		if host := w.registry.Host(); host != nil {
			host.ClosePeerConnection(s.Handle)
		}
		s.MarkHangingUp()
	}
}

// reresolve implements §4.5 item 1: for each media with a usable remote
// address, resolve and connect its RTP and RTCP sockets. Resolution
// failure for one media does not abort the other.
func (w *RelayWorker) reresolve() {
	s := w.session
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range []*MediaState{&s.Audio, &s.Video} {
		if m.RemoteIP == "" || m.RemoteIP == "0.0.0.0" || m.RTPConn == nil {
			continue
		}
		ip, err := net.ResolveIPAddr("ip", m.RemoteIP)
		if err != nil {
			w.log.Warn().Err(err).Str("remote_ip", m.RemoteIP).Msg("failed to resolve remote address")
			continue
		}

		rtpAddr := &net.UDPAddr{IP: ip.IP, Port: m.RemoteRTPPort}
		if err := media.ConnectUDP(m.RTPConn, rtpAddr); err != nil {
			w.log.Warn().Err(err).Msg("failed to connect RTP socket")
		}
		if m.RTCPConn != nil {
			rtcpAddr := &net.UDPAddr{IP: ip.IP, Port: m.RemoteRTCPPort}
			if err := media.ConnectUDP(m.RTCPConn, rtcpAddr); err != nil {
				w.log.Warn().Err(err).Msg("failed to connect RTCP socket")
			}
		}
	}
}

func (w *RelayWorker) handlePacket(p relayPacket) {
	if p.isRTCP {
		w.handleRTCP(p)
		return
	}
	w.handleRTP(p)
}

func (w *RelayWorker) handleRTP(p relayPacket) {
	if !media.LooksLikeRTP(p.data) {
		return
	}

	s := w.session
	m := s.mediaFor(p.isVideo)

	var pkt rtp.Packet
	if err := media.RTPUnmarshal(p.data, &pkt); err != nil {
		return
	}

	s.mu.Lock()
	m.icmpErrorCount = 0
	if !m.PeerSSRCSet {
		m.PeerSSRC = pkt.SSRC
		m.PeerSSRCSet = true
	}
	peerSSRC := m.PeerSSRC
	srtpRemote := m.SRTP.Remote
	sw := m.Switching
	audioLevelID, wantAudioLevel := m.AudioLevelExtID, m.HasAudioLevelExt
	voID, wantVO := m.VideoOrientationExtID, m.HasVideoOrientationExt
	s.mu.Unlock()

	if srtpRemote != nil {
		decrypted, err := srtpRemote.RTPCtx.DecryptRTP(nil, p.data, &pkt.Header)
		if err != nil {
			// replay/auth errors: drop the packet, not the session (§8)
			return
		}
		if err := media.RTPUnmarshal(decrypted, &pkt); err != nil {
			return
		}
	}

	var ext media.Extensions
	if wantAudioLevel {
		ext.AudioLevel, ext.HasAudioLevel = media.ParseAudioLevelExtension(&pkt.Header, audioLevelID)
	}
	if wantVO {
		ext.VideoOrientation, ext.HasVideoOrientation = media.ParseVideoOrientationExtension(&pkt.Header, voID)
	}

	outSeq, outTS := sw.Rewrite(pkt.SSRC, pkt.SequenceNumber, pkt.Timestamp)
	pkt.SequenceNumber = outSeq
	pkt.Timestamp = outTS
	pkt.SSRC = peerSSRC

	if rec := s.Recorders.peerRecorder(p.isVideo); rec != nil {
		rec.WriteRTP(&pkt)
	}

	if host := w.registry.Host(); host != nil {
		host.RelayRTP(s.Handle, p.isVideo, &pkt, ext)
	}
}

func (w *RelayWorker) handleRTCP(p relayPacket) {
	if !media.LooksLikeRTCP(p.data) {
		return
	}

	s := w.session
	m := s.mediaFor(p.isVideo)

	s.mu.Lock()
	srtpRemote := m.SRTP.Remote
	s.mu.Unlock()

	data := p.data
	if srtpRemote != nil {
		decrypted, err := srtpRemote.RTCPCtx.DecryptRTCP(nil, data, nil)
		if err != nil {
			return
		}
		data = decrypted
	}

	if host := w.registry.Host(); host != nil {
		host.RelayRTCP(s.Handle, p.isVideo, data)
	}
}
