// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/mediabridge/nosip/media"
)

// Bridge is the entrypoint surface the embedding WebRTC core calls into,
// the "Host callback contract" half of §6 that is not the Dispatcher's
// request schema: create_session, destroy_session, setup_media/hangup_media,
// on_rtp, on_rtcp, query_session.
type Bridge struct {
	Registry   *Registry
	Dispatcher *Dispatcher
}

// NewBridge wires a Bridge to an existing registry and dispatcher.
func NewBridge(reg *Registry, disp *Dispatcher) *Bridge {
	return &Bridge{Registry: reg, Dispatcher: disp}
}

// New builds the whole stack described in §2 from a decoded Config and the
// host's capability interface: the shared port allocator (carrying the
// general.dscp_audio_rtp/dscp_video_rtp codepoints into every socket it
// binds, per §4.1), the SDP Transformer, the Registry, and the Dispatcher,
// whose single worker goroutine is started before returning. Callers tear
// the bridge down with bridge.Dispatcher.Stop().
func New(cfg *Config, host Host) (*Bridge, error) {
	min, max := cfg.PortRange()
	rng, err := media.NewPortRange(min, max)
	if err != nil {
		return nil, err
	}

	ports := media.NewPortAllocator(rng, cfg.LocalAddr())
	ports.DSCPAudio = cfg.DSCPAudioRTP
	ports.DSCPVideo = cfg.DSCPVideoRTP

	reg := NewRegistry(host)
	sdp := NewSDPTransformer(cfg, ports)
	disp := NewDispatcher(reg, ports, sdp)
	go disp.Run()

	return NewBridge(reg, disp), nil
}

// CreateSession implements create_session(handle).
func (b *Bridge) CreateSession(handle string) *Session {
	return b.Registry.Create(handle)
}

// DestroySession implements destroy_session(handle): removes the handle and
// runs the on_hangup teardown contract.
func (b *Bridge) DestroySession(handle string) {
	b.Registry.Remove(handle)
}

// HangupMedia implements hangup_media(handle): the host asked us to stop
// without a matching destroy_session (yet).
func (b *Bridge) HangupMedia(handle string) {
	if s, ok := b.Registry.Get(handle); ok {
		b.Registry.Hangup(s)
	}
}

// SetupMedia implements setup_media(handle). There is nothing to allocate
// here beyond what Process(answer) already did — the Relay Worker is
// already running by the time setup_media normally fires — so this exists
// to satisfy the host contract and logs the call for diagnostics.
func (b *Bridge) SetupMedia(handle string) {
	log.Debug().Str("session", handle).Msg("setup_media")
}

// QuerySessionInfo is the introspection payload returned by query_session,
// supplementing the distilled spec with the original plugin's diagnostics
// surface.
type QuerySessionInfo struct {
	Handle     string
	State      string
	Info       string
	HasAudio   bool
	HasVideo   bool
	SRTP       bool
	AudioCodec string
	VideoCodec string
}

// QuerySession implements query_session(handle) -> info_object.
func (b *Bridge) QuerySession(handle string) (QuerySessionInfo, bool) {
	s, ok := b.Registry.Get(handle)
	if !ok {
		return QuerySessionInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return QuerySessionInfo{
		Handle:     handle,
		State:      s.state.String(),
		Info:       s.Info,
		HasAudio:   s.Audio.Active,
		HasVideo:   s.Video.Active,
		SRTP:       s.SRTP.LocalHasSRTP || s.SRTP.RemoteHasSRTP,
		AudioCodec: s.Audio.CodecName,
		VideoCodec: s.Video.CodecName,
	}, true
}

// OnRTP implements on_rtp(handle, is_video, bytes): the egress path driven
// by host upcalls, per §4.7.
func (b *Bridge) OnRTP(handle string, isVideo bool, pkt *rtp.Packet) {
	s, ok := b.Registry.Get(handle)
	if !ok {
		return
	}
	m := s.mediaFor(isVideo)

	s.mu.Lock()
	if !m.SendAllowed {
		s.mu.Unlock()
		return
	}
	if m.HasSimulcastSSRC && pkt.SSRC != m.SimulcastSSRC {
		s.mu.Unlock()
		return
	}
	if !m.LocalSSRCSet {
		m.LocalSSRC = pkt.SSRC
		m.LocalSSRCSet = true
	}
	conn := m.RTPConn
	srtpLocal := m.SRTP.Local
	s.mu.Unlock()

	if conn == nil {
		return
	}

	if rec := s.Recorders.ownRecorder(isVideo); rec != nil {
		rec.WriteRTP(pkt)
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return
	}
	if srtpLocal != nil {
		buf, err = srtpLocal.RTPCtx.EncryptRTP(nil, buf, &pkt.Header)
		if err != nil {
			log.Warn().Err(err).Str("session", handle).Msg("failed to protect outgoing RTP")
			return
		}
	}
	if _, err := conn.Write(buf); err != nil {
		log.Debug().Err(err).Str("session", handle).Msg("failed to write outgoing RTP")
	}
}

// OnRTCP implements on_rtcp(handle, is_video, bytes): fixes the compound
// RTCP SSRC fields to (local, peer), protects if SRTP-local, and sends on
// the matching UDP RTCP socket, per §4.7.
func (b *Bridge) OnRTCP(handle string, isVideo bool, payload []byte) {
	s, ok := b.Registry.Get(handle)
	if !ok {
		return
	}
	m := s.mediaFor(isVideo)

	packets := make([]rtcp.Packet, 16)
	n, err := media.RTCPUnmarshal(payload, packets)
	if err != nil {
		return
	}
	packets = packets[:n]

	s.mu.Lock()
	local, peer := m.LocalSSRC, m.PeerSSRC
	srtpLocal := m.SRTP.Local
	conn := m.RTCPConn
	s.mu.Unlock()

	if conn == nil {
		return
	}

	media.FixCompoundSSRC(packets, local, peer)
	out, err := media.MarshalRTCP(packets)
	if err != nil {
		return
	}
	if srtpLocal != nil {
		out, err = srtpLocal.RTCPCtx.EncryptRTCP(nil, out, nil)
		if err != nil {
			log.Warn().Err(err).Str("session", handle).Msg("failed to protect outgoing RTCP")
			return
		}
	}
	if _, err := conn.Write(out); err != nil {
		log.Debug().Err(err).Str("session", handle).Msg("failed to write outgoing RTCP")
	}
}
