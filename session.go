// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mediabridge/nosip/media"
)

// SessionState is the state machine in §4.4: Idle -> Negotiating -> Ready ->
// HangingUp -> Destroyed.
type SessionState int

const (
	StateIdle SessionState = iota
	StateNegotiating
	StateReady
	StateHangingUp
	StateDestroyed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateHangingUp:
		return "hangingup"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// MediaState is one block of the per-session media bookkeeping in §3, one
// instance each for audio and video.
type MediaState struct {
	Active bool

	LocalRTPPort  int
	LocalRTCPPort int
	RTPConn       *net.UDPConn
	RTCPConn      *net.UDPConn

	RemoteIP      string
	RemoteRTPPort int
	RemoteRTCPPort int

	LocalSSRC    uint32
	LocalSSRCSet bool
	PeerSSRC     uint32
	PeerSSRCSet  bool

	PayloadType uint8
	CodecName   string

	OpusREDPayloadType int // -1 when no RED PT was negotiated

	SendAllowed    bool
	ReceiveAllowed bool

	Switching *media.SwitchingContext

	PLISupported bool

	AudioLevelExtID  uint8
	HasAudioLevelExt bool

	VideoOrientationExtID  uint8
	HasVideoOrientationExt bool

	SimulcastSSRC    uint32
	HasSimulcastSSRC bool

	SRTP media.SRTPMediaContext

	icmpErrorCount int
}

func newMediaState() MediaState {
	return MediaState{OpusREDPayloadType: -1, Switching: media.NewSwitchingContext()}
}

// SRTPSessionState is the session-wide SDES negotiation state from §3.
type SRTPSessionState struct {
	Required       bool
	LocalHasSRTP   bool
	RemoteHasSRTP  bool
	Profile        media.SRTPProfile
	Tag            int
}

// Session is the durable per-call entity described in §3 and §4.4. Media
// fields are guarded by mu (the "one coarse mutex" in §3); recorder slots
// are guarded separately by recMu so a recording request never blocks the
// relay path on media-field contention.
type Session struct {
	Handle string

	mu    sync.Mutex
	recMu sync.Mutex

	state SessionState

	Audio MediaState
	Video MediaState
	SRTP  SRTPSessionState

	sdpCache *sdp.SessionDescription

	// sdpOriginID is the stable o= line session-id, seeded from an NTP
	// timestamp the first time Manipulate runs for this session (RFC 4566
	// recommends an NTP-derived value); sdpOriginVersion bumps on every
	// subsequent Manipulate call, the way a re-negotiated offer/answer must
	// advertise a changed o= line.
	sdpOriginID      uint64
	sdpOriginVersion uint64

	Recorders RecorderSet

	// Info is the free-text diagnostic field accepted on generate/process
	// requests and echoed back on query, carried over from the original
	// nosip plugin's "info" field (not named in the distilled spec).
	Info string

	hangingUp atomic.Bool
	destroyed atomic.Bool
	updated   atomic.Bool
	refCount  atomic.Int32

	// wakeup is the non-blocking, single-byte-capacity primitive used
	// purely to interrupt the Relay Worker's multiplex wait (§9). Writers
	// never block: a full channel already means a wakeup is pending.
	wakeup chan struct{}

	createdAt time.Time

	log zerolog.Logger
}

// NewSession constructs a fresh Idle session for handle, ref count 1.
func NewSession(handle string) *Session {
	s := &Session{
		Handle:    handle,
		Audio:     newMediaState(),
		Video:     newMediaState(),
		wakeup:    make(chan struct{}, 1),
		createdAt: time.Now(),
		log:       log.With().Str("component", "session").Str("session", handle).Logger(),
	}
	s.refCount.Store(1)
	return s
}

// State returns the current lifecycle state under lock.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.log.Debug().Stringer("from", prev).Stringer("to", next).Msg("session state transition")
	}
}

// NotifyUpdate sets the updated flag and wakes the Relay Worker. Per §9 the
// flag must be set *before* the wakeup byte is written (release-before-
// notify); the worker reads the flag only after observing the wakeup
// (acquire-after-wait), so the ordering here is load-bearing, not cosmetic.
func (s *Session) NotifyUpdate() {
	s.updated.Store(true)
	s.Wake()
}

// Wake delivers a non-blocking, coalescing wakeup to the Relay Worker.
func (s *Session) Wake() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// WakeupChan is read by the Relay Worker's multiplex select.
func (s *Session) WakeupChan() <-chan struct{} { return s.wakeup }

// ConsumeUpdated clears and returns the updated flag; only the Relay Worker
// calls this.
func (s *Session) ConsumeUpdated() bool {
	return s.updated.Swap(false)
}

// MarkHangingUp sets the one-shot hanging_up flag and wakes the worker.
// Idempotent: subsequent calls are no-ops.
func (s *Session) MarkHangingUp() {
	if s.hangingUp.CompareAndSwap(false, true) {
		s.setState(StateHangingUp)
	}
	s.Wake()
}

func (s *Session) IsHangingUp() bool { return s.hangingUp.Load() }

// MarkDestroyed sets the one-shot destroyed flag. Per §3's invariant this
// transitions 0->1 at most once.
func (s *Session) MarkDestroyed() bool {
	if s.destroyed.CompareAndSwap(false, true) {
		s.setState(StateDestroyed)
		return true
	}
	return false
}

func (s *Session) IsDestroyed() bool { return s.destroyed.Load() }

// AddRef / Release implement the registry's reference counting (§3, §4.4):
// ref starts at 1 on create and that reference is released once: by the
// Relay Worker when it exits, or by Registry.Hangup when no worker was
// started.
func (s *Session) AddRef() { s.refCount.Add(1) }

// Release decrements the reference count and reports whether it reached
// zero.
func (s *Session) Release() bool { return s.refCount.Add(-1) == 0 }

// mediaFor returns the MediaState for the requested leg.
func (s *Session) mediaFor(isVideo bool) *MediaState {
	if isVideo {
		return &s.Video
	}
	return &s.Audio
}

// cleanupMediaLocked closes sockets and SRTP contexts for both legs; it must be
// called with mu held, matching §4.4's "Relay Worker ... exit it performs
// media cleanup under the session mutex".
func (s *Session) cleanupMediaLocked() {
	for _, m := range []*MediaState{&s.Audio, &s.Video} {
		if m.RTPConn != nil {
			m.RTPConn.Close()
			m.RTPConn = nil
		}
		if m.RTCPConn != nil {
			m.RTCPConn.Close()
			m.RTCPConn = nil
		}
		m.SRTP.Close()
		m.Active = false
	}
}
