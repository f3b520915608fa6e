// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"errors"
	"fmt"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog/log"

	"github.com/mediabridge/nosip/media"
)

// GenerateRequest is the "generate" request body from §6: a locally
// produced description arrives out of band (the secondary argument in the
// wire schema) and is rewritten by the SDP Transformer.
type GenerateRequest struct {
	Info        string
	SRTPMode    string // "sdes_optional" | "sdes_mandatory"
	SRTPProfile string
	Update      bool
	LocalSDP    string
	IsAnswer    bool
}

// ProcessRequest is the "process" request body from §6.
type ProcessRequest struct {
	Type        string // "offer" | "answer"
	SDP         string
	Info        string
	SRTPMode    string
	SRTPProfile string
	Update      bool

	// VideoSimulcastSSRC carries the simulcast_ssrc value when the host
	// sends it, resolving the §9 ambiguity between the original plugin's
	// "ssrc-0"-named field and its array-form "[0]" sibling by exposing a
	// single already-disambiguated value here rather than two wire shapes.
	VideoSimulcastSSRC    uint32
	HasVideoSimulcastSSRC bool
}

// RecordingRequest is the "recording" request body from §6.
type RecordingRequest struct {
	Action    string // "start" | "stop"
	Audio     bool
	Video     bool
	PeerAudio bool
	PeerVideo bool
	Filename  string
}

// KeyframeRequest is the "keyframe" request body from §6.
type KeyframeRequest struct {
	User bool
	Peer bool
}

// Dispatcher queues client requests and runs them on a single worker,
// purely sequential per session (§2 item 7, §5). Every exported method
// enqueues a closure onto jobs and blocks for its result; the one
// background goroutine started by Run is the only thing that ever mutates
// session state on the request path.
type Dispatcher struct {
	Registry *Registry
	Ports    *media.PortAllocator
	SDP      *SDPTransformer

	jobs chan func()
	done chan struct{}
}

// NewDispatcher wires a Dispatcher to the shared registry, port allocator,
// and SDP transformer.
func NewDispatcher(reg *Registry, ports *media.PortAllocator, sdp *SDPTransformer) *Dispatcher {
	return &Dispatcher{
		Registry: reg,
		Ports:    ports,
		SDP:      sdp,
		jobs:     make(chan func(), 64),
		done:     make(chan struct{}),
	}
}

// Run drains the job queue on the calling goroutine until Stop is called.
// Callers typically `go dispatcher.Run()` once at startup.
func (d *Dispatcher) Run() {
	for {
		select {
		case job := <-d.jobs:
			job()
		case <-d.done:
			for {
				select {
				case job := <-d.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

// Stop ends Run's loop after any queued jobs already accepted have drained.
func (d *Dispatcher) Stop() { close(d.done) }

// notifyIfRequestError pushes the §7 error event for a rejected request once
// the enqueued job has returned, whichever of its return points set *retErr.
func (d *Dispatcher) notifyIfRequestError(handle string, retErr *error) {
	var reqErr *RequestError
	if errors.As(*retErr, &reqErr) {
		d.Registry.logEvent(handle, errorEvent(reqErr))
	}
}

func (d *Dispatcher) enqueue(fn func()) {
	done := make(chan struct{})
	d.jobs <- func() {
		defer close(done)
		fn()
	}
	<-done
}

// Generate handles a "generate" request (§4.8): allocates ports if needed,
// invokes SDPTransformer.Manipulate, and returns the "generated" event.
func (d *Dispatcher) Generate(handle, transactionID string, req GenerateRequest) (Event, error) {
	var ev Event
	var retErr error

	d.enqueue(func() {
		defer d.notifyIfRequestError(handle, &retErr)

		s, ok := d.Registry.Get(handle)
		if !ok {
			retErr = newRequestError(ErrCodeWrongState, "unknown session", nil)
			return
		}

		if req.LocalSDP == "" {
			retErr = newRequestError(ErrCodeMissingSDP, "generate requires a local description", nil)
			return
		}

		s.mu.Lock()
		if req.Info != "" {
			s.Info = req.Info
		}
		if !req.Update && !req.IsAnswer {
			s.Audio.SRTP.Close()
			s.Video.SRTP.Close()
			s.SRTP = SRTPSessionState{}
			s.SRTP.Required = req.SRTPMode == "sdes_mandatory"
			if profile, ok := media.ProfileFromName(req.SRTPProfile); ok {
				s.SRTP.Profile = profile
			}
		}
		s.mu.Unlock()

		s.setState(StateNegotiating)

		sdpOut, err := d.SDP.Manipulate(s, req.LocalSDP, req.IsAnswer)
		if err != nil {
			retErr = err
			return
		}

		typ := "offer"
		if req.IsAnswer {
			typ = "answer"
		}
		ev = Event{Name: EventGenerated, Type: typ, SDP: sdpOut, Update: req.Update}
		d.Registry.logEvent(handle, ev)
	})

	return ev, retErr
}

// Process handles a "process" request (§4.8): invokes SDPTransformer.Process
// and, on a successful answer, transitions to Ready and starts the Relay
// Worker.
func (d *Dispatcher) Process(handle, transactionID string, req ProcessRequest) (Event, error) {
	var ev Event
	var retErr error

	d.enqueue(func() {
		defer d.notifyIfRequestError(handle, &retErr)

		s, ok := d.Registry.Get(handle)
		if !ok {
			retErr = newRequestError(ErrCodeWrongState, "unknown session", nil)
			return
		}
		if req.SDP == "" {
			retErr = newRequestError(ErrCodeMissingSDP, "process requires sdp", nil)
			return
		}
		if req.Type != "offer" && req.Type != "answer" {
			retErr = newRequestError(ErrCodeInvalidRequest, "type must be offer or answer", nil)
			return
		}

		s.mu.Lock()
		if req.Info != "" {
			s.Info = req.Info
		}
		if req.SRTPMode == "sdes_mandatory" {
			s.SRTP.Required = true
		}
		if req.HasVideoSimulcastSSRC {
			s.Video.SimulcastSSRC = req.VideoSimulcastSSRC
			s.Video.HasSimulcastSSRC = true
		}
		s.mu.Unlock()

		isAnswer := req.Type == "answer"
		changed, err := d.SDP.Process(s, req.SDP, isAnswer, req.Update)
		if err != nil {
			retErr = err
			return
		}

		ev = Event{Name: EventProcessed, Type: req.Type, Update: changed}
		d.Registry.logEvent(handle, ev)

		if isAnswer {
			wasReady := s.State() == StateReady
			s.setState(StateReady)
			if !wasReady {
				worker := NewRelayWorker(s, d.Registry)
				go worker.Run()
			}
		}
	})

	return ev, retErr
}

// Hangup handles a "hangup" request: asks the host to close the peer
// connection and emits "hangingup" (§4.8).
func (d *Dispatcher) Hangup(handle, transactionID string) (Event, error) {
	var ev Event
	var retErr error

	d.enqueue(func() {
		defer d.notifyIfRequestError(handle, &retErr)

		s, ok := d.Registry.Get(handle)
		if !ok {
			retErr = newRequestError(ErrCodeWrongState, "unknown session", nil)
			return
		}
		s.MarkHangingUp()
		if host := d.Registry.Host(); host != nil {
			host.ClosePeerConnection(handle)
		}
		ev = Event{Name: EventHangingUp}
		d.Registry.logEvent(handle, ev)
	})

	return ev, retErr
}

// Keyframe handles a "keyframe" request (§4.8).
func (d *Dispatcher) Keyframe(handle, transactionID string, req KeyframeRequest) (Event, error) {
	var ev Event
	var retErr error

	d.enqueue(func() {
		defer d.notifyIfRequestError(handle, &retErr)

		s, ok := d.Registry.Get(handle)
		if !ok {
			retErr = newRequestError(ErrCodeWrongState, "unknown session", nil)
			return
		}

		host := d.Registry.Host()
		if req.User && host != nil {
			host.SendPLI(handle, true)
		}
		if req.Peer && s.Video.PLISupported {
			sendPLI(s, host, handle)
		}

		ev = Event{Name: EventKeyframeSent}
		d.Registry.logEvent(handle, ev)
	})

	return ev, retErr
}

// Recording handles a "recording" start/stop request (§4.8). Default
// filenames follow "nosip-<handle>-<timestamp>-(own|peer)-(audio|video)"
// when no base filename is given.
func (d *Dispatcher) Recording(handle, transactionID string, req RecordingRequest, now func() int64) (Event, error) {
	var ev Event
	var retErr error

	d.enqueue(func() {
		defer d.notifyIfRequestError(handle, &retErr)

		s, ok := d.Registry.Get(handle)
		if !ok {
			retErr = newRequestError(ErrCodeWrongState, "unknown session", nil)
			return
		}

		s.recMu.Lock()
		defer s.recMu.Unlock()

		switch req.Action {
		case "start":
			base := req.Filename
			if base == "" {
				base = fmt.Sprintf("nosip-%s-%d", recordingFilenameSafeHandle(handle), now())
			}
			if req.Audio {
				if err := s.Recorders.Start(RecorderOwnAudio, base+"-own-audio", s.Audio.CodecName); err != nil {
					retErr = newRequestError(ErrCodeRecordingError, "failed to start own-audio recorder", err)
					return
				}
			}
			if req.Video {
				if err := s.Recorders.Start(RecorderOwnVideo, base+"-own-video", s.Video.CodecName); err != nil {
					retErr = newRequestError(ErrCodeRecordingError, "failed to start own-video recorder", err)
					return
				}
				if host := d.Registry.Host(); host != nil {
					host.SendPLI(handle, true)
				}
			}
			if req.PeerAudio {
				if err := s.Recorders.Start(RecorderPeerAudio, base+"-peer-audio", s.Audio.CodecName); err != nil {
					retErr = newRequestError(ErrCodeRecordingError, "failed to start peer-audio recorder", err)
					return
				}
			}
			if req.PeerVideo {
				if err := s.Recorders.Start(RecorderPeerVideo, base+"-peer-video", s.Video.CodecName); err != nil {
					retErr = newRequestError(ErrCodeRecordingError, "failed to start peer-video recorder", err)
					return
				}
			}
		case "stop":
			if req.Audio {
				s.Recorders.Stop(RecorderOwnAudio)
			}
			if req.Video {
				s.Recorders.Stop(RecorderOwnVideo)
			}
			if req.PeerAudio {
				s.Recorders.Stop(RecorderPeerAudio)
			}
			if req.PeerVideo {
				s.Recorders.Stop(RecorderPeerVideo)
			}
		default:
			retErr = newRequestError(ErrCodeInvalidRequest, "recording action must be start or stop", nil)
			return
		}

		ev = Event{Name: EventRecordingUpdated}
		d.Registry.logEvent(handle, ev)
	})

	return ev, retErr
}

// sendPLI implements the RTCP Helpers' pli_send (§4.6): no-op if video was
// never negotiated or the socket is missing, SRTP-protect when local SRTP
// is active, otherwise send raw.
func sendPLI(s *Session, host Host, handle string) {
	s.mu.Lock()
	conn := s.Video.RTCPConn
	local, peer := s.Video.LocalSSRC, s.Video.PeerSSRC
	srtpLocal := s.Video.SRTP.Local
	s.mu.Unlock()

	if conn == nil {
		return
	}

	pkt := media.BuildPLI(local, peer)
	payload, err := media.MarshalRTCP([]rtcp.Packet{pkt})
	if err != nil {
		log.Warn().Err(err).Str("session", handle).Msg("failed to marshal PLI")
		return
	}

	if srtpLocal != nil {
		payload, err = srtpLocal.RTCPCtx.EncryptRTCP(nil, payload, nil)
		if err != nil {
			log.Warn().Err(err).Str("session", handle).Msg("failed to protect PLI")
			return
		}
	}

	if _, err := conn.Write(payload); err != nil {
		log.Warn().Err(err).Str("session", handle).Msg("failed to send PLI")
	}
}
