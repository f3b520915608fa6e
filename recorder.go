// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/mediabridge/nosip/audio"
)

// RecorderSlot names one of the four per-leg, per-media recorder handles in
// §3.
type RecorderSlot int

const (
	RecorderOwnAudio RecorderSlot = iota
	RecorderOwnVideo
	RecorderPeerAudio
	RecorderPeerVideo
)

// Recorder is the interface the relay path and host upcalls feed frames
// through; concrete file formats are an external collaborator per §1, so
// the four slots in RecorderSet hold this interface rather than a concrete
// writer type. The default implementations below (wavAudioRecorder,
// rawMediaRecorder) exist so the package is usable without a caller
// supplying its own, grounded on the teacher's playback.go/recording.go use
// of audio.WavWriter and audio.DecodeUlawTo/DecodeAlawTo.
type Recorder interface {
	WriteRTP(pkt *rtp.Packet)
	Close() error
}

// RecorderSet holds the four nullable recorder handles from §3, guarded by
// the Session's recMu (never by the media mutex, so a recording request
// never blocks the relay path).
type RecorderSet struct {
	mu   sync.Mutex
	slot [4]Recorder
}

// Start opens a new recorder for slot, closing any prior one first (start
// is not additive). codecName picks PCMU/PCMA decode for audio slots;
// anything else, and video slots, fall back to a raw RTP-payload dump.
func (rs *RecorderSet) Start(slot RecorderSlot, filename, codecName string) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.slot[slot] != nil {
		rs.slot[slot].Close()
		rs.slot[slot] = nil
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("nosip: creating recorder file %q: %w", filename, err)
	}

	isAudioSlot := slot == RecorderOwnAudio || slot == RecorderPeerAudio
	var rec Recorder
	switch {
	case isAudioSlot && strings.EqualFold(codecName, "PCMU"):
		rec = newWavAudioRecorder(f, audio.DecodeUlawTo)
	case isAudioSlot && strings.EqualFold(codecName, "PCMA"):
		rec = newWavAudioRecorder(f, audio.DecodeAlawTo)
	default:
		rec = newRawMediaRecorder(f)
	}

	rs.slot[slot] = rec
	return nil
}

// recordingFilenameSafeHandle returns handle for use in a default recording
// filename, or a fresh correlation id when handle is empty or contains path
// separators that would escape the recording directory.
func recordingFilenameSafeHandle(handle string) string {
	if handle == "" || strings.ContainsAny(handle, "/\\") {
		return uuid.NewString()
	}
	return handle
}

// Stop closes slot's recorder, if any. A stop on an already-stopped
// recorder is a no-op success, satisfying the idempotence property in §8.
func (rs *RecorderSet) Stop(slot RecorderSlot) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.slot[slot] == nil {
		return
	}
	if err := rs.slot[slot].Close(); err != nil {
		log.Warn().Err(err).Int("slot", int(slot)).Msg("failed to close recorder")
	}
	rs.slot[slot] = nil
}

// CloseAll stops every active recorder, used by on_hangup (§4.7).
func (rs *RecorderSet) CloseAll() {
	for slot := RecorderOwnAudio; slot <= RecorderPeerVideo; slot++ {
		rs.Stop(slot)
	}
}

func (rs *RecorderSet) ownRecorder(isVideo bool) Recorder {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if isVideo {
		return rs.slot[RecorderOwnVideo]
	}
	return rs.slot[RecorderOwnAudio]
}

func (rs *RecorderSet) peerRecorder(isVideo bool) Recorder {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if isVideo {
		return rs.slot[RecorderPeerVideo]
	}
	return rs.slot[RecorderPeerAudio]
}

// decodeFunc matches audio.DecodeUlawTo/DecodeAlawTo's signature.
type decodeFunc func(lpcm []byte, encoded []byte) (int, error)

// wavAudioRecorder decodes G.711 payload to 16-bit mono PCM and appends it
// to a WAV file via audio.WavWriter, finalizing the header on Close.
type wavAudioRecorder struct {
	mu     sync.Mutex
	f      *os.File
	w      *audio.WavWriter
	decode decodeFunc
	pcmBuf []byte
}

func newWavAudioRecorder(f *os.File, decode decodeFunc) *wavAudioRecorder {
	w := audio.NewWavWriter(f)
	w.NumChans = 1
	return &wavAudioRecorder{f: f, w: w, decode: decode}
}

func (r *wavAudioRecorder) WriteRTP(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	need := len(pkt.Payload) * 2
	if cap(r.pcmBuf) < need {
		r.pcmBuf = make([]byte, need)
	}
	pcm := r.pcmBuf[:need]
	n, err := r.decode(pcm, pkt.Payload)
	if err != nil {
		log.Debug().Err(err).Msg("recorder: failed to decode G.711 payload")
		return
	}
	if _, err := r.w.Write(pcm[:n]); err != nil {
		log.Debug().Err(err).Msg("recorder: failed to write PCM frame")
	}
}

func (r *wavAudioRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Close()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// rawMediaRecorder appends each packet's raw RTP payload to a plain file,
// used for video (no transcoding, per the Non-goals in §1) and for audio
// codecs this package does not know how to decode to PCM.
type rawMediaRecorder struct {
	mu sync.Mutex
	f  *os.File
}

func newRawMediaRecorder(f *os.File) *rawMediaRecorder {
	return &rawMediaRecorder{f: f}
}

func (r *rawMediaRecorder) WriteRTP(pkt *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.f.Write(pkt.Payload); err != nil {
		log.Debug().Err(err).Msg("recorder: failed to write raw payload")
	}
}

func (r *rawMediaRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
