// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"sync"

	"github.com/pion/rtp"

	"github.com/mediabridge/nosip/media"
)

// fakeHost stands in for the hosting WebRTC core during tests, the same
// role diago_test_utils.go plays for SIP transport in the teacher.
type fakeHost struct {
	mu sync.Mutex

	events        []Event
	relayedRTP    []*rtp.Packet
	relayedExts   []media.Extensions
	relayedRTCP   [][]byte
	plisSent      int
	closedPeers   []string
	eventsEnabled bool
}

func newFakeHost() *fakeHost {
	return &fakeHost{eventsEnabled: true}
}

func (h *fakeHost) PushEvent(handle, transactionID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *fakeHost) RelayRTP(handle string, isVideo bool, pkt *rtp.Packet, ext media.Extensions) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relayedRTP = append(h.relayedRTP, pkt)
	h.relayedExts = append(h.relayedExts, ext)
}

func (h *fakeHost) RelayRTCP(handle string, isVideo bool, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relayedRTCP = append(h.relayedRTCP, payload)
}

func (h *fakeHost) SendPLI(handle string, isVideo bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plisSent++
}

func (h *fakeHost) ClosePeerConnection(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closedPeers = append(h.closedPeers, handle)
}

func (h *fakeHost) NotifyEvent(handle string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *fakeHost) EventsEnabled() bool { return h.eventsEnabled }

func (h *fakeHost) rtpCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.relayedRTP)
}
