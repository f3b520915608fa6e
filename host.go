// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"github.com/pion/rtp"

	"github.com/mediabridge/nosip/media"
)

// Host is the small capability interface the hosting WebRTC core exposes,
// modeled on §6's outward call list (push_event, relay_rtp, relay_rtcp,
// send_pli, close_peer_connection, notify_event, events_is_enabled). The
// registry holds exactly one Host, set once at construction, rather than
// each session owning a direct reference back into the core — breaking the
// cyclic-ownership concern in §9 by going through the registry lookup
// instead.
type Host interface {
	// PushEvent delivers an Event (and, for generate/process replies, the
	// produced SDP) back to the transaction that triggered it.
	PushEvent(handle string, transactionID string, ev Event)

	// RelayRTP hands an ingress packet, off the plain-RTP leg, up to the
	// WebRTC peer connection for the given media, along with whatever
	// header extensions were decoded off it per §4.5 item 3.
	RelayRTP(handle string, isVideo bool, pkt *rtp.Packet, ext media.Extensions)

	// RelayRTCP hands ingress compound RTCP up to the WebRTC peer
	// connection.
	RelayRTCP(handle string, isVideo bool, payload []byte)

	// SendPLI asks the WebRTC peer connection to produce a keyframe.
	SendPLI(handle string, isVideo bool)

	// ClosePeerConnection tears down the WebRTC side after a session is
	// declared broken (§4.5 item 5) or hung up.
	ClosePeerConnection(handle string)

	// NotifyEvent reports an Event to any registered event handlers,
	// gated by EventsEnabled so the hot path avoids the cost when nobody
	// is listening.
	NotifyEvent(handle string, ev Event)

	// EventsEnabled mirrors general.events; Registry.logEvent consults it
	// before calling NotifyEvent for every event the Dispatcher emits.
	EventsEnabled() bool
}
