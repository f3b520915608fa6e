// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import "github.com/pion/rtcp"

// BuildPLI builds a minimal Picture Loss Indication (RTCP PT=206, FMT=1)
// asking senderSSRC's peer to produce a keyframe for mediaSSRC, per §4.6.
func BuildPLI(senderSSRC, mediaSSRC uint32) *rtcp.PictureLossIndication {
	return &rtcp.PictureLossIndication{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
	}
}

// MarshalRTCP serializes a compound RTCP packet list, used both for the PLI
// helper and for re-marshaling after FixCompoundSSRC.
func MarshalRTCP(pkts []rtcp.Packet) ([]byte, error) {
	return rtcp.Marshal(pkts)
}

// FixCompoundSSRC rewrites every packet in a compound RTCP payload so its
// sender and media SSRC fields read (localSSRC, peerSSRC), the way §4.7's
// on_rtcp upcall must before forwarding the host's RTCP onto the plain-RTP
// leg (the host's view of SSRCs differs from what the peer has learned).
func FixCompoundSSRC(pkts []rtcp.Packet, localSSRC, peerSSRC uint32) {
	for _, p := range pkts {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			pkt.SSRC = localSSRC
		case *rtcp.ReceiverReport:
			pkt.SSRC = localSSRC
			for i := range pkt.Reports {
				pkt.Reports[i].SSRC = peerSSRC
			}
		case *rtcp.PictureLossIndication:
			pkt.SenderSSRC = localSSRC
			pkt.MediaSSRC = peerSSRC
		case *rtcp.FullIntraRequest:
			pkt.SenderSSRC = localSSRC
			for i := range pkt.FIR {
				pkt.FIR[i].SSRC = peerSSRC
			}
		case *rtcp.TransportLayerNack:
			pkt.SenderSSRC = localSSRC
			pkt.MediaSSRC = peerSSRC
		case *rtcp.Goodbye:
			for i := range pkt.Sources {
				pkt.Sources[i] = peerSSRC
			}
		}
	}
}
