// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

var (
	errRTCPFailedToUnmarshal = errors.New("rtcp: failed to unmarshal")
)

// MinRTPHeaderSize is the smallest a packet can be and still carry a valid
// fixed RTP header. Anything shorter is ignored by the relay, per §8.
const MinRTPHeaderSize = 12

// LooksLikeRTP checks the version bits the way the relay distinguishes an
// RTP packet from a stray/short datagram before attempting to parse it.
func LooksLikeRTP(buf []byte) bool {
	if len(buf) < MinRTPHeaderSize {
		return false
	}
	version := buf[0] >> 6
	return version == 2
}

// LooksLikeRTCP checks the payload type byte falls in the RTCP range
// (192-223) used by every compound RTCP packet type we handle.
func LooksLikeRTCP(buf []byte) bool {
	if len(buf) < 8 {
		return false
	}
	version := buf[0] >> 6
	pt := buf[1]
	return version == 2 && pt >= 192 && pt <= 223
}

// RTPUnmarshal is the teacher's pooled-buffer RTP unmarshal, generalized to
// keep header extensions instead of discarding them: the relay needs
// audio-level and video-orientation extension data (§4.5), so unlike the
// teacher's experimental helper this one does not null out p.Header.Extension.
func RTPUnmarshal(buf []byte, p *rtp.Packet) error {
	n, err := p.Header.Unmarshal(buf)
	if err != nil {
		return err
	}

	end := len(buf)
	if p.Header.Padding {
		p.PaddingSize = buf[end-1]
		end -= int(p.PaddingSize)
	}
	if end < n {
		return io.ErrShortBuffer
	}

	// If Payload buffer exists try to fill it and allow buffer reusage
	if p.Payload != nil && len(p.Payload) >= len(buf[n:end]) {
		copy(p.Payload, buf[n:end])
		return nil
	}

	// This creates allocations
	// Payload should be recreated instead referenced
	// This allows buf reusage
	p.Payload = make([]byte, len(buf[n:end]))
	copy(p.Payload, buf[n:end])
	return nil
}

// AudioLevelExtension is the one-byte payload of RFC 6464 client-to-mixer
// audio level header extensions.
type AudioLevelExtension struct {
	Voice bool
	Level uint8 // 0 (loudest) - 127 (silence)
}

// ParseAudioLevelExtension reads the extension with the given id off hdr, if
// present.
func ParseAudioLevelExtension(hdr *rtp.Header, id uint8) (AudioLevelExtension, bool) {
	b := hdr.GetExtension(id)
	if len(b) < 1 {
		return AudioLevelExtension{}, false
	}
	return AudioLevelExtension{
		Voice: b[0]&0x80 != 0,
		Level: b[0] & 0x7f,
	}, true
}

// Extensions carries the header extensions a relayed RTP packet had decoded
// off it, for the host core to act on (e.g. routing audio-level to a
// dominant-speaker detector, or video-orientation to a renderer).
type Extensions struct {
	HasAudioLevel       bool
	AudioLevel          AudioLevelExtension
	HasVideoOrientation bool
	VideoOrientation    VideoOrientationExtension
}

// VideoOrientationExtension is the one-byte payload of the 3GPP/CVO
// "urn:3gpp:video-orientation" header extension: camera facing, horizontal
// flip, and a 2-bit rotation code mapped to degrees.
type VideoOrientationExtension struct {
	BackCamera bool
	Flipped    bool
	Rotation   int // one of 0, 90, 180, 270
}

// ParseVideoOrientationExtension reads the CVO extension with the given id
// off hdr, if present. Bit layout: .... CFRR where C=camera, F=flip,
// RR=rotation steps of 90 degrees.
func ParseVideoOrientationExtension(hdr *rtp.Header, id uint8) (VideoOrientationExtension, bool) {
	b := hdr.GetExtension(id)
	if len(b) < 1 {
		return VideoOrientationExtension{}, false
	}
	v := b[0]
	rot := v & 0x03
	return VideoOrientationExtension{
		BackCamera: v&0x08 != 0,
		Flipped:    v&0x04 != 0,
		Rotation:   int(rot) * 90,
	}, true
}

// RTCPUnmarshal is improved version based on pion/rtcp where we allow caller to define and control
// buffer of rtcp packets. This also reduces one allocation
// NOTE: data is still referenced in packet buffer
func RTCPUnmarshal(data []byte, packets []rtcp.Packet) (n int, err error) {
	for i := 0; i < len(packets) && len(data) != 0; i++ {
		var h rtcp.Header

		err = h.Unmarshal(data)
		if err != nil {
			// fmt.Errorf("unmarshal RTCP error: %w", err)
			return 0, errors.Join(err, errRTCPFailedToUnmarshal)
		}

		pktLen := int(h.Length+1) * 4
		if pktLen > len(data) {
			return 0, fmt.Errorf("packet too short: %w", errRTCPFailedToUnmarshal)
		}
		inPacket := data[:pktLen]

		// Check the type and unmarshal
		packet := rtcpTypedPacket(h)
		err = packet.Unmarshal(inPacket)
		if err != nil {
			return 0, err
		}

		packets[i] = packet

		data = data[pktLen:]
		n++
	}

	return n, nil
}

// rtcpTypedPacket picks a concrete rtcp.Packet to unmarshal h into. For the
// RTPFB/PSFB transport- and payload-specific feedback types, the packet
// shape is disambiguated by h.Count (the FMT field, RFC 4585 §6.1), not by
// h.Type alone, so those two cases switch on it: FMT=1 is Generic NACK for
// RTPFB and Picture Loss Indication for PSFB (RFC 4585 §6.2.1/§6.3.1), FMT=4
// is Full Intra Request for PSFB (RFC 5104 §4.3.1). This lets FixCompoundSSRC
// fix up PLI/FIR/NACK source SSRCs instead of leaving them as RawPacket.
func rtcpTypedPacket(h rtcp.Header) rtcp.Packet {
	switch h.Type {
	case rtcp.TypeSenderReport:
		return new(rtcp.SenderReport)

	case rtcp.TypeReceiverReport:
		return new(rtcp.ReceiverReport)

	case rtcp.TypeSourceDescription:
		return new(rtcp.SourceDescription)

	case rtcp.TypeGoodbye:
		return new(rtcp.Goodbye)

	case rtcp.TypeTransportSpecificFeedback:
		switch h.Count {
		case 1:
			return new(rtcp.TransportLayerNack)
		default:
			return new(rtcp.RawPacket)
		}

	case rtcp.TypePayloadSpecificFeedback:
		switch h.Count {
		case 1:
			return new(rtcp.PictureLossIndication)
		case 4:
			return new(rtcp.FullIntraRequest)
		default:
			return new(rtcp.RawPacket)
		}

	default:
		return new(rtcp.RawPacket)
	}
}
