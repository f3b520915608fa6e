// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog/log"

	"github.com/mediabridge/nosip/media"
)

// SDPTransformer implements the two operations in §4.3: process (read a
// remote plain SDP into session state) and manipulate (rewrite a locally
// produced description to reflect this session's own allocations). It owns
// no state of its own; everything it learns or writes lives on the Session
// it is given, the way the teacher's dialog_media.go keeps session state on
// DialogMedia rather than on a standalone codec object.
type SDPTransformer struct {
	Config *Config
	Ports  *media.PortAllocator
}

// NewSDPTransformer builds a transformer bound to cfg and alloc.
func NewSDPTransformer(cfg *Config, alloc *media.PortAllocator) *SDPTransformer {
	return &SDPTransformer{Config: cfg, Ports: alloc}
}

func findMedia(desc *sdp.SessionDescription, kind string) *sdp.MediaDescription {
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == kind {
			return m
		}
	}
	return nil
}

func mediaHasApplication(desc *sdp.SessionDescription) bool {
	return findMedia(desc, "application") != nil
}

func attrValue(attrs []sdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func hasAttr(attrs []sdp.Attribute, key string) bool {
	_, ok := attrValue(attrs, key)
	return ok
}

func mediaDirection(attrs []sdp.Attribute) (send, recv bool) {
	switch {
	case hasAttr(attrs, "sendrecv"):
		return true, true
	case hasAttr(attrs, "sendonly"):
		return true, false
	case hasAttr(attrs, "recvonly"):
		return false, true
	case hasAttr(attrs, "inactive"):
		return false, false
	default:
		return true, true
	}
}

type parsedCrypto struct {
	tag     int
	profile media.SRTPProfile
	key     string
}

// parseCryptoAttr parses "<tag> <profile> inline:<key>..." per RFC 4568,
// tolerating trailing session parameters. Malformed lines are reported to
// the caller as ok=false; per §4.3 these are logged, not fatal.
func parseCryptoAttr(value string) (parsedCrypto, bool) {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return parsedCrypto{}, false
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return parsedCrypto{}, false
	}
	profile, ok := media.ProfileFromName(fields[1])
	if !ok {
		return parsedCrypto{}, false
	}
	const prefix = "inline:"
	if !strings.HasPrefix(fields[2], prefix) {
		return parsedCrypto{}, false
	}
	key := strings.TrimPrefix(fields[2], prefix)
	if i := strings.IndexByte(key, '|'); i >= 0 {
		key = key[:i]
	}
	return parsedCrypto{tag: tag, profile: profile, key: key}, true
}

// RFC 6464 client-to-mixer audio level and 3GPP/CVO video-orientation
// extension URIs, as advertised in a=extmap lines.
const (
	extURIAudioLevel       = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	extURIVideoOrientation = "urn:3gpp:video-orientation"
)

// parseExtmapAttr parses "<id>[/<direction>] <uri>[ <extensionattributes>]"
// per RFC 8285, ignoring any direction suffix or trailing attributes.
func parseExtmapAttr(value string) (id uint8, uri string, ok bool) {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return 0, "", false
	}
	idField := fields[0]
	if i := strings.IndexByte(idField, '/'); i >= 0 {
		idField = idField[:i]
	}
	n, err := strconv.Atoi(idField)
	if err != nil || n < 0 || n > 255 {
		return 0, "", false
	}
	return uint8(n), fields[1], true
}

func rtpmapName(attrs []sdp.Attribute, pt string) string {
	for _, a := range attrs {
		if a.Key != "rtpmap" {
			continue
		}
		fields := strings.SplitN(a.Value, " ", 2)
		if len(fields) == 2 && fields[0] == pt {
			return fields[1]
		}
	}
	return ""
}

// Process reads a remote plain SDP into Session state, returning whether
// anything changed (for is_update processing) or an error if the
// description is unusable. Implements §4.3's process operation.
func (t *SDPTransformer) Process(s *Session, raw string, isAnswer, isUpdate bool) (changed bool, err error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return false, newRequestError(ErrCodeInvalidSDP, "failed to parse SDP", err)
	}
	if mediaHasApplication(&desc) {
		return false, newRequestError(ErrCodeInvalidElement, "m=application is not supported", nil)
	}

	sessionAddr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		sessionAddr = desc.ConnectionInformation.Address.Address
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	anyNegotiated := false
	for _, kind := range []string{"audio", "video"} {
		isVideo := kind == "video"
		md := findMedia(&desc, kind)
		if md == nil {
			continue
		}
		m := s.mediaFor(isVideo)

		remoteAddr := sessionAddr
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			remoteAddr = md.ConnectionInformation.Address.Address
		}

		if md.MediaName.Port.Value == 0 {
			m.SendAllowed = false
			continue
		}

		prevRTPPort, prevIP := m.RemoteRTPPort, m.RemoteIP
		m.Active = true
		m.RemoteRTPPort = md.MediaName.Port.Value
		m.RemoteRTCPPort = md.MediaName.Port.Value + 1
		if remoteAddr != "" {
			m.RemoteIP = remoteAddr
		}
		m.SendAllowed, m.ReceiveAllowed = mediaDirection(md.Attributes)
		anyNegotiated = true

		proto := strings.Join(md.MediaName.Protos, "/")
		if strings.Contains(proto, "SAVP") {
			s.SRTP.Required = true
		}

		for _, a := range md.Attributes {
			switch a.Key {
			case "crypto":
				c, ok := parseCryptoAttr(a.Value)
				if !ok {
					log.Warn().Str("session", s.Handle).Str("value", a.Value).Msg("ignoring malformed crypto attribute")
					continue
				}
				if isAnswer && s.SRTP.Tag != 0 && c.tag != s.SRTP.Tag {
					continue
				}
				if err := m.SRTP.SetRemote(c.profile, c.key, c.tag); err != nil {
					return false, newRequestError(ErrCodeInvalidSDP, "invalid SRTP crypto attribute", err)
				}
				s.SRTP.RemoteHasSRTP = true
				s.SRTP.Profile = c.profile
				if s.SRTP.Tag == 0 {
					s.SRTP.Tag = c.tag
				}
			case "rtcp-fb":
				if isVideo && strings.Contains(a.Value, "pli") {
					m.PLISupported = true
				}
			case "extmap":
				id, uri, ok := parseExtmapAttr(a.Value)
				if !ok {
					continue
				}
				switch uri {
				case extURIAudioLevel:
					m.AudioLevelExtID = id
					m.HasAudioLevelExt = true
				case extURIVideoOrientation:
					m.VideoOrientationExtID = id
					m.HasVideoOrientationExt = true
				}
			}
		}

		if len(md.MediaName.Formats) > 0 {
			pt := md.MediaName.Formats[0]
			redPT := ""
			if !isVideo && m.OpusREDPayloadType >= 0 {
				redPT = strconv.Itoa(m.OpusREDPayloadType)
			}
			if pt == redPT && len(md.MediaName.Formats) > 1 {
				pt = md.MediaName.Formats[1]
			}
			if ptNum, err := strconv.Atoi(pt); err == nil {
				m.PayloadType = uint8(ptNum)
				m.CodecName = media.CodecName(uint8(ptNum), rtpmapName(md.Attributes, pt))
			}
		}

		if isUpdate && (m.RemoteRTPPort != prevRTPPort || m.RemoteIP != prevIP) {
			changed = true
		}
	}

	if !anyNegotiated || (s.Audio.RemoteIP == "" && s.Video.RemoteIP == "") {
		return false, newRequestError(ErrCodeInvalidSDP, "no media negotiated", nil)
	}
	if s.SRTP.Required && !s.SRTP.RemoteHasSRTP {
		return false, newRequestError(ErrCodeTooStrict, "SRTP required but peer offered none", nil)
	}

	s.sdpCache = &desc
	if isUpdate && changed {
		s.NotifyUpdate()
	}
	return changed, nil
}

// Manipulate rewrites a locally produced description so its connection
// lines, ports, transport protocol, and crypto attributes reflect this
// session's own allocations, per §4.3's manipulate operation.
func (t *SDPTransformer) Manipulate(s *Session, raw string, isAnswer bool) (string, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", newRequestError(ErrCodeInvalidSDP, "failed to parse local SDP", err)
	}
	if mediaHasApplication(&desc) {
		return "", newRequestError(ErrCodeInvalidElement, "m=application is not supported", nil)
	}

	advertiseIP := "0.0.0.0"
	if t.Config != nil && t.Config.SDPAddr() != nil {
		advertiseIP = t.Config.SDPAddr().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	desc.ConnectionInformation = &sdp.ConnectionInformation{
		NetworkType: "IN",
		AddressType: "IP4",
		Address:     &sdp.Address{Address: advertiseIP},
	}

	if s.sdpOriginID == 0 {
		s.sdpOriginID = media.GetCurrentNTPTimestamp()
	}
	s.sdpOriginVersion = media.GetCurrentNTPTimestamp()
	desc.Origin.SessionID = s.sdpOriginID
	desc.Origin.SessionVersion = s.sdpOriginVersion

	proto := "RTP/AVP"
	if s.SRTP.LocalHasSRTP || s.SRTP.Required {
		proto = "RTP/SAVP"
	}

	for _, kind := range []string{"audio", "video"} {
		isVideo := kind == "video"
		md := findMedia(&desc, kind)
		if md == nil {
			continue
		}
		m := s.mediaFor(isVideo)

		if err := t.ensureAllocated(m, isVideo); err != nil {
			return "", newRequestError(ErrCodeIOError, "failed to allocate media ports", err)
		}

		md.MediaName.Port = sdp.RangedPort{Value: m.LocalRTPPort}
		md.MediaName.Protos = strings.Split(proto, "/")
		md.ConnectionInformation = &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: advertiseIP},
		}

		if !isVideo {
			for _, a := range md.Attributes {
				if a.Key != "rtpmap" {
					continue
				}
				fields := strings.SplitN(a.Value, " ", 2)
				if len(fields) == 2 && strings.HasPrefix(strings.ToLower(fields[1]), "red/") {
					if ptNum, err := strconv.Atoi(fields[0]); err == nil {
						m.OpusREDPayloadType = ptNum
					}
				}
			}
		}

		if s.SRTP.Required && m.SRTP.Local == nil {
			profile := s.SRTP.Profile
			if profile == "" {
				profile = media.SRTPProfileAES_CM_128_HMAC_SHA1_80
			}
			tag := s.SRTP.Tag
			if tag == 0 {
				tag = 1
			}
			profileName, b64, err := m.SRTP.SetLocal(profile, tag)
			if err != nil {
				return "", newRequestError(ErrCodeInvalidElement, "unsupported SRTP profile", err)
			}
			s.SRTP.LocalHasSRTP = true
			md.Attributes = append(md.Attributes, sdp.Attribute{
				Key:   "crypto",
				Value: fmt.Sprintf("%d %s inline:%s", tag, profileName, b64),
			})
		}

		if isAnswer && len(md.MediaName.Formats) > 0 {
			if ptNum, err := strconv.Atoi(md.MediaName.Formats[0]); err == nil {
				m.PayloadType = uint8(ptNum)
				m.CodecName = media.CodecName(uint8(ptNum), rtpmapName(md.Attributes, md.MediaName.Formats[0]))
			}
		}
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", newRequestError(ErrCodeInvalidSDP, "failed to serialize SDP", err)
	}
	s.sdpCache = &desc
	return string(out), nil
}

func (t *SDPTransformer) ensureAllocated(m *MediaState, isVideo bool) error {
	if m.RTPConn != nil {
		return nil
	}
	pair, err := t.Ports.AllocatePair(isVideo)
	if err != nil {
		return err
	}
	m.RTPConn = pair.RTPConn
	m.RTCPConn = pair.RTCPConn
	m.LocalRTPPort = pair.RTPPort
	m.LocalRTCPPort = pair.RTCPPort
	m.Active = true
	return nil
}
