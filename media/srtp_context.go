// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/pion/srtp/v3"
)

// SRTPProfile is one of the SDES crypto-suite names carried in an SDP
// "crypto" attribute (RFC 4568), generalized from the teacher's
// media/srtp.go which only knew the two HMAC_SHA1_80 suites.
type SRTPProfile string

const (
	SRTPProfileAES_CM_128_HMAC_SHA1_32 SRTPProfile = "AES_CM_128_HMAC_SHA1_32"
	SRTPProfileAES_CM_128_HMAC_SHA1_80 SRTPProfile = "AES_CM_128_HMAC_SHA1_80"
	SRTPProfileAEAD_AES_128_GCM        SRTPProfile = "AEAD_AES_128_GCM"
	SRTPProfileAEAD_AES_256_GCM        SRTPProfile = "AEAD_AES_256_GCM"
)

// ErrUnsupportedProfile is returned by SetLocal for a profile name outside
// the table in §4.2.
var ErrUnsupportedProfile = fmt.Errorf("media: unsupported SRTP profile")

// ErrShortKey is returned by SetRemote when the decoded base64 key material
// is shorter than the profile's required master length.
var ErrShortKey = fmt.Errorf("media: SRTP key shorter than profile requires")

// rtpPolicyTable/rtcpPolicyTable map each SDES profile name onto the pion/srtp
// protection profile used for the RTP and RTCP streams respectively. Only
// AES_CM_128_HMAC_SHA1_32 splits RTP/RTCP policies (RTCP always keeps the
// full 80-bit tag), matching the table in §4.2.
var rtpPolicyTable = map[SRTPProfile]srtp.ProtectionProfile{
	SRTPProfileAES_CM_128_HMAC_SHA1_32: srtp.ProtectionProfileAes128CmHmacSha1_32,
	SRTPProfileAES_CM_128_HMAC_SHA1_80: srtp.ProtectionProfileAes128CmHmacSha1_80,
	SRTPProfileAEAD_AES_128_GCM:        srtp.ProtectionProfileAeadAes128Gcm,
	SRTPProfileAEAD_AES_256_GCM:        srtp.ProtectionProfileAeadAes256Gcm,
}

var rtcpPolicyTable = map[SRTPProfile]srtp.ProtectionProfile{
	SRTPProfileAES_CM_128_HMAC_SHA1_32: srtp.ProtectionProfileAes128CmHmacSha1_80,
	SRTPProfileAES_CM_128_HMAC_SHA1_80: srtp.ProtectionProfileAes128CmHmacSha1_80,
	SRTPProfileAEAD_AES_128_GCM:        srtp.ProtectionProfileAeadAes128Gcm,
	SRTPProfileAEAD_AES_256_GCM:        srtp.ProtectionProfileAeadAes256Gcm,
}

// SRTPDirection holds one established SDES protection context plus the
// state needed to (re)advertise or match it in SDP.
type SRTPDirection struct {
	Profile   SRTPProfile
	MasterKey []byte // key||salt, zeroed on Close
	Base64    string // inline key as advertised/received in the crypto attr
	Tag       int
	RTPCtx    *srtp.Context // protect (local) or unprotect (remote) for RTP
	RTCPCtx   *srtp.Context // same for RTCP
}

// Close zeroes master key material. The base64 form living in SDP text is
// the only copy that persists past this call, per §9.
func (d *SRTPDirection) Close() {
	if d == nil {
		return
	}
	for i := range d.MasterKey {
		d.MasterKey[i] = 0
	}
	d.RTPCtx = nil
	d.RTCPCtx = nil
}

// SRTPMediaContext is the per-media (audio or video) pair of local/remote
// SDES directions described in the Session data model in §3.
type SRTPMediaContext struct {
	Local  *SRTPDirection
	Remote *SRTPDirection
}

func (m *SRTPMediaContext) Close() {
	if m == nil {
		return
	}
	m.Local.Close()
	m.Remote.Close()
	m.Local, m.Remote = nil, nil
}

// SetLocal generates a fresh random master key for profile, installs the
// outbound (local) RTP/RTCP protection contexts and returns the profile
// name plus base64 key for the SDP Transformer to place in a crypto
// attribute. Fails with ErrUnsupportedProfile outside the table.
func (m *SRTPMediaContext) SetLocal(profile SRTPProfile, tag int) (SRTPProfile, string, error) {
	rtpPolicy, ok := rtpPolicyTable[profile]
	if !ok {
		return "", "", ErrUnsupportedProfile
	}
	rtcpPolicy := rtcpPolicyTable[profile]

	master, err := generateMasterKeySalt(rtpPolicy)
	if err != nil {
		return "", "", fmt.Errorf("media: generating SRTP master key: %w", err)
	}
	keyLen, _ := rtpPolicy.KeyLen()
	key, salt := master[:keyLen], master[keyLen:]

	rtpCtx, err := srtp.CreateContext(key, salt, rtpPolicy)
	if err != nil {
		return "", "", fmt.Errorf("media: creating local RTP SRTP context: %w", err)
	}
	rtcpCtx, err := srtp.CreateContext(key, salt, rtcpPolicy)
	if err != nil {
		return "", "", fmt.Errorf("media: creating local RTCP SRTP context: %w", err)
	}

	m.Local = &SRTPDirection{
		Profile:   profile,
		MasterKey: master,
		Base64:    base64.StdEncoding.EncodeToString(master),
		Tag:       tag,
		RTPCtx:    rtpCtx,
		RTCPCtx:   rtcpCtx,
	}
	return profile, m.Local.Base64, nil
}

// SetRemote decodes the peer's crypto attribute, installs the inbound
// (remote) RTP/RTCP unprotect contexts. Fails with ErrUnsupportedProfile or
// ErrShortKey.
func (m *SRTPMediaContext) SetRemote(profile SRTPProfile, base64Key string, tag int) error {
	rtpPolicy, ok := rtpPolicyTable[profile]
	if !ok {
		return ErrUnsupportedProfile
	}
	rtcpPolicy := rtcpPolicyTable[profile]

	master, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return fmt.Errorf("media: decoding SRTP crypto key: %w", err)
	}
	keyLen, _ := rtpPolicy.KeyLen()
	saltLen, _ := rtpPolicy.SaltLen()
	if len(master) < keyLen+saltLen {
		return ErrShortKey
	}
	key, salt := master[:keyLen], master[keyLen:keyLen+saltLen]

	rtpCtx, err := srtp.CreateContext(key, salt, rtpPolicy)
	if err != nil {
		return fmt.Errorf("media: creating remote RTP SRTP context: %w", err)
	}
	rtcpCtx, err := srtp.CreateContext(key, salt, rtcpPolicy)
	if err != nil {
		return fmt.Errorf("media: creating remote RTCP SRTP context: %w", err)
	}

	m.Remote = &SRTPDirection{
		Profile:   profile,
		MasterKey: master,
		Base64:    base64Key,
		Tag:       tag,
		RTPCtx:    rtpCtx,
		RTCPCtx:   rtcpCtx,
	}
	return nil
}

// ProfileFromName parses a profile string from a crypto attribute. ok is
// false for anything outside the §4.2 table; callers skip such a profile
// rather than failing the request.
func ProfileFromName(name string) (SRTPProfile, bool) {
	p := SRTPProfile(name)
	_, ok := rtpPolicyTable[p]
	return p, ok
}

func generateMasterKeySalt(profile srtp.ProtectionProfile) ([]byte, error) {
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, fmt.Errorf("srtp key len: %w", err)
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, fmt.Errorf("srtp salt len: %w", err)
	}

	buf := make([]byte, keyLen+saltLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
