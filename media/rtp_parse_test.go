// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeRTP(t *testing.T) {
	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 1, Timestamp: 1, SSRC: 1},
		Payload: []byte{0x01, 0x02},
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)

	assert.True(t, LooksLikeRTP(buf))
	assert.False(t, LooksLikeRTP([]byte{0x01}))
	assert.False(t, LooksLikeRTP(nil))
}

func TestLooksLikeRTCP(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 1234}
	buf, err := sr.Marshal()
	require.NoError(t, err)

	assert.True(t, LooksLikeRTCP(buf))
	assert.False(t, LooksLikeRTCP([]byte{0x80, 0x00}))
}

func TestRTPUnmarshalKeepsExtensions(t *testing.T) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Extension:      true,
			ExtensionProfile: 0xBEDE,
			SequenceNumber: 42,
			Timestamp:      8000,
			SSRC:           0xcafebabe,
		},
		Payload: []byte("payload"),
	}
	require.NoError(t, pkt.SetExtension(1, []byte{0xa8})) // voice=true level=40

	buf, err := pkt.Marshal()
	require.NoError(t, err)

	var out rtp.Packet
	require.NoError(t, RTPUnmarshal(buf, &out))

	ext, ok := ParseAudioLevelExtension(&out.Header, 1)
	require.True(t, ok)
	assert.True(t, ext.Voice)
	assert.Equal(t, uint8(0x28), ext.Level)
}

func TestParseVideoOrientationExtension(t *testing.T) {
	hdr := &rtp.Header{Version: 2, Extension: true, ExtensionProfile: 0xBEDE}
	require.NoError(t, hdr.SetExtension(4, []byte{0x0d})) // back=1 flip=1 rotation=1(90deg)

	ext, ok := ParseVideoOrientationExtension(hdr, 4)
	require.True(t, ok)
	assert.True(t, ext.BackCamera)
	assert.True(t, ext.Flipped)
	assert.Equal(t, 90, ext.Rotation)
}

func TestRTCPUnmarshalCompound(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 111}
	rr := &rtcp.ReceiverReport{SSRC: 222, Reports: []rtcp.ReceptionReport{{SSRC: 333}}}
	buf, err := rtcp.Marshal([]rtcp.Packet{sr, rr})
	require.NoError(t, err)

	packets := make([]rtcp.Packet, 2)
	n, err := RTCPUnmarshal(buf, packets)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	gotSR, ok := packets[0].(*rtcp.SenderReport)
	require.True(t, ok)
	assert.Equal(t, uint32(111), gotSR.SSRC)

	gotRR, ok := packets[1].(*rtcp.ReceiverReport)
	require.True(t, ok)
	assert.Equal(t, uint32(222), gotRR.SSRC)
}

func TestRTCPUnmarshalTypesFeedbackPackets(t *testing.T) {
	pli := BuildPLI(1, 2)
	buf, err := rtcp.Marshal([]rtcp.Packet{pli})
	require.NoError(t, err)

	packets := make([]rtcp.Packet, 1)
	n, err := RTCPUnmarshal(buf, packets)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, ok := packets[0].(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(1), got.SenderSSRC)
	assert.Equal(t, uint32(2), got.MediaSSRC)
}

func TestFixCompoundSSRC(t *testing.T) {
	sr := &rtcp.SenderReport{SSRC: 1}
	rr := &rtcp.ReceiverReport{SSRC: 1, Reports: []rtcp.ReceptionReport{{SSRC: 2}}}
	pli := BuildPLI(1, 2)

	pkts := []rtcp.Packet{sr, rr, pli}
	FixCompoundSSRC(pkts, 0xaaaa, 0xbbbb)

	assert.Equal(t, uint32(0xaaaa), sr.SSRC)
	assert.Equal(t, uint32(0xaaaa), rr.SSRC)
	assert.Equal(t, uint32(0xbbbb), rr.Reports[0].SSRC)
	assert.Equal(t, uint32(0xaaaa), pli.SenderSSRC)
	assert.Equal(t, uint32(0xbbbb), pli.MediaSSRC)

	_, err := MarshalRTCP(pkts)
	assert.NoError(t, err)
}
