// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabridge/nosip/audio"
)

func TestRecorderSetStartStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	var rs RecorderSet

	require.NoError(t, rs.Start(RecorderOwnAudio, filepath.Join(dir, "own-audio"), "PCMU"))
	rs.Stop(RecorderOwnAudio)
	rs.Stop(RecorderOwnAudio) // no-op, must not panic or error
}

func TestRecorderSetWritesPCMUToWav(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "own-audio.wav")
	var rs RecorderSet

	require.NoError(t, rs.Start(RecorderOwnAudio, path, "PCMU"))

	ulaw := make([]byte, 160)
	for i := range ulaw {
		ulaw[i] = 0xFF
	}
	pkt := &rtp.Packet{Payload: ulaw}

	rec := rs.ownRecorder(false)
	require.NotNil(t, rec)
	rec.WriteRTP(pkt)
	rs.Stop(RecorderOwnAudio)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("RIFF")))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	wr := audio.NewWavReader(f)
	require.NoError(t, wr.ReadHeaders())
	assert.True(t, wr.DataSize > 0)
}

func TestRecorderSetVideoIsRawPassthrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "own-video.raw")
	var rs RecorderSet

	require.NoError(t, rs.Start(RecorderOwnVideo, path, "VP8"))
	rec := rs.ownRecorder(true)
	require.NotNil(t, rec)

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	rec.WriteRTP(&rtp.Packet{Payload: payload})
	rs.Stop(RecorderOwnVideo)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestRecorderSetCloseAll(t *testing.T) {
	dir := t.TempDir()
	var rs RecorderSet
	require.NoError(t, rs.Start(RecorderOwnAudio, filepath.Join(dir, "a"), "PCMU"))
	require.NoError(t, rs.Start(RecorderPeerVideo, filepath.Join(dir, "b"), "VP8"))

	rs.CloseAll()
	assert.Nil(t, rs.ownRecorder(false))
	assert.Nil(t, rs.peerRecorder(true))
}

func TestRecordingFilenameSafeHandle(t *testing.T) {
	assert.Equal(t, "call-42", recordingFilenameSafeHandle("call-42"))
	assert.NotEmpty(t, recordingFilenameSafeHandle(""))
	assert.NotContains(t, recordingFilenameSafeHandle("../../etc/passwd"), "/")
}

func TestDecodeAlawFillsPCMBuffer(t *testing.T) {
	alaw := []byte{0xD5, 0x55}
	pcm := make([]byte, len(alaw)*2)
	n, err := audio.DecodeAlawTo(pcm, alaw)
	require.NoError(t, err)
	assert.Equal(t, len(pcm), n)
}
