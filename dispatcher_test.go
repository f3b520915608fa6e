// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediabridge/nosip/media"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry, *fakeHost) {
	t.Helper()
	rng, err := media.NewPortRange(21000, 21200)
	require.NoError(t, err)
	alloc := media.NewPortAllocator(rng, net.ParseIP("127.0.0.1"))
	cfg, err := ParseConfig(map[string]any{"sdp_ip": "203.0.113.5"})
	require.NoError(t, err)

	host := newFakeHost()
	reg := NewRegistry(host)
	disp := NewDispatcher(reg, alloc, NewSDPTransformer(cfg, alloc))
	go disp.Run()
	t.Cleanup(disp.Stop)

	return disp, reg, host
}

func TestDispatcherGenerateOffer(t *testing.T) {
	disp, reg, _ := newTestDispatcher(t)
	s := reg.Create("call-1")

	ev, err := disp.Generate("call-1", "tx1", GenerateRequest{LocalSDP: localOfferSDP})
	require.NoError(t, err)
	assert.Equal(t, EventGenerated, ev.Name)
	assert.Equal(t, "offer", ev.Type)
	assert.Contains(t, ev.SDP, "203.0.113.5")
	assert.Equal(t, StateNegotiating, s.State())
}

func TestDispatcherGenerateUnknownSession(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	_, err := disp.Generate("no-such-call", "tx1", GenerateRequest{LocalSDP: localOfferSDP})
	require.Error(t, err)
}

func TestDispatcherGenerateMissingSDP(t *testing.T) {
	disp, reg, _ := newTestDispatcher(t)
	reg.Create("call-2")

	_, err := disp.Generate("call-2", "tx1", GenerateRequest{})
	require.Error(t, err)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, ErrCodeMissingSDP, reqErr.Code)
}

func TestDispatcherRejectedRequestEmitsErrorEvent(t *testing.T) {
	disp, reg, host := newTestDispatcher(t)
	reg.Create("call-err")

	_, err := disp.Generate("call-err", "tx1", GenerateRequest{})
	require.Error(t, err)

	require.NotEmpty(t, host.events)
	ev := host.events[len(host.events)-1]
	assert.Equal(t, EventError, ev.Name)
	assert.Equal(t, ErrCodeMissingSDP, ev.ErrorCode)
	assert.NotEmpty(t, ev.ErrorReason)
}

func TestDispatcherProcessAnswerStartsRelay(t *testing.T) {
	disp, reg, _ := newTestDispatcher(t)
	s := reg.Create("call-3")

	_, err := disp.Generate("call-3", "tx1", GenerateRequest{LocalSDP: localOfferSDP})
	require.NoError(t, err)

	ev, err := disp.Process("call-3", "tx2", ProcessRequest{Type: "answer", SDP: remoteAnswerSDP})
	require.NoError(t, err)
	assert.Equal(t, EventProcessed, ev.Name)

	assert.Eventually(t, func() bool {
		return s.State() == StateReady
	}, time.Second, 10*time.Millisecond)

	disp.Hangup("call-3", "tx3")
	assert.Eventually(t, func() bool {
		return s.IsHangingUp()
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherProcessSetsSimulcastSSRC(t *testing.T) {
	disp, reg, _ := newTestDispatcher(t)
	s := reg.Create("call-3b")

	_, err := disp.Process("call-3b", "tx1", ProcessRequest{
		Type:                  "answer",
		SDP:                   remoteAnswerSDP,
		HasVideoSimulcastSSRC: true,
		VideoSimulcastSSRC:    0xcafef00d,
	})
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.Video.HasSimulcastSSRC)
	assert.Equal(t, uint32(0xcafef00d), s.Video.SimulcastSSRC)
}

func TestDispatcherProcessRejectsBadType(t *testing.T) {
	disp, reg, _ := newTestDispatcher(t)
	reg.Create("call-4")

	_, err := disp.Process("call-4", "tx1", ProcessRequest{Type: "bogus", SDP: remoteAnswerSDP})
	require.Error(t, err)
}

func TestDispatcherKeyframeAsksHostForUserPLI(t *testing.T) {
	disp, reg, host := newTestDispatcher(t)
	reg.Create("call-5")

	_, err := disp.Keyframe("call-5", "tx1", KeyframeRequest{User: true})
	require.NoError(t, err)
	assert.Equal(t, 1, host.plisSent)
}

func TestDispatcherHangupUnknownSession(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	_, err := disp.Hangup("nope", "tx1")
	require.Error(t, err)
}

func TestDispatcherRecordingRejectsBadAction(t *testing.T) {
	disp, reg, _ := newTestDispatcher(t)
	reg.Create("call-6")

	_, err := disp.Recording("call-6", "tx1", RecordingRequest{Action: "pause"}, func() int64 { return 0 })
	require.Error(t, err)
}
