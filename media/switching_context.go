// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

// SwitchingContext rewrites outgoing RTP sequence numbers and timestamps so
// a downstream consumer sees one continuous stream even when the upstream
// SSRC changes mid-session (a re-INVITE/re-negotiation, a failover, or a
// simulcast layer hop on the peer side).
//
// Not safe for concurrent use; the Relay Worker is its only caller, and it
// owns exactly one per (session, media, direction).
type SwitchingContext struct {
	haveSource bool
	srcSSRC    uint32
	srcSeqBase uint16 // first source seq observed for the current source SSRC
	srcTSBase  uint32

	outSeqBase uint16
	outTSBase  uint32

	lastOutSeq uint16
	lastOutTS  uint32
}

// NewSwitchingContext returns a context ready to anchor on the first packet
// it sees.
func NewSwitchingContext() *SwitchingContext {
	return &SwitchingContext{}
}

// Rewrite maps an incoming (ssrc, seq, ts) onto the continuous output
// numbering, returning the sequence number and timestamp to emit. On the
// first packet, or whenever ssrc changes from the last one seen, it
// re-anchors the mapping at the next free output slot so the emitted stream
// never goes backwards or jumps, satisfying the monotonic-across-SSRC-change
// invariant in §3.
func (c *SwitchingContext) Rewrite(ssrc uint32, seq uint16, ts uint32) (outSeq uint16, outTS uint32) {
	if !c.haveSource || ssrc != c.srcSSRC {
		c.haveSource = true
		c.srcSSRC = ssrc
		c.srcSeqBase = seq
		c.srcTSBase = ts

		if c.outSeqBase == 0 && c.outTSBase == 0 && c.lastOutSeq == 0 && c.lastOutTS == 0 {
			// very first packet of the session: start counters at the
			// source's own numbering for a clean first exchange
			c.outSeqBase = seq
			c.outTSBase = ts
		} else {
			// re-anchor one tick after the last number we emitted so the
			// far side sees no gap and no rewind
			c.outSeqBase = c.lastOutSeq + 1
			c.outTSBase = c.lastOutTS + 1
		}
	}

	outSeq = c.outSeqBase + (seq - c.srcSeqBase)
	outTS = c.outTSBase + (ts - c.srcTSBase)

	c.lastOutSeq = outSeq
	c.lastOutTS = outTS
	return outSeq, outTS
}
