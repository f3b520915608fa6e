// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwitchingContextFirstPacketPassesThrough(t *testing.T) {
	c := NewSwitchingContext()
	seq, ts := c.Rewrite(0x1111, 100, 8000)
	assert.Equal(t, uint16(100), seq)
	assert.Equal(t, uint32(8000), ts)
}

func TestSwitchingContextContinuesMonotonic(t *testing.T) {
	c := NewSwitchingContext()
	c.Rewrite(0x1111, 100, 8000)
	seq, ts := c.Rewrite(0x1111, 101, 8160)
	assert.Equal(t, uint16(101), seq)
	assert.Equal(t, uint32(8160), ts)
}

func TestSwitchingContextReanchorsOnSSRCChange(t *testing.T) {
	c := NewSwitchingContext()
	lastSeq, lastTS := c.Rewrite(0x1111, 100, 8000)
	lastSeq, lastTS = c.Rewrite(0x1111, 101, 8160)

	// source SSRC changes mid-session with its own, unrelated numbering
	newSeq, newTS := c.Rewrite(0x2222, 5000, 999000)
	assert.Equal(t, lastSeq+1, newSeq, "must continue one past the last emitted seq")
	assert.Equal(t, lastTS+1, newTS, "must continue one past the last emitted ts")

	// subsequent packets from the new source stay monotonic relative to it
	nextSeq, nextTS := c.Rewrite(0x2222, 5001, 999160)
	assert.Equal(t, newSeq+1, nextSeq)
	assert.Equal(t, newTS+160, nextTS)
}

func TestSwitchingContextNoRewriteWithinSameSource(t *testing.T) {
	c := NewSwitchingContext()
	c.Rewrite(0xaaaa, 1, 100)
	seq1, ts1 := c.Rewrite(0xaaaa, 2, 260)
	seq2, ts2 := c.Rewrite(0xaaaa, 3, 420)
	assert.Equal(t, seq1+1, seq2)
	assert.Equal(t, ts1+160, ts2)
}
