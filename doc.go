// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

// Package nosip is a signalling-agnostic media bridge: it turns a WebRTC
// negotiation on one side into a plain RTP/RTCP leg on the other. Call
// signalling (SIP, XMPP, or anything else) is handled entirely outside this
// package; callers drive sessions through the Dispatcher's request methods,
// feed WebRTC-side media in through Bridge.OnRTP/OnRTCP, and receive relayed
// media and events through the Host capability interface.
package nosip
