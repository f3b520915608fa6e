// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package media

import "strings"

// staticPayloadNames is the RFC 3551 static payload type table, used as a
// fallback when a media block has no rtpmap for a given PT (legal per SDP
// for PTs 0-34).
var staticPayloadNames = map[uint8]string{
	0:  "PCMU",
	3:  "GSM",
	4:  "G723",
	5:  "DVI4",
	6:  "DVI4",
	7:  "LPC",
	8:  "PCMA",
	9:  "G722",
	10: "L16",
	11: "L16",
	12: "QCELP",
	13: "CN",
	14: "MPA",
	15: "G728",
	16: "DVI4",
	17: "DVI4",
	18: "G729",
	25: "CELB",
	26: "JPEG",
	28: "nv",
	31: "H261",
	32: "MPV",
	33: "MP2T",
	34: "H263",
}

// CodecName resolves the textual codec name for a negotiated payload type.
// rtpmapName is whatever "a=rtpmap:<pt> <name>/<clock>..." the SDP carried
// for this PT, if any; it always wins over the static table.
func CodecName(pt uint8, rtpmapName string) string {
	if rtpmapName != "" {
		if i := strings.IndexByte(rtpmapName, '/'); i >= 0 {
			return rtpmapName[:i]
		}
		return rtpmapName
	}
	if name, ok := staticPayloadNames[pt]; ok {
		return name
	}
	return "unknown"
}
