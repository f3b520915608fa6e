// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package media

import "time"

var ntpEpochOffset int64 = 2208988800

// GetCurrentNTPTimestamp returns the 64-bit NTP timestamp (32-bit seconds |
// 32-bit fraction) for now, used as the o= line session-id/version when
// generating SDP.
func GetCurrentNTPTimestamp() uint64 {
	return NTPTimestamp(time.Now())
}

func NTPTimestamp(t time.Time) uint64 {
	seconds := t.Unix() + ntpEpochOffset
	nanos := t.Nanosecond()
	frac := (float64(nanos) / 1e9) * (1 << 32)
	return (uint64(seconds) << 32) | uint64(frac)
}

func NTPToTime(ntpTimestamp uint64) time.Time {
	seconds := int64(ntpTimestamp >> 32)
	frac := float64(ntpTimestamp&0x00000000FFFFFFFF) / (1 << 32)
	unixSeconds := seconds - ntpEpochOffset
	nsec := int64(frac * 1e9)
	return time.Unix(unixSeconds, nsec)
}
