// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"net"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// setIPTOS applies dscp (a 6-bit DSCP codepoint, e.g. general.dscp_audio_rtp)
// as IP_TOS on conn, shifted left by 2 per §4.1 since the DSCP codepoint
// occupies the top 6 bits of the 8-bit TOS/TCLASS byte. Best effort: some
// container runtimes reject the sockopt, which should never fail port
// allocation.
func setIPTOS(conn *net.UDPConn, dscp int) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}

	tos := dscp << 2

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
		if sockErr == nil {
			return
		}
		// IPv6 socket, retry with TCLASS
		sockErr = syscall.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
	})
	if err != nil || sockErr != nil {
		log.Debug().Err(err).AnErr("sockopt_err", sockErr).Msg("media: IP_TOS not applied")
	}
}
