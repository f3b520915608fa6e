// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"fmt"
	"net"
	"syscall"
)

// ConnectUDP connects an already-bound UDP socket to raddr using the raw
// connect(2) syscall rather than re-dialing, so the Relay Worker keeps its
// allocated local port while gaining ICMP port-unreachable detection (the
// POLLERR/POLLHUP handling in §4.5 item 5 depends on the socket being
// connected). Re-entrant: calling again with a different raddr re-targets
// the same fd, which is how mid-session peer address changes (§4.5 item 1)
// are applied without reallocating ports.
func ConnectUDP(conn *net.UDPConn, raddr *net.UDPAddr) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("media: syscall conn: %w", err)
	}

	sa, err := sockaddrFromUDPAddr(raddr)
	if err != nil {
		return err
	}

	var connErr error
	err = raw.Control(func(fd uintptr) {
		connErr = syscall.Connect(int(fd), sa)
	})
	if err != nil {
		return fmt.Errorf("media: connect control: %w", err)
	}
	return connErr
}

func sockaddrFromUDPAddr(addr *net.UDPAddr) (syscall.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa syscall.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, fmt.Errorf("media: invalid remote IP %q", addr.IP)
	}
	var sa syscall.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], ip6)
	return &sa, nil
}
