//go:build linux

package autoiface

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// joinMulticastGroup subscribes conn to group on the named link-local
// interface via IPV6_JOIN_GROUP, mirroring the Control-callback socket
// option pattern used for BFD's GTSM socket setup.
func joinMulticastGroup(conn *net.UDPConn, group net.IP, ifi *net.Interface) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("autoiface: syscall conn: %w", err)
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd uintptr->int is safe; kernel FDs are always small positive integers.
		intFD := int(fd)
		if err := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
			return
		}
		if err := unix.SetsockoptInt(intFD, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			sockErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
			return
		}

		mreq := &unix.IPv6Mreq{}
		copy(mreq.Multiaddr[:], group.To16())
		mreq.Interface = uint32(ifi.Index)

		if err := unix.SetsockoptIPv6Mreq(intFD, unix.IPPROTO_IPV6, unix.IPV6_JOIN_GROUP, mreq); err != nil {
			sockErr = fmt.Errorf("set IPV6_JOIN_GROUP: %w", err)
			return
		}

		if err := unix.SetsockoptInt(intFD, unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, 1); err != nil {
			sockErr = fmt.Errorf("set IPV6_MULTICAST_HOPS: %w", err)
			return
		}
	})
	if ctrlErr != nil {
		return fmt.Errorf("autoiface: raw conn control: %w", ctrlErr)
	}
	return sockErr
}
