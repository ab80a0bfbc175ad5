package wire

import (
	"net"

	"github.com/torlando-tech/reticulum-core/internal/rcrypto"
)

// DiscoveryTokenSize is the width of an AutoInterface discovery packet:
// the full, untruncated SHA-256 hash (spec §4.4/§6: "Exactly 32 octets").
const DiscoveryTokenSize = rcrypto.HashSize

// multicastPrefix is the fixed IPv6 multicast prefix AutoInterface uses:
// ff12 (link-local, transient, unicast-prefix-based flags unset) followed
// by a zero flow-label field, per spec §4.4 (network byte order, the
// resolved reading of the original's ambiguous address-assembly comment,
// spec §9).
var multicastPrefix = [4]byte{0xff, 0x12, 0x00, 0x00}

// DiscoveryToken derives the 32-byte value a node multicasts to prove
// knowledge of the shared group id, binding the token to the sender's
// own link-local address string so a receiver can independently
// recompute and verify it from the UDP source address alone (spec §4.4:
// "full_hash(group_id || utf8(own_link_local_addr_string))").
func DiscoveryToken(groupID, linkLocalAddr string) [DiscoveryTokenSize]byte {
	return rcrypto.FullHash([]byte(groupID + linkLocalAddr))
}

// MulticastGroupAddress derives the IPv6 multicast group address peers
// join to discover each other, from the group id alone (spec §4.4):
// ff12:0000:<first 12 bytes of full_hash(group_id)>, network byte order.
func MulticastGroupAddress(groupID string) net.IP {
	full := rcrypto.FullHash([]byte(groupID))

	addr := make(net.IP, net.IPv6len)
	copy(addr[0:4], multicastPrefix[:])
	copy(addr[4:16], full[:12])
	return addr
}
