package fragment

import (
	"github.com/torlando-tech/reticulum-core/internal/wire"
)

// Split breaks packet into wire-ready BLE fragments, each sized to fit
// within mtu bytes including its 5-byte header (spec §4.2). The returned
// slices are ready to write to a peer's RX characteristic in order.
func Split(packet []byte, mtu int) ([][]byte, error) {
	frags, err := wire.FragmentPayload(packet, mtu)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(frags))
	for i, f := range frags {
		out[i] = f.Marshal()
	}
	return out, nil
}
