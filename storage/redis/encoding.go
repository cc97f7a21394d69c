package redis

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/bitswarm/tracker/bittorrent"
)

// A peer entry is stored as the hash value under its PeerIDKey field:
// 8 bytes mtime (unix nanoseconds) + 20 bytes peer ID + 2 bytes port +
// the address, whose length is implied by the address family of the swarm
// the entry lives in.
func encodePeerValue(p bittorrent.Peer, mtime int64) []byte {
	addr := p.AddrPort.Addr()
	if addr.Is4In6() {
		addr = addr.Unmap()
	}
	addrBytes := addr.AsSlice()

	buf := make([]byte, 8+20+2+len(addrBytes))
	binary.BigEndian.PutUint64(buf[0:8], uint64(mtime))
	copy(buf[8:28], p.ID[:])
	binary.BigEndian.PutUint16(buf[28:30], p.AddrPort.Port())
	copy(buf[30:], addrBytes)
	return buf
}

func decodePeerValue(b []byte, af bittorrent.AddressFamily) (bittorrent.Peer, int64, error) {
	addrLen := 4
	if af == bittorrent.IPv6 {
		addrLen = 16
	}
	if len(b) != 8+20+2+addrLen {
		return bittorrent.Peer{}, 0, fmt.Errorf("redis: malformed peer value (len %d)", len(b))
	}

	mtime := int64(binary.BigEndian.Uint64(b[0:8]))

	var id bittorrent.PeerID
	copy(id[:], b[8:28])

	port := binary.BigEndian.Uint16(b[28:30])

	addr, ok := netip.AddrFromSlice(b[30:])
	if !ok {
		return bittorrent.Peer{}, 0, fmt.Errorf("redis: malformed peer address")
	}

	return bittorrent.Peer{
		ID:       id,
		AddrPort: netip.AddrPortFrom(addr, port),
	}, mtime, nil
}
