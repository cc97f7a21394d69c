package redis

import (
	"encoding/hex"
	"strconv"

	"github.com/bitswarm/tracker/bittorrent"
)

// Key layout: "<prefix>ih:<hex infohash>:<family>:<table>" for swarm hashes,
// "<prefix>ih:<hex infohash>:meta" for the per-torrent completed counter,
// "<prefix>torrents" for the set of known infohashes.

func familyTag(af bittorrent.AddressFamily) string {
	if af == bittorrent.IPv6 {
		return "6"
	}
	return "4"
}

func tableTag(pt bittorrent.PeerType) string {
	switch pt {
	case bittorrent.Seeder:
		return "seeders"
	case bittorrent.Partial:
		return "partials"
	default:
		return "leechers"
	}
}

func (ps *peerStore) torrentsSetKey() string {
	return ps.cfg.Prefix + "torrents"
}

func (ps *peerStore) metaKey(ih bittorrent.InfoHash) string {
	return ps.cfg.Prefix + "ih:" + hex.EncodeToString(ih[:]) + ":meta"
}

func (ps *peerStore) swarmKey(ih bittorrent.InfoHash, af bittorrent.AddressFamily, pt bittorrent.PeerType) string {
	return ps.cfg.Prefix + "ih:" + hex.EncodeToString(ih[:]) + ":" + familyTag(af) + ":" + tableTag(pt)
}

func ihFromHex(s string) (bittorrent.InfoHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return bittorrent.InfoHash{}, err
	}
	if len(b) != 20 {
		return bittorrent.InfoHash{}, strconv.ErrSyntax
	}
	return bittorrent.InfoHashFromBytes(b), nil
}
