package storage

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
)

// TestPeerStore runs a conformance suite against any PeerStore
// implementation, so that every driver is provably interchangeable from the
// Worker's point of view. Callers are responsible for stopping ps.
func TestPeerStore(t *testing.T, ps PeerStore) {
	t.Helper()

	ih := bittorrent.InfoHashFromString("01234567890123456789")
	peer := bittorrent.Peer{
		ID:       bittorrent.PeerIDFromString("-TR0000-0123456789ab"[:20]),
		AddrPort: netip.AddrPortFrom(netip.MustParseAddr("192.0.2.1"), 6881),
	}
	key := bittorrent.NewPeerIDKey(peer.ID, nil)

	require.NoError(t, ps.InsertTorrent(ih))
	ok, err := ps.HasTorrent(ih)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ps.PutPeerInSwarm(ih, key, peer, bittorrent.Leecher))

	stats, err := ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Incomplete)
	require.EqualValues(t, 0, stats.Complete)

	require.NoError(t, ps.PromotePeerInSwarm(ih, key, peer))
	stats, err = ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Incomplete)
	require.EqualValues(t, 1, stats.Complete)
	require.EqualValues(t, 1, stats.Downloaded)

	require.NoError(t, ps.RemovePeerFromSwarm(ih, key, bittorrent.Seeder, bittorrent.IPv4))
	stats, err = ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Complete)

	require.NoError(t, ps.RemoveTorrent(ih))
	ok, err = ps.HasTorrent(ih)
	require.NoError(t, err)
	require.False(t, ok)
}
