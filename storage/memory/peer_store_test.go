package memory

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/storage"
)

func newTestStore(t *testing.T) storage.PeerStore {
	ps, err := New(Config{
		ShardCount:                  16,
		GarbageCollectionInterval:   time.Hour,
		PrometheusReportingInterval: time.Hour,
		PeerLifetime:                time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-ps.Stop() })
	return ps
}

func peerAt(port uint16) bittorrent.Peer {
	return bittorrent.Peer{
		ID:       bittorrent.PeerIDFromString("aaaaaaaaaaaaaaaaaaaa"),
		AddrPort: netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port),
	}
}

func TestConformance(t *testing.T) {
	ps := newTestStore(t)
	storage.TestPeerStore(t, ps)
}

func TestInsertHasRemoveTorrent(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

	ok, err := ps.HasTorrent(ih)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ps.InsertTorrent(ih))
	ok, err = ps.HasTorrent(ih)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, ps.RemoveTorrent(ih))
	ok, err = ps.HasTorrent(ih)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPutAndScrape(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("bbbbbbbbbbbbbbbbbbbb")

	key := bittorrent.NewPeerIDKey(peerAt(1).ID, nil)
	require.NoError(t, ps.PutPeerInSwarm(ih, key, peerAt(1), bittorrent.Leecher))

	stats, err := ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Incomplete)
	require.EqualValues(t, 0, stats.Complete)
}

func TestGetTorrentStatsUnknown(t *testing.T) {
	ps := newTestStore(t)
	_, err := ps.GetTorrentStats(bittorrent.InfoHashFromString("cccccccccccccccccccc"), bittorrent.IPv4)
	require.ErrorIs(t, err, storage.ErrResourceDoesNotExist)
}

func TestPromotePeerInSwarm(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("dddddddddddddddddddd")
	require.NoError(t, ps.InsertTorrent(ih))

	p := peerAt(2)
	key := bittorrent.NewPeerIDKey(p.ID, nil)
	require.NoError(t, ps.PutPeerInSwarm(ih, key, p, bittorrent.Leecher))

	require.NoError(t, ps.PromotePeerInSwarm(ih, key, p))

	stats, err := ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Complete)
	require.EqualValues(t, 0, stats.Incomplete)
	require.EqualValues(t, 1, stats.Downloaded)

	// Promoting again: the peer is no longer a leecher, so this is a no-op
	// and the completed counter must not increase again.
	require.NoError(t, ps.PromotePeerInSwarm(ih, key, p))
	stats, err = ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Downloaded)
}

func TestRemovePeerFromSwarm(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("eeeeeeeeeeeeeeeeeeee")

	p := peerAt(3)
	key := bittorrent.NewPeerIDKey(p.ID, nil)
	require.NoError(t, ps.PutPeerInSwarm(ih, key, p, bittorrent.Seeder))
	require.NoError(t, ps.RemovePeerFromSwarm(ih, key, bittorrent.Seeder, bittorrent.IPv4))

	// Removing an absent peer is not an error.
	require.NoError(t, ps.RemovePeerFromSwarm(ih, key, bittorrent.Seeder, bittorrent.IPv4))
}

func TestExtractPeersFromSwarmOrdering(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("ffffffffffffffffffff")

	var keys []bittorrent.PeerIDKey
	for i := uint16(1); i <= 5; i++ {
		p := peerAt(i)
		key := bittorrent.NewPeerIDKey(p.ID, []byte{byte(i)})
		keys = append(keys, key)
		require.NoError(t, ps.PutPeerInSwarm(ih, key, p, bittorrent.Leecher))
	}

	var seen []bittorrent.PeerIDKey
	stats, err := ps.ExtractPeersFromSwarm(ih, bittorrent.Seeder, bittorrent.IPv4, func(k bittorrent.PeerIDKey, p bittorrent.Peer) bool {
		seen = append(seen, k)
		return true
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.Incomplete)
	require.Len(t, seen, 5)
}

func TestCollectGarbage(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("gggggggggggggggggggg")

	p := peerAt(4)
	key := bittorrent.NewPeerIDKey(p.ID, nil)
	require.NoError(t, ps.PutPeerInSwarm(ih, key, p, bittorrent.Leecher))

	require.NoError(t, ps.CollectGarbage(time.Now().Add(time.Hour)))

	stats, err := ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Incomplete)
}
