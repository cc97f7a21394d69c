package redis

import (
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/storage"
)

func mustAddrPort(ip string, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr(ip), port)
}

func newTestStore(t *testing.T) storage.PeerStore {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	ps, err := New(Config{
		Addr:                        mr.Addr(),
		Prefix:                      "test:",
		MaxConnections:              4,
		GarbageCollectionInterval:   time.Hour,
		PrometheusReportingInterval: time.Hour,
		PeerLifetime:                time.Hour,
		StatsCacheTTL:               time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-ps.Stop() })
	return ps
}

func TestConformance(t *testing.T) {
	ps := newTestStore(t)
	storage.TestPeerStore(t, ps)
}

func TestPromoteIsAtomic(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	p := bittorrent.Peer{
		ID:       bittorrent.PeerIDFromString("aaaaaaaaaaaaaaaaaaaa"),
		AddrPort: mustAddrPort("10.0.0.1", 6881),
	}
	key := bittorrent.NewPeerIDKey(p.ID, nil)

	require.NoError(t, ps.InsertTorrent(ih))
	require.NoError(t, ps.PutPeerInSwarm(ih, key, p, bittorrent.Leecher))
	require.NoError(t, ps.PromotePeerInSwarm(ih, key, p))

	// Promoting the same key twice must not double-count the completed
	// counter: the second call finds no leecher to remove.
	require.NoError(t, ps.PromotePeerInSwarm(ih, key, p))

	stats, err := ps.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Downloaded)
	require.EqualValues(t, 1, stats.Complete)
}

func TestExtractPeersFromSwarmRedis(t *testing.T) {
	ps := newTestStore(t)
	ih := bittorrent.InfoHashFromString("bbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, ps.InsertTorrent(ih))

	for i := 0; i < 3; i++ {
		id := bittorrent.PeerIDFromBytes([]byte{byte(i), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
		p := bittorrent.Peer{ID: id, AddrPort: mustAddrPort("10.0.0.1", uint16(6881+i))}
		key := bittorrent.NewPeerIDKey(p.ID, nil)
		require.NoError(t, ps.PutPeerInSwarm(ih, key, p, bittorrent.Seeder))
	}

	var seen []bittorrent.PeerIDKey
	stats, err := ps.ExtractPeersFromSwarm(ih, bittorrent.Leecher, bittorrent.IPv4, func(k bittorrent.PeerIDKey, p bittorrent.Peer) bool {
		seen = append(seen, k)
		return true
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Complete)
	require.Len(t, seen, 3)
}
