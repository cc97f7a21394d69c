package tracker

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/executor"
	"github.com/bitswarm/tracker/middleware"
	"github.com/bitswarm/tracker/storage"
	"github.com/bitswarm/tracker/storage/memory"
)

func newTestState(t *testing.T) executor.State {
	ps, err := memory.New(memory.Config{
		ShardCount:                  1,
		GarbageCollectionInterval:   time.Hour,
		PrometheusReportingInterval: time.Hour,
		PeerLifetime:                time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { <-ps.Stop() })

	return executor.State{
		Storage: ps,
		Config: &Config{
			AnnounceInterval:    time.Minute,
			MinAnnounceInterval: 30 * time.Second,
			DefaultNumWant:      50,
			MaxNumWant:          100,
			AutoRegisterTorrent: true,
			AllowFullScrape:     true,
		},
	}
}

func peer(id byte, port uint16) bittorrent.Peer {
	var raw [20]byte
	raw[0] = id
	return bittorrent.Peer{
		ID:       bittorrent.PeerID(raw),
		AddrPort: netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port),
	}
}

func TestAnnounceBlockedInfohash(t *testing.T) {
	s := newTestState(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	s.Config.(*Config).InfohashBlocklist = map[bittorrent.InfoHash]struct{}{ih: {}}

	l := Logic{}
	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		InfoHash: ih,
		Peer:     peer(1, 6881),
	})
	require.Equal(t, ErrBlockedInfohash, err)
}

func TestAnnounceAutoRegisterDisabled(t *testing.T) {
	s := newTestState(t)
	s.Config.(*Config).AutoRegisterTorrent = false
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

	l := Logic{}
	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		InfoHash: ih,
		Peer:     peer(1, 6881),
	})
	require.Equal(t, ErrNotFoundTorrent, err)
}

func TestAnnounceStartedThenLeecherSeesNoSelf(t *testing.T) {
	s := newTestState(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	l := Logic{}

	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)

	resp, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(2, 6882),
	})
	require.NoError(t, err)
	require.Len(t, resp.IPv4Peers, 1)
	require.Equal(t, peer(1, 6881), resp.IPv4Peers[0])
}

func TestAnnounceCompletedRequiresLeftZero(t *testing.T) {
	s := newTestState(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	l := Logic{}

	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Completed,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.Equal(t, ErrInvalidAnnounceRequest, err)
}

func TestAnnounceCompletedPromotesToSeeder(t *testing.T) {
	s := newTestState(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	l := Logic{}

	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)

	_, err = l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Completed,
		InfoHash: ih,
		Left:     0,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)

	stats, err := s.Storage.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Complete)
	require.EqualValues(t, 0, stats.Incomplete)
}

func TestAnnounceStoppedRemovesPeer(t *testing.T) {
	s := newTestState(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	l := Logic{}

	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)

	resp, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Stopped,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)
	require.Empty(t, resp.IPv4Peers)

	stats, err := s.Storage.GetTorrentStats(ih, bittorrent.IPv4)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Incomplete)
}

func TestScrapeUnknownInfohashOmitted(t *testing.T) {
	s := newTestState(t)
	l := Logic{}

	resp, err := l.Scrape(context.Background(), s, bittorrent.ScrapeRequest{
		InfoHashes:    []bittorrent.InfoHash{bittorrent.InfoHashFromString("bbbbbbbbbbbbbbbbbbbb")},
		AddressFamily: bittorrent.IPv4,
	})
	require.NoError(t, err)
	require.Empty(t, resp.Files)
}

func TestScrapeEmptyRejectsUnlessFullScrapeCache(t *testing.T) {
	s := newTestState(t)
	s.Config.(*Config).AllowFullScrape = false
	l := Logic{}

	_, err := l.Scrape(context.Background(), s, bittorrent.ScrapeRequest{})
	require.Equal(t, storage.ErrFullScrapeNotAllowed, err)
}

func TestFullScrapeProducesBencodedFiles(t *testing.T) {
	s := newTestState(t)
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	l := Logic{}

	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)

	payload, err := l.FullScrape(context.Background(), s)
	require.NoError(t, err)
	require.Contains(t, string(payload), "files")
}

type rejectHook struct{ err error }

func (h rejectHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	return ctx, h.err
}

func (h rejectHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	return ctx, h.err
}

func TestAnnounceHookVetoesBeforeSwarmMutation(t *testing.T) {
	s := newTestState(t)
	wantErr := bittorrent.ClientError("nope")
	s.Config.(*Config).Hooks = []middleware.Hook{rejectHook{err: wantErr}}
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

	l := Logic{}
	_, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.Equal(t, wantErr, err)

	has, err := s.Storage.HasTorrent(ih)
	require.NoError(t, err)
	require.False(t, has, "a vetoed announce must not register the torrent")
}

type appendPeerHook struct{ peer bittorrent.Peer }

func (h appendPeerHook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	resp.IPv4Peers = append(resp.IPv4Peers, h.peer)
	return ctx, nil
}

func (h appendPeerHook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	return ctx, nil
}

func TestAnnounceHookAugmentsResponse(t *testing.T) {
	s := newTestState(t)
	extra := peer(9, 53)
	s.Config.(*Config).Hooks = []middleware.Hook{appendPeerHook{peer: extra}}
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")

	l := Logic{}
	resp, err := l.Announce(context.Background(), s, bittorrent.AnnounceRequest{
		Event:    bittorrent.Started,
		InfoHash: ih,
		Left:     1,
		Peer:     peer(1, 6881),
	})
	require.NoError(t, err)
	require.Contains(t, resp.IPv4Peers, extra)
}
