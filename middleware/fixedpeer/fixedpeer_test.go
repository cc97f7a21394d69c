package fixedpeer

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
)

func TestAppendFixedPeer(t *testing.T) {
	conf := Config{
		FixedPeers: []string{"8.8.8.8:4040", "1.1.1.1:111", "[fc00::1]:53"},
	}
	h, err := NewHook(conf)
	require.Nil(t, err)

	ctx := context.Background()
	req := &bittorrent.AnnounceRequest{
		Peer: bittorrent.Peer{AddrPort: netip.AddrPortFrom(netip.MustParseAddr("9.9.9.9"), 6881)},
	}
	resp := &bittorrent.AnnounceResponse{}

	nctx, err := h.HandleAnnounce(ctx, req, resp)
	require.Nil(t, err)
	require.Equal(t, ctx, nctx)

	want := []bittorrent.Peer{
		{AddrPort: netip.AddrPortFrom(netip.MustParseAddr("8.8.8.8"), 4040)},
		{AddrPort: netip.AddrPortFrom(netip.MustParseAddr("1.1.1.1"), 111)},
	}
	require.Equal(t, want, resp.IPv4Peers)
	require.Equal(t, int32(2), resp.Complete)
	require.Empty(t, resp.IPv6Peers)
}

func TestAppendFixedPeerIPv6(t *testing.T) {
	conf := Config{FixedPeers: []string{"[fc00::1]:53"}}
	h, err := NewHook(conf)
	require.Nil(t, err)

	ctx := context.Background()
	req := &bittorrent.AnnounceRequest{
		Peer: bittorrent.Peer{AddrPort: netip.AddrPortFrom(netip.MustParseAddr("fc00::2"), 6881)},
	}
	resp := &bittorrent.AnnounceResponse{}

	_, err = h.HandleAnnounce(ctx, req, resp)
	require.Nil(t, err)

	want := []bittorrent.Peer{
		{AddrPort: netip.AddrPortFrom(netip.MustParseAddr("fc00::1"), 53)},
	}
	require.Equal(t, want, resp.IPv6Peers)
	require.Empty(t, resp.IPv4Peers)
}
