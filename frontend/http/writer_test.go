package http

import (
	"fmt"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/bittorrent/bencode"
)

func TestWriteError(t *testing.T) {
	table := []struct {
		reason, expected string
	}{
		{"hello world", "d14:failure reason11:hello worlde"},
		{"what's up", "d14:failure reason9:what's upe"},
	}

	for _, tt := range table {
		t.Run(fmt.Sprintf("%s expecting %s", tt.reason, tt.expected), func(t *testing.T) {
			r := httptest.NewRecorder()
			err := WriteError(r, bittorrent.ClientError(tt.reason))
			require.Nil(t, err)
			require.Equal(t, r.Body.String(), tt.expected)
		})
	}
}

func TestWriteStatus(t *testing.T) {
	table := []struct {
		reason, expected string
	}{
		{"something is missing", "d14:failure reason20:something is missinge"},
	}

	for _, tt := range table {
		t.Run(fmt.Sprintf("%s expecting %s", tt.reason, tt.expected), func(t *testing.T) {
			r := httptest.NewRecorder()
			err := WriteError(r, bittorrent.ClientError(tt.reason))
			require.Nil(t, err)
			require.Equal(t, r.Body.String(), tt.expected)
		})
	}
}

func TestWriteScrapeResponseIncludesDownloaded(t *testing.T) {
	ih := bittorrent.InfoHashFromString("aaaaaaaaaaaaaaaaaaaa")
	resp := &bittorrent.ScrapeResponse{
		Files: map[bittorrent.InfoHash]bittorrent.Scrape{
			ih: {Complete: 3, Incomplete: 2, Downloaded: 41},
		},
	}

	r := httptest.NewRecorder()
	require.NoError(t, WriteScrapeResponse(r, resp))

	decoded, err := bencode.Unmarshal(r.Body.Bytes())
	require.NoError(t, err)

	files := decoded.(bencode.Dict)["files"].(bencode.Dict)
	file := files[string(ih[:])].(bencode.Dict)
	require.EqualValues(t, 3, file["complete"])
	require.EqualValues(t, 2, file["incomplete"])
	require.EqualValues(t, 41, file["downloaded"])
}

func TestWriteAnnounceResponseOmitsPeerIDWhenRequested(t *testing.T) {
	peerWithID := bittorrent.Peer{
		ID:       bittorrent.PeerID([20]byte{1}),
		AddrPort: netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), 6881),
	}

	t.Run("peer id present by default", func(t *testing.T) {
		resp := &bittorrent.AnnounceResponse{IPv4Peers: []bittorrent.Peer{peerWithID}}
		r := httptest.NewRecorder()
		require.NoError(t, WriteAnnounceResponse(r, resp))

		decoded, err := bencode.Unmarshal(r.Body.Bytes())
		require.NoError(t, err)
		peers := decoded.(bencode.Dict)["peers"].(bencode.List)
		require.Len(t, peers, 1)
		require.Contains(t, peers[0].(bencode.Dict), "peer id")
	})

	t.Run("peer id omitted when NoPeerID is set", func(t *testing.T) {
		resp := &bittorrent.AnnounceResponse{NoPeerID: true, IPv4Peers: []bittorrent.Peer{peerWithID}}
		r := httptest.NewRecorder()
		require.NoError(t, WriteAnnounceResponse(r, resp))

		decoded, err := bencode.Unmarshal(r.Body.Bytes())
		require.NoError(t, err)
		peers := decoded.(bencode.Dict)["peers"].(bencode.List)
		require.Len(t, peers, 1)
		require.NotContains(t, peers[0].(bencode.Dict), "peer id")
	})
}
