package varinterval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bitswarm/tracker/bittorrent"
)

func TestNewHookValidation(t *testing.T) {
	cases := []struct {
		cfg   Config
		valid bool
	}{
		{Config{1.0, 10, false}, true},
		{Config{1.1, 10, false}, false},
		{Config{0, 10, true}, false},
		{Config{1.0, 0, false}, false},
	}

	for _, tt := range cases {
		_, err := NewHook(tt.cfg)
		if tt.valid {
			require.Nil(t, err)
		} else {
			require.NotNil(t, err)
		}
	}
}

func TestHandleAnnounceModifiesInterval(t *testing.T) {
	h, err := NewHook(Config{
		ModifyResponseProbability: 1.0,
		MaxIncreaseDelta:          10,
		ModifyMinInterval:         true,
	})
	require.Nil(t, err)

	ctx := context.Background()
	req := &bittorrent.AnnounceRequest{
		InfoHash: bittorrent.InfoHashFromString("01234567890123456789"),
		Peer:     bittorrent.Peer{ID: bittorrent.PeerIDFromString("01234567890123456789")},
	}
	resp := &bittorrent.AnnounceResponse{Interval: 60 * time.Second, MinInterval: 60 * time.Second}

	nctx, err := h.HandleAnnounce(ctx, req, resp)
	require.Nil(t, err)
	require.Equal(t, ctx, nctx)
	require.Greater(t, resp.Interval, 60*time.Second)
	require.Greater(t, resp.MinInterval, 60*time.Second)
}
