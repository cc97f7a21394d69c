// Package tracker implements the Announce and Scrape algorithms: the typed
// handlers an executor.Worker dispatches task packets to. It owns the
// protocol-level policy (blocklist, auto-register, numwant) on top of the
// storage capability interface.
package tracker

import (
	"context"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/executor"
	"github.com/bitswarm/tracker/storage"
)

// Logic implements executor.Handlers against a storage.PeerStore and a
// *Config carried in executor.State.Config.
type Logic struct{}

func configOf(s executor.State) *Config {
	cfg, ok := s.Config.(*Config)
	if !ok || cfg == nil {
		panic("tracker: executor.State.Config is not a *tracker.Config")
	}
	return cfg
}

// Handlers builds the executor.Handlers set backed by l.
func (l Logic) Handlers() executor.Handlers {
	return executor.Handlers{
		Announce:   l.Announce,
		Scrape:     l.Scrape,
		FullScrape: l.FullScrape,
	}
}

// Announce implements spec §4.2: classify the peer, mutate its swarm
// membership according to the announce event, and (unless the event is
// Stopped) extract a page of peers to return.
func (l Logic) Announce(ctx context.Context, s executor.State, req bittorrent.AnnounceRequest) (bittorrent.AnnounceResponse, error) {
	cfg := configOf(s)
	ps := s.Storage

	if cfg.Blocked(req.InfoHash) {
		return bittorrent.AnnounceResponse{}, ErrBlockedInfohash
	}

	// Run hooks once up front so a veto (e.g. clientapproval,
	// torrentapproval) fails the request before any swarm state is
	// mutated. They run again once the response is built so hooks that
	// augment the response (e.g. fixedpeer, varinterval) see its final
	// shape; a veto-only hook is idempotent on the second pass.
	var preCheck bittorrent.AnnounceResponse
	if err := cfg.runHooks(ctx, &req, &preCheck); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	has, err := ps.HasTorrent(req.InfoHash)
	if err != nil {
		return bittorrent.AnnounceResponse{}, err
	}
	if !has {
		if !cfg.AutoRegisterTorrent {
			return bittorrent.AnnounceResponse{}, ErrNotFoundTorrent
		}
		if err := ps.InsertTorrent(req.InfoHash); err != nil {
			return bittorrent.AnnounceResponse{}, err
		}
	}

	af := req.Peer.Family()
	key := bittorrent.NewPeerIDKey(req.Peer.ID, []byte(req.Key))

	peerType := bittorrent.Leecher
	if req.Left == 0 {
		peerType = bittorrent.Seeder
	}

	switch req.Event {
	case bittorrent.Started:
		if err := ps.PutPeerInSwarm(req.InfoHash, key, req.Peer, peerType); err != nil {
			return bittorrent.AnnounceResponse{}, err
		}

	case bittorrent.Stopped:
		if err := ps.RemovePeerFromSwarm(req.InfoHash, key, peerType, af); err != nil {
			return bittorrent.AnnounceResponse{}, err
		}
		return l.stoppedResponse(ctx, ps, req, af, cfg)

	case bittorrent.Completed:
		if req.Left != 0 {
			return bittorrent.AnnounceResponse{}, ErrInvalidAnnounceRequest
		}
		if err := ps.PromotePeerInSwarm(req.InfoHash, key, req.Peer); err != nil {
			return bittorrent.AnnounceResponse{}, err
		}

	case bittorrent.Paused:
		peerType = bittorrent.Partial
		if err := ps.UpdateOrPutPeerInSwarm(req.InfoHash, key, req.Peer, peerType); err != nil {
			return bittorrent.AnnounceResponse{}, err
		}

	default: // None, or any event we don't special-case.
		if err := ps.UpdateOrPutPeerInSwarm(req.InfoHash, key, req.Peer, peerType); err != nil {
			return bittorrent.AnnounceResponse{}, err
		}
	}

	numWant := cfg.numWant(req)
	peers := make([]bittorrent.Peer, 0, numWant)
	stats, err := ps.ExtractPeersFromSwarm(req.InfoHash, peerType, af, func(k bittorrent.PeerIDKey, p bittorrent.Peer) bool {
		if k == key {
			return true
		}
		peers = append(peers, p)
		return uint32(len(peers)) < numWant
	})
	if err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	resp := bittorrent.AnnounceResponse{
		Compact:     req.Compact,
		NoPeerID:    req.NoPeerID,
		Complete:    int32(stats.Complete),
		Incomplete:  int32(stats.Incomplete),
		Interval:    cfg.AnnounceInterval,
		MinInterval: cfg.MinAnnounceInterval,
	}
	switch af {
	case bittorrent.IPv6:
		resp.IPv6Peers = peers
	default:
		resp.IPv4Peers = peers
	}

	if err := cfg.runHooks(ctx, &req, &resp); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	return resp, nil
}

// stoppedResponse builds the peer-less acknowledgement sent for a Stopped
// event, still reporting the swarm's current aggregate counts.
func (l Logic) stoppedResponse(ctx context.Context, ps storage.PeerStore, req bittorrent.AnnounceRequest, af bittorrent.AddressFamily, cfg *Config) (bittorrent.AnnounceResponse, error) {
	stats, err := ps.GetTorrentStats(req.InfoHash, af)
	if err != nil && err != storage.ErrResourceDoesNotExist {
		return bittorrent.AnnounceResponse{}, err
	}

	resp := bittorrent.AnnounceResponse{
		Compact:     req.Compact,
		NoPeerID:    req.NoPeerID,
		Complete:    int32(stats.Complete),
		Incomplete:  int32(stats.Incomplete),
		Interval:    cfg.AnnounceInterval,
		MinInterval: cfg.MinAnnounceInterval,
	}

	if err := cfg.runHooks(ctx, &req, &resp); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	return resp, nil
}
