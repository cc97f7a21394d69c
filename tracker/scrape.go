package tracker

import (
	"context"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/bittorrent/bencode"
	"github.com/bitswarm/tracker/executor"
	"github.com/bitswarm/tracker/storage"
)

// Scrape implements spec §4.3's point scrape: aggregate stats for a bounded
// list of infohashes in the caller's address family. An empty InfoHashes
// list is a full-scrape request and must be routed to FullScrape instead;
// Scrape itself rejects it so a caller's mistake fails loudly.
func (l Logic) Scrape(ctx context.Context, s executor.State, req bittorrent.ScrapeRequest) (bittorrent.ScrapeResponse, error) {
	cfg := configOf(s)

	if len(req.InfoHashes) == 0 {
		if !cfg.AllowFullScrape {
			return bittorrent.ScrapeResponse{}, storage.ErrFullScrapeNotAllowed
		}
		return bittorrent.ScrapeResponse{}, errFullScrapeViaCache
	}

	ihs := req.InfoHashes
	if cfg.MaxMultiScrapeCount > 0 && len(ihs) > cfg.MaxMultiScrapeCount {
		ihs = ihs[:cfg.MaxMultiScrapeCount]
	}

	stats := s.Storage.GetMultiTorrentStats(ihs, req.AddressFamily)
	files := make(map[bittorrent.InfoHash]bittorrent.Scrape, len(stats))
	for ih, st := range stats {
		files[ih] = bittorrent.Scrape{
			Complete:   st.Complete,
			Incomplete: st.Incomplete,
			Downloaded: st.Downloaded,
		}
	}

	resp := bittorrent.ScrapeResponse{Files: files}
	if err := cfg.runScrapeHooks(ctx, &req, &resp); err != nil {
		return bittorrent.ScrapeResponse{}, err
	}

	return resp, nil
}

// errFullScrapeViaCache signals a frontend programming error: full scrapes
// must go through the FullScrapeCache (spec §4.4), not the point-scrape
// handler, so the precomputed payload can be shared and single-flighted.
var errFullScrapeViaCache = bittorrent.ClientError("full scrape must be requested through the full-scrape cache")

// FullScrape implements spec §4.3's full scrape: every known torrent's
// stats, summed across address families (the wire scrape response has no
// family concept), bencoded into the same "files" shape as a point scrape.
// This is the Loader the FullScrapeCache (spec §4.4) refreshes through.
func (l Logic) FullScrape(ctx context.Context, s executor.State) ([]byte, error) {
	totals := make(map[bittorrent.InfoHash]bittorrent.Scrape)

	for _, af := range [...]bittorrent.AddressFamily{bittorrent.IPv4, bittorrent.IPv6} {
		err := s.Storage.GetAllTorrentStats(af, func(ih bittorrent.InfoHash, st storage.TorrentStats) storage.ScrapeContinuation {
			sc := totals[ih]
			sc.Complete += st.Complete
			sc.Incomplete += st.Incomplete
			if st.Downloaded > sc.Downloaded {
				sc.Downloaded = st.Downloaded
			}
			totals[ih] = sc
			return storage.Continue
		})
		if err != nil {
			return nil, err
		}
	}

	files := make(map[string]interface{}, len(totals))
	for ih, sc := range totals {
		files[string(ih[:])] = map[string]interface{}{
			"complete":   sc.Complete,
			"incomplete": sc.Incomplete,
			"downloaded": sc.Downloaded,
		}
	}

	return bencode.Marshal(bencode.Dict{"files": bencode.Dict(files)})
}
