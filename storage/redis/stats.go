package redis

import (
	"context"
	"encoding/hex"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/storage"
)

// statsKey addresses one (infohash, address family) pair in the stats
// cache, matching the granularity GetTorrentStats is called at.
type statsKey struct {
	ih bittorrent.InfoHash
	af bittorrent.AddressFamily
}

// statsLoader bypasses the cache to read the authoritative counters
// straight out of Redis, fulfilling the cache.Loader contract the stats
// cache is built with.
type statsLoader struct {
	ps *peerStore
}

func (l *statsLoader) Load(ctx context.Context, key statsKey) (storage.TorrentStats, bool) {
	stats, ok, err := l.ps.rawStats(ctx, key.ih, key.af)
	if err != nil {
		return storage.TorrentStats{}, false
	}
	return stats, ok
}

func (l *statsLoader) LoadAll(ctx context.Context, keys []statsKey) map[statsKey]storage.TorrentStats {
	out := make(map[statsKey]storage.TorrentStats, len(keys))
	for _, k := range keys {
		if stats, ok, err := l.ps.rawStats(ctx, k.ih, k.af); err == nil && ok {
			out[k] = stats
		}
	}
	return out
}

// rawStats reads a torrent's stats directly from Redis, pipelining the
// round trip into a single flush.
func (ps *peerStore) rawStats(ctx context.Context, ih bittorrent.InfoHash, af bittorrent.AddressFamily) (storage.TorrentStats, bool, error) {
	pc, err := ps.pool.Get(ctx)
	if err != nil {
		return storage.TorrentStats{}, false, err
	}
	defer pc.Release()
	conn := pc.Conn()

	ihHex := hex.EncodeToString(ih[:])

	if err := conn.Send("SISMEMBER", ps.torrentsSetKey(), ihHex); err != nil {
		return storage.TorrentStats{}, false, err
	}
	if err := conn.Send("GET", ps.metaKey(ih)); err != nil {
		return storage.TorrentStats{}, false, err
	}
	if err := conn.Send("HLEN", ps.swarmKey(ih, af, bittorrent.Seeder)); err != nil {
		return storage.TorrentStats{}, false, err
	}
	if err := conn.Send("HLEN", ps.swarmKey(ih, af, bittorrent.Leecher)); err != nil {
		return storage.TorrentStats{}, false, err
	}
	if err := conn.Send("HLEN", ps.swarmKey(ih, af, bittorrent.Partial)); err != nil {
		return storage.TorrentStats{}, false, err
	}
	if err := conn.Flush(); err != nil {
		return storage.TorrentStats{}, false, err
	}

	exists, err := redigo.Bool(conn.Receive())
	if err != nil {
		return storage.TorrentStats{}, false, err
	}

	downloaded, err := redigo.Int(conn.Receive())
	if err != nil && err != redigo.ErrNil {
		return storage.TorrentStats{}, false, err
	}

	seeders, err := redigo.Int(conn.Receive())
	if err != nil {
		return storage.TorrentStats{}, false, err
	}

	leechers, err := redigo.Int(conn.Receive())
	if err != nil {
		return storage.TorrentStats{}, false, err
	}

	partials, err := redigo.Int(conn.Receive())
	if err != nil {
		return storage.TorrentStats{}, false, err
	}

	if !exists {
		return storage.TorrentStats{}, false, nil
	}

	return storage.TorrentStats{
		Complete:   uint32(seeders),
		Incomplete: uint32(leechers + partials),
		Downloaded: uint32(downloaded),
	}, true, nil
}

func (ps *peerStore) GetTorrentStats(ih bittorrent.InfoHash, af bittorrent.AddressFamily) (storage.TorrentStats, error) {
	ps.checkOpen()

	stats, ok := ps.statsCache.Get(context.Background(), statsKey{ih, af})
	if !ok {
		return storage.TorrentStats{}, storage.ErrResourceDoesNotExist
	}
	return stats, nil
}

func (ps *peerStore) GetMultiTorrentStats(ihs []bittorrent.InfoHash, af bittorrent.AddressFamily) map[bittorrent.InfoHash]storage.TorrentStats {
	ps.checkOpen()

	keys := make([]statsKey, len(ihs))
	for i, ih := range ihs {
		keys[i] = statsKey{ih, af}
	}

	byKey := ps.statsCache.GetAll(context.Background(), keys)

	out := make(map[bittorrent.InfoHash]storage.TorrentStats, len(ihs))
	for _, ih := range ihs {
		if stats, ok := byKey[statsKey{ih, af}]; ok {
			out[ih] = stats
		}
	}
	return out
}

func (ps *peerStore) GetAllTorrentStats(af bittorrent.AddressFamily, proc storage.TorrentStatsProcessor) error {
	ps.checkOpen()

	ctx := context.Background()
	pc, err := ps.pool.Get(ctx)
	if err != nil {
		return err
	}
	ihHexes, err := redigo.Strings(pc.Conn().Do("SMEMBERS", ps.torrentsSetKey()))
	pc.Release()
	if err != nil {
		return err
	}

	for _, hexStr := range ihHexes {
		ih, err := ihFromHex(hexStr)
		if err != nil {
			continue
		}

		stats, ok, err := ps.rawStats(ctx, ih, af)
		if err != nil || !ok {
			continue
		}

		if proc(ih, stats) == storage.StopIteration {
			return nil
		}
	}

	return nil
}
