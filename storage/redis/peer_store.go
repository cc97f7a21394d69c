package redis

import (
	"context"
	"encoding/hex"
	"runtime"
	"sort"
	"sync"
	"time"

	redigo "github.com/gomodule/redigo/redis"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/cache"
	"github.com/bitswarm/tracker/pkg/log"
	"github.com/bitswarm/tracker/pkg/stop"
	"github.com/bitswarm/tracker/pkg/timecache"
	"github.com/bitswarm/tracker/pool"
	"github.com/bitswarm/tracker/storage"
)

// New creates a new PeerStore backed by a remote Redis instance.
func New(provided Config) (storage.PeerStore, error) {
	cfg := provided.Validate()

	p := pool.New[redigo.Conn](pool.Config{
		MaxSize:           cfg.MaxConnections,
		MinIdle:           cfg.MinIdleConnections,
		TestOnCheckOut:    true,
		IdleTimeout:       cfg.IdleConnectionTimeout,
		ConnectionTimeout: cfg.MaxConnectionWaitTime,
		ReaperRate:        cfg.ReaperInterval,
	}, &connManager{cfg: cfg})

	ps := &peerStore{
		cfg:    cfg,
		pool:   p,
		closed: make(chan struct{}),
	}
	ps.statsCache = cache.New[statsKey, storage.TorrentStats](&statsLoader{ps: ps}, cfg.StatsCacheTTL, cache.RefreshAfterAccess)

	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		for {
			select {
			case <-ps.closed:
				return
			case <-time.After(cfg.GarbageCollectionInterval):
				before := time.Now().Add(-cfg.PeerLifetime)
				log.Debug("storage: purging peers with no announces since", log.Fields{"before": before})
				if err := ps.CollectGarbage(before); err != nil {
					log.Error("storage: redis garbage collection failed", log.Fields{"error": err})
				}
			}
		}
	}()

	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		t := time.NewTicker(cfg.PrometheusReportingInterval)
		defer t.Stop()
		for {
			select {
			case <-ps.closed:
				return
			case <-t.C:
				ps.populateProm()
			}
		}
	}()

	return ps, nil
}

type peerStore struct {
	cfg  Config
	pool *pool.Pool[redigo.Conn]

	statsCache *cache.Cache[statsKey, storage.TorrentStats]

	closed chan struct{}
	wg     sync.WaitGroup
}

var _ storage.PeerStore = &peerStore{}

func (ps *peerStore) checkOpen() {
	select {
	case <-ps.closed:
		panic("attempted to interact with stopped redis store")
	default:
	}
}

func (ps *peerStore) withConn(ctx context.Context, f func(conn redigo.Conn) error) error {
	pc, err := ps.pool.Get(ctx)
	if err != nil {
		return err
	}
	defer pc.Release()
	return f(pc.Conn())
}

func (ps *peerStore) InsertTorrent(ih bittorrent.InfoHash) error {
	ps.checkOpen()

	return ps.withConn(context.Background(), func(conn redigo.Conn) error {
		ihHex := hex.EncodeToString(ih[:])
		if _, err := conn.Do("SADD", ps.torrentsSetKey(), ihHex); err != nil {
			return err
		}
		_, err := conn.Do("SETNX", ps.metaKey(ih), 0)
		return err
	})
}

func (ps *peerStore) HasTorrent(ih bittorrent.InfoHash) (bool, error) {
	ps.checkOpen()

	var has bool
	err := ps.withConn(context.Background(), func(conn redigo.Conn) error {
		ihHex := hex.EncodeToString(ih[:])
		v, err := redigo.Bool(conn.Do("SISMEMBER", ps.torrentsSetKey(), ihHex))
		has = v
		return err
	})
	return has, err
}

func (ps *peerStore) RemoveTorrent(ih bittorrent.InfoHash) error {
	ps.checkOpen()

	err := ps.withConn(context.Background(), func(conn redigo.Conn) error {
		ihHex := hex.EncodeToString(ih[:])
		if _, err := conn.Do("SREM", ps.torrentsSetKey(), ihHex); err != nil {
			return err
		}
		if _, err := conn.Do("DEL", ps.metaKey(ih)); err != nil {
			return err
		}
		for _, af := range []bittorrent.AddressFamily{bittorrent.IPv4, bittorrent.IPv6} {
			for _, pt := range []bittorrent.PeerType{bittorrent.Seeder, bittorrent.Leecher, bittorrent.Partial} {
				if _, err := conn.Do("DEL", ps.swarmKey(ih, af, pt)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		ps.statsCache.Invalidate(statsKey{ih, bittorrent.IPv4})
		ps.statsCache.Invalidate(statsKey{ih, bittorrent.IPv6})
	}
	return err
}

func (ps *peerStore) putPeer(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error {
	err := ps.withConn(context.Background(), func(conn redigo.Conn) error {
		ihHex := hex.EncodeToString(ih[:])
		if _, err := conn.Do("SADD", ps.torrentsSetKey(), ihHex); err != nil {
			return err
		}
		if _, err := conn.Do("SETNX", ps.metaKey(ih), 0); err != nil {
			return err
		}
		value := encodePeerValue(p, timecache.NowUnixNano())
		_, err := conn.Do("HSET", ps.swarmKey(ih, p.Family(), peerType), string(key), value)
		return err
	})
	if err == nil {
		ps.statsCache.Invalidate(statsKey{ih, p.Family()})
	}
	return err
}

func (ps *peerStore) PutPeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error {
	ps.checkOpen()
	return ps.putPeer(ih, key, p, peerType)
}

// UpdateOrPutPeerInSwarm is identical to PutPeerInSwarm here: HSET replaces
// an existing field's value without needing a separate existence check.
func (ps *peerStore) UpdateOrPutPeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error {
	ps.checkOpen()
	return ps.putPeer(ih, key, p, peerType)
}

func (ps *peerStore) PromotePeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer) error {
	ps.checkOpen()

	err := ps.withConn(context.Background(), func(conn redigo.Conn) error {
		value := encodePeerValue(p, timecache.NowUnixNano())
		_, err := promoteScript.Do(conn,
			ps.swarmKey(ih, p.Family(), bittorrent.Leecher),
			ps.swarmKey(ih, p.Family(), bittorrent.Seeder),
			ps.metaKey(ih),
			string(key),
			value,
		)
		return err
	})
	if err == nil {
		ps.statsCache.Invalidate(statsKey{ih, p.Family()})
	}
	return err
}

func (ps *peerStore) RemovePeerFromSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, peerType bittorrent.PeerType, af bittorrent.AddressFamily) error {
	ps.checkOpen()

	err := ps.withConn(context.Background(), func(conn redigo.Conn) error {
		_, err := conn.Do("HDEL", ps.swarmKey(ih, af, peerType), string(key))
		return err
	})
	if err == nil {
		ps.statsCache.Invalidate(statsKey{ih, af})
	}
	return err
}

func (ps *peerStore) ExtractPeersFromSwarm(ih bittorrent.InfoHash, requesterType bittorrent.PeerType, af bittorrent.AddressFamily, proc storage.PeerProcessor) (storage.SwarmStats, error) {
	ps.checkOpen()

	ctx := context.Background()

	seeders, err := ps.readTable(ctx, ih, af, bittorrent.Seeder)
	if err != nil {
		return storage.SwarmStats{}, err
	}
	leechers, err := ps.readTable(ctx, ih, af, bittorrent.Leecher)
	if err != nil {
		return storage.SwarmStats{}, err
	}
	partials, err := ps.readTable(ctx, ih, af, bittorrent.Partial)
	if err != nil {
		return storage.SwarmStats{}, err
	}

	stats := storage.SwarmStats{
		Complete:   uint32(len(seeders)),
		Incomplete: uint32(len(leechers) + len(partials)),
	}

	offset := int(timecache.NowUnix())
	keepGoing := true
	walk := func(entries []tableEntry) {
		if !keepGoing || len(entries) == 0 {
			return
		}
		start := offset % len(entries)
		for i := 0; i < len(entries) && keepGoing; i++ {
			e := entries[(start+i)%len(entries)]
			if !proc(e.key, e.peer) {
				keepGoing = false
			}
		}
	}

	if requesterType == bittorrent.Leecher {
		walk(seeders)
		walk(leechers)
		walk(partials)
	} else {
		walk(leechers)
	}

	return stats, nil
}

type tableEntry struct {
	key  bittorrent.PeerIDKey
	peer bittorrent.Peer
}

// readTable fetches an entire swarm table and decodes it, sorted by field
// name for a deterministic (if not insertion-ordered) iteration order. A
// remote hash does not preserve insertion order the way the in-memory
// driver's ordered map does once it grows past Redis's listpack threshold,
// so round-robin fairness here is approximate rather than exact.
func (ps *peerStore) readTable(ctx context.Context, ih bittorrent.InfoHash, af bittorrent.AddressFamily, pt bittorrent.PeerType) ([]tableEntry, error) {
	var raw map[string]string
	err := ps.withConn(ctx, func(conn redigo.Conn) error {
		m, err := redigo.StringMap(conn.Do("HGETALL", ps.swarmKey(ih, af, pt)))
		raw = m
		return err
	})
	if err != nil {
		return nil, err
	}

	fields := make([]string, 0, len(raw))
	for f := range raw {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	out := make([]tableEntry, 0, len(fields))
	for _, f := range fields {
		p, _, err := decodePeerValue([]byte(raw[f]), af)
		if err != nil {
			continue
		}
		out = append(out, tableEntry{key: bittorrent.PeerIDKey(f), peer: p})
	}
	return out, nil
}

func (ps *peerStore) populateProm() {
	ctx := context.Background()

	var ihHexes []string
	err := ps.withConn(ctx, func(conn redigo.Conn) error {
		v, err := redigo.Strings(conn.Do("SMEMBERS", ps.torrentsSetKey()))
		ihHexes = v
		return err
	})
	if err != nil {
		log.Error("storage: redis populateProm failed", log.Fields{"error": err})
		return
	}

	var numSeeders, numLeechers uint64
	for _, hexStr := range ihHexes {
		ih, err := ihFromHex(hexStr)
		if err != nil {
			continue
		}
		for _, af := range []bittorrent.AddressFamily{bittorrent.IPv4, bittorrent.IPv6} {
			stats, ok, err := ps.rawStats(ctx, ih, af)
			if err != nil || !ok {
				continue
			}
			numSeeders += uint64(stats.Complete)
			numLeechers += uint64(stats.Incomplete)
		}
		runtime.Gosched()
	}

	storage.PromInfohashesCount.Set(float64(len(ihHexes)))
	storage.PromSeedersCount.Set(float64(numSeeders))
	storage.PromLeechersCount.Set(float64(numLeechers))
}

// CollectGarbage removes every peer across every known torrent whose
// recorded mtime is at or before cutoff.
func (ps *peerStore) CollectGarbage(cutoff time.Time) error {
	select {
	case <-ps.closed:
		return nil
	default:
	}

	ctx := context.Background()
	cutoffNano := cutoff.UnixNano()
	start := time.Now()

	var ihHexes []string
	err := ps.withConn(ctx, func(conn redigo.Conn) error {
		v, err := redigo.Strings(conn.Do("SMEMBERS", ps.torrentsSetKey()))
		ihHexes = v
		return err
	})
	if err != nil {
		return err
	}

	for _, hexStr := range ihHexes {
		ih, err := ihFromHex(hexStr)
		if err != nil {
			continue
		}
		for _, af := range []bittorrent.AddressFamily{bittorrent.IPv4, bittorrent.IPv6} {
			for _, pt := range []bittorrent.PeerType{bittorrent.Seeder, bittorrent.Leecher, bittorrent.Partial} {
				if err := ps.collectGarbageFromTable(ctx, ih, af, pt, cutoffNano); err != nil {
					return err
				}
			}
		}
		runtime.Gosched()
	}

	storage.PromGCDurationMilliseconds.Observe(float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond))
	return nil
}

func (ps *peerStore) collectGarbageFromTable(ctx context.Context, ih bittorrent.InfoHash, af bittorrent.AddressFamily, pt bittorrent.PeerType, cutoffNano int64) error {
	entries, err := ps.readTableRaw(ctx, ih, af, pt)
	if err != nil {
		return err
	}

	var expired []string
	for field, value := range entries {
		_, mtime, err := decodePeerValue([]byte(value), af)
		if err != nil || mtime <= cutoffNano {
			expired = append(expired, field)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	args := redigo.Args{}.Add(ps.swarmKey(ih, af, pt)).AddFlat(expired)
	err = ps.withConn(ctx, func(conn redigo.Conn) error {
		_, err := conn.Do("HDEL", args...)
		return err
	})
	if err == nil {
		ps.statsCache.Invalidate(statsKey{ih, af})
	}
	return err
}

func (ps *peerStore) readTableRaw(ctx context.Context, ih bittorrent.InfoHash, af bittorrent.AddressFamily, pt bittorrent.PeerType) (map[string]string, error) {
	var raw map[string]string
	err := ps.withConn(ctx, func(conn redigo.Conn) error {
		m, err := redigo.StringMap(conn.Do("HGETALL", ps.swarmKey(ih, af, pt)))
		raw = m
		return err
	})
	return raw, err
}

func (ps *peerStore) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(ps.closed)
		ps.wg.Wait()
		<-ps.pool.Stop()
		ps.statsCache.InvalidateAll()
		c.Done()
	}()
	return c.Result()
}

func (ps *peerStore) LogFields() log.Fields {
	return ps.cfg.LogFields()
}
