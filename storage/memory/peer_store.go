// Package memory implements the storage.PeerStore interface for a BitTorrent
// tracker keeping the swarm store in process memory.
package memory

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/pkg/log"
	"github.com/bitswarm/tracker/pkg/stop"
	"github.com/bitswarm/tracker/pkg/timecache"
	"github.com/bitswarm/tracker/storage"
)

// Name is the name by which this peer store is registered.
const Name = "memory"

// Default config constants.
const (
	defaultShardCount                  = 1024
	defaultPrometheusReportingInterval = time.Second * 1
	defaultGarbageCollectionInterval   = time.Minute * 3
	defaultPeerLifetime                = time.Minute * 30
)

func init() {
	storage.RegisterDriver(Name, driver{})
}

type driver struct{}

func (d driver) NewPeerStore(icfg interface{}) (storage.PeerStore, error) {
	bytes, err := yaml.Marshal(icfg)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return nil, err
	}

	return New(cfg)
}

// Config holds the configuration of a memory PeerStore.
type Config struct {
	GarbageCollectionInterval   time.Duration `yaml:"gc_interval"`
	PrometheusReportingInterval time.Duration `yaml:"prometheus_reporting_interval"`
	PeerLifetime                time.Duration `yaml:"peer_lifetime"`
	ShardCount                  int           `yaml:"shard_count"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"name":               Name,
		"gcInterval":         cfg.GarbageCollectionInterval,
		"promReportInterval": cfg.PrometheusReportingInterval,
		"peerLifetime":       cfg.PeerLifetime,
		"shardCount":         cfg.ShardCount,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid, warning to the
// logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.ShardCount <= 0 {
		validcfg.ShardCount = defaultShardCount
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".ShardCount", "provided": cfg.ShardCount, "default": validcfg.ShardCount,
		})
	}

	if cfg.GarbageCollectionInterval <= 0 {
		validcfg.GarbageCollectionInterval = defaultGarbageCollectionInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".GarbageCollectionInterval", "provided": cfg.GarbageCollectionInterval, "default": validcfg.GarbageCollectionInterval,
		})
	}

	if cfg.PrometheusReportingInterval <= 0 {
		validcfg.PrometheusReportingInterval = defaultPrometheusReportingInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".PrometheusReportingInterval", "provided": cfg.PrometheusReportingInterval, "default": validcfg.PrometheusReportingInterval,
		})
	}

	if cfg.PeerLifetime <= 0 {
		validcfg.PeerLifetime = defaultPeerLifetime
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".PeerLifetime", "provided": cfg.PeerLifetime, "default": validcfg.PeerLifetime,
		})
	}

	return validcfg
}

// New creates a new PeerStore backed by memory.
func New(provided Config) (storage.PeerStore, error) {
	cfg := provided.Validate()
	ps := &peerStore{
		cfg:    cfg,
		shards: make([]*shard, cfg.ShardCount),
		closed: make(chan struct{}),
	}

	for i := range ps.shards {
		ps.shards[i] = &shard{
			torrents: make(map[bittorrent.InfoHash]*uint32),
			swarms:   make(map[swarmKey]*swarmState),
		}
	}

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
				ps.CollectGarbage(before)
			}
		}
	}()

	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		t := time.NewTicker(cfg.PrometheusReportingInterval)
		for {
			select {
			case <-ps.closed:
				t.Stop()
				return
			case <-t.C:
				before := time.Now()
				ps.populateProm()
				log.Debug("storage: populateProm() finished", log.Fields{"timeTaken": time.Since(before)})
			}
		}
	}()

	return ps, nil
}

// swarmKey addresses one (infohash, address family) swarm.
type swarmKey struct {
	ih bittorrent.InfoHash
	af bittorrent.AddressFamily
}

// swarmState holds the three insertion-ordered peer tables for one
// (infohash, address family) pair.
type swarmState struct {
	seeders  *peerTable
	leechers *peerTable
	partials *peerTable
}

func newSwarmState() *swarmState {
	return &swarmState{
		seeders:  newPeerTable(),
		leechers: newPeerTable(),
		partials: newPeerTable(),
	}
}

func (s *swarmState) empty() bool {
	return s.seeders.len() == 0 && s.leechers.len() == 0 && s.partials.len() == 0
}

func (s *swarmState) tableFor(t bittorrent.PeerType) *peerTable {
	switch t {
	case bittorrent.Seeder:
		return s.seeders
	case bittorrent.Partial:
		return s.partials
	default:
		return s.leechers
	}
}

// shard holds a fraction of the store's torrents and swarms, each guarded by
// its own lock so readers of one never block writers of the other.
type shard struct {
	torrentsMu sync.RWMutex
	torrents   map[bittorrent.InfoHash]*uint32

	swarmsMu sync.RWMutex
	swarms   map[swarmKey]*swarmState
}

type peerStore struct {
	cfg    Config
	shards []*shard

	closed chan struct{}
	wg     sync.WaitGroup
}

var _ storage.PeerStore = &peerStore{}

func (ps *peerStore) shardIndex(ih bittorrent.InfoHash) int {
	return int(binary.BigEndian.Uint32(ih[:4]) % uint32(len(ps.shards)))
}

func (ps *peerStore) checkOpen() {
	select {
	case <-ps.closed:
		panic("attempted to interact with stopped memory store")
	default:
	}
}

func (ps *peerStore) InsertTorrent(ih bittorrent.InfoHash) error {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]
	sh.torrentsMu.Lock()
	if _, ok := sh.torrents[ih]; !ok {
		var completed uint32
		sh.torrents[ih] = &completed
	}
	sh.torrentsMu.Unlock()

	return nil
}

func (ps *peerStore) HasTorrent(ih bittorrent.InfoHash) (bool, error) {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]
	sh.torrentsMu.RLock()
	_, ok := sh.torrents[ih]
	sh.torrentsMu.RUnlock()

	return ok, nil
}

func (ps *peerStore) RemoveTorrent(ih bittorrent.InfoHash) error {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]

	sh.torrentsMu.Lock()
	delete(sh.torrents, ih)
	sh.torrentsMu.Unlock()

	sh.swarmsMu.Lock()
	delete(sh.swarms, swarmKey{ih, bittorrent.IPv4})
	delete(sh.swarms, swarmKey{ih, bittorrent.IPv6})
	sh.swarmsMu.Unlock()

	return nil
}

func (ps *peerStore) statsLocked(sh *shard, ih bittorrent.InfoHash, af bittorrent.AddressFamily) (storage.TorrentStats, bool) {
	sh.torrentsMu.RLock()
	completed, ok := sh.torrents[ih]
	var downloaded uint32
	if ok {
		downloaded = atomic.LoadUint32(completed)
	}
	sh.torrentsMu.RUnlock()
	if !ok {
		return storage.TorrentStats{}, false
	}

	sh.swarmsMu.RLock()
	sw, ok := sh.swarms[swarmKey{ih, af}]
	var seeders, incomplete int
	if ok {
		seeders = sw.seeders.len()
		incomplete = sw.leechers.len() + sw.partials.len()
	}
	sh.swarmsMu.RUnlock()

	return storage.TorrentStats{
		Complete:   uint32(seeders),
		Incomplete: uint32(incomplete),
		Downloaded: downloaded,
	}, true
}

func (ps *peerStore) GetTorrentStats(ih bittorrent.InfoHash, af bittorrent.AddressFamily) (storage.TorrentStats, error) {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]
	stats, ok := ps.statsLocked(sh, ih, af)
	if !ok {
		return storage.TorrentStats{}, storage.ErrResourceDoesNotExist
	}
	return stats, nil
}

func (ps *peerStore) GetMultiTorrentStats(ihs []bittorrent.InfoHash, af bittorrent.AddressFamily) map[bittorrent.InfoHash]storage.TorrentStats {
	ps.checkOpen()

	out := make(map[bittorrent.InfoHash]storage.TorrentStats, len(ihs))
	for _, ih := range ihs {
		sh := ps.shards[ps.shardIndex(ih)]
		if stats, ok := ps.statsLocked(sh, ih, af); ok {
			out[ih] = stats
		}
	}
	return out
}

func (ps *peerStore) GetAllTorrentStats(af bittorrent.AddressFamily, proc storage.TorrentStatsProcessor) error {
	ps.checkOpen()

	for _, sh := range ps.shards {
		sh.torrentsMu.RLock()
		ihs := make([]bittorrent.InfoHash, 0, len(sh.torrents))
		for ih := range sh.torrents {
			ihs = append(ihs, ih)
		}
		sh.torrentsMu.RUnlock()

		for _, ih := range ihs {
			stats, ok := ps.statsLocked(sh, ih, af)
			if !ok {
				continue
			}
			if proc(ih, stats) == storage.StopIteration {
				return nil
			}
		}

		runtime.Gosched()
	}

	return nil
}

// swarmLocked returns the swarm for (ih, af), creating it if create is true.
func (sh *shard) swarmLocked(ih bittorrent.InfoHash, af bittorrent.AddressFamily, create bool) *swarmState {
	key := swarmKey{ih, af}

	sh.swarmsMu.RLock()
	sw, ok := sh.swarms[key]
	sh.swarmsMu.RUnlock()
	if ok || !create {
		return sw
	}

	sh.swarmsMu.Lock()
	defer sh.swarmsMu.Unlock()
	if sw, ok = sh.swarms[key]; ok {
		return sw
	}
	sw = newSwarmState()
	sh.swarms[key] = sw
	return sw
}

func (ps *peerStore) getClock() int64 {
	return timecache.NowUnixNano()
}

func (ps *peerStore) PutPeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]
	sh.torrentsMu.Lock()
	if _, ok := sh.torrents[ih]; !ok {
		var completed uint32
		sh.torrents[ih] = &completed
	}
	sh.torrentsMu.Unlock()

	sw := sh.swarmLocked(ih, p.Family(), true)

	sh.swarmsMu.Lock()
	sw.tableFor(peerType).set(key, peerEntry{peer: p, mtime: ps.getClock()})
	sh.swarmsMu.Unlock()

	return nil
}

func (ps *peerStore) UpdateOrPutPeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error {
	// Update-in-place and insert share the same representation in this
	// store: setting a key that already exists in the ordered map updates
	// its value without moving its position.
	return ps.PutPeerInSwarm(ih, key, p, peerType)
}

func (ps *peerStore) PromotePeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer) error {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]
	sw := sh.swarmLocked(ih, p.Family(), true)

	sh.swarmsMu.Lock()
	removed := sw.leechers.delete(key)
	if removed {
		sw.seeders.set(key, peerEntry{peer: p, mtime: ps.getClock()})
	}
	sh.swarmsMu.Unlock()

	if removed {
		sh.torrentsMu.RLock()
		completed, ok := sh.torrents[ih]
		sh.torrentsMu.RUnlock()
		if ok {
			atomic.AddUint32(completed, 1)
		}
	}

	return nil
}

func (ps *peerStore) RemovePeerFromSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, peerType bittorrent.PeerType, af bittorrent.AddressFamily) error {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]
	sw := sh.swarmLocked(ih, af, false)
	if sw == nil {
		return nil
	}

	sh.swarmsMu.Lock()
	sw.tableFor(peerType).delete(key)
	empty := sw.empty()
	sh.swarmsMu.Unlock()

	if empty {
		sh.swarmsMu.Lock()
		if cur, ok := sh.swarms[swarmKey{ih, af}]; ok && cur.empty() {
			delete(sh.swarms, swarmKey{ih, af})
		}
		sh.swarmsMu.Unlock()
	}

	return nil
}

func (ps *peerStore) ExtractPeersFromSwarm(ih bittorrent.InfoHash, requesterType bittorrent.PeerType, af bittorrent.AddressFamily, proc storage.PeerProcessor) (storage.SwarmStats, error) {
	ps.checkOpen()

	sh := ps.shards[ps.shardIndex(ih)]

	sh.swarmsMu.RLock()
	defer sh.swarmsMu.RUnlock()

	sw, ok := sh.swarms[swarmKey{ih, af}]
	if !ok {
		return storage.SwarmStats{}, nil
	}

	stats := storage.SwarmStats{
		Complete:   uint32(sw.seeders.len()),
		Incomplete: uint32(sw.leechers.len() + sw.partials.len()),
	}

	offset := int(timecache.NowUnix())

	keepGoing := true
	wrap := func(p storage.PeerProcessor) func(bittorrent.PeerIDKey, bittorrent.Peer) bool {
		return func(k bittorrent.PeerIDKey, peer bittorrent.Peer) bool {
			if !keepGoing {
				return false
			}
			if !p(k, peer) {
				keepGoing = false
				return false
			}
			return true
		}
	}

	if requesterType == bittorrent.Leecher {
		sw.seeders.forEachFrom(offset, wrap(proc))
		if keepGoing {
			sw.leechers.forEachFrom(offset, wrap(proc))
		}
		if keepGoing {
			sw.partials.forEachFrom(offset, wrap(proc))
		}
	} else {
		sw.leechers.forEachFrom(offset, wrap(proc))
	}

	return stats, nil
}

// populateProm aggregates metrics over all shards and posts them to
// Prometheus.
func (ps *peerStore) populateProm() {
	var numInfohashes, numSeeders, numLeechers uint64

	for _, sh := range ps.shards {
		sh.torrentsMu.RLock()
		numInfohashes += uint64(len(sh.torrents))
		sh.torrentsMu.RUnlock()

		sh.swarmsMu.RLock()
		for _, sw := range sh.swarms {
			numSeeders += uint64(sw.seeders.len())
			numLeechers += uint64(sw.leechers.len() + sw.partials.len())
		}
		sh.swarmsMu.RUnlock()
	}

	storage.PromInfohashesCount.Set(float64(numInfohashes))
	storage.PromSeedersCount.Set(float64(numSeeders))
	storage.PromLeechersCount.Set(float64(numLeechers))
}

func recordGCDuration(duration time.Duration) {
	storage.PromGCDurationMilliseconds.Observe(float64(duration.Nanoseconds()) / float64(time.Millisecond))
}

// CollectGarbage removes every peer from every shard whose last announce is
// at or before cutoff. It is safe to run concurrently with every other method.
func (ps *peerStore) CollectGarbage(cutoff time.Time) error {
	select {
	case <-ps.closed:
		return nil
	default:
	}

	cutoffUnix := cutoff.UnixNano()
	start := time.Now()

	for _, sh := range ps.shards {
		sh.swarmsMu.RLock()
		keys := make([]swarmKey, 0, len(sh.swarms))
		for k := range sh.swarms {
			keys = append(keys, k)
		}
		sh.swarmsMu.RUnlock()
		runtime.Gosched()

		for _, k := range keys {
			sh.swarmsMu.Lock()
			sw, ok := sh.swarms[k]
			if !ok {
				sh.swarmsMu.Unlock()
				continue
			}

			sw.seeders.removeExpired(cutoffUnix)
			sw.leechers.removeExpired(cutoffUnix)
			sw.partials.removeExpired(cutoffUnix)

			if sw.empty() {
				delete(sh.swarms, k)
			}
			sh.swarmsMu.Unlock()
			runtime.Gosched()
		}
	}

	recordGCDuration(time.Since(start))

	return nil
}

func (ps *peerStore) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		close(ps.closed)
		ps.wg.Wait()

		shards := make([]*shard, len(ps.shards))
		for i := range shards {
			shards[i] = &shard{
				torrents: make(map[bittorrent.InfoHash]*uint32),
				swarms:   make(map[swarmKey]*swarmState),
			}
		}
		ps.shards = shards

		c.Done()
	}()

	return c.Result()
}

func (ps *peerStore) LogFields() log.Fields {
	return ps.cfg.LogFields()
}
