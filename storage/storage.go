// Package storage defines the capability interface implemented by every
// swarm store backend (in-memory, remote) and the registry used to select
// one by name from configuration.
package storage

import (
	"fmt"
	"time"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/pkg/log"
	"github.com/bitswarm/tracker/pkg/stop"
)

// ErrResourceDoesNotExist is returned by operations that require an existing
// torrent or peer when that resource is absent.
var ErrResourceDoesNotExist = bittorrent.ClientError("resource does not exist")

// ErrFullScrapeNotAllowed is returned by GetAllTorrentStats-adjacent callers
// when a store has been configured to deny full scrapes. The storage layer
// itself never enforces this; it is provided so frontends and the tracker
// package can return the same typed error as everything else.
var ErrFullScrapeNotAllowed = bittorrent.ClientError("full scrape not allowed")

// TorrentStats are the aggregate counters returned for a single torrent in a
// single address family.
type TorrentStats struct {
	Complete   uint32
	Incomplete uint32
	Downloaded uint32
}

// PeerType selects which of a swarm's three peer tables an operation
// addresses.
type PeerType = bittorrent.PeerType

// ScrapeContinuation is returned by the processor callback passed to
// GetAllTorrentStats to decide whether the store should keep iterating.
type ScrapeContinuation uint8

const (
	// Continue tells GetAllTorrentStats to keep iterating.
	Continue ScrapeContinuation = iota
	// StopIteration tells GetAllTorrentStats to stop iterating immediately.
	StopIteration
)

// TorrentStatsProcessor receives one torrent's stats at a time and reports
// whether iteration should proceed. It is called with no store lock held.
type TorrentStatsProcessor func(ih bittorrent.InfoHash, stats TorrentStats) ScrapeContinuation

// PeerProcessor receives one peer at a time while extracting peers from a
// swarm; returning false stops the extraction early (e.g. once numwant peers
// have been collected).
type PeerProcessor func(key bittorrent.PeerIDKey, p bittorrent.Peer) (keepGoing bool)

// SwarmStats are the counts returned alongside extracted peers, captured
// under the same read lock that produced the peers handed to the processor.
type SwarmStats struct {
	Complete   uint32
	Incomplete uint32
}

// PeerStore is the capability interface implemented by every swarm store
// backend. All operations are safe for concurrent use.
type PeerStore interface {
	// InsertTorrent idempotently creates the torrent entry for ih if it does
	// not already exist.
	InsertTorrent(ih bittorrent.InfoHash) error

	// HasTorrent reports whether ih has a torrent entry.
	HasTorrent(ih bittorrent.InfoHash) (bool, error)

	// RemoveTorrent deletes the torrent entry for ih and every swarm (both
	// address families) associated with it.
	RemoveTorrent(ih bittorrent.InfoHash) error

	// GetTorrentStats returns the aggregate stats for ih in the given
	// family. Returns ErrResourceDoesNotExist if ih is unknown.
	GetTorrentStats(ih bittorrent.InfoHash, af bittorrent.AddressFamily) (TorrentStats, error)

	// GetMultiTorrentStats is a best-effort batch form of GetTorrentStats;
	// infohashes that are unknown are silently omitted from the result.
	GetMultiTorrentStats(ihs []bittorrent.InfoHash, af bittorrent.AddressFamily) map[bittorrent.InfoHash]TorrentStats

	// GetAllTorrentStats streams every known torrent's stats, shard by
	// shard, through proc. It stops early if proc returns StopIteration.
	GetAllTorrentStats(af bittorrent.AddressFamily, proc TorrentStatsProcessor) error

	// PutPeerInSwarm inserts or replaces key in the table named by
	// peerType, creating the swarm for (ih, family) if needed.
	PutPeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error

	// UpdateOrPutPeerInSwarm updates key's address/expiry in place if it
	// already exists in peerType's table, otherwise inserts it.
	UpdateOrPutPeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer, peerType bittorrent.PeerType) error

	// PromotePeerInSwarm removes key from the leecher table; if it was
	// present, it is inserted into seeders and the torrent's completed
	// counter is incremented atomically with the removal. If key was not a
	// leecher, this is a no-op.
	PromotePeerInSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, p bittorrent.Peer) error

	// RemovePeerFromSwarm removes key from peerType's table for (ih,
	// family). Absence is not an error.
	RemovePeerFromSwarm(ih bittorrent.InfoHash, key bittorrent.PeerIDKey, peerType bittorrent.PeerType, af bittorrent.AddressFamily) error

	// ExtractPeersFromSwarm feeds peers from the swarm (ih, family) to proc,
	// in the order appropriate for requesterType (leechers see seeders,
	// leechers, then partial seeds in that order; seeders and partials see
	// only leechers), and returns the aggregate counts captured under the
	// same read lock.
	ExtractPeersFromSwarm(ih bittorrent.InfoHash, requesterType bittorrent.PeerType, af bittorrent.AddressFamily, proc PeerProcessor) (SwarmStats, error)

	// CollectGarbage removes every peer whose last announce is at or before
	// cutoff. Safe to run concurrently with every other method.
	CollectGarbage(cutoff time.Time) error

	// Stopper shuts the store down cleanly, releasing background
	// goroutines (GC, metrics reporting).
	stop.Stopper
}

// Driver constructs a PeerStore from a driver-specific configuration value,
// typically unmarshalled from a storage.config YAML node.
type Driver interface {
	NewPeerStore(cfg interface{}) (PeerStore, error)
}

var drivers = make(map[string]Driver)

// RegisterDriver makes a Driver available under name for later construction
// via NewPeerStore. It panics if name is empty or already registered, to
// catch init-order bugs at startup rather than at runtime.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("storage: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("storage: could not register a nil Driver")
	}
	if _, dup := drivers[name]; dup {
		panic("storage: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// NewPeerStore constructs a PeerStore using the driver registered under
// name.
func NewPeerStore(name string, cfg interface{}) (PeerStore, error) {
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("storage: no such driver %q", name)
	}
	return d.NewPeerStore(cfg)
}

// LogFields is implemented by anything that exposes its configuration to the
// structured logger, mirroring pkg/log.Fielder without importing it into
// every driver's public surface.
type LogFields interface {
	LogFields() log.Fields
}
