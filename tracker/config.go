package tracker

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/middleware"
)

// Config holds the announce/scrape policy the tracker package evaluates
// against every request. It is what a Worker's executor.State.Config holds
// for this engine.
type Config struct {
	AnnounceInterval    time.Duration `yaml:"announce_interval"`
	MinAnnounceInterval time.Duration `yaml:"min_announce_interval"`
	ScrapeInterval      time.Duration `yaml:"scrape_interval"`

	DefaultNumWant      uint32 `yaml:"default_numwant"`
	MaxNumWant          uint32 `yaml:"max_numwant"`
	MaxMultiScrapeCount int    `yaml:"max_multi_scrape_count"`

	AutoRegisterTorrent bool `yaml:"auto_register_torrent"`
	AllowFullScrape     bool `yaml:"allow_full_scrape"`

	PeerIdleTime       time.Duration `yaml:"peer_idle_time"`
	FullScrapeCacheTTL time.Duration `yaml:"full_scrape_cache_ttl"`

	// InfohashBlocklistHex is the YAML-facing form of InfohashBlocklist: a
	// flat list of hex-encoded 20-byte infohashes. ResolveBlocklist decodes
	// it into InfohashBlocklist after parsing.
	InfohashBlocklistHex []string `yaml:"infohash_blocklist"`

	InfohashBlocklist map[bittorrent.InfoHash]struct{} `yaml:"-"`

	// Hooks run, in order, around every Announce and Scrape. A Hook that
	// returns an error aborts the request with that error; it may also
	// mutate the response in place (e.g. clientapproval, fixedpeer). It is
	// populated programmatically from the YAML hooks block; see
	// ConfigFile.CreateHooks in cmd/chihaya.
	Hooks []middleware.Hook `yaml:"-"`
}

// ResolveBlocklist decodes InfohashBlocklistHex into InfohashBlocklist,
// merging with (rather than replacing) any entries already present.
func (c *Config) ResolveBlocklist() error {
	if len(c.InfohashBlocklistHex) == 0 {
		return nil
	}
	if c.InfohashBlocklist == nil {
		c.InfohashBlocklist = make(map[bittorrent.InfoHash]struct{}, len(c.InfohashBlocklistHex))
	}
	for _, s := range c.InfohashBlocklistHex {
		var raw [20]byte
		n, err := hex.Decode(raw[:], []byte(s))
		if err != nil || n != 20 {
			return fmt.Errorf("tracker: infohash_blocklist entry %q is not a 20-byte hex string", s)
		}
		c.InfohashBlocklist[bittorrent.InfoHashFromBytes(raw[:])] = struct{}{}
	}
	return nil
}

// runHooks executes c.Hooks against an Announce, stopping at the first
// error.
func (c *Config) runHooks(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) error {
	var err error
	for _, h := range c.Hooks {
		if ctx, err = h.HandleAnnounce(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// runScrapeHooks executes c.Hooks against a Scrape, stopping at the first
// error.
func (c *Config) runScrapeHooks(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) error {
	var err error
	for _, h := range c.Hooks {
		if ctx, err = h.HandleScrape(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

// Blocked reports whether ih has been placed on the infohash blocklist.
func (c *Config) Blocked(ih bittorrent.InfoHash) bool {
	if len(c.InfohashBlocklist) == 0 {
		return false
	}
	_, blocked := c.InfohashBlocklist[ih]
	return blocked
}

// numWant resolves the announce's requested peer count against the
// configured default and ceiling.
func (c *Config) numWant(req bittorrent.AnnounceRequest) uint32 {
	n := c.DefaultNumWant
	if req.HasNumWant {
		n = req.NumWant
	}
	if n > c.MaxNumWant {
		n = c.MaxNumWant
	}
	return n
}
