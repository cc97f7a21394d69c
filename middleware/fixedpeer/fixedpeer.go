// Package fixedpeer implements a Hook that appends a static list of
// operator-configured peers to every Announce response, regardless of swarm
// membership.
package fixedpeer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	yaml "gopkg.in/yaml.v2"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/middleware"
)

// Name is the name by which this middleware is registered.
const Name = "fixed peers"

func init() {
	middleware.RegisterDriver(Name, driver{})
}

var _ middleware.Driver = driver{}

type driver struct{}

func (d driver) NewHook(optionBytes []byte) (middleware.Hook, error) {
	var cfg Config
	err := yaml.Unmarshal(optionBytes, &cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid options for middleware %s: %w", Name, err)
	}

	return NewHook(cfg)
}

// Config represents all the values required by this middleware to build
// its static peer list.
type Config struct {
	FixedPeers []string `yaml:"fixed_peers"`
}

type hook struct {
	v4 []bittorrent.Peer
	v6 []bittorrent.Peer
}

// NewHook returns an instance of the fixed peer middleware.
func NewHook(cfg Config) (middleware.Hook, error) {
	h := &hook{}
	for _, peerString := range cfg.FixedPeers {
		host, portString, err := net.SplitHostPort(peerString)
		if err != nil {
			return nil, fmt.Errorf("fixed_peers entry %q: %w", peerString, err)
		}

		addr, err := netip.ParseAddr(host)
		if err != nil {
			return nil, fmt.Errorf("fixed_peers entry %q: invalid IP: %w", peerString, err)
		}

		port, err := strconv.Atoi(portString)
		if err != nil {
			return nil, fmt.Errorf("fixed_peers entry %q: invalid port: %w", peerString, err)
		}

		peer := bittorrent.Peer{AddrPort: netip.AddrPortFrom(addr, uint16(port))}
		if addr.Is4() || addr.Is4In6() {
			h.v4 = append(h.v4, peer)
		} else {
			h.v6 = append(h.v6, peer)
		}
	}

	return h, nil
}

func (h *hook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	switch req.Peer.Family() {
	case bittorrent.IPv6:
		resp.IPv6Peers = append(resp.IPv6Peers, h.v6...)
		resp.Complete += int32(len(h.v6))
	default:
		resp.IPv4Peers = append(resp.IPv4Peers, h.v4...)
		resp.Complete += int32(len(h.v4))
	}
	return ctx, nil
}

func (h *hook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	// Scrapes aren't tied to a specific swarm's peer list.
	return ctx, nil
}
