// Package varinterval implements a Hook that adds jitter to the announce
// interval returned to clients, spreading out the reannounce stampede that
// would otherwise occur when many clients start at the same time.
package varinterval

import (
	"context"
	"errors"
	"fmt"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/middleware"
	"github.com/bitswarm/tracker/middleware/pkg/random"
)

// Name is the name by which this middleware is registered.
const Name = "var interval"

func init() {
	middleware.RegisterDriver(Name, driver{})
}

var _ middleware.Driver = driver{}

type driver struct{}

func (d driver) NewHook(optionBytes []byte) (middleware.Hook, error) {
	var cfg Config
	if err := yaml.Unmarshal(optionBytes, &cfg); err != nil {
		return nil, fmt.Errorf("invalid options for middleware %s: %w", Name, err)
	}

	return NewHook(cfg)
}

// Config represents the configuration for the varinterval middleware.
type Config struct {
	// ModifyResponseProbability is the probability by which a response will
	// be modified.
	ModifyResponseProbability float32 `yaml:"modify_response_probability"`

	// MaxIncreaseDelta is the maximum number of seconds that will be added.
	MaxIncreaseDelta int `yaml:"max_increase_delta"`

	// ModifyMinInterval specifies whether min_interval should be increased
	// as well.
	ModifyMinInterval bool `yaml:"modify_min_interval"`
}

type hook struct {
	cfg Config
}

// NewHook returns an instance of the varinterval middleware.
func NewHook(cfg Config) (middleware.Hook, error) {
	if cfg.ModifyResponseProbability <= 0 || cfg.ModifyResponseProbability > 1 {
		return nil, errors.New("modify_response_probability must be in (0,1]")
	}
	if cfg.MaxIncreaseDelta <= 0 {
		return nil, errors.New("max_increase_delta must be > 0")
	}

	return &hook{cfg: cfg}, nil
}

// HandleAnnounce increases resp.Interval (and optionally resp.MinInterval)
// by a pseudo-random amount derived from the request, so repeated calls for
// the same peer and torrent are deterministic within a single process.
func (h *hook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	s0, s1 := random.DeriveEntropyFromRequest(req)
	roll, s0, _ := random.Intn(s0, s1, 1<<20)

	if h.cfg.ModifyResponseProbability == 1 || float32(roll)/float32(1<<20) < h.cfg.ModifyResponseProbability {
		delta, _, _ := random.Intn(s0, s1, h.cfg.MaxIncreaseDelta)
		addSeconds := time.Duration(delta+1) * time.Second
		resp.Interval += addSeconds

		if h.cfg.ModifyMinInterval {
			resp.MinInterval += addSeconds
		}
	}

	return ctx, nil
}

func (h *hook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	// Scrapes have no interval to jitter.
	return ctx, nil
}
