package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/bitswarm/tracker/cache"
	httpfrontend "github.com/bitswarm/tracker/frontend/http"
	udpfrontend "github.com/bitswarm/tracker/frontend/udp"
	"github.com/bitswarm/tracker/middleware"
	_ "github.com/bitswarm/tracker/middleware/clientapproval"
	_ "github.com/bitswarm/tracker/middleware/fixedpeer"
	_ "github.com/bitswarm/tracker/middleware/torrentapproval"
	_ "github.com/bitswarm/tracker/middleware/varinterval"
	"github.com/bitswarm/tracker/storage"
	_ "github.com/bitswarm/tracker/storage/memory"
	_ "github.com/bitswarm/tracker/storage/redis"
	"github.com/bitswarm/tracker/tracker"
)

// hookConfig names a registered middleware Driver and carries its
// driver-specific YAML options, re-marshaled and handed to that Driver's
// NewHook.
type hookConfig struct {
	Name   string      `yaml:"name"`
	Config interface{} `yaml:"config"`
}

// storageConfig names a registered storage.Driver and carries its
// driver-specific YAML options. Config is left as a yaml.MapSlice so each
// storage.Driver can re-marshal it into its own concrete Config type.
type storageConfig struct {
	Name   string        `yaml:"name"`
	Config yaml.MapSlice `yaml:"config"`
}

// ConfigFile represents a namespaced YAML configuration file.
type ConfigFile struct {
	TrackerConfigBlock struct {
		tracker.Config  `yaml:",inline"`
		PrometheusAddr  string              `yaml:"prometheus_addr"`
		HTTPConfig      httpfrontend.Config `yaml:"http"`
		UDPConfig       udpfrontend.Config  `yaml:"udp"`
		FullScrapeCache bool                `yaml:"full_scrape_cache"`
		Storage         storageConfig       `yaml:"storage"`
		Hooks           []hookConfig        `yaml:"hooks"`
	} `yaml:"tracker"`
}

// ParseConfigFile returns a new ConfigFile given the path to a YAML
// configuration file.
//
// It supports relative and absolute paths and environment variables.
func ParseConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, errors.New("no config path specified")
	}

	contents, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, err
	}

	var cfgFile ConfigFile
	if err := yaml.Unmarshal(contents, &cfgFile); err != nil {
		return nil, err
	}

	return &cfgFile, nil
}

// CreateStorage constructs the PeerStore named by cfg's storage block.
func (cfg ConfigFile) CreateStorage() (storage.PeerStore, error) {
	return storage.NewPeerStore(cfg.TrackerConfigBlock.Storage.Name, cfg.TrackerConfigBlock.Storage.Config)
}

// CreateHooks constructs, in order, every middleware.Hook named by cfg's
// hooks block.
func (cfg ConfigFile) CreateHooks() ([]middleware.Hook, error) {
	hooks := make([]middleware.Hook, 0, len(cfg.TrackerConfigBlock.Hooks))
	for _, hc := range cfg.TrackerConfigBlock.Hooks {
		raw, err := yaml.Marshal(hc.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to remarshal options for middleware %q: %w", hc.Name, err)
		}

		hook, err := middleware.NewHook(hc.Name, raw)
		if err != nil {
			return nil, fmt.Errorf("middleware %q: %w", hc.Name, err)
		}
		hooks = append(hooks, hook)
	}

	return hooks, nil
}

// fullScrapeCachePolicy is the refresh policy used for every
// tracker.FullScrapeCache this binary constructs.
const fullScrapeCachePolicy = cache.RefreshAfterAccess

// defaultFullScrapeCacheTTL is used when the full-scrape cache TTL is unset,
// since a zero TTL would trigger a GetAllTorrentStats walk on every request.
const defaultFullScrapeCacheTTL = time.Minute
