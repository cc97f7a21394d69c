// Package redis implements the storage.PeerStore interface for a BitTorrent
// tracker keeping the swarm store in a remote Redis instance, reached
// through a bounded connection pool and a single-flight stats cache.
package redis

import (
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/bitswarm/tracker/cache"
	"github.com/bitswarm/tracker/pkg/log"
	"github.com/bitswarm/tracker/storage"
)

// Name is the name by which this peer store is registered.
const Name = "redis"

// Default config constants.
const (
	defaultAddr                        = "127.0.0.1:6379"
	defaultPrefix                      = "bitswarm:"
	defaultMaxConnections              = 10
	defaultMinIdleConnections          = 0
	defaultIdleConnectionTimeout       = 2 * time.Minute
	defaultMaxConnectionWaitTime       = 5 * time.Second
	defaultReaperInterval              = 30 * time.Second
	defaultGarbageCollectionInterval   = time.Minute * 3
	defaultPrometheusReportingInterval = time.Second * 1
	defaultPeerLifetime                = time.Minute * 30
	defaultStatsCacheTTL               = time.Second
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

// Config holds the configuration of a redis PeerStore.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`

	MaxConnections         int           `yaml:"max_connections"`
	MinIdleConnections     int           `yaml:"min_idle_connections"`
	IdleConnectionTimeout  time.Duration `yaml:"idle_connection_timeout"`
	MaxConnectionWaitTime  time.Duration `yaml:"max_connection_wait_time"`
	ReaperInterval         time.Duration `yaml:"reaper_interval"`

	GarbageCollectionInterval   time.Duration `yaml:"gc_interval"`
	PrometheusReportingInterval time.Duration `yaml:"prometheus_reporting_interval"`
	PeerLifetime                time.Duration `yaml:"peer_lifetime"`
	StatsCacheTTL               time.Duration `yaml:"stats_cache_ttl"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"name":               Name,
		"addr":               cfg.Addr,
		"prefix":             cfg.Prefix,
		"maxConnections":     cfg.MaxConnections,
		"minIdleConnections": cfg.MinIdleConnections,
		"gcInterval":         cfg.GarbageCollectionInterval,
		"promReportInterval": cfg.PrometheusReportingInterval,
		"peerLifetime":       cfg.PeerLifetime,
		"statsCacheTTL":      cfg.StatsCacheTTL,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything that is invalid, warning to the
// logger when a value is changed.
func (cfg Config) Validate() Config {
	validcfg := cfg

	if cfg.Addr == "" {
		validcfg.Addr = defaultAddr
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".Addr", "provided": cfg.Addr, "default": validcfg.Addr,
		})
	}

	if cfg.Prefix == "" {
		validcfg.Prefix = defaultPrefix
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".Prefix", "provided": cfg.Prefix, "default": validcfg.Prefix,
		})
	}

	if cfg.MaxConnections <= 0 {
		validcfg.MaxConnections = defaultMaxConnections
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".MaxConnections", "provided": cfg.MaxConnections, "default": validcfg.MaxConnections,
		})
	}

	if cfg.IdleConnectionTimeout <= 0 {
		validcfg.IdleConnectionTimeout = defaultIdleConnectionTimeout
	}

	if cfg.MaxConnectionWaitTime <= 0 {
		validcfg.MaxConnectionWaitTime = defaultMaxConnectionWaitTime
	}

	if cfg.ReaperInterval <= 0 {
		validcfg.ReaperInterval = defaultReaperInterval
	}

	if cfg.GarbageCollectionInterval <= 0 {
		validcfg.GarbageCollectionInterval = defaultGarbageCollectionInterval
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".GarbageCollectionInterval", "provided": cfg.GarbageCollectionInterval, "default": validcfg.GarbageCollectionInterval,
		})
	}

	if cfg.PrometheusReportingInterval <= 0 {
		validcfg.PrometheusReportingInterval = defaultPrometheusReportingInterval
	}

	if cfg.PeerLifetime <= 0 {
		validcfg.PeerLifetime = defaultPeerLifetime
		log.Warn("falling back to default configuration", log.Fields{
			"name": Name + ".PeerLifetime", "provided": cfg.PeerLifetime, "default": validcfg.PeerLifetime,
		})
	}

	if cfg.StatsCacheTTL <= 0 {
		validcfg.StatsCacheTTL = defaultStatsCacheTTL
	}

	return validcfg
}
