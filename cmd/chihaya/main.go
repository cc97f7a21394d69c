// Command chihaya runs a standalone BitTorrent tracker speaking both the
// HTTP (BEP 3) and UDP (BEP 15) wire protocols against a shared storage
// backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/bitswarm/tracker/executor"
	"github.com/bitswarm/tracker/frontend"
	httpfrontend "github.com/bitswarm/tracker/frontend/http"
	udpfrontend "github.com/bitswarm/tracker/frontend/udp"
	"github.com/bitswarm/tracker/pkg/log"
	"github.com/bitswarm/tracker/pkg/metrics"
	"github.com/bitswarm/tracker/pkg/stop"
	"github.com/bitswarm/tracker/tracker"
)

var (
	configPath string
	cpuprofile string
	debugLog   bool
)

func init() {
	flag.StringVar(&configPath, "config", "/etc/chihaya.yaml", "path to the configuration file")
	flag.StringVar(&cpuprofile, "cpuprofile", "", "path to cpu profile output")
	flag.BoolVar(&debugLog, "debug", false, "enable debug-level logging")
}

func main() {
	flag.Parse()
	log.SetDebug(debugLog)

	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			log.Fatal("failed to create CPU profile", log.Err(err))
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("failed to start CPU profile", log.Err(err))
		}
		defer pprof.StopCPUProfile()
	}

	cfgFile, err := ParseConfigFile(configPath)
	if err != nil {
		log.Fatal("failed to parse configuration file", log.Err(err))
	}
	cfg := &cfgFile.TrackerConfigBlock.Config

	if err := cfg.ResolveBlocklist(); err != nil {
		log.Fatal("failed to resolve infohash blocklist", log.Err(err))
	}

	hooks, err := cfgFile.CreateHooks()
	if err != nil {
		log.Fatal("failed to construct middleware hooks", log.Err(err))
	}
	cfg.Hooks = hooks

	peerStore, err := cfgFile.CreateStorage()
	if err != nil {
		log.Fatal("failed to construct storage", log.Err(err))
	}

	worker := executor.New(executor.State{Storage: peerStore, Config: cfg}, tracker.Logic{}.Handlers(), 0)
	backend := frontend.NewWorkerBackend(worker)

	var fullScrape *tracker.FullScrapeCache
	if cfgFile.TrackerConfigBlock.FullScrapeCache {
		ttl := cfg.FullScrapeCacheTTL
		if ttl <= 0 {
			ttl = defaultFullScrapeCacheTTL
		}
		fullScrape = tracker.NewFullScrapeCache(worker, ttl, fullScrapeCachePolicy)
	}

	stopGroup := stop.NewGroup()
	stopGroup.Add(peerStore)
	stopGroup.Add(worker)

	if cfgFile.TrackerConfigBlock.HTTPConfig.Addr != "" {
		httpFrontend, err := httpfrontend.NewFrontend(backend, fullScrape, cfgFile.TrackerConfigBlock.HTTPConfig)
		if err != nil {
			log.Fatal("failed to start http frontend", log.Err(err))
		}
		stopGroup.Add(httpFrontend)
		log.Info("started http frontend", log.Fields{"addr": cfgFile.TrackerConfigBlock.HTTPConfig.Addr})
	}

	if cfgFile.TrackerConfigBlock.UDPConfig.Addr != "" {
		udpFrontend, err := udpfrontend.NewFrontend(backend, cfgFile.TrackerConfigBlock.UDPConfig)
		if err != nil {
			log.Fatal("failed to start udp frontend", log.Err(err))
		}
		stopGroup.Add(udpFrontend)
		log.Info("started udp frontend", udpFrontend.LogFields())
	}

	if cfgFile.TrackerConfigBlock.PrometheusAddr != "" {
		metricsServer := metrics.NewServer(cfgFile.TrackerConfigBlock.PrometheusAddr)
		stopGroup.Add(metricsServer)
		log.Info("started prometheus server", log.Fields{"addr": cfgFile.TrackerConfigBlock.PrometheusAddr})
	}

	reload := makeReloadChan()
	go func() {
		for range reload {
			log.Info("reloading configuration", log.Fields{"path": configPath})

			reloaded, err := ParseConfigFile(configPath)
			if err != nil {
				log.Error("failed to reload configuration, keeping previous state", log.Err(err))
				continue
			}
			newCfg := &reloaded.TrackerConfigBlock.Config
			if err := newCfg.ResolveBlocklist(); err != nil {
				log.Error("failed to reload configuration, keeping previous state", log.Err(err))
				continue
			}
			newHooks, err := reloaded.CreateHooks()
			if err != nil {
				log.Error("failed to reload configuration, keeping previous state", log.Err(err))
				continue
			}
			newCfg.Hooks = newHooks

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, err = worker.Submit(ctx, executor.UpdateStateTask{State: executor.State{Storage: peerStore, Config: newCfg}})
			cancel()
			if err != nil {
				log.Error("failed to apply reloaded configuration", log.Err(err))
				continue
			}
			log.Info("reloaded configuration", log.Fields{"path": configPath})
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("shutting down", log.Fields{})
	for _, err := range stopGroup.Stop() {
		log.Error("error during shutdown", log.Err(err))
	}
}
