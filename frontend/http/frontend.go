// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package http implements a BitTorrent frontend via the HTTP protocol as
// described in BEP 3 and BEP 23.
package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/bitswarm/tracker/bittorrent"
	"github.com/bitswarm/tracker/frontend"
	"github.com/bitswarm/tracker/pkg/log"
	"github.com/bitswarm/tracker/pkg/stop"
	"github.com/bitswarm/tracker/tracker"
)

// Config represents all of the configurable options for an HTTP BitTorrent
// Frontend.
type Config struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AllowIPSpoofing bool          `yaml:"allow_ip_spoofing"`
	RealIPHeader    string        `yaml:"real_ip_header"`
}

// Frontend holds the state of an HTTP BitTorrent Frontend.
type Frontend struct {
	srv *http.Server
	ln  net.Listener

	logic      frontend.TrackerLogic
	fullScrape *tracker.FullScrapeCache
	Config
}

// NewFrontend binds the TCP listener for addr and returns a Frontend that
// asynchronously serves requests. fullScrape may be nil, in which case a
// full-scrape request is passed to logic.HandleScrape, which rejects a
// scrape with no infohashes.
func NewFrontend(logic frontend.TrackerLogic, fullScrape *tracker.FullScrapeCache, cfg Config) (*Frontend, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}

	t := &Frontend{
		ln:         ln,
		logic:      logic,
		fullScrape: fullScrape,
		Config:     cfg,
	}
	t.srv = &http.Server{
		Handler:      t.handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	t.srv.SetKeepAlivesEnabled(false)

	go func() {
		if err := t.srv.Serve(t.ln); err != nil && err != http.ErrServerClosed {
			log.Error("http: frontend stopped serving", log.Err(err))
		}
	}()

	return t, nil
}

func (t *Frontend) handler() http.Handler {
	router := httprouter.New()
	router.GET("/announce", t.announceRoute)
	router.GET("/scrape", t.scrapeRoute)
	return router
}

// Stop gracefully shuts the HTTP server down, giving in-flight requests up
// to RequestTimeout to finish.
func (t *Frontend) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		ctx := context.Background()
		if t.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.RequestTimeout)
			defer cancel()
		}
		c.Done(t.srv.Shutdown(ctx))
	}()
	return c.Result()
}

// announceRoute parses and responds to an Announce using t.logic.
func (t *Frontend) announceRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var err error
	var af *bittorrent.AddressFamily
	start := time.Now()
	defer func() { recordResponseDuration("announce", af, err, time.Since(start)) }()

	req, err := ParseAnnounce(r, t.RealIPHeader, t.AllowIPSpoofing)
	if err != nil {
		WriteError(w, err)
		return
	}
	family := req.Peer.Family()
	af = &family

	ctx := r.Context()
	resp, err := t.logic.HandleAnnounce(ctx, *req)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err = WriteAnnounceResponse(w, &resp); err != nil {
		return
	}

	go t.logic.AfterAnnounce(context.Background(), *req, resp)
}

// scrapeRoute parses and responds to a Scrape using t.logic, routing empty
// (full-scrape) requests through t.fullScrape instead, so the precomputed
// payload is shared rather than recomputed per request.
func (t *Frontend) scrapeRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var err error
	start := time.Now()
	defer func() { recordResponseDuration("scrape", nil, err, time.Since(start)) }()

	req, err := ParseScrape(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	ctx := r.Context()

	if len(req.InfoHashes) == 0 && t.fullScrape != nil {
		payload, ok := t.fullScrape.Get(ctx)
		if !ok {
			WriteError(w, errFullScrapeUnavailable)
			return
		}
		_, err = w.Write(payload)
		return
	}

	resp, err := t.logic.HandleScrape(ctx, *req)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err = WriteScrapeResponse(w, &resp); err != nil {
		return
	}

	go t.logic.AfterScrape(context.Background(), *req, resp)
}

var errFullScrapeUnavailable = bittorrent.ClientError("full scrape temporarily unavailable")
