// Package middleware defines the Hook interface that optional tracker
// plugins implement, and the registry used to construct one from a YAML
// config fragment by name. A tracker.Config carries the constructed Hooks
// and tracker.Logic runs them around the core Announce/Scrape algorithms.
package middleware

import (
	"context"
	"fmt"

	"github.com/bitswarm/tracker/bittorrent"
)

// Hook abstracts the concept of anything that needs to observe or veto a
// BitTorrent client's request and response to a BitTorrent tracker. A Hook
// that returns an error aborts the Announce or Scrape with that error; it
// may also mutate resp in place (e.g. to inject extra peers) and thread
// values through ctx for later hooks to observe.
type Hook interface {
	HandleAnnounce(context.Context, *bittorrent.AnnounceRequest, *bittorrent.AnnounceResponse) (context.Context, error)
	HandleScrape(context.Context, *bittorrent.ScrapeRequest, *bittorrent.ScrapeResponse) (context.Context, error)
}

// Driver constructs a Hook from a driver-specific YAML config fragment.
type Driver interface {
	NewHook(optionBytes []byte) (Hook, error)
}

var drivers = make(map[string]Driver)

// RegisterDriver makes a Driver available under name for later construction
// via NewHook. It panics if name is empty or already registered, to aid
// correct middleware registration.
func RegisterDriver(name string, d Driver) {
	if name == "" {
		panic("middleware: could not register a Driver with an empty name")
	}
	if d == nil {
		panic("middleware: could not register a nil Driver")
	}
	if _, dup := drivers[name]; dup {
		panic("middleware: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = d
}

// NewHook constructs a Hook using the driver registered under name,
// unmarshaling optionBytes as that driver's config.
func NewHook(name string, optionBytes []byte) (Hook, error) {
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("middleware: no Driver registered under name %q", name)
	}
	return d.NewHook(optionBytes)
}
