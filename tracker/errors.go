package tracker

import "github.com/bitswarm/tracker/bittorrent"

// These are the protocol-level failures the tracker package itself can
// produce; infrastructure failures surface as whatever error the storage
// backend returned.
const (
	// ErrBlockedInfohash is returned when the announced infohash is on the
	// configured blocklist.
	ErrBlockedInfohash = bittorrent.ClientError("blocked infohash")

	// ErrNotFoundTorrent is returned when a torrent is unknown and
	// auto-register is disabled.
	ErrNotFoundTorrent = bittorrent.ClientError("torrent not found")

	// ErrInvalidAnnounceRequest is returned when a request's fields are
	// internally inconsistent, e.g. a Completed event from a client that
	// still reports left > 0.
	ErrInvalidAnnounceRequest = bittorrent.ClientError("invalid announce request")
)
